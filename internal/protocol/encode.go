package protocol

import (
	"fmt"

	"github.com/danmuck/ghostwire/internal/protocol/checksum"
	"github.com/danmuck/ghostwire/internal/protocol/frame"
)

// Encode builds a checksummed command message.
func Encode(deviceID, msgID, token string, args ...[]byte) frame.Frames {
	msg := make(frame.Frames, 0, 4+len(args))
	msg = append(msg, []byte(deviceID), []byte(msgID), []byte(token))
	msg = append(msg, args...)
	return checksum.Append(msg)
}

// EncodeStrings is Encode for text arguments.
func EncodeStrings(deviceID, msgID, token string, args ...string) frame.Frames {
	parts := make([][]byte, len(args))
	for i, a := range args {
		parts[i] = []byte(a)
	}
	return Encode(deviceID, msgID, token, parts...)
}

// Reply is a decoded answer from an agent.
type Reply struct {
	DeviceID  string
	MsgID     string
	Code      AnswerCode
	Detail    []byte
	HasDetail bool
}

// NewReply builds [device_id][msgid][answer_token] plus an optional detail
// frame. Only the first detail is used.
func NewReply(deviceID, msgID string, code AnswerCode, detail ...[]byte) frame.Frames {
	out := frame.Frames{[]byte(deviceID), []byte(msgID), []byte(code.Token())}
	if len(detail) > 0 {
		out = append(out, detail[0])
	}
	return out
}

func DecodeReply(msg frame.Frames) (Reply, error) {
	if msg.Len() < 3 || msg.Len() > 4 {
		return Reply{}, fmt.Errorf("%w: %d frames", ErrMalformedReply, msg.Len())
	}
	code, ok := LookupAnswer(string(msg[2]))
	if !ok {
		return Reply{}, fmt.Errorf("%w: token %q", ErrMalformedReply, msg[2])
	}
	r := Reply{DeviceID: string(msg[0]), MsgID: string(msg[1]), Code: code}
	if msg.Len() == 4 {
		r.Detail = msg[3]
		r.HasDetail = true
	}
	return r, nil
}
