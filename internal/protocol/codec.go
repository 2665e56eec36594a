package protocol

import (
	"fmt"

	"github.com/danmuck/ghostwire/internal/protocol/checksum"
	"github.com/danmuck/ghostwire/internal/protocol/frame"
)

const (
	DefaultMinIDLength = 4
	// MinFrames is the shortest message that can carry an id pair, a token
	// and a checksum.
	MinFrames = 4
)

// Codec validates inbound command messages for one protocol revision.
type Codec struct {
	minIDLength int
	revision    string
	variants    map[string]Variant
}

// NewCodec builds a codec for rev. minIDLength below 1 selects
// DefaultMinIDLength.
func NewCodec(rev Revision, minIDLength int) (*Codec, error) {
	if minIDLength < 1 {
		minIDLength = DefaultMinIDLength
	}
	variants := make(map[string]Variant, len(rev.Variants))
	for _, v := range rev.Variants {
		if _, exists := variants[v.Token]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateToken, v.Token)
		}
		variants[v.Token] = v
	}
	return &Codec{minIDLength: minIDLength, revision: rev.Name, variants: variants}, nil
}

func (c *Codec) Revision() string {
	return c.revision
}

func (c *Codec) MinIDLength() int {
	return c.minIDLength
}

// Parse runs the validation state machine over msg. On failure the error is
// a *ParseError whose Code is the reply to send. msg is not modified.
func (c *Codec) Parse(msg frame.Frames) (ParsedCommand, error) {
	if msg.Len() < MinFrames {
		return ParsedCommand{}, unreadable(fmt.Sprintf("%d frames", msg.Len()))
	}
	work := msg

	deviceID, _ := work.Pop()
	if len(deviceID) < c.minIDLength {
		return ParsedCommand{}, unreadable("device id too short")
	}
	sum := checksum.Hash(deviceID, 0)

	msgID, _ := work.Pop()
	if len(msgID) < c.minIDLength {
		return ParsedCommand{}, unreadable("msgid too short")
	}
	sum = checksum.Hash(msgID, sum)
	id := string(msgID)

	token, _ := work.Pop()
	variant, ok := c.variants[string(token)]
	if !ok {
		return ParsedCommand{}, &ParseError{
			Code:   AnswerParseError,
			MsgID:  id,
			Reason: fmt.Sprintf("unknown command %q", token),
		}
	}
	sum = checksum.Hash(token, sum)

	args := work.Dup()
	sum, err := variant.Pop(&work, sum)
	if err != nil {
		return ParsedCommand{}, &ParseError{Code: AnswerParseError, MsgID: id, Reason: err.Error()}
	}

	if work.Len() != 1 || len(work[0]) != checksum.Size {
		return ParsedCommand{}, &ParseError{
			Code:   AnswerParseError,
			MsgID:  id,
			Reason: fmt.Sprintf("%s: %d trailing frames", variant.Token, work.Len()),
		}
	}

	want, _ := checksum.Decode(work[0])
	if want != sum {
		return ParsedCommand{}, &ParseError{
			Code:   AnswerBadChecksum,
			MsgID:  id,
			Reason: fmt.Sprintf("got %#08x computed %#08x", want, sum),
		}
	}

	return ParsedCommand{
		DeviceID: string(deviceID),
		MsgID:    id,
		Kind:     variant.Kind,
		Args:     args[:len(args)-1],
	}, nil
}
