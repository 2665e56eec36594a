package mirage

import (
	"bytes"
	"context"
	"errors"

	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/transport"
	"github.com/rs/zerolog/log"
)

// Result is everything an agent answered for one msgid.
type Result struct {
	MsgID   string
	Replies []protocol.Reply
	Output  []byte
	Final   protocol.Reply
}

// Terminal reports whether code ends a command's reply sequence.
func Terminal(code protocol.AnswerCode) bool {
	switch code {
	case protocol.AnswerAccepted, protocol.AnswerTask, protocol.AnswerCmdOutput, protocol.AnswerUnknown:
		return false
	}
	return true
}

// Collector reads agent replies from one receiver.
type Collector struct {
	Receiver transport.Receiver
}

// Listen hands every decodable reply to fn until ctx is done, the receiver
// closes or fn returns false.
func (c *Collector) Listen(ctx context.Context, fn func(protocol.Reply) bool) error {
	for {
		msg, err := c.Receiver.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrMalformed) {
				log.Warn().Err(err).Msg("mirage.Collector.Listen dropped")
				continue
			}
			return err
		}
		r, err := protocol.DecodeReply(msg)
		if err != nil {
			log.Warn().Err(err).Int("frames", msg.Len()).Msg("mirage.Collector.Listen undecodable reply")
			continue
		}
		if !fn(r) {
			return nil
		}
	}
}

// Await gathers replies for msgID until a terminal answer arrives. An
// Unreadable reply carries no msgid and is treated as terminal for any
// pending command.
func (c *Collector) Await(ctx context.Context, msgID string) (Result, error) {
	res := Result{MsgID: msgID}
	var out bytes.Buffer
	err := c.Listen(ctx, func(r protocol.Reply) bool {
		if r.MsgID != msgID && !(r.Code == protocol.AnswerUnreadable && r.MsgID == "") {
			return true
		}
		res.Replies = append(res.Replies, r)
		if r.Code == protocol.AnswerCmdOutput {
			out.Write(r.Detail)
		}
		if Terminal(r.Code) {
			res.Final = r
			return false
		}
		return true
	})
	res.Output = out.Bytes()
	if err != nil {
		return res, err
	}
	log.Info().
		Str("msgid", msgID).
		Str("answer", res.Final.Code.Token()).
		Int("replies", len(res.Replies)).
		Msg("mirage.Collector.Await done")
	return res, nil
}
