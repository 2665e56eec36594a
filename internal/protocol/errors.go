package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnreadable      = errors.New("protocol: unreadable message")
	ErrParse           = errors.New("protocol: parse error")
	ErrBadChecksum     = errors.New("protocol: bad checksum")
	ErrDuplicateToken  = errors.New("protocol: duplicate command token")
	ErrUnknownRevision = errors.New("protocol: unknown protocol revision")
	ErrMalformedReply  = errors.New("protocol: malformed reply")
)

// ParseError is a classified codec failure. MsgID is empty when the
// message was rejected before the message id could be read. The rejected
// frames are not kept; the reply carries only the code.
type ParseError struct {
	Code   AnswerCode
	MsgID  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.MsgID == "" {
		return fmt.Sprintf("%v: %s", e.Unwrap(), e.Reason)
	}
	return fmt.Sprintf("%v: msgid=%s %s", e.Unwrap(), e.MsgID, e.Reason)
}

func (e *ParseError) Unwrap() error {
	switch e.Code {
	case AnswerUnreadable:
		return ErrUnreadable
	case AnswerBadChecksum:
		return ErrBadChecksum
	default:
		return ErrParse
	}
}

// AnswerOf maps a codec result onto the reply code it produces.
func AnswerOf(err error) AnswerCode {
	if err == nil {
		return AnswerAccepted
	}
	var perr *ParseError
	if errors.As(err, &perr) {
		return perr.Code
	}
	switch {
	case errors.Is(err, ErrUnreadable):
		return AnswerUnreadable
	case errors.Is(err, ErrBadChecksum):
		return AnswerBadChecksum
	default:
		return AnswerParseError
	}
}

func unreadable(reason string) *ParseError {
	return &ParseError{Code: AnswerUnreadable, Reason: reason}
}
