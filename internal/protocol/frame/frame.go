package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic          uint32 = 0x6057C0DE
	Version        uint16 = 1
	FixedHeaderLen        = 16
)

var (
	ErrShortHeader     = errors.New("frame: short fixed header")
	ErrBadMagic        = errors.New("frame: bad magic")
	ErrBadVersion      = errors.New("frame: unsupported version")
	ErrTooManyFrames   = errors.New("frame: too many frames")
	ErrFrameTooLarge   = errors.New("frame: frame too large")
	ErrMessageTooLarge = errors.New("frame: message too large")
	ErrLengthMismatch  = errors.New("frame: declared length does not match frames")
)

// Frames is one ordered multipart message. Order is significant.
type Frames [][]byte

// Of builds a message from string parts.
func Of(parts ...string) Frames {
	out := make(Frames, 0, len(parts))
	for _, p := range parts {
		out = append(out, []byte(p))
	}
	return out
}

func (f Frames) Len() int {
	return len(f)
}

// Pop removes and returns the first frame.
func (f *Frames) Pop() ([]byte, bool) {
	if f == nil || len(*f) == 0 {
		return nil, false
	}
	head := (*f)[0]
	*f = (*f)[1:]
	return head, true
}

func (f *Frames) PopString() (string, bool) {
	b, ok := f.Pop()
	if !ok {
		return "", false
	}
	return string(b), true
}

// Dup deep-copies every frame so the result can cross a goroutine boundary.
func (f Frames) Dup() Frames {
	if f == nil {
		return nil
	}
	out := make(Frames, len(f))
	for i, b := range f {
		out[i] = append([]byte(nil), b...)
	}
	return out
}

// Append returns a new message with extra frames after f.
func (f Frames) Append(parts ...[]byte) Frames {
	out := make(Frames, 0, len(f)+len(parts))
	out = append(out, f...)
	return append(out, parts...)
}

func (f Frames) Equal(other Frames) bool {
	if len(f) != len(other) {
		return false
	}
	for i := range f {
		if !bytes.Equal(f[i], other[i]) {
			return false
		}
	}
	return true
}

// Header is the fixed stream header written before every message.
type Header struct {
	Magic      uint32
	Version    uint16
	Flags      uint16
	FrameCount uint32
	BodyLen    uint32
}

// Limits constrains stream decode/encode memory use.
type Limits struct {
	MaxFrames       uint32
	MaxFrameBytes   uint32
	MaxMessageBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrames:       256,
		MaxFrameBytes:   8 * 1024 * 1024,
		MaxMessageBytes: 16 * 1024 * 1024,
	}
}

// WriteFrames writes one message to a stream: header, then each frame
// prefixed with its big-endian uint32 length.
func WriteFrames(w io.Writer, f Frames, limits Limits) error {
	if uint64(len(f)) > uint64(limits.MaxFrames) {
		return ErrTooManyFrames
	}
	var body uint64
	for _, part := range f {
		if uint64(len(part)) > uint64(limits.MaxFrameBytes) {
			return ErrFrameTooLarge
		}
		body += 4 + uint64(len(part))
	}
	if body > uint64(limits.MaxMessageBytes) {
		return ErrMessageTooLarge
	}

	h := Header{Magic: Magic, Version: Version, FrameCount: uint32(len(f)), BodyLen: uint32(body)}
	buf := make([]byte, 0, FixedHeaderLen+int(body))
	buf = append(buf, EncodeHeader(h)...)
	for _, part := range f {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(part)))
		buf = append(buf, part...)
	}
	_, err := w.Write(buf)
	return err
}

func ReadFrames(r io.Reader, limits Limits) (Frames, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return nil, err
	}
	if h.Magic != Magic {
		return nil, ErrBadMagic
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	if h.FrameCount > limits.MaxFrames {
		return nil, ErrTooManyFrames
	}
	if h.BodyLen > limits.MaxMessageBytes {
		return nil, ErrMessageTooLarge
	}
	if uint64(h.BodyLen) < 4*uint64(h.FrameCount) {
		return nil, ErrLengthMismatch
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	out := make(Frames, 0, h.FrameCount)
	for i := uint32(0); i < h.FrameCount; i++ {
		if len(body) < 4 {
			return nil, ErrLengthMismatch
		}
		n := binary.BigEndian.Uint32(body[:4])
		body = body[4:]
		if n > limits.MaxFrameBytes {
			return nil, ErrFrameTooLarge
		}
		if uint64(n) > uint64(len(body)) {
			return nil, ErrLengthMismatch
		}
		out = append(out, body[:n:n])
		body = body[n:]
	}
	if len(body) != 0 {
		return nil, ErrLengthMismatch
	}
	return out, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Flags)
	binary.BigEndian.PutUint32(buf[8:12], h.FrameCount)
	binary.BigEndian.PutUint32(buf[12:16], h.BodyLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != FixedHeaderLen {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Flags:      binary.BigEndian.Uint16(b[6:8]),
		FrameCount: binary.BigEndian.Uint32(b[8:12]),
		BodyLen:    binary.BigEndian.Uint32(b[12:16]),
	}, nil
}
