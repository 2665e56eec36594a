package transport

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/danmuck/ghostwire/internal/protocol/frame"
	"github.com/fxamacker/cbor/v2"
)

// Codec flattens a multipart message into one broker value.
type Codec interface {
	Name() string
	Marshal(msg frame.Frames) ([]byte, error)
	Unmarshal(data []byte) (frame.Frames, error)
}

// FrameCodec uses the length-prefixed stream format from protocol/frame.
type FrameCodec struct {
	Limits frame.Limits
}

func (FrameCodec) Name() string { return "frame" }

func (c FrameCodec) limits() frame.Limits {
	if c.Limits.MaxFrames == 0 {
		return frame.DefaultLimits()
	}
	return c.Limits
}

func (c FrameCodec) Marshal(msg frame.Frames) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.WriteFrames(&buf, msg, c.limits()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c FrameCodec) Unmarshal(data []byte) (frame.Frames, error) {
	r := bytes.NewReader(data)
	msg, err := frame.ReadFrames(r, c.limits())
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("transport: %d trailing bytes after message", r.Len())
	}
	return msg, nil
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{MaxArrayElements: 1 << 16}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec encodes a message as a CBOR array of byte strings.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Marshal(msg frame.Frames) ([]byte, error) {
	return cborEnc.Marshal([][]byte(msg))
}

func (CBORCodec) Unmarshal(data []byte) (frame.Frames, error) {
	var parts [][]byte
	if err := cborDec.Unmarshal(data, &parts); err != nil {
		return nil, err
	}
	return frame.Frames(parts), nil
}

// CodecByName resolves a configured codec name.
func CodecByName(name string, limits frame.Limits) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "frame":
		return FrameCodec{Limits: limits}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("transport: unknown codec %q", name)
	}
}
