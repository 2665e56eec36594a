package protocol

import (
	"fmt"
	"strings"

	"github.com/danmuck/ghostwire/internal/protocol/checksum"
	"github.com/danmuck/ghostwire/internal/protocol/frame"
)

// PopFunc consumes a variant's argument frames from args, folding each one
// into sum, and returns the updated accumulator. The trailing checksum frame
// must be left in args.
type PopFunc func(args *frame.Frames, sum uint32) (uint32, error)

// Variant binds a command token to its kind and argument grammar.
type Variant struct {
	Token string
	Kind  CommandKind
	Pop   PopFunc
}

// Revision is one self-consistent command set. Revisions are never merged.
type Revision struct {
	Name     string
	Variants []Variant
}

const (
	RevisionCurrent = "current"
	RevisionLegacy  = "legacy"
)

func ProtocolCurrent() Revision {
	return Revision{
		Name: RevisionCurrent,
		Variants: []Variant{
			{Token: "EXEC", Kind: KindExec, Pop: popOne("command")},
			{Token: "PUSH", Kind: KindPush, Pop: popPush},
		},
	}
}

func ProtocolLegacy() Revision {
	v := []Variant{
		{Token: "UCILINE", Kind: KindUCILine, Pop: popUCILine},
		{Token: "STATUS", Kind: KindStatus, Pop: popNone},
	}
	for _, kind := range []CommandKind{KindURLFirm, KindURLPak, KindURLFile, KindURLScript} {
		v = append(v, Variant{Token: kind.Token(), Kind: kind, Pop: popOne("url")})
	}
	for _, kind := range []CommandKind{KindBinFirm, KindBinPak, KindBinFile, KindBinScript} {
		v = append(v, Variant{Token: kind.Token(), Kind: kind, Pop: popOne("payload")})
	}
	return Revision{Name: RevisionLegacy, Variants: v}
}

// LookupRevision resolves a configured revision name.
func LookupRevision(name string) (Revision, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", RevisionCurrent:
		return ProtocolCurrent(), nil
	case RevisionLegacy:
		return ProtocolLegacy(), nil
	default:
		return Revision{}, fmt.Errorf("%w: %q", ErrUnknownRevision, name)
	}
}

func popOne(what string) PopFunc {
	return func(args *frame.Frames, sum uint32) (uint32, error) {
		b, ok := args.Pop()
		if !ok {
			return sum, fmt.Errorf("missing %s frame", what)
		}
		return checksum.Hash(b, sum), nil
	}
}

func popNone(_ *frame.Frames, sum uint32) (uint32, error) {
	return sum, nil
}

// popPush takes the payload, then a filename when anything besides the
// checksum frame is left.
func popPush(args *frame.Frames, sum uint32) (uint32, error) {
	payload, ok := args.Pop()
	if !ok {
		return sum, fmt.Errorf("missing payload frame")
	}
	sum = checksum.Hash(payload, sum)
	if args.Len() > 1 {
		name, _ := args.Pop()
		sum = checksum.Hash(name, sum)
	}
	return sum, nil
}

// popUCILine takes the key=value line and every daemon name up to the
// checksum frame.
func popUCILine(args *frame.Frames, sum uint32) (uint32, error) {
	line, ok := args.Pop()
	if !ok {
		return sum, fmt.Errorf("missing config line frame")
	}
	sum = checksum.Hash(line, sum)
	for args.Len() > 1 {
		daemon, _ := args.Pop()
		sum = checksum.Hash(daemon, sum)
	}
	return sum, nil
}
