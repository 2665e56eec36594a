package protocol

import "github.com/danmuck/ghostwire/internal/protocol/frame"

// AnswerCode is the outcome reported back to the control plane.
type AnswerCode int

const (
	AnswerUnknown AnswerCode = iota
	AnswerAccepted
	AnswerCompleted
	AnswerBadChecksum
	AnswerBrokenURL
	AnswerParseError
	AnswerUnreadable
	AnswerExecError
	AnswerConfigError
	AnswerUndefinedError
	AnswerTask
	// AnswerCmdOutput tags streamed command output chunks.
	AnswerCmdOutput
)

var answerTokens = map[AnswerCode]string{
	AnswerAccepted:       "MSGACCEPTED",
	AnswerCompleted:      "MSGCOMPLETED",
	AnswerBadChecksum:    "MSGBADCRC",
	AnswerBrokenURL:      "MSGBROKENURL",
	AnswerParseError:     "MSGPARSEERROR",
	AnswerUnreadable:     "MSGUNREADABLE",
	AnswerExecError:      "MSGEXECERROR",
	AnswerConfigError:    "MSGCONFIGERROR",
	AnswerUndefinedError: "MSGUNDEFERROR",
	AnswerTask:           "MSGTASK",
	AnswerCmdOutput:      "MSGCMDOUTPUT",
}

var answerByToken = func() map[string]AnswerCode {
	out := make(map[string]AnswerCode, len(answerTokens))
	for code, token := range answerTokens {
		out[token] = code
	}
	return out
}()

// Token returns the wire token for c, or "" for AnswerUnknown.
func (c AnswerCode) Token() string {
	return answerTokens[c]
}

func (c AnswerCode) String() string {
	if tok, ok := answerTokens[c]; ok {
		return tok
	}
	return "UNKNOWN"
}

// LookupAnswer maps a wire token back to its code.
func LookupAnswer(token string) (AnswerCode, bool) {
	code, ok := answerByToken[token]
	return code, ok
}

// CommandKind identifies a command variant after token lookup.
type CommandKind int

const (
	KindUnknown CommandKind = iota
	KindExec
	KindPush
	KindURLFirm
	KindURLPak
	KindURLFile
	KindURLScript
	KindBinFirm
	KindBinPak
	KindBinFile
	KindBinScript
	KindUCILine
	KindStatus
)

var kindNames = map[CommandKind]string{
	KindExec:      "EXEC",
	KindPush:      "PUSH",
	KindURLFirm:   "URLFIRM",
	KindURLPak:    "URLPAK",
	KindURLFile:   "URLFILE",
	KindURLScript: "URLSCRIPT",
	KindBinFirm:   "BINFIRM",
	KindBinPak:    "BINPAK",
	KindBinFile:   "BINFILE",
	KindBinScript: "BINSCRIPT",
	KindUCILine:   "UCILINE",
	KindStatus:    "STATUS",
}

// Token returns the command token for k.
func (k CommandKind) Token() string {
	return kindNames[k]
}

func (k CommandKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsURL reports whether k belongs to the URL download family.
func (k CommandKind) IsURL() bool {
	switch k {
	case KindURLFirm, KindURLPak, KindURLFile, KindURLScript:
		return true
	}
	return false
}

// IsBinary reports whether k belongs to the inline binary family.
func (k CommandKind) IsBinary() bool {
	switch k {
	case KindBinFirm, KindBinPak, KindBinFile, KindBinScript:
		return true
	}
	return false
}

// ParsedCommand is an accepted command with the checksum frame stripped.
type ParsedCommand struct {
	DeviceID string
	MsgID    string
	Kind     CommandKind
	Args     frame.Frames
}
