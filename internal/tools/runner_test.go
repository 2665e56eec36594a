package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/ghostwire/internal/testutil/testlog"
)

func TestExecRunnerCapturesOutputAndExitCode(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	stdout, stderr, code, err := ExecRunner{}.Run(ctx, "/bin/sh", "-c", "echo out; echo err >&2; exit 3")
	if err == nil {
		t.Fatalf("expected error for nonzero exit")
	}
	if code != 3 {
		t.Fatalf("exit code got=%d want=3", code)
	}
	if strings.TrimSpace(string(stdout)) != "out" || strings.TrimSpace(string(stderr)) != "err" {
		t.Fatalf("unexpected output stdout=%q stderr=%q", stdout, stderr)
	}
}

func TestExitCodeMapping(t *testing.T) {
	testlog.Start(t)
	if ExitCode(nil) != 0 {
		t.Fatalf("nil error must map to 0")
	}
	_, _, code, err := ExecRunner{}.Run(context.Background(), "/nonexistent/ghostwire-binary")
	if err == nil || code != 127 {
		t.Fatalf("missing binary got code=%d err=%v", code, err)
	}
	if ExitCode(errors.New("other")) != 1 {
		t.Fatalf("generic errors map to 1")
	}
}
