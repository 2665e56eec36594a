package tools

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
)

// CommandRunner abstracts host command execution for runtime adapters.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), ExitCode(err), err
}

// ExitCode maps a process error onto a shell-style exit status: 0 for nil,
// the process status for *exec.ExitError, 127 when the binary is missing,
// 126 when it is not executable and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return 128
	}
	var execErr *exec.Error
	switch {
	case errors.As(err, &execErr), errors.Is(err, fs.ErrNotExist):
		return 127
	case errors.Is(err, fs.ErrPermission):
		return 126
	}
	return 1
}
