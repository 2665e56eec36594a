package ghost

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/danmuck/ghostwire/internal/tools"
	"github.com/rs/zerolog/log"
)

var ErrInvalidDaemon = errors.New("ghost: invalid daemon name")

// DaemonController restarts named system services after a config change.
type DaemonController interface {
	Restart(ctx context.Context, name string) error
}

// InitDaemons restarts services through <Dir>/<name> stop|start scripts.
type InitDaemons struct {
	Dir    string
	Runner tools.CommandRunner
}

func (d InitDaemons) Restart(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidDaemon, name)
	}
	dir := d.Dir
	if dir == "" {
		dir = "/etc/init.d"
	}
	runner := d.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	script := filepath.Join(dir, name)
	for _, action := range []string{"stop", "start"} {
		_, stderr, code, err := runner.Run(ctx, script, action)
		if err != nil {
			return fmt.Errorf("ghost: %s %s exit=%d: %w: %s", script, action, code, err, strings.TrimSpace(string(stderr)))
		}
	}
	log.Info().Str("daemon", name).Msg("ghost.InitDaemons.Restart")
	return nil
}
