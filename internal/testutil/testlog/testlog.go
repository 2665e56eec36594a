// Package testlog routes zerolog output through the test harness settings
// and brackets each test with start and finish lines.
package testlog

import (
	"testing"
	"time"

	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t testing.TB) {
	t.Helper()
	logging.ConfigureTests()
	started := time.Now()
	log.Debug().Str("test", t.Name()).Msg("testlog.Start")
	t.Cleanup(func() {
		ev := log.Debug()
		if t.Failed() {
			ev = log.Warn()
		}
		ev.Str("test", t.Name()).Bool("failed", t.Failed()).Dur("elapsed", time.Since(started)).Msg("testlog.Finish")
	})
}
