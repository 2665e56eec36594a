package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/testutil/testlog"
	"github.com/danmuck/ghostwire/internal/transport"
)

func TestLoadSettings(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "miragectl.toml")
	content := `
id = "mirage.alpha"
publish = "redis://127.0.0.1:6379/0?channel=cmds"
collect = "redis://127.0.0.1:6379/0?channel=replies"
codec = "cbor"
reply_timeout_ms = 2500

[session]
security_mode = "development"
backoff_initial_ms = 250
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadSettings(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ID != "mirage.alpha" || cfg.Codec != "cbor" || cfg.ReplyTimeout != 2500*time.Millisecond {
		t.Fatalf("unexpected settings: %+v", cfg)
	}
	if cfg.hub() {
		t.Fatalf("no hub addresses were configured")
	}
	if cfg.Session.Backoff.InitialDelay != 250*time.Millisecond {
		t.Fatalf("session overlay not applied: %+v", cfg.Session.Backoff)
	}

	if err := os.WriteFile(path, []byte("id = \"x\"\nunknown = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadSettings(path); err == nil {
		t.Fatalf("expected unknown key to fail")
	}
}

func TestParseArgs(t *testing.T) {
	testlog.Start(t)
	opts, err := parseArgs([]string{"publish", "-d", "dev-1", "EXEC", "echo hi"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Command != "publish" || opts.DeviceID != "dev-1" || strings.Join(opts.Args, "|") != "EXEC|echo hi" {
		t.Fatalf("unexpected options: %+v", opts)
	}
	for _, args := range [][]string{{}, {"publish", "EXEC"}, {"publish", "-d", "dev-1"}, {"explode"}} {
		if _, err := parseArgs(args); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestPublishOverBusWaitsForTerminalReply(t *testing.T) {
	testlog.Start(t)
	bus := transport.NewBus()
	cmds := bus.Subscribe("cmds")
	defer cmds.Close()
	replies := bus.Subscribe("replies")
	defer replies.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		msg, err := cmds.Receive(ctx)
		if err != nil {
			return
		}
		id := string(msg[1])
		for _, r := range [][][]byte{
			protocol.NewReply("dev-1", id, protocol.AnswerAccepted),
			protocol.NewReply("dev-1", id, protocol.AnswerTask),
			protocol.NewReply("dev-1", id, protocol.AnswerCmdOutput, []byte("hi\n")),
			protocol.NewReply("dev-1", id, protocol.AnswerCompleted),
		} {
			_ = bus.Publish(ctx, "replies", r)
		}
	}()

	cfg := defaultSettings()
	cfg.ReplyTimeout = 5 * time.Second
	l := &link{sender: bus.Sender("cmds"), receiver: replies}
	opts := options{Command: "publish", DeviceID: "dev-1", Args: []string{"EXEC", "echo hi"}}
	var out bytes.Buffer
	if err := publish(ctx, cfg, opts, l, &out); err != nil {
		t.Fatalf("publish: %v\n%s", err, out.String())
	}
	got := out.String()
	if !strings.Contains(got, "MSGACCEPTED") || !strings.Contains(got, "hi\n") || !strings.Contains(got, "MSGCOMPLETED") {
		t.Fatalf("unexpected output:\n%s", got)
	}
}
