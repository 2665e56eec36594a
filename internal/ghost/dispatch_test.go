package ghost

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/protocol/frame"
	"github.com/danmuck/ghostwire/internal/testutil/testlog"
)

func command(kind protocol.CommandKind, args ...string) protocol.ParsedCommand {
	return protocol.ParsedCommand{DeviceID: testDevice, MsgID: testMsgID, Kind: kind, Args: frame.Of(args...)}
}

func TestDispatchExecQueuesNotice(t *testing.T) {
	testlog.Start(t)
	q := NewQueue(0)
	sp := &fakeSpawner{pid: 321}
	d := &Dispatcher{DeviceID: testDevice, Spawner: sp, Notices: q}

	out := d.Dispatch(context.Background(), command(protocol.KindExec, "echo machin"))
	if out.Code != protocol.AnswerTask {
		t.Fatalf("expected Task, got %v", out.Code)
	}
	if len(sp.calls) != 1 || sp.calls[0] != "echo machin" {
		t.Fatalf("unexpected spawn calls: %q", sp.calls)
	}
	item, ok := q.pop()
	if !ok {
		t.Fatalf("expected internal notice")
	}
	n, err := DecodeNotice(item[1:])
	if err != nil || n.PID != 321 || n.Seq != 1 || n.MsgID != testMsgID || n.Command != "echo machin" {
		t.Fatalf("unexpected notice %+v err=%v", n, err)
	}
}

func TestDispatchExecSpawnFailureQueuesNothing(t *testing.T) {
	testlog.Start(t)
	q := NewQueue(0)
	d := &Dispatcher{Spawner: &fakeSpawner{err: errors.New("no shell")}, Notices: q}
	out := d.Dispatch(context.Background(), command(protocol.KindExec, "true"))
	if out.Code != protocol.AnswerExecError {
		t.Fatalf("expected ExecError, got %v", out.Code)
	}
	if q.Len() != 0 {
		t.Fatalf("spawn failure must not queue a notice")
	}
}

func TestDispatchPushPaths(t *testing.T) {
	testlog.Start(t)
	files := &memFiles{files: make(map[string][]byte)}
	d := &Dispatcher{PushDir: "/var/push", Files: files}

	cases := []struct {
		args []string
		path string
	}{
		{[]string{"payload"}, filepath.Join("/var/push", testMsgID)},
		{[]string{"payload", "/tmp/named.bin"}, "/tmp/named.bin"},
		{[]string{"payload", "rel/x.bin"}, "/var/push/rel/x.bin"},
	}
	for _, tc := range cases {
		out := d.Dispatch(context.Background(), command(protocol.KindPush, tc.args...))
		if out.Code != protocol.AnswerCompleted {
			t.Fatalf("%v: expected Completed, got %v", tc.args, out.Code)
		}
		if string(files.files[tc.path]) != "payload" {
			t.Fatalf("%v: expected payload at %s, files=%v", tc.args, tc.path, files.files)
		}
	}
}

func TestDispatchPushExistingFileIsUnchanged(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, testMsgID)
	if err := os.WriteFile(path, []byte("original"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	d := &Dispatcher{PushDir: dir, Files: OSFileSystem{}}
	out := d.Dispatch(context.Background(), command(protocol.KindPush, "replacement"))
	if out.Code != protocol.AnswerExecError {
		t.Fatalf("expected ExecError, got %v", out.Code)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "original" {
		t.Fatalf("existing file modified: %q err=%v", got, err)
	}
}

func TestDispatchConfigLine(t *testing.T) {
	testlog.Start(t)
	p := newMemProvider()
	daemons := &fakeDaemons{}
	d := &Dispatcher{Config: p, Daemons: daemons}

	out := d.Dispatch(context.Background(), command(protocol.KindUCILine, "network.lan.ipaddr=10.0.0.1", "network", "dnsmasq"))
	if out.Code != protocol.AnswerCompleted {
		t.Fatalf("expected Completed, got %v", out.Code)
	}
	if p.values["network.lan.ipaddr"] != "10.0.0.1" {
		t.Fatalf("value not set: %v", p.values)
	}
	if len(p.committed) != 1 || p.committed[0] != "network" {
		t.Fatalf("unexpected commits: %v", p.committed)
	}
	if got := strings.Join(daemons.names(), ","); got != "network,dnsmasq" {
		t.Fatalf("unexpected restarts: %v", got)
	}

	for _, args := range [][]string{{"no-equals-sign"}, {"only.two=x"}} {
		if out := d.Dispatch(context.Background(), command(protocol.KindUCILine, args...)); out.Code != protocol.AnswerConfigError {
			t.Fatalf("%v: expected ConfigError, got %v", args, out.Code)
		}
	}

	daemons.fail = "firewall"
	out = d.Dispatch(context.Background(), command(protocol.KindUCILine, "firewall.main.enabled=1", "firewall"))
	if out.Code != protocol.AnswerConfigError {
		t.Fatalf("expected ConfigError on restart failure, got %v", out.Code)
	}

	p.commitErr = errors.New("read-only")
	out = d.Dispatch(context.Background(), command(protocol.KindUCILine, "system.main.hostname=edge"))
	if out.Code != protocol.AnswerConfigError {
		t.Fatalf("expected ConfigError on commit failure, got %v", out.Code)
	}
}

func TestDispatchConfigLineRestartsOffWorker(t *testing.T) {
	testlog.Start(t)
	p := newMemProvider()
	daemons := &fakeDaemons{gate: make(chan struct{})}
	tx := newRecordingSender()
	d := &Dispatcher{DeviceID: testDevice, Config: p, Daemons: daemons, Replies: tx}

	start := time.Now()
	out := d.Dispatch(context.Background(), command(protocol.KindUCILine, "network.lan.proto=dhcp", "network"))
	if !out.Deferred {
		t.Fatalf("restart with a reply path must be deferred, got %+v", out)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("dispatch waited on the restart: %v", elapsed)
	}
	if p.values["network.lan.proto"] != "dhcp" {
		t.Fatalf("value not applied before restart: %v", p.values)
	}

	close(daemons.gate)
	rs := waitFor(t, tx.ch, 5*time.Second, func(r protocol.Reply) bool { return true })
	if rs[0].Code != protocol.AnswerCompleted || rs[0].MsgID != testMsgID || rs[0].DeviceID != testDevice {
		t.Fatalf("unexpected deferred reply: %+v", rs[0])
	}
	if got := daemons.names(); len(got) != 1 || got[0] != "network" {
		t.Fatalf("unexpected restarts: %v", got)
	}

	daemons.fail = "firewall"
	out = d.Dispatch(context.Background(), command(protocol.KindUCILine, "firewall.main.enabled=1", "firewall"))
	if !out.Deferred {
		t.Fatalf("expected deferred outcome, got %+v", out)
	}
	rs = waitFor(t, tx.ch, 5*time.Second, func(r protocol.Reply) bool { return true })
	if rs[0].Code != protocol.AnswerConfigError {
		t.Fatalf("expected deferred ConfigError, got %v", rs[0].Code)
	}

	d.Daemons = nil
	if out := d.Dispatch(context.Background(), command(protocol.KindUCILine, "system.main.hostname=edge", "system")); out.Code != protocol.AnswerConfigError || out.Deferred {
		t.Fatalf("missing daemon controller must fail inline, got %+v", out)
	}
	if _, applied := p.values["system.main.hostname"]; applied {
		t.Fatalf("line applied although restart could not run")
	}
}

func TestDispatchURLAndFallback(t *testing.T) {
	testlog.Start(t)
	d := &Dispatcher{}
	cases := []struct {
		cmd  protocol.ParsedCommand
		want protocol.AnswerCode
	}{
		{command(protocol.KindURLFirm, "not a url"), protocol.AnswerBrokenURL},
		{command(protocol.KindURLPak, "file:///etc/passwd"), protocol.AnswerBrokenURL},
		{command(protocol.KindURLScript, "https://example.com/run.sh"), protocol.AnswerUndefinedError},
		{command(protocol.KindBinFirm, "\x00\x01"), protocol.AnswerUndefinedError},
		{command(protocol.KindUnknown), protocol.AnswerUndefinedError},
	}
	for _, tc := range cases {
		if out := d.Dispatch(context.Background(), tc.cmd); out.Code != tc.want {
			t.Fatalf("%v %q: got %v want %v", tc.cmd.Kind, tc.cmd.Args, out.Code, tc.want)
		}
	}
}

func TestDispatchStatusDetail(t *testing.T) {
	testlog.Start(t)
	d := &Dispatcher{DeviceID: testDevice, LiveTasks: func() int { return 3 }}
	out := d.Dispatch(context.Background(), command(protocol.KindStatus))
	if out.Code != protocol.AnswerCompleted {
		t.Fatalf("expected Completed, got %v", out.Code)
	}
	detail := string(out.Detail)
	if !strings.Contains(detail, "device_id="+testDevice) || !strings.Contains(detail, "live_tasks=3") {
		t.Fatalf("unexpected status detail %q", detail)
	}
}
