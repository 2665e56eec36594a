package ghost

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/testutil/testlog"
)

func newTestWorker(t *testing.T, rev protocol.Revision, d *Dispatcher, poller Poller) (*Worker, *Queue, *recordingSender) {
	t.Helper()
	codec, err := protocol.NewCodec(rev, 0)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	q := NewQueue(0)
	tx := newRecordingSender()
	if d.Notices == nil {
		d.Notices = q
	}
	w := NewWorker(WorkerConfig{DeviceID: testDevice, PollInterval: 10 * time.Millisecond}, q, codec, d, poller, tx)
	return w, q, tx
}

func drain(t *testing.T, w *Worker, q *Queue) {
	t.Helper()
	for {
		item, ok := q.pop()
		if !ok {
			return
		}
		w.handle(context.Background(), item)
	}
}

func TestWorkerBadChecksumSpawnsNothing(t *testing.T) {
	testlog.Start(t)
	sp := &fakeSpawner{pid: 10}
	w, q, tx := newTestWorker(t, protocol.ProtocolCurrent(), &Dispatcher{Spawner: sp}, &fakePoller{})

	msg := protocol.EncodeStrings(testDevice, testMsgID, "EXEC", "echo hi")
	msg[4][0] ^= 0xff
	q.PushServer(msg)
	drain(t, w, q)

	rs := tx.replies(t)
	if len(rs) != 1 || rs[0].Code != protocol.AnswerBadChecksum || rs[0].MsgID != testMsgID {
		t.Fatalf("unexpected replies: %+v", rs)
	}
	if len(sp.calls) != 0 || len(w.Snapshot()) != 0 {
		t.Fatalf("bad checksum must not spawn: calls=%v table=%v", sp.calls, w.Snapshot())
	}
}

func TestWorkerUnreadableUsesEmptyMsgID(t *testing.T) {
	testlog.Start(t)
	w, q, tx := newTestWorker(t, protocol.ProtocolCurrent(), &Dispatcher{}, &fakePoller{})
	q.PushServer(protocol.EncodeStrings(testDevice, "ab", "EXEC", "true"))
	drain(t, w, q)
	rs := tx.replies(t)
	if len(rs) != 1 || rs[0].Code != protocol.AnswerUnreadable || rs[0].MsgID != "" || rs[0].HasDetail {
		t.Fatalf("unexpected replies: %+v", rs)
	}
}

func TestWorkerTracksAndReapsTasks(t *testing.T) {
	testlog.Start(t)
	poller := &fakePoller{exits: make(map[uint64]ExitStatus)}
	sp := &fakeSpawner{pid: 77}
	w, q, tx := newTestWorker(t, protocol.ProtocolCurrent(), &Dispatcher{Spawner: sp}, poller)

	q.PushServer(protocol.EncodeStrings(testDevice, testMsgID, "EXEC", "sleep 5"))
	drain(t, w, q)

	rs := tx.replies(t)
	if len(rs) != 2 || rs[0].Code != protocol.AnswerAccepted || rs[1].Code != protocol.AnswerTask {
		t.Fatalf("unexpected replies: %v", codes(rs))
	}
	snap := w.Snapshot()
	if len(snap) != 1 || snap[0].Seq != 1 || snap[0].PID != 77 || snap[0].MsgID != testMsgID || snap[0].Command != "sleep 5" {
		t.Fatalf("unexpected table: %+v", snap)
	}

	w.sweep()
	if len(w.Snapshot()) != 1 {
		t.Fatalf("running task must stay in the table")
	}

	poller.exits[1] = ExitStatus{Seq: 1, PID: 77, Code: 0, ExitedAt: time.Now()}
	w.sweep()
	rs = tx.replies(t)
	if last := rs[len(rs)-1]; last.Code != protocol.AnswerCompleted || last.MsgID != testMsgID {
		t.Fatalf("expected Completed for %s, got %+v", testMsgID, last)
	}
	if len(w.Snapshot()) != 0 {
		t.Fatalf("reaped task still listed: %+v", w.Snapshot())
	}
}

func TestWorkerNonZeroExitIsExecError(t *testing.T) {
	testlog.Start(t)
	poller := &fakePoller{exits: map[uint64]ExitStatus{4: {Seq: 4, PID: 9, Code: 2, ExitedAt: time.Now()}}}
	w, q, tx := newTestWorker(t, protocol.ProtocolCurrent(), &Dispatcher{}, poller)
	q.PushNotice(Notice{MsgID: testMsgID, Command: "false", PID: 9, Seq: 4})
	drain(t, w, q)
	w.sweep()

	rs := tx.replies(t)
	if len(rs) != 1 || rs[0].Code != protocol.AnswerExecError || string(rs[0].Detail) != "exit status 2" {
		t.Fatalf("unexpected replies: %+v", rs)
	}
}

func TestWorkerSpawnFailureCreatesNoRecord(t *testing.T) {
	testlog.Start(t)
	sup := NewSupervisor(SupervisorConfig{Shell: filepath.Join(t.TempDir(), "missing-sh")}, nil)
	w, q, tx := newTestWorker(t, protocol.ProtocolCurrent(), &Dispatcher{Spawner: sup}, sup)
	q.PushServer(protocol.EncodeStrings(testDevice, testMsgID, "EXEC", "true"))
	drain(t, w, q)

	got := codes(tx.replies(t))
	if len(got) != 2 || got[0] != protocol.AnswerAccepted || got[1] != protocol.AnswerExecError {
		t.Fatalf("unexpected replies: %v", got)
	}
	if len(w.Snapshot()) != 0 || q.Len() != 0 {
		t.Fatalf("spawn failure left state behind: table=%v queued=%d", w.Snapshot(), q.Len())
	}
}

func TestWorkerStatusOnLegacyRevision(t *testing.T) {
	testlog.Start(t)
	w, q, tx := newTestWorker(t, protocol.ProtocolLegacy(), &Dispatcher{DeviceID: testDevice}, &fakePoller{})
	q.PushNotice(Notice{MsgID: "other-msg", Command: "sleep 9", PID: 5, Seq: 1})
	q.PushServer(protocol.EncodeStrings(testDevice, testMsgID, "STATUS"))
	drain(t, w, q)

	rs := tx.replies(t)
	if len(rs) != 2 || rs[1].Code != protocol.AnswerCompleted || !rs[1].HasDetail {
		t.Fatalf("unexpected replies: %+v", rs)
	}
	if want := "live_tasks=1"; !strings.Contains(string(rs[1].Detail), want) {
		t.Fatalf("status detail %q missing %q", rs[1].Detail, want)
	}
}

func TestWorkerRecycledPIDKeepsBothTasks(t *testing.T) {
	testlog.Start(t)
	poller := &fakePoller{exits: make(map[uint64]ExitStatus)}
	sp := &fakeSpawner{pid: 500}
	w, q, tx := newTestWorker(t, protocol.ProtocolCurrent(), &Dispatcher{Spawner: sp}, poller)

	q.PushServer(protocol.EncodeStrings(testDevice, "msg-first-01", "EXEC", "true"))
	q.PushServer(protocol.EncodeStrings(testDevice, "msg-second-02", "EXEC", "false"))
	drain(t, w, q)
	if snap := w.Snapshot(); len(snap) != 2 || snap[0].Seq != 1 || snap[1].Seq != 2 || snap[0].PID != snap[1].PID {
		t.Fatalf("expected two records sharing pid 500: %+v", snap)
	}

	poller.exits[1] = ExitStatus{Seq: 1, PID: 500, Code: 0, ExitedAt: time.Now()}
	poller.exits[2] = ExitStatus{Seq: 2, PID: 500, Code: 1, ExitedAt: time.Now()}
	w.sweep()

	final := map[string]protocol.AnswerCode{}
	for _, r := range tx.replies(t) {
		if r.Code == protocol.AnswerCompleted || r.Code == protocol.AnswerExecError {
			final[r.MsgID] = r.Code
		}
	}
	if final["msg-first-01"] != protocol.AnswerCompleted || final["msg-second-02"] != protocol.AnswerExecError {
		t.Fatalf("each task needs its own terminal reply: %v", final)
	}
	if len(w.Snapshot()) != 0 {
		t.Fatalf("reaped tasks still listed: %+v", w.Snapshot())
	}
}

func TestWorkerRepliesDoNotWaitOnStalledTransport(t *testing.T) {
	testlog.Start(t)
	stalled := newStalledSender()
	out := NewOutbox(stalled, 2, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go out.Run(ctx)

	big := protocol.NewReply(testDevice, "msg-big-output", protocol.AnswerCmdOutput, make([]byte, 4<<20))
	if !out.Offer(big) {
		t.Fatalf("empty outbox refused a reply")
	}
	select {
	case <-stalled.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("outbox never started sending")
	}

	codec, err := protocol.NewCodec(protocol.ProtocolCurrent(), 0)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	poll := 200 * time.Millisecond
	q := NewQueue(0)
	w := NewWorker(WorkerConfig{DeviceID: testDevice, PollInterval: poll}, q, codec, &Dispatcher{}, &fakePoller{}, out)

	for i := 0; i < 4; i++ {
		msg := protocol.EncodeStrings(testDevice, testMsgID, "EXEC", "true")
		msg[4][0] ^= 0xff
		q.PushServer(msg)
		item, ok := q.pop()
		if !ok {
			t.Fatalf("queued item missing")
		}
		start := time.Now()
		w.handle(ctx, item)
		if elapsed := time.Since(start); elapsed >= poll {
			t.Fatalf("handle %d blocked for %v behind a stalled sender", i, elapsed)
		}
	}
	if out.Len() != 2 {
		t.Fatalf("outbox should hold its capacity and drop the rest, len=%d", out.Len())
	}
	close(stalled.release)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	w, _, _ := newTestWorker(t, protocol.ProtocolCurrent(), &Dispatcher{}, &fakePoller{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}
