package ghost

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/protocol/frame"
)

const (
	testDevice = "device-0001"
	testMsgID  = "msg-00000001"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []frame.Frames
	ch   chan frame.Frames
}

func newRecordingSender() *recordingSender {
	return &recordingSender{ch: make(chan frame.Frames, 256)}
}

func (s *recordingSender) Send(_ context.Context, msg frame.Frames) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg.Dup())
	s.mu.Unlock()
	s.ch <- msg.Dup()
	return nil
}

func (s *recordingSender) Offer(msg frame.Frames) bool {
	return s.Send(context.Background(), msg) == nil
}

func (s *recordingSender) replies(t *testing.T) []protocol.Reply {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Reply, 0, len(s.msgs))
	for _, m := range s.msgs {
		r, err := protocol.DecodeReply(m)
		if err != nil {
			t.Fatalf("decode reply %q: %v", m, err)
		}
		out = append(out, r)
	}
	return out
}

// fakeSpawner hands out seqs 1, 2, ... and always reports the same pid.
type fakeSpawner struct {
	pid   int
	err   error
	seq   uint64
	calls []string
}

func (f *fakeSpawner) Spawn(command, _, _ string) (Spawned, error) {
	f.calls = append(f.calls, command)
	if f.err != nil {
		return Spawned{}, f.err
	}
	f.seq++
	return Spawned{Seq: f.seq, PID: f.pid}, nil
}

type fakePoller struct {
	exits map[uint64]ExitStatus
}

func (f *fakePoller) Poll(seq uint64) (ExitStatus, bool) {
	st, ok := f.exits[seq]
	if ok {
		delete(f.exits, seq)
	}
	return st, ok
}

type memFiles struct {
	files map[string][]byte
}

func (m *memFiles) CreateExclusive(path string, data []byte) error {
	if _, ok := m.files[path]; ok {
		return ErrFileExists
	}
	m.files[path] = append([]byte(nil), data...)
	return nil
}

type memProvider struct {
	values    map[string]string
	committed []string
	commitErr error
}

func newMemProvider() *memProvider {
	return &memProvider{values: make(map[string]string)}
}

func (m *memProvider) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *memProvider) Set(key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memProvider) Commit(pkg string) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = append(m.committed, pkg)
	return nil
}

// fakeDaemons blocks each restart on gate when it is set.
type fakeDaemons struct {
	gate chan struct{}
	fail string

	mu        sync.Mutex
	restarted []string
}

func (f *fakeDaemons) Restart(ctx context.Context, name string) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if name == f.fail {
		return errors.New("restart failed")
	}
	f.mu.Lock()
	f.restarted = append(f.restarted, name)
	f.mu.Unlock()
	return nil
}

func (f *fakeDaemons) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restarted...)
}

// stalledSender blocks every Send until release is closed.
type stalledSender struct {
	entered chan struct{}
	release chan struct{}
}

func newStalledSender() *stalledSender {
	return &stalledSender{entered: make(chan struct{}, 64), release: make(chan struct{})}
}

func (s *stalledSender) Send(ctx context.Context, _ frame.Frames) error {
	s.entered <- struct{}{}
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitFor collects replies from ch until done reports true.
func waitFor(t *testing.T, ch <-chan frame.Frames, timeout time.Duration, done func(protocol.Reply) bool) []protocol.Reply {
	t.Helper()
	deadline := time.After(timeout)
	var got []protocol.Reply
	for {
		select {
		case msg := <-ch:
			r, err := protocol.DecodeReply(msg)
			if err != nil {
				t.Fatalf("decode reply %q: %v", msg, err)
			}
			got = append(got, r)
			if done(r) {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out; replies so far: %+v", got)
		}
	}
}

func codes(rs []protocol.Reply) []protocol.AnswerCode {
	out := make([]protocol.AnswerCode, len(rs))
	for i, r := range rs {
		out[i] = r.Code
	}
	return out
}
