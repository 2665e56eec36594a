package ghost

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/ghostwire/internal/protocol/frame"
)

const (
	TagServer   = "server"
	TagInternal = "internal"
)

var ErrBadNotice = errors.New("ghost: malformed internal notice")

// Notice tells the worker that msgid's command was spawned as task Seq.
type Notice struct {
	MsgID   string
	Command string
	PID     int
	Seq     uint64
}

// Encode renders n as the tagged queue item
// ["internal", msgid, command, pid(8 bytes LE), seq(8 bytes LE)].
func (n Notice) Encode() frame.Frames {
	pid := make([]byte, 8)
	binary.LittleEndian.PutUint64(pid, uint64(n.PID))
	seq := make([]byte, 8)
	binary.LittleEndian.PutUint64(seq, n.Seq)
	return frame.Frames{[]byte(TagInternal), []byte(n.MsgID), []byte(n.Command), pid, seq}
}

// DecodeNotice reads the frames that follow the "internal" tag.
func DecodeNotice(body frame.Frames) (Notice, error) {
	if body.Len() != 4 {
		return Notice{}, fmt.Errorf("%w: %d frames", ErrBadNotice, body.Len())
	}
	if len(body[2]) != 8 || len(body[3]) != 8 {
		return Notice{}, fmt.Errorf("%w: pid/seq width %d/%d", ErrBadNotice, len(body[2]), len(body[3]))
	}
	return Notice{
		MsgID:   string(body[0]),
		Command: string(body[1]),
		PID:     int(binary.LittleEndian.Uint64(body[2])),
		Seq:     binary.LittleEndian.Uint64(body[3]),
	}, nil
}

// Queue is the worker's single inbox. Server items beyond hwm are dropped;
// internal notices are always accepted.
type Queue struct {
	hwm int

	mu       sync.Mutex
	items    []frame.Frames
	external int
	notify   chan struct{}
}

func NewQueue(hwm int) *Queue {
	return &Queue{hwm: hwm, notify: make(chan struct{}, 1)}
}

// PushServer queues a received message. It reports false when the message
// was dropped at the high-water mark.
func (q *Queue) PushServer(msg frame.Frames) bool {
	q.mu.Lock()
	if q.hwm > 0 && q.external >= q.hwm {
		q.mu.Unlock()
		return false
	}
	item := make(frame.Frames, 0, msg.Len()+1)
	item = append(item, []byte(TagServer))
	item = append(item, msg...)
	q.items = append(q.items, item)
	q.external++
	q.mu.Unlock()
	q.wake()
	return true
}

func (q *Queue) PushNotice(n Notice) {
	q.mu.Lock()
	q.items = append(q.items, n.Encode())
	q.mu.Unlock()
	q.wake()
}

// Next pops the oldest item, waiting at most timeout. ok is false on timeout
// or cancellation.
func (q *Queue) Next(ctx context.Context, timeout time.Duration) (frame.Frames, bool) {
	if item, ok := q.pop(); ok {
		return item, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
			return q.pop()
		case <-q.notify:
			if item, ok := q.pop(); ok {
				return item, true
			}
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) pop() (frame.Frames, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(item) > 0 && string(item[0]) == TagServer {
		q.external--
	}
	if len(q.items) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return item, true
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
