package ghost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/danmuck/ghostwire/internal/observability"
	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

const DefaultPollInterval = 200 * time.Millisecond

// ProcessRecord tracks one spawned command until it is reaped.
type ProcessRecord struct {
	Seq       uint64    `json:"seq"`
	PID       int       `json:"pid"`
	MsgID     string    `json:"msgid"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

type WorkerConfig struct {
	DeviceID     string
	PollInterval time.Duration
}

// Worker is the single consumer of the queue and the only goroutine that
// touches the process table.
type Worker struct {
	cfg        WorkerConfig
	queue      *Queue
	codec      *protocol.Codec
	dispatcher *Dispatcher
	poller     Poller
	replies    ReplySink

	table    map[uint64]ProcessRecord
	snapshot atomic.Pointer[[]ProcessRecord]
}

func NewWorker(cfg WorkerConfig, queue *Queue, codec *protocol.Codec, d *Dispatcher, poller Poller, replies ReplySink) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	w := &Worker{
		cfg:        cfg,
		queue:      queue,
		codec:      codec,
		dispatcher: d,
		poller:     poller,
		replies:    replies,
		table:      make(map[uint64]ProcessRecord),
	}
	if d != nil && d.LiveTasks == nil {
		d.LiveTasks = func() int { return len(w.table) }
	}
	w.publish()
	return w
}

// Run loops until ctx is done. Children still running are left alone.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().
		Str("device_id", w.cfg.DeviceID).
		Str("revision", w.codec.Revision()).
		Int("min_id_length", w.codec.MinIDLength()).
		Dur("poll", w.cfg.PollInterval).
		Msg("ghost.Worker.Run start")
	for {
		w.sweep()
		item, ok := w.queue.Next(ctx, w.cfg.PollInterval)
		if ctx.Err() != nil {
			log.Info().Int("live_tasks", len(w.table)).Msg("ghost.Worker.Run stopped")
			return ctx.Err()
		}
		if ok {
			w.handle(ctx, item)
		}
	}
}

// Snapshot returns the process table as last published, in spawn order.
func (w *Worker) Snapshot() []ProcessRecord {
	p := w.snapshot.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (w *Worker) sweep() {
	if len(w.table) == 0 || w.poller == nil {
		return
	}
	changed := false
	for seq, rec := range w.table {
		st, done := w.poller.Poll(seq)
		if !done {
			continue
		}
		delete(w.table, seq)
		changed = true
		observability.RecordTaskExit(st.Code, st.ExitedAt.Sub(rec.StartedAt))

		if st.Code == 0 && st.Err == nil {
			w.reply(rec.MsgID, protocol.AnswerCompleted)
			continue
		}
		w.reply(rec.MsgID, protocol.AnswerExecError, []byte(fmt.Sprintf("exit status %d", st.Code)))
	}
	if changed {
		w.publish()
	}
}

func (w *Worker) handle(ctx context.Context, item frame.Frames) {
	tag, ok := item.PopString()
	if !ok {
		return
	}
	switch tag {
	case TagInternal:
		n, err := DecodeNotice(item)
		if err != nil {
			log.Error().Err(err).Msg("ghost.Worker.handle notice")
			return
		}
		observability.RecordQueueItem(TagInternal)
		w.track(n)
	case TagServer:
		observability.RecordQueueItem(TagServer)
		w.command(ctx, item)
	default:
		log.Warn().Str("tag", tag).Msg("ghost.Worker.handle unknown tag")
	}
}

func (w *Worker) track(n Notice) {
	w.table[n.Seq] = ProcessRecord{Seq: n.Seq, PID: n.PID, MsgID: n.MsgID, Command: n.Command, StartedAt: time.Now()}
	w.publish()
}

func (w *Worker) command(ctx context.Context, msg frame.Frames) {
	cmd, err := w.codec.Parse(msg)
	code := protocol.AnswerOf(err)
	if err != nil {
		msgID := ""
		var perr *protocol.ParseError
		if errors.As(err, &perr) {
			msgID = perr.MsgID
		}
		log.Warn().Err(err).Str("msgid", msgID).Str("answer", code.Token()).Msg("ghost.Worker.command rejected")
		w.reply(msgID, code)
		return
	}
	w.reply(cmd.MsgID, protocol.AnswerAccepted)

	out := w.dispatcher.Dispatch(ctx, cmd)
	switch {
	case out.Deferred:
	case out.Detail != nil:
		w.reply(cmd.MsgID, out.Code, out.Detail)
	default:
		w.reply(cmd.MsgID, out.Code)
	}
}

// reply hands msg to the outbox and returns at once; a full outbox drops it.
func (w *Worker) reply(msgID string, code protocol.AnswerCode, detail ...[]byte) {
	msg := protocol.NewReply(w.cfg.DeviceID, msgID, code, detail...)
	if !w.replies.Offer(msg) {
		log.Error().Str("msgid", msgID).Str("answer", code.Token()).Msg("ghost.Worker.reply dropped")
		return
	}
	log.Debug().Str("msgid", msgID).Str("answer", code.Token()).Msg("ghost.Worker.reply")
}

func (w *Worker) publish() {
	recs := make([]ProcessRecord, 0, len(w.table))
	for _, rec := range w.table {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	w.snapshot.Store(&recs)
	observability.SetLiveTasks(len(recs))
}
