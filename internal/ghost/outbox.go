package ghost

import (
	"context"
	"time"

	"github.com/danmuck/ghostwire/internal/observability"
	"github.com/danmuck/ghostwire/internal/protocol/frame"
	"github.com/danmuck/ghostwire/internal/transport"
	"github.com/rs/zerolog/log"
)

const DefaultOutboxSize = 1000

// ReplySink accepts a reply without blocking. Offer reports false when the
// reply was dropped.
type ReplySink interface {
	Offer(msg frame.Frames) bool
}

// Outbox is the agent's only path to the push transport. The worker offers
// replies and never waits; task goroutines wait for room through Send. A
// single Run goroutine owns the sender, so replies leave in queue order.
type Outbox struct {
	sender      transport.Sender
	sendTimeout time.Duration
	ch          chan frame.Frames
}

func NewOutbox(sender transport.Sender, size int, sendTimeout time.Duration) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Outbox{sender: sender, sendTimeout: sendTimeout, ch: make(chan frame.Frames, size)}
}

// Offer queues msg if there is room.
func (o *Outbox) Offer(msg frame.Frames) bool {
	select {
	case o.ch <- msg:
		return true
	default:
		observability.RecordReplyDrop(replyField(msg, 2), "full")
		return false
	}
}

// Send waits for room until ctx is done. A nil error means queued, not
// delivered.
func (o *Outbox) Send(ctx context.Context, msg frame.Frames) error {
	select {
	case o.ch <- msg:
		return nil
	case <-ctx.Done():
		observability.RecordReplyDrop(replyField(msg, 2), "full")
		return ctx.Err()
	}
}

func (o *Outbox) Len() int {
	return len(o.ch)
}

// Run delivers queued replies until ctx is done. Replies still queued at
// shutdown are discarded.
func (o *Outbox) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(o.ch); n > 0 {
				log.Warn().Int("pending", n).Msg("ghost.Outbox.Run discarded")
			}
			return ctx.Err()
		case msg := <-o.ch:
			o.deliver(ctx, msg)
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, msg frame.Frames) {
	answer := replyField(msg, 2)
	sendCtx, cancel := context.WithTimeout(ctx, o.sendTimeout)
	err := o.sender.Send(sendCtx, msg)
	cancel()
	if err != nil {
		observability.RecordReplyDrop(answer, "send")
		log.Warn().Err(err).Str("msgid", replyField(msg, 1)).Str("answer", answer).Msg("ghost.Outbox.deliver")
		return
	}
	observability.RecordReply(answer)
}

func replyField(msg frame.Frames, i int) string {
	if msg.Len() <= i {
		return ""
	}
	return string(msg[i])
}
