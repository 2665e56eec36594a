package ghost

import (
	"bytes"
	"context"
	"errors"

	"github.com/danmuck/ghostwire/internal/observability"
	"github.com/danmuck/ghostwire/internal/protocol/session"
	"github.com/danmuck/ghostwire/internal/transport"
	"github.com/rs/zerolog/log"
)

// Listener forwards inbound messages whose first frame starts with Topic
// into the worker queue. It does not parse.
type Listener struct {
	Topic    []byte
	Receiver transport.Receiver
	Queue    *Queue
	Backoff  session.BackoffConfig
}

func (l *Listener) Run(ctx context.Context) error {
	retry := session.NewRetry(l.Backoff)
	for {
		msg, err := l.Receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			if errors.Is(err, transport.ErrMalformed) {
				log.Warn().Err(err).Msg("ghost.Listener.Run dropped")
				continue
			}
			log.Warn().Err(err).Int("attempt", retry.Failures()+1).Msg("ghost.Listener.Run receive")
			if err := retry.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		retry.Reset()
		if msg.Len() == 0 || !bytes.HasPrefix(msg[0], l.Topic) {
			continue
		}
		if !l.Queue.PushServer(msg.Dup()) {
			observability.RecordQueueDrop()
			log.Warn().Int("queued", l.Queue.Len()).Msg("ghost.Listener.Run queue full")
		}
	}
}
