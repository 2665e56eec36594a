package transport

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/ghostwire/internal/protocol/frame"
	"github.com/danmuck/ghostwire/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// TCPSender pushes messages over one stream connection, dialled lazily and
// re-dialled on the next Send after a write failure.
type TCPSender struct {
	addr   string
	cfg    session.Config
	limits frame.Limits

	mu   sync.Mutex
	conn net.Conn
}

func NewTCPSender(addr string, cfg session.Config, limits frame.Limits) *TCPSender {
	return &TCPSender{addr: addr, cfg: cfg.WithDefaults(), limits: limits}
}

func (s *TCPSender) Send(ctx context.Context, msg frame.Frames) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := session.Dial(ctx, s.cfg, s.addr)
		if err != nil {
			return err
		}
		s.conn = conn
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := frame.WriteFrames(s.conn, msg, s.limits); err != nil {
		_ = s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *TCPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// TCPReceiver reads messages from a stream connection and reconnects with
// backoff whenever the stream breaks.
type TCPReceiver struct {
	addr   string
	cfg    session.Config
	limits frame.Limits
	rng    *rand.Rand

	mu      sync.Mutex
	conn    net.Conn
	attempt int
	closed  bool
}

func NewTCPReceiver(addr string, cfg session.Config, limits frame.Limits) *TCPReceiver {
	return &TCPReceiver{
		addr:   addr,
		cfg:    cfg.WithDefaults(),
		limits: limits,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *TCPReceiver) Receive(ctx context.Context) (frame.Frames, error) {
	for {
		conn, err := r.connect(ctx)
		if err != nil {
			return nil, err
		}

		stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
		msg, err := frame.ReadFrames(conn, r.limits)
		stop()
		if err == nil {
			return msg, nil
		}

		r.drop(conn)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, frame.ErrBadMagic) || errors.Is(err, frame.ErrLengthMismatch) {
			log.Warn().Err(err).Str("addr", r.addr).Msg("transport.TCPReceiver.Receive: stream desynchronised")
			continue
		}
		log.Debug().Err(err).Str("addr", r.addr).Msg("transport.TCPReceiver.Receive: stream closed")
	}
}

func (r *TCPReceiver) connect(ctx context.Context) (net.Conn, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		if r.conn != nil {
			conn := r.conn
			r.mu.Unlock()
			return conn, nil
		}
		r.attempt++
		attempt := r.attempt
		r.mu.Unlock()

		if attempt > 1 {
			if err := session.SleepBackoff(ctx, r.cfg.Backoff, attempt-1, r.rng); err != nil {
				return nil, err
			}
		}
		conn, err := session.Dial(ctx, r.cfg, r.addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str("addr", r.addr).Int("attempt", attempt).Msg("transport.TCPReceiver.connect")
			continue
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = conn.Close()
			return nil, ErrClosed
		}
		r.conn = conn
		r.attempt = 0
		r.mu.Unlock()
		log.Info().Str("addr", r.addr).Msg("transport.TCPReceiver.connect: subscribed")
		return conn, nil
	}
}

func (r *TCPReceiver) drop(conn net.Conn) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	_ = conn.Close()
}

func (r *TCPReceiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
