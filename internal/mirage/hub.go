package mirage

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ghostwire/internal/protocol/frame"
	"github.com/danmuck/ghostwire/internal/protocol/session"
	"github.com/danmuck/ghostwire/internal/transport"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPublishAddr = ":5556"
	DefaultCollectAddr = ":5557"
	// DefaultSubscriberHWM bounds queued commands per connected agent.
	DefaultSubscriberHWM = 1000
	collectBuffer        = 1024
)

var ErrHubNotServing = errors.New("mirage: hub not serving")

type HubConfig struct {
	PublishAddr   string
	CollectAddr   string
	SubscriberHWM int
	Limits        frame.Limits
	Session       session.Config
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		PublishAddr:   DefaultPublishAddr,
		CollectAddr:   DefaultCollectAddr,
		SubscriberHWM: DefaultSubscriberHWM,
		Limits:        frame.DefaultLimits(),
		Session:       session.DefaultConfig(),
	}
}

// Hub is the bind side of the tcp transport. Agents connect a receiver to
// the publish address and a sender to the collect address. Send fans a
// command out to every connected subscriber; Receive yields replies.
type Hub struct {
	cfg HubConfig

	pubLn     net.Listener
	collectLn net.Listener

	mu      sync.Mutex
	subs    map[*hubSubscriber]struct{}
	conns   map[net.Conn]struct{}
	serving bool

	replies chan frame.Frames
	closed  chan struct{}
	once    sync.Once

	clients atomic.Int64
}

var (
	_ transport.Sender   = (*Hub)(nil)
	_ transport.Receiver = (*Hub)(nil)
)

type hubSubscriber struct {
	conn net.Conn
	out  chan frame.Frames
}

// Mirage hub constructor binding both listeners.
func NewHub(cfg HubConfig) (*Hub, error) {
	def := DefaultHubConfig()
	if cfg.PublishAddr == "" {
		cfg.PublishAddr = def.PublishAddr
	}
	if cfg.CollectAddr == "" {
		cfg.CollectAddr = def.CollectAddr
	}
	if cfg.SubscriberHWM <= 0 {
		cfg.SubscriberHWM = def.SubscriberHWM
	}
	if cfg.Limits.MaxFrames == 0 {
		cfg.Limits = def.Limits
	}
	cfg.Session = cfg.Session.WithDefaults()

	pubLn, err := session.Listen(cfg.Session, cfg.PublishAddr)
	if err != nil {
		return nil, err
	}
	collectLn, err := session.Listen(cfg.Session, cfg.CollectAddr)
	if err != nil {
		_ = pubLn.Close()
		return nil, err
	}
	return &Hub{
		cfg:       cfg,
		pubLn:     pubLn,
		collectLn: collectLn,
		subs:      make(map[*hubSubscriber]struct{}),
		conns:     make(map[net.Conn]struct{}),
		replies:   make(chan frame.Frames, collectBuffer),
		closed:    make(chan struct{}),
	}, nil
}

func (h *Hub) PublishAddr() string { return h.pubLn.Addr().String() }

func (h *Hub) CollectAddr() string { return h.collectLn.Addr().String() }

// Subscribers is the number of agents currently attached to the publish
// socket.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Serve accepts on both listeners until ctx is done or Close is called.
func (h *Hub) Serve(ctx context.Context) error {
	h.mu.Lock()
	h.serving = true
	h.mu.Unlock()
	log.Info().
		Str("publish", h.PublishAddr()).
		Str("collect", h.CollectAddr()).
		Msg("mirage.Hub.Serve listening")

	go func() {
		select {
		case <-ctx.Done():
		case <-h.closed:
		}
		_ = h.Close()
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- h.accept(h.pubLn, h.handleSubscriber) }()
	go func() { errCh <- h.accept(h.collectLn, h.handleCollector) }()
	err := <-errCh
	_ = h.Close()
	<-errCh
	return err
}

// Send queues msg for every connected subscriber. Subscribers at their
// high-water mark miss the message.
func (h *Hub) Send(ctx context.Context, msg frame.Frames) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-h.closed:
		return transport.ErrClosed
	default:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.serving {
		return ErrHubNotServing
	}
	for sub := range h.subs {
		select {
		case sub.out <- msg.Dup():
		default:
			log.Warn().Str("remote", sub.conn.RemoteAddr().String()).Msg("mirage.Hub.Send subscriber full")
		}
	}
	return nil
}

func (h *Hub) Receive(ctx context.Context) (frame.Frames, error) {
	select {
	case msg := <-h.replies:
		return msg, nil
	case <-h.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Close() error {
	h.once.Do(func() {
		close(h.closed)
		_ = h.pubLn.Close()
		_ = h.collectLn.Close()
		h.mu.Lock()
		for c := range h.conns {
			_ = c.Close()
		}
		h.mu.Unlock()
	})
	return nil
}

func (h *Hub) accept(ln net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-h.closed:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !h.track(conn) {
			_ = conn.Close()
			return nil
		}
		go handle(conn)
	}
}

func (h *Hub) handleSubscriber(conn net.Conn) {
	sub := &hubSubscriber{conn: conn, out: make(chan frame.Frames, h.cfg.SubscriberHWM)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	remote := conn.RemoteAddr().String()
	active := h.clients.Add(1)
	log.Info().Str("remote", remote).Int64("active_clients", active).Msg("mirage.Hub subscriber connected")

	defer func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		h.untrack(conn)
		remaining := h.clients.Add(-1)
		log.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("mirage.Hub subscriber disconnected")
	}()

	gone := make(chan struct{})
	go func() {
		var b [1]byte
		_, _ = conn.Read(b[:])
		close(gone)
	}()

	for {
		select {
		case msg := <-sub.out:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.Session.WriteTimeout))
			if err := frame.WriteFrames(conn, msg, h.cfg.Limits); err != nil {
				log.Warn().Err(err).Str("remote", remote).Msg("mirage.Hub.handleSubscriber write")
				return
			}
		case <-gone:
			return
		case <-h.closed:
			return
		}
	}
}

func (h *Hub) handleCollector(conn net.Conn) {
	defer h.untrack(conn)
	remote := conn.RemoteAddr().String()
	for {
		msg, err := frame.ReadFrames(conn, h.cfg.Limits)
		if err != nil {
			log.Debug().Err(err).Str("remote", remote).Msg("mirage.Hub.handleCollector closed")
			return
		}
		select {
		case h.replies <- msg:
		case <-h.closed:
			return
		}
	}
}

func (h *Hub) track(conn net.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.closed:
		return false
	default:
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *Hub) untrack(conn net.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}
