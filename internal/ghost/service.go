package ghost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/ghostwire/internal/auth"
	"github.com/danmuck/ghostwire/internal/config"
	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/protocol/frame"
	"github.com/danmuck/ghostwire/internal/protocol/session"
	"github.com/danmuck/ghostwire/internal/tools"
	"github.com/danmuck/ghostwire/internal/transport"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPushDir   = "/tmp"
	DefaultStoreDir  = "/etc/ghostwire"
	DefaultInitDir   = "/etc/init.d"
	DefaultQueueHWM  = 1000
	defaultHeartbeat = 30 * time.Second
)

// Device store keys consulted when the agent config leaves a value unset.
const (
	StoreKeySubscribe    = "ghostwire.subscribe.endpoint"
	StoreKeyPush         = "ghostwire.push.endpoint"
	StoreKeyQueueHWM     = "ghostwire.subscribe.hwm"
	StoreKeyPollInterval = "ghostwire.worker.poll_interval"
	StoreKeyAdminEnabled = "ghostwire.admin.enabled"
)

var (
	ErrMissingSubscribe = errors.New("ghost: subscribe endpoint required")
	ErrMissingPush      = errors.New("ghost: push endpoint required")
	ErrNotBootstrapped  = errors.New("ghost: service not bootstrapped")
)

// ServiceConfig configures the agent runtime.
type ServiceConfig struct {
	DeviceID          string
	Topic             string
	SubscribeEndpoint string
	PushEndpoint      string
	Codec             string
	Protocol          string
	MinIDLength       int
	QueueHWM          int
	PollInterval      time.Duration
	OutboxSize        int
	Shell             string
	OutputChunkBytes  int
	FlushGrace        time.Duration
	PushDir           string
	StoreDir          string
	InitDir           string
	AdminListenAddr   string
	AdminToken        string
	HeartbeatInterval time.Duration
	Session           session.Config

	// Bus backs inproc:// endpoints. Nil rejects them.
	Bus *transport.Bus
}

// Ghost service defaults for standalone runtime configuration. Endpoints,
// QueueHWM and PollInterval stay zero so bootstrap can take them from the
// device store before falling back to package defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Codec:             "frame",
		Protocol:          protocol.RevisionCurrent,
		MinIDLength:       protocol.DefaultMinIDLength,
		OutboxSize:        DefaultOutboxSize,
		Shell:             DefaultShell,
		OutputChunkBytes:  DefaultOutputChunkBytes,
		FlushGrace:        DefaultFlushGrace,
		PushDir:           DefaultPushDir,
		StoreDir:          DefaultStoreDir,
		InitDir:           DefaultInitDir,
		HeartbeatInterval: defaultHeartbeat,
		Session:           session.DefaultConfig(),
	}
}

// Service wires the transports, queue, worker and admin surface.
type Service struct {
	cfg ServiceConfig

	mu       sync.Mutex
	store    *config.Store
	sender   transport.SendCloser
	receiver transport.ReceiveCloser
	outbox   *Outbox
	queue    *Queue
	worker   *Worker
	admin    *AdminServer
	started  time.Time
}

// Ghost service constructor using explicit config.
func NewService(cfg ServiceConfig) *Service {
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	return &Service{cfg: cfg}
}

// RunContext bootstraps and serves until ctx is done.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(ctx); err != nil {
		s.close()
		return err
	}
	defer s.close()
	return s.serve(ctx)
}

// DeviceID is the resolved identity after bootstrap.
func (s *Service) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.DeviceID
}

// Worker is nil until bootstrap completes.
func (s *Service) Worker() *Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker
}

func (s *Service) bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := config.OpenStore(s.cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("ghost: open store: %w", err)
	}
	s.store = store
	s.cfg = resolveFromStore(s.cfg, store)
	if strings.TrimSpace(s.cfg.SubscribeEndpoint) == "" {
		return ErrMissingSubscribe
	}
	if strings.TrimSpace(s.cfg.PushEndpoint) == "" {
		return ErrMissingPush
	}
	rev, err := protocol.LookupRevision(s.cfg.Protocol)
	if err != nil {
		return err
	}
	codec, err := protocol.NewCodec(rev, s.cfg.MinIDLength)
	if err != nil {
		return err
	}
	envelope, err := transport.CodecByName(s.cfg.Codec, frame.DefaultLimits())
	if err != nil {
		return err
	}

	id, err := ResolveDeviceID(store, s.cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("ghost: device id: %w", err)
	}
	s.cfg.DeviceID = id
	if s.cfg.Topic == "" {
		s.cfg.Topic = id
	}

	opts := transport.Options{Codec: envelope, Limits: frame.DefaultLimits(), Session: s.cfg.Session, Bus: s.cfg.Bus}
	s.sender, err = transport.OpenSender(ctx, s.cfg.PushEndpoint, opts)
	if err != nil {
		return fmt.Errorf("ghost: push %s: %w", s.cfg.PushEndpoint, err)
	}
	s.receiver, err = transport.OpenReceiver(ctx, s.cfg.SubscribeEndpoint, opts)
	if err != nil {
		return fmt.Errorf("ghost: subscribe %s: %w", s.cfg.SubscribeEndpoint, err)
	}

	s.started = time.Now()
	s.queue = NewQueue(s.cfg.QueueHWM)
	s.outbox = NewOutbox(s.sender, s.cfg.OutboxSize, 0)
	sup := NewSupervisor(SupervisorConfig{
		Shell:            s.cfg.Shell,
		OutputChunkBytes: s.cfg.OutputChunkBytes,
		FlushGrace:       s.cfg.FlushGrace,
	}, s.outbox)
	d := &Dispatcher{
		DeviceID:  id,
		PushDir:   s.cfg.PushDir,
		Spawner:   sup,
		Notices:   s.queue,
		Files:     OSFileSystem{},
		Config:    store,
		Daemons:   InitDaemons{Dir: s.cfg.InitDir, Runner: tools.ExecRunner{}},
		Replies:   s.outbox,
		StartedAt: s.started,
	}
	s.worker = NewWorker(WorkerConfig{DeviceID: id, PollInterval: s.cfg.PollInterval}, s.queue, codec, d, sup, s.outbox)
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" && store.GetBool(StoreKeyAdminEnabled, true) {
		var guard auth.Validator
		if s.cfg.AdminToken != "" {
			guard = auth.StaticToken{Token: s.cfg.AdminToken}
		}
		s.admin = NewAdminServer(id, s.cfg.AdminListenAddr, s.worker, s.queue, guard)
	}

	log.Info().
		Str("device_id", id).
		Str("topic", s.cfg.Topic).
		Str("subscribe", s.cfg.SubscribeEndpoint).
		Str("push", s.cfg.PushEndpoint).
		Int("queue_hwm", s.cfg.QueueHWM).
		Dur("poll", s.cfg.PollInterval).
		Str("revision", rev.Name).
		Str("codec", envelope.Name()).
		Msg("ghost.Service.bootstrap ready")
	return nil
}

// resolveFromStore fills unset endpoints and worker tuning from the device
// store, then from package defaults.
func resolveFromStore(cfg ServiceConfig, store *config.Store) ServiceConfig {
	if strings.TrimSpace(cfg.SubscribeEndpoint) == "" {
		cfg.SubscribeEndpoint = store.GetString(StoreKeySubscribe, "")
	}
	if strings.TrimSpace(cfg.PushEndpoint) == "" {
		cfg.PushEndpoint = store.GetString(StoreKeyPush, "")
	}
	if cfg.QueueHWM <= 0 {
		cfg.QueueHWM = store.GetInt(StoreKeyQueueHWM, DefaultQueueHWM)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = store.GetDuration(StoreKeyPollInterval, DefaultPollInterval)
	}
	return cfg
}

func (s *Service) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	worker, admin, outbox := s.worker, s.admin, s.outbox
	listener := &Listener{
		Topic:    []byte(s.cfg.Topic),
		Receiver: s.receiver,
		Queue:    s.queue,
		Backoff:  s.cfg.Session.Backoff,
	}
	s.mu.Unlock()
	if worker == nil {
		return ErrNotBootstrapped
	}

	errCh := make(chan error, 4)
	go func() { errCh <- fmt.Errorf("outbox: %w", outbox.Run(ctx)) }()
	go func() { errCh <- fmt.Errorf("listener: %w", listener.Run(ctx)) }()
	go func() { errCh <- fmt.Errorf("worker: %w", worker.Run(ctx)) }()
	if admin != nil {
		go func() {
			if err := admin.Serve(ctx); err != nil {
				errCh <- fmt.Errorf("admin: %w", err)
			}
		}()
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("device_id", s.cfg.DeviceID).Msg("ghost.Service.serve shutdown")
			return nil
		case err := <-errCh:
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("ghost.Service.serve stopped")
			return err
		case <-ticker.C:
			log.Info().
				Str("device_id", s.cfg.DeviceID).
				Int("live_tasks", len(worker.Snapshot())).
				Int("queued", s.queue.Len()).
				Int("outbox", outbox.Len()).
				Dur("uptime", time.Since(s.started).Truncate(time.Second)).
				Msg("ghost.Service.serve heartbeat")
		}
	}
}

func (s *Service) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiver != nil {
		_ = s.receiver.Close()
		s.receiver = nil
	}
	if s.sender != nil {
		_ = s.sender.Close()
		s.sender = nil
	}
}
