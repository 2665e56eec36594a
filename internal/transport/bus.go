package transport

import (
	"context"
	"sync"

	"github.com/danmuck/ghostwire/internal/protocol/frame"
)

const busBuffer = 256

// Bus is an in-process pub/sub fabric keyed by topic. Every subscriber of a
// topic gets its own copy of each message.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*BusSubscription]struct{}
}

func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[*BusSubscription]struct{})}
}

// Publish delivers msg to every current subscriber of topic, waiting for
// buffer space or ctx.
func (b *Bus) Publish(ctx context.Context, topic string, msg frame.Frames) error {
	b.mu.RLock()
	subs := make([]*BusSubscription, 0, len(b.topics[topic]))
	for s := range b.topics[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- msg.Dup():
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *Bus) Subscribe(topic string) *BusSubscription {
	s := &BusSubscription{
		bus:   b,
		topic: topic,
		ch:    make(chan frame.Frames, busBuffer),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*BusSubscription]struct{})
	}
	b.topics[topic][s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Bus) Sender(topic string) *BusSender {
	return &BusSender{bus: b, topic: topic}
}

func (b *Bus) unsubscribe(s *BusSubscription) {
	b.mu.Lock()
	delete(b.topics[s.topic], s)
	if len(b.topics[s.topic]) == 0 {
		delete(b.topics, s.topic)
	}
	b.mu.Unlock()
}

type BusSender struct {
	bus   *Bus
	topic string
}

func (s *BusSender) Send(ctx context.Context, msg frame.Frames) error {
	return s.bus.Publish(ctx, s.topic, msg)
}

func (s *BusSender) Close() error { return nil }

type BusSubscription struct {
	bus   *Bus
	topic string
	ch    chan frame.Frames
	done  chan struct{}
	once  sync.Once
}

func (s *BusSubscription) Receive(ctx context.Context) (frame.Frames, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *BusSubscription) Close() error {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
		close(s.done)
	})
	return nil
}
