package transport

import (
	"context"
	"fmt"

	"github.com/danmuck/ghostwire/internal/protocol/frame"
	"github.com/redis/go-redis/v9"
)

// RedisSender publishes encoded messages on one channel.
type RedisSender struct {
	client  *redis.Client
	channel string
	codec   Codec
	owned   bool
}

func NewRedisSender(client *redis.Client, channel string, codec Codec) *RedisSender {
	return &RedisSender{client: client, channel: channel, codec: codec}
}

func DialRedisSender(ctx context.Context, ep Endpoint, codec Codec) (*RedisSender, error) {
	client, err := dialRedis(ctx, ep)
	if err != nil {
		return nil, err
	}
	s := NewRedisSender(client, ep.Topic, codec)
	s.owned = true
	return s, nil
}

func (s *RedisSender) Send(ctx context.Context, msg frame.Frames) error {
	data, err := s.codec.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, data).Err()
}

func (s *RedisSender) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// RedisReceiver subscribes to one channel. go-redis re-subscribes after
// connection loss on its own.
type RedisReceiver struct {
	client *redis.Client
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
	codec  Codec
	owned  bool
}

// NewRedisReceiver subscribes and waits for the server to confirm.
func NewRedisReceiver(ctx context.Context, client *redis.Client, channel string, codec Codec) (*RedisReceiver, error) {
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("transport: redis subscribe %s: %w", channel, err)
	}
	return &RedisReceiver{client: client, pubsub: pubsub, ch: pubsub.Channel(), codec: codec}, nil
}

func DialRedisReceiver(ctx context.Context, ep Endpoint, codec Codec) (*RedisReceiver, error) {
	client, err := dialRedis(ctx, ep)
	if err != nil {
		return nil, err
	}
	r, err := NewRedisReceiver(ctx, client, ep.Topic, codec)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	r.owned = true
	return r, nil
}

func (r *RedisReceiver) Receive(ctx context.Context) (frame.Frames, error) {
	select {
	case m, ok := <-r.ch:
		if !ok {
			return nil, ErrClosed
		}
		msg, err := r.codec.Unmarshal([]byte(m.Payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *RedisReceiver) Close() error {
	err := r.pubsub.Close()
	if r.owned {
		if cerr := r.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func dialRedis(ctx context.Context, ep Endpoint) (*redis.Client, error) {
	opt, err := redis.ParseURL(ep.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("transport: redis ping %s: %w", opt.Addr, err)
	}
	return client, nil
}
