package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/danmuck/ghostwire/internal/protocol/frame"
	"github.com/danmuck/ghostwire/internal/protocol/session"
)

var (
	ErrEmptyEndpoint     = errors.New("transport: empty endpoint")
	ErrInvalidEndpoint   = errors.New("transport: invalid endpoint")
	ErrUnsupportedScheme = errors.New("transport: unsupported scheme")
	ErrNoBus             = errors.New("transport: inproc endpoint without bus")
	ErrClosed            = errors.New("transport: closed")
	// ErrMalformed marks a single undecodable message; the stream stays usable.
	ErrMalformed = errors.New("transport: malformed message")
)

const DefaultChannel = "ghostwire"

// Sender publishes one message. Implementations are safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg frame.Frames) error
}

// Receiver blocks until the next message or ctx is done.
type Receiver interface {
	Receive(ctx context.Context) (frame.Frames, error)
}

type SendCloser interface {
	Sender
	io.Closer
}

type ReceiveCloser interface {
	Receiver
	io.Closer
}

// Options carries what endpoint URLs cannot.
type Options struct {
	Codec   Codec
	Limits  frame.Limits
	Session session.Config
	Bus     *Bus
}

func (o Options) withDefaults() Options {
	if o.Limits.MaxFrames == 0 {
		o.Limits = frame.DefaultLimits()
	}
	if o.Codec == nil {
		o.Codec = FrameCodec{Limits: o.Limits}
	}
	o.Session = o.Session.WithDefaults()
	return o
}

// Endpoint is a parsed transport URL.
type Endpoint struct {
	Scheme string
	// Address is host:port for tcp, the broker list for kafka and the
	// redis URL with transport-only query options removed.
	Address string
	// Topic is the bus topic, redis channel or kafka topic.
	Topic string
}

func (e Endpoint) String() string {
	return e.Scheme + "://" + e.Address + "/" + e.Topic
}

func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, ErrEmptyEndpoint
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	switch u.Scheme {
	case "inproc":
		topic := strings.Trim(u.Host+u.Path, "/")
		if topic == "" {
			return Endpoint{}, fmt.Errorf("%w: inproc topic required", ErrInvalidEndpoint)
		}
		return Endpoint{Scheme: u.Scheme, Topic: topic}, nil
	case "tcp":
		if u.Host == "" || u.Port() == "" {
			return Endpoint{}, fmt.Errorf("%w: tcp host:port required", ErrInvalidEndpoint)
		}
		return Endpoint{Scheme: u.Scheme, Address: u.Host}, nil
	case "redis", "rediss":
		q := u.Query()
		channel := strings.TrimSpace(q.Get("channel"))
		if channel == "" {
			channel = DefaultChannel
		}
		q.Del("channel")
		u.RawQuery = q.Encode()
		return Endpoint{Scheme: u.Scheme, Address: u.String(), Topic: channel}, nil
	case "kafka":
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("%w: kafka broker required", ErrInvalidEndpoint)
		}
		topic := strings.Trim(u.Path, "/")
		if topic == "" {
			topic = DefaultChannel
		}
		return Endpoint{Scheme: u.Scheme, Address: u.Host, Topic: topic}, nil
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// OpenSender connects the publishing side of endpoint.
func OpenSender(ctx context.Context, endpoint string, opts Options) (SendCloser, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	switch ep.Scheme {
	case "inproc":
		if opts.Bus == nil {
			return nil, ErrNoBus
		}
		return opts.Bus.Sender(ep.Topic), nil
	case "tcp":
		return NewTCPSender(ep.Address, opts.Session, opts.Limits), nil
	case "redis", "rediss":
		return DialRedisSender(ctx, ep, opts.Codec)
	case "kafka":
		return DialKafkaSender(ep, opts.Codec)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ep.Scheme)
}

// OpenReceiver connects the subscribing side of endpoint.
func OpenReceiver(ctx context.Context, endpoint string, opts Options) (ReceiveCloser, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	switch ep.Scheme {
	case "inproc":
		if opts.Bus == nil {
			return nil, ErrNoBus
		}
		return opts.Bus.Subscribe(ep.Topic), nil
	case "tcp":
		return NewTCPReceiver(ep.Address, opts.Session, opts.Limits), nil
	case "redis", "rediss":
		return DialRedisReceiver(ctx, ep, opts.Codec)
	case "kafka":
		return DialKafkaReceiver(ep, opts.Codec)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ep.Scheme)
}
