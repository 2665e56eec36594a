package mirage

import (
	"context"
	"errors"
	"strings"

	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingDevice = errors.New("mirage: device id required")
	ErrMissingToken  = errors.New("mirage: command token required")
)

// Publisher signs and sends commands to one agent.
type Publisher struct {
	DeviceID string
	Sender   transport.Sender
}

// Publish sends token with args under a fresh msgid and returns the msgid.
func (p *Publisher) Publish(ctx context.Context, token string, args ...[]byte) (string, error) {
	msgID := uuid.NewString()
	if err := p.PublishWithID(ctx, msgID, token, args...); err != nil {
		return "", err
	}
	return msgID, nil
}

// PublishWithID is Publish with a caller-chosen msgid.
func (p *Publisher) PublishWithID(ctx context.Context, msgID, token string, args ...[]byte) error {
	if strings.TrimSpace(p.DeviceID) == "" {
		return ErrMissingDevice
	}
	if token == "" {
		return ErrMissingToken
	}
	msg := protocol.Encode(p.DeviceID, msgID, token, args...)
	if err := p.Sender.Send(ctx, msg); err != nil {
		return err
	}
	log.Info().
		Str("device_id", p.DeviceID).
		Str("msgid", msgID).
		Str("token", token).
		Int("frames", msg.Len()).
		Msg("mirage.Publisher.Publish")
	return nil
}

// Exec is Publish for the EXEC command.
func (p *Publisher) Exec(ctx context.Context, command string) (string, error) {
	return p.Publish(ctx, protocol.KindExec.Token(), []byte(command))
}

// Push delivers payload, optionally under name on the agent.
func (p *Publisher) Push(ctx context.Context, payload []byte, name string) (string, error) {
	if name == "" {
		return p.Publish(ctx, protocol.KindPush.Token(), payload)
	}
	return p.Publish(ctx, protocol.KindPush.Token(), payload, []byte(name))
}
