package ghost

import (
	"strings"

	"github.com/danmuck/ghostwire/internal/config"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DeviceIDKey = "device.info.uuid"

// ResolveDeviceID picks the agent identity: explicit id, then the stored
// one, else a new uuid which is saved for the next boot.
func ResolveDeviceID(p config.Provider, explicit string) (string, error) {
	if id := strings.TrimSpace(explicit); id != "" {
		return id, nil
	}
	if p != nil {
		if id, ok := p.Get(DeviceIDKey); ok && strings.TrimSpace(id) != "" {
			return strings.TrimSpace(id), nil
		}
	}
	id := uuid.NewString()
	if p == nil {
		return id, nil
	}
	if err := p.Set(DeviceIDKey, id); err != nil {
		return "", err
	}
	if err := p.Commit("device"); err != nil {
		return "", err
	}
	log.Info().Str("device_id", id).Msg("ghost.ResolveDeviceID generated")
	return id, nil
}
