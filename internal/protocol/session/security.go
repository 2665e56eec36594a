package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("session: invalid security mode")
	ErrTLSRequired             = errors.New("session: tls required")
	ErrMTLSRequired            = errors.New("session: mtls required")
	ErrTLSCertFileRequired     = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("session: tls key file required")
	ErrTLSCAFileRequired       = errors.New("session: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure skip verify not allowed")
)

// NormalizeSecurityMode lower-cases mode; empty means development.
func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	m := strings.ToLower(strings.TrimSpace(string(mode)))
	if m == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(m)
}

// endpointRole is the side of a link being checked. Agents dial, the hub
// listens.
type endpointRole int

const (
	roleDial endpointRole = iota
	roleListen
)

// ValidateClientTransport checks the settings an agent or publisher dials
// with.
func (c Config) ValidateClientTransport() error {
	return c.validateTransport(roleDial)
}

// ValidateServerTransport checks the settings a hub listens with.
func (c Config) ValidateServerTransport() error {
	return c.validateTransport(roleListen)
}

func (c Config) validateTransport(role endpointRole) error {
	mode := NormalizeSecurityMode(c.SecurityMode)
	if mode != SecurityModeDevelopment && mode != SecurityModeProduction {
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}
	t := c.TLS
	if (mode == SecurityModeProduction || t.Mutual) && !t.Enabled {
		return ErrTLSRequired
	}
	if mode == SecurityModeProduction {
		if !t.Mutual {
			return ErrMTLSRequired
		}
		if role == roleDial && t.InsecureSkipVerify {
			return ErrTLSInsecureSkipNotAllow
		}
	}
	if !t.Enabled {
		return nil
	}

	if role == roleDial {
		if !t.InsecureSkipVerify && blank(t.CAFile) {
			return ErrTLSCAFileRequired
		}
		if !t.Mutual {
			return nil
		}
	}
	if blank(t.CertFile) {
		return ErrTLSCertFileRequired
	}
	if blank(t.KeyFile) {
		return ErrTLSKeyFileRequired
	}
	// Listeners verify client certificates under mTLS.
	if role == roleListen && t.Mutual && blank(t.CAFile) {
		return ErrTLSCAFileRequired
	}
	return nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
