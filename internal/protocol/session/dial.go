package session

import (
	"context"
	"crypto/tls"
	"net"
)

// Dial opens a stream connection to addr, upgrading to TLS when enabled.
func Dial(ctx context.Context, cfg Config, addr string) (net.Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := cfg.ClientTLSConfig(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// Listen binds addr, wrapping the listener in TLS when enabled.
func Listen(cfg Config, addr string) (net.Listener, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := cfg.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}
