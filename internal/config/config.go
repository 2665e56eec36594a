package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/ghostwire/internal/protocol/session"
	"github.com/danmuck/ghostwire/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

// GhostFile is the ghostctl config.toml schema.
type GhostFile struct {
	DeviceID         string      `toml:"device_id"`
	Topic            string      `toml:"topic"`
	Subscribe        string      `toml:"subscribe"`
	Push             string      `toml:"push"`
	Codec            string      `toml:"codec"`
	Protocol         string      `toml:"protocol"`
	MinIDLength      int         `toml:"min_id_length"`
	QueueHWM         int         `toml:"queue_hwm"`
	PollIntervalMS   int         `toml:"poll_interval_ms"`
	Shell            string      `toml:"shell"`
	OutputChunkBytes int         `toml:"output_chunk_bytes"`
	FlushGraceMS     int         `toml:"flush_grace_ms"`
	PushDir          string      `toml:"push_dir"`
	StoreDir         string      `toml:"store_dir"`
	InitDir          string      `toml:"init_dir"`
	AdminListenAddr  string      `toml:"admin_listen_addr"`
	AdminToken       string      `toml:"admin_token"`
	Session          SessionFile `toml:"session"`
}

// MirageFile is the miragectl config.toml schema.
type MirageFile struct {
	ID             string      `toml:"id"`
	Publish        string      `toml:"publish"`
	Collect        string      `toml:"collect"`
	HubPublishAddr string      `toml:"hub_publish_addr"`
	HubCollectAddr string      `toml:"hub_collect_addr"`
	Codec          string      `toml:"codec"`
	ReplyTimeoutMS int         `toml:"reply_timeout_ms"`
	Session        SessionFile `toml:"session"`
}

type SessionFile struct {
	SecurityMode     string `toml:"security_mode"`
	TLSEnabled       bool   `toml:"tls_enabled"`
	TLSMutual        bool   `toml:"tls_mutual"`
	TLSCertFile      string `toml:"tls_cert_file"`
	TLSKeyFile       string `toml:"tls_key_file"`
	TLSCAFile        string `toml:"tls_ca_file"`
	TLSServerName    string `toml:"tls_server_name"`
	BackoffInitialMS int    `toml:"backoff_initial_ms"`
	BackoffMaxMS     int    `toml:"backoff_max_ms"`
	ConnectTimeoutMS int    `toml:"connect_timeout_ms"`
	WriteTimeoutMS   int    `toml:"write_timeout_ms"`
}

// Overlay copies the non-zero settings of f onto cfg.
func (f SessionFile) Overlay(cfg session.Config) session.Config {
	if f.SecurityMode != "" {
		cfg.SecurityMode = session.SecurityMode(f.SecurityMode)
	}
	cfg.TLS.Enabled = cfg.TLS.Enabled || f.TLSEnabled
	cfg.TLS.Mutual = cfg.TLS.Mutual || f.TLSMutual
	if f.TLSCertFile != "" {
		cfg.TLS.CertFile = f.TLSCertFile
	}
	if f.TLSKeyFile != "" {
		cfg.TLS.KeyFile = f.TLSKeyFile
	}
	if f.TLSCAFile != "" {
		cfg.TLS.CAFile = f.TLSCAFile
	}
	if f.TLSServerName != "" {
		cfg.TLS.ServerName = f.TLSServerName
	}
	if f.BackoffInitialMS > 0 {
		cfg.Backoff.InitialDelay = time.Duration(f.BackoffInitialMS) * time.Millisecond
	}
	if f.BackoffMaxMS > 0 {
		cfg.Backoff.MaxDelay = time.Duration(f.BackoffMaxMS) * time.Millisecond
	}
	if f.ConnectTimeoutMS > 0 {
		cfg.ConnectTimeout = time.Duration(f.ConnectTimeoutMS) * time.Millisecond
	}
	if f.WriteTimeoutMS > 0 {
		cfg.WriteTimeout = time.Duration(f.WriteTimeoutMS) * time.Millisecond
	}
	return cfg
}

func LoadGhostFile(path string) (GhostFile, error) {
	var cfg GhostFile
	if err := loadToml(path, &cfg); err != nil {
		return GhostFile{}, err
	}
	if err := ValidateGhostFile(cfg); err != nil {
		return GhostFile{}, err
	}
	return cfg, nil
}

func LoadMirageFile(path string) (MirageFile, error) {
	var cfg MirageFile
	if err := loadToml(path, &cfg); err != nil {
		return MirageFile{}, err
	}
	if cfg.ID == "" {
		cfg.ID = "miragectl"
	}
	if err := ValidateMirageFile(cfg); err != nil {
		return MirageFile{}, err
	}
	return cfg, nil
}

// loadToml decodes strictly so a misspelt key fails validation.
func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateGhostFile(cfg GhostFile) error {
	for name, ep := range map[string]string{"subscribe": cfg.Subscribe, "push": cfg.Push} {
		if strings.TrimSpace(ep) == "" {
			continue
		}
		if _, err := transport.ParseEndpoint(ep); err != nil {
			return fmt.Errorf("ghost config %s: %w", name, err)
		}
	}
	if cfg.MinIDLength < 0 || cfg.QueueHWM < 0 || cfg.OutputChunkBytes < 0 {
		return fmt.Errorf("ghost config: negative size")
	}
	return nil
}

func ValidateMirageFile(cfg MirageFile) error {
	hub := strings.TrimSpace(cfg.HubPublishAddr) != "" || strings.TrimSpace(cfg.HubCollectAddr) != ""
	if !hub && strings.TrimSpace(cfg.Publish) == "" {
		return fmt.Errorf("mirage config requires publish endpoint or hub addresses")
	}
	if hub && (strings.TrimSpace(cfg.HubPublishAddr) == "" || strings.TrimSpace(cfg.HubCollectAddr) == "") {
		return fmt.Errorf("mirage config hub requires both hub_publish_addr and hub_collect_addr")
	}
	for name, ep := range map[string]string{"publish": cfg.Publish, "collect": cfg.Collect} {
		if strings.TrimSpace(ep) == "" {
			continue
		}
		if _, err := transport.ParseEndpoint(ep); err != nil {
			return fmt.Errorf("mirage config %s: %w", name, err)
		}
	}
	return nil
}
