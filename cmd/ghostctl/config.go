package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ghostwire/internal/config"
	"github.com/danmuck/ghostwire/internal/ghost"
	"github.com/spf13/pflag"
)

const defaultConfigPath = "/etc/ghostwire/ghostctl.toml"

type options struct {
	Action     string
	ConfigPath string
	Subscribe  string
	Push       string
	DeviceID   string
	Topic      string
	AdminAddr  string

	configSet bool
}

func parseArgs(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("ghostctl", pflag.ContinueOnError)
	fs.StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "agent config file")
	fs.StringVarP(&opts.Subscribe, "subscribe", "s", "", "command endpoint (tcp://, redis://, kafka://)")
	fs.StringVarP(&opts.Push, "push", "p", "", "reply endpoint")
	fs.StringVarP(&opts.DeviceID, "device-id", "u", "", "device id; defaults to the stored device.info.uuid")
	fs.StringVarP(&opts.Topic, "topic", "t", "", "subscription prefix; defaults to the device id")
	fs.StringVarP(&opts.AdminAddr, "admin", "a", "", "admin HTTP listen address")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: ghostctl [flags] [run|install|uninstall|start|stop]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.configSet = fs.Changed("config")

	switch rest := fs.Args(); len(rest) {
	case 0:
		opts.Action = "run"
	case 1:
		opts.Action = rest[0]
	default:
		return options{}, fmt.Errorf("unexpected arguments: %v", rest[1:])
	}
	switch opts.Action {
	case "run", "install", "uninstall", "start", "stop":
	default:
		return options{}, fmt.Errorf("unknown action %q", opts.Action)
	}
	return opts, nil
}

// resolveServiceConfig layers defaults, the config file and flags. A missing
// file is only an error when it was asked for explicitly.
func resolveServiceConfig(opts options) (ghost.ServiceConfig, error) {
	cfg := ghost.DefaultServiceConfig()
	if _, err := os.Stat(opts.ConfigPath); err == nil {
		loaded, err := loadServiceConfig(opts.ConfigPath)
		if err != nil {
			return ghost.ServiceConfig{}, err
		}
		cfg = loaded
	} else if opts.configSet {
		return ghost.ServiceConfig{}, fmt.Errorf("load ghost config: %w", err)
	}

	if v := strings.TrimSpace(opts.Subscribe); v != "" {
		cfg.SubscribeEndpoint = v
	}
	if v := strings.TrimSpace(opts.Push); v != "" {
		cfg.PushEndpoint = v
	}
	if v := strings.TrimSpace(opts.DeviceID); v != "" {
		cfg.DeviceID = v
	}
	if v := strings.TrimSpace(opts.Topic); v != "" {
		cfg.Topic = v
	}
	if v := strings.TrimSpace(opts.AdminAddr); v != "" {
		cfg.AdminListenAddr = v
	}
	return cfg, nil
}

func loadServiceConfig(path string) (ghost.ServiceConfig, error) {
	cfg := ghost.DefaultServiceConfig()

	var raw config.GhostFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ghost.ServiceConfig{}, fmt.Errorf("load ghost config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ghost.ServiceConfig{}, fmt.Errorf("load ghost config: unknown keys %v", undecoded)
	}
	if err := config.ValidateGhostFile(raw); err != nil {
		return ghost.ServiceConfig{}, err
	}

	if meta.IsDefined("device_id") {
		cfg.DeviceID = strings.TrimSpace(raw.DeviceID)
	}
	if meta.IsDefined("topic") {
		cfg.Topic = raw.Topic
	}
	if meta.IsDefined("subscribe") {
		cfg.SubscribeEndpoint = strings.TrimSpace(raw.Subscribe)
	}
	if meta.IsDefined("push") {
		cfg.PushEndpoint = strings.TrimSpace(raw.Push)
	}
	if meta.IsDefined("codec") {
		cfg.Codec = strings.TrimSpace(raw.Codec)
	}
	if meta.IsDefined("protocol") {
		cfg.Protocol = strings.TrimSpace(raw.Protocol)
	}
	if meta.IsDefined("min_id_length") {
		cfg.MinIDLength = raw.MinIDLength
	}
	if meta.IsDefined("queue_hwm") {
		cfg.QueueHWM = raw.QueueHWM
	}
	if meta.IsDefined("poll_interval_ms") {
		cfg.PollInterval = time.Duration(raw.PollIntervalMS) * time.Millisecond
	}
	if meta.IsDefined("shell") {
		cfg.Shell = strings.TrimSpace(raw.Shell)
	}
	if meta.IsDefined("output_chunk_bytes") {
		cfg.OutputChunkBytes = raw.OutputChunkBytes
	}
	if meta.IsDefined("flush_grace_ms") {
		cfg.FlushGrace = time.Duration(raw.FlushGraceMS) * time.Millisecond
	}
	if meta.IsDefined("push_dir") {
		cfg.PushDir = strings.TrimSpace(raw.PushDir)
	}
	if meta.IsDefined("store_dir") {
		cfg.StoreDir = strings.TrimSpace(raw.StoreDir)
	}
	if meta.IsDefined("init_dir") {
		cfg.InitDir = strings.TrimSpace(raw.InitDir)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("session") {
		cfg.Session = raw.Session.Overlay(cfg.Session)
	}
	return cfg, nil
}
