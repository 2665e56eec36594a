package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/ghostwire/internal/config"
	"github.com/danmuck/ghostwire/internal/protocol/session"
	"github.com/spf13/pflag"
)

const defaultConfigPath = "miragectl.toml"

// settings is the resolved control-plane configuration.
type settings struct {
	ID             string
	Publish        string
	Collect        string
	HubPublishAddr string
	HubCollectAddr string
	Codec          string
	ReplyTimeout   time.Duration
	Session        session.Config
}

func defaultSettings() settings {
	return settings{
		ID:           "miragectl",
		Codec:        "frame",
		ReplyTimeout: 10 * time.Second,
		Session:      session.DefaultConfig(),
	}
}

// hub reports whether miragectl binds the tcp sockets itself.
func (s settings) hub() bool {
	return s.HubPublishAddr != "" && s.HubCollectAddr != ""
}

func loadSettings(path string) (settings, error) {
	cfg := defaultSettings()
	raw, err := config.LoadMirageFile(path)
	if err != nil {
		return settings{}, err
	}
	cfg.ID = raw.ID
	cfg.Publish = strings.TrimSpace(raw.Publish)
	cfg.Collect = strings.TrimSpace(raw.Collect)
	cfg.HubPublishAddr = strings.TrimSpace(raw.HubPublishAddr)
	cfg.HubCollectAddr = strings.TrimSpace(raw.HubCollectAddr)
	if raw.Codec != "" {
		cfg.Codec = raw.Codec
	}
	if raw.ReplyTimeoutMS > 0 {
		cfg.ReplyTimeout = time.Duration(raw.ReplyTimeoutMS) * time.Millisecond
	}
	cfg.Session = raw.Session.Overlay(cfg.Session)
	return cfg, nil
}

type options struct {
	Command    string
	Args       []string
	ConfigPath string
	DeviceID   string
	Publish    string
	Collect    string
	File       string
	Timeout    time.Duration
	NoWait     bool

	configSet bool
}

func parseArgs(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("miragectl", pflag.ContinueOnError)
	fs.StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "control-plane config file")
	fs.StringVarP(&opts.DeviceID, "device-id", "d", "", "target device id")
	fs.StringVar(&opts.Publish, "publish", "", "command endpoint; overrides the config")
	fs.StringVar(&opts.Collect, "collect", "", "reply endpoint; overrides the config")
	fs.StringVarP(&opts.File, "file", "f", "", "PUSH payload file")
	fs.DurationVar(&opts.Timeout, "timeout", 0, "reply wait; 0 uses the config value")
	fs.BoolVar(&opts.NoWait, "no-wait", false, "publish without waiting for replies")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage:\n")
		fmt.Fprintf(os.Stderr, "  miragectl publish -d DEVICE TOKEN [ARG...]\n")
		fmt.Fprintf(os.Stderr, "  miragectl publish -d DEVICE -f FILE PUSH [NAME]\n")
		fmt.Fprintf(os.Stderr, "  miragectl listen\n")
		fmt.Fprintf(os.Stderr, "  miragectl hub\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.configSet = fs.Changed("config")

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return options{}, fmt.Errorf("command required")
	}
	opts.Command, opts.Args = rest[0], rest[1:]
	switch opts.Command {
	case "publish":
		if strings.TrimSpace(opts.DeviceID) == "" {
			return options{}, fmt.Errorf("publish requires --device-id")
		}
		if len(opts.Args) == 0 {
			return options{}, fmt.Errorf("publish requires a command token")
		}
	case "listen", "hub":
	default:
		return options{}, fmt.Errorf("unknown command %q", opts.Command)
	}
	return opts, nil
}

func resolveSettings(opts options) (settings, error) {
	cfg := defaultSettings()
	if _, err := os.Stat(opts.ConfigPath); err == nil {
		loaded, err := loadSettings(opts.ConfigPath)
		if err != nil {
			return settings{}, err
		}
		cfg = loaded
	} else if opts.configSet {
		return settings{}, fmt.Errorf("load mirage config: %w", err)
	}
	if v := strings.TrimSpace(opts.Publish); v != "" {
		cfg.Publish = v
		cfg.HubPublishAddr, cfg.HubCollectAddr = "", ""
	}
	if v := strings.TrimSpace(opts.Collect); v != "" {
		cfg.Collect = v
	}
	if opts.Timeout > 0 {
		cfg.ReplyTimeout = opts.Timeout
	}
	if opts.Command == "hub" && !cfg.hub() {
		return settings{}, fmt.Errorf("hub requires hub_publish_addr and hub_collect_addr")
	}
	if opts.Command == "publish" && !cfg.hub() && cfg.Publish == "" {
		return settings{}, fmt.Errorf("publish endpoint required")
	}
	if opts.Command == "listen" && !cfg.hub() && cfg.Collect == "" {
		return settings{}, fmt.Errorf("collect endpoint required")
	}
	return cfg, nil
}
