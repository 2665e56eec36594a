package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ghostwire/internal/protocol/session"
	"github.com/danmuck/ghostwire/internal/testutil/testlog"
)

func TestStoreSetIsVisibleBeforeCommitAndPersistsAfter(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	s, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, ok := s.Get("device.info.uuid"); ok {
		t.Fatalf("expected empty store")
	}
	if err := s.Set("device.info.uuid", "0f0e0d0c"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, ok := s.Get("device.info.uuid"); !ok || got != "0f0e0d0c" {
		t.Fatalf("staged value not visible: %q %v", got, ok)
	}
	if _, err := os.Stat(filepath.Join(dir, "device.toml")); !os.IsNotExist(err) {
		t.Fatalf("set must not write before commit: %v", err)
	}
	if err := s.Commit("device"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reopened, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got, ok := reopened.Get("device.info.uuid"); !ok || got != "0f0e0d0c" {
		t.Fatalf("committed value not persisted: %q %v", got, ok)
	}
}

func TestStoreTypedGetters(t *testing.T) {
	testlog.Start(t)
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	_ = s.Set("ghostwire.worker.queue_hwm", "42")
	_ = s.Set("ghostwire.worker.poll", "250ms")
	_ = s.Set("ghostwire.admin.enabled", "true")

	if got := s.GetInt("ghostwire.worker.queue_hwm", 0); got != 42 {
		t.Fatalf("GetInt got=%d", got)
	}
	if got := s.GetDuration("ghostwire.worker.poll", 0); got != 250*time.Millisecond {
		t.Fatalf("GetDuration got=%v", got)
	}
	if !s.GetBool("ghostwire.admin.enabled", false) {
		t.Fatalf("GetBool expected true")
	}
	if got := s.GetString("ghostwire.missing.key", "fallback"); got != "fallback" {
		t.Fatalf("GetString fallback got=%q", got)
	}
}

func TestStoreEnvOverride(t *testing.T) {
	testlog.Start(t)
	t.Setenv("GHOSTWIRE_DEVICE_INFO_UUID", "from-env")
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if got, ok := s.Get("device.info.uuid"); !ok || got != "from-env" {
		t.Fatalf("env override got=%q %v", got, ok)
	}
}

func TestStoreRejectsBadKeys(t *testing.T) {
	testlog.Start(t)
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	for _, key := range []string{"", "nodots", "pkg.", "pkg..opt", "p/kg.sec.opt"} {
		if err := s.Set(key, "v"); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("Set(%q) expected ErrInvalidKey, got %v", key, err)
		}
	}
	if err := s.Commit("../etc"); !errors.Is(err, ErrInvalidPackage) {
		t.Fatalf("expected ErrInvalidPackage, got %v", err)
	}
}

func TestParseLine(t *testing.T) {
	testlog.Start(t)
	l, err := ParseLine("network.lan.ipaddr=192.168.1.1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if l.Package != "network" || l.Section != "lan" || l.Option != "ipaddr" || l.Value != "192.168.1.1" {
		t.Fatalf("unexpected line: %+v", l)
	}
	if l.Key() != "network.lan.ipaddr" {
		t.Fatalf("unexpected key: %q", l.Key())
	}
	if l, err := ParseLine("system.main.motd=a=b"); err != nil || l.Value != "a=b" {
		t.Fatalf("value with '=' got=%+v err=%v", l, err)
	}
	for _, raw := range []string{"novalue", "two.parts=x", "a.b.c.d=x", "a..c=x"} {
		if _, err := ParseLine(raw); !errors.Is(err, ErrInvalidLine) {
			t.Fatalf("ParseLine(%q) expected ErrInvalidLine, got %v", raw, err)
		}
	}
}

func TestApplyCommitsPackage(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	s, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	l, _ := ParseLine("network.lan.ipaddr=10.0.0.1")
	if err := Apply(s, l); err != nil {
		t.Fatalf("apply: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "network.toml"))
	if err != nil {
		t.Fatalf("read committed file: %v", err)
	}
	if !strings.Contains(string(data), "10.0.0.1") {
		t.Fatalf("committed file missing value: %s", data)
	}
}

func TestLoadFilesAndTemplates(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	for _, kind := range []string{"ghost", "mirage"} {
		path := filepath.Join(dir, kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s template", kind)
		}
	}
	g, err := LoadGhostFile(filepath.Join(dir, "ghost.toml"))
	if err != nil {
		t.Fatalf("load ghost: %v", err)
	}
	if g.OutputChunkBytes != 2000 || g.PollIntervalMS != 200 {
		t.Fatalf("unexpected ghost file: %+v", g)
	}
	m, err := LoadMirageFile(filepath.Join(dir, "mirage.toml"))
	if err != nil {
		t.Fatalf("load mirage: %v", err)
	}
	if m.HubPublishAddr == "" || m.ID != "miragectl" {
		t.Fatalf("unexpected mirage file: %+v", m)
	}
	if _, err := Template("relay"); err == nil {
		t.Fatalf("expected unknown template kind error")
	}
}

func TestLoadRejectsUnknownKeysAndBadEndpoints(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.toml")
	if err := os.WriteFile(unknown, []byte("subscrib = \"tcp://x:1\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadGhostFile(unknown); err == nil {
		t.Fatalf("expected unknown key to fail")
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("publish = \"ftp://host/x\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadMirageFile(bad); err == nil {
		t.Fatalf("expected unsupported scheme to fail")
	}
}

func TestSessionFileOverlay(t *testing.T) {
	testlog.Start(t)
	cfg := SessionFile{
		SecurityMode:     "production",
		TLSEnabled:       true,
		TLSMutual:        true,
		TLSCAFile:        "/etc/ghostwire/ca.crt",
		BackoffInitialMS: 500,
	}.Overlay(session.DefaultConfig())
	if cfg.SecurityMode != session.SecurityModeProduction || !cfg.TLS.Mutual || cfg.TLS.CAFile == "" {
		t.Fatalf("unexpected overlay: %+v", cfg)
	}
	if cfg.Backoff.InitialDelay != 500*time.Millisecond || cfg.Backoff.MaxDelay != 5*time.Minute {
		t.Fatalf("unexpected backoff: %+v", cfg.Backoff)
	}
}
