package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrInvalidKey     = errors.New("config: invalid key")
	ErrInvalidPackage = errors.New("config: invalid package")
)

// Provider is the dotted-key configuration backend used by the agent.
// Set stages a value; Commit persists every staged value of one package.
type Provider interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Commit(pkg string) error
}

// Store keeps one TOML file per package under dir. A key is
// "<package>.<section>.<option>"; the package selects the file and the rest
// is the key inside it. Keys are case-insensitive. Environment variables
// GHOSTWIRE_<PACKAGE>_<SECTION>_<OPTION> override file values.
type Store struct {
	dir string

	mu       sync.Mutex
	packages map[string]*viper.Viper
}

func OpenStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("config: store dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create store dir: %w", err)
	}
	return &Store{dir: dir, packages: make(map[string]*viper.Viper)}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Get(key string) (string, bool) {
	pkg, rest, err := splitKey(key)
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.load(pkg)
	if err != nil || !v.IsSet(rest) {
		return "", false
	}
	return v.GetString(rest), true
}

func (s *Store) GetString(key, fallback string) string {
	if v, ok := s.Get(key); ok && v != "" {
		return v
	}
	return fallback
}

func (s *Store) GetInt(key string, fallback int) int {
	pkg, rest, err := splitKey(key)
	if err != nil {
		return fallback
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.load(pkg)
	if err != nil || !v.IsSet(rest) {
		return fallback
	}
	return v.GetInt(rest)
}

func (s *Store) GetBool(key string, fallback bool) bool {
	pkg, rest, err := splitKey(key)
	if err != nil {
		return fallback
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.load(pkg)
	if err != nil || !v.IsSet(rest) {
		return fallback
	}
	return v.GetBool(rest)
}

func (s *Store) GetDuration(key string, fallback time.Duration) time.Duration {
	pkg, rest, err := splitKey(key)
	if err != nil {
		return fallback
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.load(pkg)
	if err != nil || !v.IsSet(rest) {
		return fallback
	}
	return v.GetDuration(rest)
}

func (s *Store) Set(key, value string) error {
	pkg, rest, err := splitKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.load(pkg)
	if err != nil {
		return err
	}
	v.Set(rest, value)
	return nil
}

func (s *Store) Commit(pkg string) error {
	pkg = strings.ToLower(strings.TrimSpace(pkg))
	if !validName(pkg) {
		return fmt.Errorf("%w: %q", ErrInvalidPackage, pkg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.load(pkg)
	if err != nil {
		return err
	}
	if err := v.WriteConfigAs(s.path(pkg)); err != nil {
		return fmt.Errorf("config: commit %s: %w", pkg, err)
	}
	return nil
}

func (s *Store) path(pkg string) string {
	return filepath.Join(s.dir, pkg+".toml")
}

// load returns the cached viper for pkg, reading its file on first use.
// Callers hold s.mu.
func (s *Store) load(pkg string) (*viper.Viper, error) {
	if v, ok := s.packages[pkg]; ok {
		return v, nil
	}
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("GHOSTWIRE_" + strings.ToUpper(pkg))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := s.path(pkg)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	s.packages[pkg] = v
	return v, nil
}

func splitKey(key string) (string, string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	pkg, rest, ok := strings.Cut(key, ".")
	if !ok || !validName(pkg) || rest == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(rest, ".") {
		if !validName(part) {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return pkg, rest, nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
