package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. VIGIL_AUTH_JWT_SECRET.
const EnvPrefix = "VIGIL"

// Manager handles loading, reloading and broadcasting config changes.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	v        *viper.Viper
	filePath string

	subMu sync.Mutex
	subs  []chan struct{}
}

// NewManager creates a Manager and loads config from the given file path.
// If the file does not exist, defaults and environment overrides are used.
func NewManager(filePath string) (*Manager, error) {
	m := &Manager{
		filePath: filePath,
		v:        newViper(filePath),
	}

	cfg, err := m.read()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	m.cfg = cfg
	return m, nil
}

// Get returns a copy of the current config (safe for concurrent reads).
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a new channel that receives a signal whenever config is
// reloaded. Each subscriber gets its own channel so multiple goroutines can
// independently listen for changes.
func (m *Manager) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// Reload re-reads the file. An invalid file leaves the current config in
// place and returns the validation error.
func (m *Manager) Reload() error {
	cfg, err := m.read()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	m.broadcast()
	return nil
}

// Watch reloads the config whenever the file changes on disk.
func (m *Manager) Watch() {
	if m.filePath == "" {
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if err := m.Reload(); err != nil {
			slog.Error("config reload rejected, keeping previous config", "path", e.Name, "error", err)
			return
		}
		slog.Info("config reloaded", "path", e.Name)
	})
	m.v.WatchConfig()
}

func (m *Manager) broadcast() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) read() (Config, error) {
	if m.filePath != "" {
		if err := m.v.ReadInConfig(); err != nil {
			var pathErr *fs.PathError
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("reading config %s: %w", m.filePath, err)
			}
			slog.Warn("config file not found, using defaults", "path", m.filePath)
		}
	}

	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", m.filePath, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper(filePath string) *viper.Viper {
	v := viper.New()
	if filePath != "" {
		v.SetConfigFile(filePath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every scalar key needs a default so AutomaticEnv can override it during Unmarshal.
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("system.bind_address", d.System.BindAddress)
	v.SetDefault("system.log_level", d.System.LogLevel)
	v.SetDefault("system.workspace", d.System.Workspace)
	v.SetDefault("system.shutdown_timeout", d.System.ShutdownTimeout)
	v.SetDefault("system.max_monitors", d.System.MaxMonitors)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.api_key_hash", "")
	v.SetDefault("auth.max_failed_attempts", d.Auth.MaxFailedAttempts)
	v.SetDefault("auth.lockout_duration", d.Auth.LockoutDuration)
	v.SetDefault("dispatch.send_timeout", d.Dispatch.SendTimeout)
	v.SetDefault("dispatch.max_attempts", d.Dispatch.MaxAttempts)
	v.SetDefault("dispatch.base_backoff", d.Dispatch.BaseBackoff)
	v.SetDefault("dispatch.backoff_jitter", d.Dispatch.BackoffJitter)
	v.SetDefault("dispatch.concurrency", d.Dispatch.Concurrency)
	v.SetDefault("dispatch.http_timeout", d.Dispatch.HTTPTimeout)
	v.SetDefault("audit.async", d.Audit.Async)
	v.SetDefault("audit.queue_size", d.Audit.QueueSize)
	v.SetDefault("audit.max_attempts", d.Audit.MaxAttempts)
	v.SetDefault("audit.retention", d.Audit.Retention)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", d.SMTP.Port)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("checker.enabled", d.Checker.Enabled)
	v.SetDefault("checker.region", d.Checker.Region)
	v.SetDefault("checker.degraded_after", d.Checker.DegradedAfter)
	return v
}
