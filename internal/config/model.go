package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/makt28/vigil/internal/model"
	"github.com/makt28/vigil/internal/storage"
)

const CurrentConfigVersion = 1

// Config is the root configuration structure, read from a YAML or JSON file
// and overridden by VIGIL_* environment variables.
type Config struct {
	Version   int              `mapstructure:"version"`
	System    SystemConfig     `mapstructure:"system"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Dispatch  DispatchConfig   `mapstructure:"dispatch"`
	Audit     AuditConfig      `mapstructure:"audit"`
	SMTP      SMTPConfig       `mapstructure:"smtp"`
	Checker   CheckerConfig    `mapstructure:"checker"`
	Notifiers []NotifierConfig `mapstructure:"notifiers"`
	Monitors  []Monitor        `mapstructure:"monitors"`
}

type SystemConfig struct {
	BindAddress     string        `mapstructure:"bind_address"`
	LogLevel        string        `mapstructure:"log_level"`
	Workspace       string        `mapstructure:"workspace"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxMonitors     int           `mapstructure:"max_monitors"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	// JWTSecret signs the region-scoped tokens presented by checkers.
	JWTSecret         string        `mapstructure:"jwt_secret"`
	// APIKeyHash is the bcrypt hash of the key accepted on the trigger and
	// read endpoints.
	APIKeyHash        string        `mapstructure:"api_key_hash"`
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	LockoutDuration   time.Duration `mapstructure:"lockout_duration"`
}

type DispatchConfig struct {
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BaseBackoff   time.Duration `mapstructure:"base_backoff"`
	BackoffJitter time.Duration `mapstructure:"backoff_jitter"`
	Concurrency   int           `mapstructure:"concurrency"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
}

type AuditConfig struct {
	Async       bool          `mapstructure:"async"`
	QueueSize   int           `mapstructure:"queue_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	// Retention drops audit records older than this. Zero keeps them forever.
	Retention   time.Duration `mapstructure:"retention"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// CheckerConfig controls the embedded checker that probes monitors from this
// process and feeds the aggregator and dispatcher directly.
type CheckerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Region        string        `mapstructure:"region"`
	// DegradedAfter marks an HTTP probe as degraded when it succeeds but
	// takes longer than this.
	DegradedAfter time.Duration `mapstructure:"degraded_after"`
}

// NotifierConfig declares a notification channel. Data is passed verbatim to
// the provider's sender.
type NotifierConfig struct {
	ID   string         `mapstructure:"id"`
	Name string         `mapstructure:"name"`
	Type string         `mapstructure:"type"`
	Data map[string]any `mapstructure:"data"`
}

type Monitor struct {
	ID               string   `mapstructure:"id"`
	Name             string   `mapstructure:"name"`
	Type             string   `mapstructure:"type"`
	Target           string   `mapstructure:"target"`
	Method           string   `mapstructure:"method"`
	Interval         int      `mapstructure:"interval"`
	Timeout          int      `mapstructure:"timeout"`
	MaxRetries       int      `mapstructure:"max_retries"`
	RetryInterval    int      `mapstructure:"retry_interval"`
	// ReminderInterval re-sends the alert every N failed probes while down.
	ReminderInterval int      `mapstructure:"reminder_interval"`
	IgnoreTLS        bool     `mapstructure:"ignore_tls"`
	Regions          []string `mapstructure:"regions"`
	Enabled          *bool    `mapstructure:"enabled"`
	NotifierIDs      []string `mapstructure:"notifier_ids"`
}

// IsEnabled returns whether the monitor is enabled (defaults to true).
func (m *Monitor) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Version: CurrentConfigVersion,
		System: SystemConfig{
			BindAddress:     ":8080",
			LogLevel:        "info",
			Workspace:       "default",
			ShutdownTimeout: 10 * time.Second,
			MaxMonitors:     500,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "vigil.db",
		},
		Auth: AuthConfig{
			MaxFailedAttempts: 10,
			LockoutDuration:   15 * time.Minute,
		},
		Dispatch: DispatchConfig{
			SendTimeout: 10 * time.Second,
			MaxAttempts: 3,
			BaseBackoff: 500 * time.Millisecond,
			Concurrency: 4,
			HTTPTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Async:       true,
			QueueSize:   1024,
			MaxAttempts: 3,
			Retention:   30 * 24 * time.Hour,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Checker: CheckerConfig{
			Region:        "ams",
			DegradedAfter: 30 * time.Second,
		},
		Notifiers: []NotifierConfig{},
		Monitors:  []Monitor{},
	}
}

// ApplyDefaults fills zero-value fields with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Version == 0 {
		c.Version = d.Version
	}
	if c.System.BindAddress == "" {
		c.System.BindAddress = d.System.BindAddress
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = d.System.LogLevel
	}
	c.System.LogLevel = strings.ToLower(c.System.LogLevel)
	if c.System.Workspace == "" {
		c.System.Workspace = d.System.Workspace
	}
	if c.System.ShutdownTimeout <= 0 {
		c.System.ShutdownTimeout = d.System.ShutdownTimeout
	}
	if c.System.MaxMonitors <= 0 {
		c.System.MaxMonitors = d.System.MaxMonitors
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = d.Storage.DSN
	}
	if c.Auth.MaxFailedAttempts <= 0 {
		c.Auth.MaxFailedAttempts = d.Auth.MaxFailedAttempts
	}
	if c.Auth.LockoutDuration <= 0 {
		c.Auth.LockoutDuration = d.Auth.LockoutDuration
	}
	if c.Dispatch.SendTimeout <= 0 {
		c.Dispatch.SendTimeout = d.Dispatch.SendTimeout
	}
	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = d.Dispatch.MaxAttempts
	}
	if c.Dispatch.BaseBackoff <= 0 {
		c.Dispatch.BaseBackoff = d.Dispatch.BaseBackoff
	}
	if c.Dispatch.Concurrency <= 0 {
		c.Dispatch.Concurrency = d.Dispatch.Concurrency
	}
	if c.Dispatch.HTTPTimeout <= 0 {
		c.Dispatch.HTTPTimeout = d.Dispatch.HTTPTimeout
	}
	if c.Audit.QueueSize <= 0 {
		c.Audit.QueueSize = d.Audit.QueueSize
	}
	if c.Audit.MaxAttempts <= 0 {
		c.Audit.MaxAttempts = d.Audit.MaxAttempts
	}
	if c.SMTP.Port <= 0 {
		c.SMTP.Port = d.SMTP.Port
	}
	if c.Checker.Region == "" {
		c.Checker.Region = d.Checker.Region
	}
	c.Checker.Region = strings.ToLower(strings.TrimSpace(c.Checker.Region))
	if c.Checker.DegradedAfter <= 0 {
		c.Checker.DegradedAfter = d.Checker.DegradedAfter
	}
	if c.Notifiers == nil {
		c.Notifiers = []NotifierConfig{}
	}
	if c.Monitors == nil {
		c.Monitors = []Monitor{}
	}
	for i := range c.Monitors {
		m := &c.Monitors[i]
		if m.Interval <= 0 {
			m.Interval = 60
		}
		if m.Timeout <= 0 {
			m.Timeout = 10
		}
		if m.Type == "http" && m.Method == "" {
			m.Method = "GET"
		}
		m.Method = strings.ToUpper(m.Method)
	}
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	var errs []string

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.System.LogLevel] {
		errs = append(errs, fmt.Sprintf("system.log_level must be one of: debug, info, warn, error (got %q)", c.System.LogLevel))
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("storage.driver must be sqlite or postgres (got %q)", c.Storage.Driver))
	}
	if c.Storage.DSN == "" {
		errs = append(errs, "storage.dsn is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, "auth.jwt_secret must be at least 16 characters")
	}
	if c.Auth.APIKeyHash != "" && !strings.HasPrefix(c.Auth.APIKeyHash, "$2") {
		errs = append(errs, "auth.api_key_hash must be a bcrypt hash")
	}

	if c.Dispatch.Concurrency > 64 {
		errs = append(errs, "dispatch.concurrency must be <= 64")
	}
	if c.Dispatch.BackoffJitter < 0 {
		errs = append(errs, "dispatch.backoff_jitter must be >= 0")
	}
	if c.Audit.Retention < 0 {
		errs = append(errs, "audit.retention must be >= 0")
	}

	if c.Checker.Enabled {
		if !model.Region(c.Checker.Region).Valid() {
			errs = append(errs, fmt.Sprintf("checker.region %q is not a known region", c.Checker.Region))
		}
	}

	notifierIDs := make(map[string]bool, len(c.Notifiers))
	for i, n := range c.Notifiers {
		prefix := fmt.Sprintf("notifiers[%d]", i)
		if n.ID == "" {
			errs = append(errs, prefix+".id is required")
		}
		if notifierIDs[n.ID] {
			errs = append(errs, prefix+".id is duplicate: "+n.ID)
		}
		notifierIDs[n.ID] = true
		if !model.ProviderKind(n.Type).Valid() {
			errs = append(errs, fmt.Sprintf("%s.type %q is not a known provider", prefix, n.Type))
		}
	}

	if len(c.Monitors) > c.System.MaxMonitors {
		errs = append(errs, fmt.Sprintf("monitors count (%d) exceeds max_monitors (%d)", len(c.Monitors), c.System.MaxMonitors))
	}

	seen := make(map[string]bool)
	for i, m := range c.Monitors {
		prefix := fmt.Sprintf("monitors[%d]", i)
		if m.ID == "" {
			errs = append(errs, prefix+".id is required")
		}
		if seen[m.ID] {
			errs = append(errs, prefix+".id is duplicate: "+m.ID)
		}
		seen[m.ID] = true

		if m.Name == "" {
			errs = append(errs, prefix+".name is required")
		}

		switch m.Type {
		case "http":
			if u, err := url.Parse(m.Target); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs = append(errs, prefix+".target must be a valid http(s) URL")
			}
		case "tcp":
			if _, _, err := net.SplitHostPort(m.Target); err != nil {
				errs = append(errs, prefix+".target must be host:port")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.type must be http or tcp (got %q)", prefix, m.Type))
		}

		if m.Interval < 5 {
			errs = append(errs, prefix+".interval must be >= 5 seconds")
		}
		if m.Timeout >= m.Interval {
			errs = append(errs, fmt.Sprintf("%s.timeout (%d) must be < interval (%d)", prefix, m.Timeout, m.Interval))
		}
		if m.MaxRetries < 0 {
			errs = append(errs, prefix+".max_retries must be >= 0")
		}
		if m.RetryInterval < 0 {
			errs = append(errs, prefix+".retry_interval must be >= 0")
		}
		if m.ReminderInterval < 0 {
			errs = append(errs, prefix+".reminder_interval must be >= 0")
		}
		for _, r := range m.Regions {
			if _, err := model.ParseRegion(r); err != nil {
				errs = append(errs, fmt.Sprintf("%s.regions: %v", prefix, err))
			}
		}
		for _, id := range m.NotifierIDs {
			if !notifierIDs[id] {
				errs = append(errs, fmt.Sprintf("%s.notifier_ids references unknown notifier %q", prefix, id))
			}
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}

// Catalog converts the declared monitors, notifiers and subscriptions into
// the form synced into storage.
func (c *Config) Catalog() (storage.Catalog, error) {
	cat := storage.Catalog{
		Monitors:      make([]model.Monitor, 0, len(c.Monitors)),
		Notifications: make([]model.Notification, 0, len(c.Notifiers)),
		Subscriptions: make(map[string][]string, len(c.Monitors)),
	}
	for _, n := range c.Notifiers {
		data := n.Data
		if data == nil {
			data = map[string]any{}
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return storage.Catalog{}, fmt.Errorf("encoding data of notifier %s: %w", n.ID, err)
		}
		cat.Notifications = append(cat.Notifications, model.Notification{
			ID:          n.ID,
			WorkspaceID: c.System.Workspace,
			Name:        n.Name,
			Provider:    model.ProviderKind(n.Type),
			Data:        raw,
		})
	}
	for _, m := range c.Monitors {
		regions := make([]model.Region, 0, len(m.Regions))
		for _, r := range m.Regions {
			region, err := model.ParseRegion(r)
			if err != nil {
				return storage.Catalog{}, fmt.Errorf("monitor %s: %w", m.ID, err)
			}
			regions = append(regions, region)
		}
		cat.Monitors = append(cat.Monitors, model.Monitor{
			ID:          m.ID,
			WorkspaceID: c.System.Workspace,
			Name:        m.Name,
			Active:      m.IsEnabled(),
			Method:      m.Type,
			URL:         m.Target,
			Periodicity: m.Interval,
			Regions:     regions,
		})
		cat.Subscriptions[m.ID] = append([]string(nil), m.NotifierIDs...)
	}
	return cat, nil
}
