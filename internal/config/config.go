package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Provider  ProviderConfig  `yaml:"provider"`
	Sync      SyncConfig      `yaml:"sync"`
	Retention RetentionConfig `yaml:"retention"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	Enabled           bool     `yaml:"enabled"`
	APIKeys           []string `yaml:"api_keys"`
	HeaderName        string   `yaml:"header_name"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	Burst             int      `yaml:"burst"`
}

// ProviderConfig contains the practice-management provider configuration.
// Client credentials come from the environment via ${VAR} substitution in
// the YAML file; they are never hardcoded.
type ProviderConfig struct {
	Name         string        `yaml:"name"`
	BaseURL      string        `yaml:"base_url"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	RedirectURI  string        `yaml:"redirect_uri"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SyncConfig contains synchronization engine configuration. The safety
// page limit and delays are explicit, named parameters rather than
// constants buried in the engine.
type SyncConfig struct {
	PageSize        int           `yaml:"page_size"`
	BatchSize       int           `yaml:"batch_size"`
	SafetyPageLimit int           `yaml:"safety_page_limit"`
	Cooldown        time.Duration `yaml:"cooldown"`
	InterCallDelay  time.Duration `yaml:"inter_call_delay"`
	RunTimeout      time.Duration `yaml:"run_timeout"`
	MaxErrors       int           `yaml:"max_errors"`
	DBPath          string        `yaml:"db_path"`
	// Interval enables the background scheduler when set. Zero means
	// syncs only run on demand.
	Interval time.Duration `yaml:"interval"`
}

// RetentionConfig controls pruning of old run history and stale tokens.
type RetentionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	RunRetention   time.Duration `yaml:"run_retention"`
	TokenRetention time.Duration `yaml:"token_retention"`
	VacuumEnabled  bool          `yaml:"vacuum_enabled"`
	VacuumInterval time.Duration `yaml:"vacuum_interval"`
}

// TelegramConfig contains Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Validate validates the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention: %w", err)
	}

	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.HTTPPort < 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 0 and 65535")
	}
	if s.HTTPPort == 0 {
		s.HTTPPort = 8417
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.LogFormat == "" {
		s.LogFormat = "json"
	}
	return nil
}

// Validate validates API configuration.
func (a *APIConfig) Validate() error {
	if a.HeaderName == "" {
		a.HeaderName = "X-API-Key"
	}
	if a.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must be positive")
	}
	if a.RequestsPerMinute == 0 {
		a.RequestsPerMinute = 600
	}
	if a.Burst < 0 {
		return fmt.Errorf("burst must be positive")
	}
	if a.Burst == 0 {
		a.Burst = 60
	}
	return nil
}

// Validate validates provider configuration.
func (p *ProviderConfig) Validate() error {
	if p.Name == "" {
		p.Name = "practicehub"
	}
	if p.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if p.TokenURL == "" {
		return fmt.Errorf("token_url is required")
	}
	if p.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if p.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if p.Timeout == 0 {
		p.Timeout = 15 * time.Second
	}
	return nil
}

// Validate validates sync configuration.
func (s *SyncConfig) Validate() error {
	if s.PageSize < 0 {
		return fmt.Errorf("page_size must be positive")
	}
	if s.PageSize == 0 {
		s.PageSize = 100
	}
	if s.BatchSize < 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if s.BatchSize == 0 {
		s.BatchSize = 50
	}
	if s.SafetyPageLimit < 0 {
		return fmt.Errorf("safety_page_limit must be positive")
	}
	if s.SafetyPageLimit == 0 {
		s.SafetyPageLimit = 200
	}
	if s.Cooldown < 0 {
		return fmt.Errorf("cooldown must be positive")
	}
	if s.Cooldown == 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.InterCallDelay < 0 {
		return fmt.Errorf("inter_call_delay must be positive")
	}
	if s.InterCallDelay == 0 {
		s.InterCallDelay = 200 * time.Millisecond
	}
	if s.RunTimeout < 0 {
		return fmt.Errorf("run_timeout must be positive")
	}
	if s.RunTimeout == 0 {
		s.RunTimeout = 30 * time.Minute
	}
	if s.MaxErrors < 0 {
		return fmt.Errorf("max_errors must be positive")
	}
	if s.MaxErrors == 0 {
		s.MaxErrors = 10
	}
	if s.DBPath == "" {
		s.DBPath = "./data/firmsync.db"
	}
	if s.Interval < 0 {
		return fmt.Errorf("interval must be positive")
	}
	return nil
}

// Validate validates retention configuration.
func (r *RetentionConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Interval < 0 || r.RunRetention < 0 || r.TokenRetention < 0 || r.VacuumInterval < 0 {
		return fmt.Errorf("retention durations must be positive")
	}
	if r.Interval == 0 {
		r.Interval = 6 * time.Hour
	}
	if r.RunRetention == 0 {
		r.RunRetention = 30 * 24 * time.Hour
	}
	if r.TokenRetention == 0 {
		r.TokenRetention = 90 * 24 * time.Hour
	}
	if r.VacuumEnabled && r.VacuumInterval == 0 {
		r.VacuumInterval = 24 * time.Hour
	}
	return nil
}

// Validate validates telegram configuration.
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.BotToken == "" {
		return fmt.Errorf("bot_token is required when telegram is enabled")
	}
	if t.ChatID == 0 {
		return fmt.Errorf("chat_id is required when telegram is enabled")
	}
	return nil
}
