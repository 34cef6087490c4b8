// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port          int           `yaml:"port"`
	BaseURL       string        `yaml:"base_url"` // public URL webhooks are built from
	JWTSecret     string        `yaml:"jwt_secret"`
	WebhookSecret string        `yaml:"webhook_secret"`
	SweepKey      string        `yaml:"sweep_key"` // shared secret for the sweep endpoint
	SessionTTL    time.Duration `yaml:"session_ttl"`
	// SubmitPerMinute caps how many generations one user may start per minute.
	SubmitPerMinute int `yaml:"submit_per_minute"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LeaseTTL time.Duration `yaml:"lease_ttl"` // generation lease auto-release
}

type ProviderConfig struct {
	Key           string `yaml:"key"`
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	BaseCost      int64  `yaml:"base_cost"`
	IncludedWords int    `yaml:"included_words"`
	BucketWords   int    `yaml:"bucket_words"`
	BucketCost    int64  `yaml:"bucket_cost"`
}

type ProvidersConfig struct {
	Suno  ProviderConfig `yaml:"suno"`
	GoAPI ProviderConfig `yaml:"goapi"`
	PiAPI ProviderConfig `yaml:"piapi"`
}

type PollingConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	Workers     int           `yaml:"workers"`
}

type SweepConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"` // pending age before the sweep re-checks
	MaxAge     time.Duration `yaml:"max_age"`     // handle-less pending age before giving up
	BatchSize  int           `yaml:"batch_size"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Providers ProvidersConfig `yaml:"providers"`
	Polling   PollingConfig   `yaml:"polling"`
	Sweep     SweepConfig     `yaml:"sweep"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.SessionTTL <= 0 {
		cfg.Server.SessionTTL = 24 * time.Hour
	}
	if cfg.Server.SubmitPerMinute <= 0 {
		cfg.Server.SubmitPerMinute = 6
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.LeaseTTL <= 0 {
		cfg.Redis.LeaseTTL = 10 * time.Minute
	}
	if cfg.Polling.Interval <= 0 {
		cfg.Polling.Interval = 5 * time.Second
	}
	if cfg.Polling.MaxAttempts <= 0 {
		cfg.Polling.MaxAttempts = 60
	}
	if cfg.Polling.Workers <= 0 {
		cfg.Polling.Workers = 8
	}
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = time.Minute
	}
	if cfg.Sweep.StaleAfter <= 0 {
		cfg.Sweep.StaleAfter = 10 * time.Minute
	}
	if cfg.Sweep.MaxAge <= 0 {
		cfg.Sweep.MaxAge = time.Hour
	}
	if cfg.Sweep.BatchSize <= 0 {
		cfg.Sweep.BatchSize = 200
	}
}
