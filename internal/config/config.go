package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
	Broker        BrokerConfig        `yaml:"broker"`
	Engine        EngineConfig        `yaml:"engine"`
	Outcomes      OutcomesConfig      `yaml:"outcomes"`
	Insights      InsightsConfig      `yaml:"insights"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoggingConfig represents logger configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// BrokerConfig represents the execution client configuration
type BrokerConfig struct {
	Name           string  `yaml:"name"` // binance or sim
	APIKey         string  `yaml:"api_key"`
	SecretKey      string  `yaml:"secret_key"`
	Testnet        bool    `yaml:"testnet"`
	RateLimit      float64 `yaml:"rate_limit"`       // requests per second
	RateLimitBurst int     `yaml:"rate_limit_burst"` // burst size
}

// EngineConfig tunes the execution state machine.
type EngineConfig struct {
	// How long a signal waits for the per-bot lock before failing Busy.
	LockWaitMs int `yaml:"lock_wait_ms"`
	// Concurrent broker submissions across all bots.
	WorkerPool int `yaml:"worker_pool"`
	// Transient submission failures retried up to this many attempts.
	MaxSubmitAttempts int `yaml:"max_submit_attempts"`
	BackoffBaseMs     int `yaml:"backoff_base_ms"`
	// How long to wait for the fill/rejection callback after acknowledgement.
	FillTimeoutSec int `yaml:"fill_timeout_sec"`
}

// OutcomesConfig tunes trade outcome classification.
type OutcomesConfig struct {
	// |pnl_percent| below this counts as breakeven, overriding is_winner.
	BreakevenEpsilonPercent float64 `yaml:"breakeven_epsilon_percent"`
}

// InsightsConfig tunes the batch pattern analysis.
type InsightsConfig struct {
	IntervalMinutes      int     `yaml:"interval_minutes"`
	MinTrades            int     `yaml:"min_trades"`
	WinRateMarginPercent float64 `yaml:"win_rate_margin_percent"`
}

// NotificationsConfig lists downstream notification endpoints.
type NotificationsConfig struct {
	Endpoints      []EndpointConfig `yaml:"endpoints"`
	TimeoutSec     int              `yaml:"timeout_sec"`
	SummaryHourUTC int              `yaml:"summary_hour_utc"`
}

// EndpointConfig represents a downstream notification endpoint
type EndpointConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	IsActive bool   `yaml:"is_active"`
}

// Default returns the configuration used when a field is absent from the file.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "localhost", Port: "8080"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "signal-engine.db"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Broker:   BrokerConfig{Name: "sim", RateLimit: 10, RateLimitBurst: 5},
		Engine: EngineConfig{
			LockWaitMs:        2000,
			WorkerPool:        8,
			MaxSubmitAttempts: 3,
			BackoffBaseMs:     250,
			FillTimeoutSec:    120,
		},
		Outcomes: OutcomesConfig{BreakevenEpsilonPercent: 0.05},
		Insights: InsightsConfig{
			IntervalMinutes:      60,
			MinTrades:            10,
			WinRateMarginPercent: 10,
		},
		Notifications: NotificationsConfig{TimeoutSec: 10, SummaryHourUTC: 21},
	}
}

// LoadConfig loads configuration from a YAML file, filling unset fields
// with defaults.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filename string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
