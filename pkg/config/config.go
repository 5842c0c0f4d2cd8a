package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Retry   RetryConfig   `yaml:"retry"`
	NATS    NATSConfig    `yaml:"nats"`
	Watcher WatcherConfig `yaml:"watcher"`
	Logging LoggingConfig `yaml:"logging"`
	// TokenFile is where the bearer token is persisted between runs.
	TokenFile string `yaml:"token_file"`
}

type ServerConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type EngineConfig struct {
	MutationTimeout time.Duration `yaml:"mutation_timeout"`
}

type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	Jitter        bool          `yaml:"jitter"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type WatcherConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration used when no config file is given
func Default() *Config {
	config := &Config{}
	_ = config.validate()
	return config
}

func (c *Config) validate() error {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:8000"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if c.Engine.MutationTimeout == 0 {
		c.Engine.MutationTimeout = 15 * time.Second
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = 500 * time.Millisecond
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 10 * time.Second
	}
	if c.Retry.BackoffFactor == 0 {
		c.Retry.BackoffFactor = 2.0
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when nats is enabled")
		}
		if c.NATS.Subject == "" {
			c.NATS.Subject = "calagent.changes"
		}
	}

	if c.Watcher.PollInterval == 0 {
		c.Watcher.PollInterval = time.Minute
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.TokenFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		c.TokenFile = home + "/.config/calagent/token.json"
	}

	return nil
}
