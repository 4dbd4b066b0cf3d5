package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Tracking TrackingConfig `yaml:"tracking"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type StorageConfig struct {
	// Driver selects the store backend: "bolt" or "memory".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type SMTPConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

type TrackingConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type DispatchConfig struct {
	SendDelay        time.Duration `yaml:"send_delay"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	SessionRetention time.Duration `yaml:"session_retention"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	SetDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	SetDefaults(cfg)
	return cfg
}

func SetDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "bolt"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "/var/lib/bulkmail/batches.db"
	}
	if cfg.SMTP.Host == "" {
		cfg.SMTP.Host = "smtp.gmail.com"
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 465
	}
	if cfg.SMTP.Timeout == 0 {
		cfg.SMTP.Timeout = 30 * time.Second
	}
	if cfg.Tracking.BaseURL == "" {
		cfg.Tracking.BaseURL = "https://pixel-tracker-dc1i.onrender.com"
	}
	if cfg.Tracking.Timeout == 0 {
		cfg.Tracking.Timeout = 10 * time.Second
	}
	if cfg.Tracking.RefreshInterval == 0 {
		cfg.Tracking.RefreshInterval = 10 * time.Second
	}
	if cfg.Dispatch.SendDelay == 0 {
		cfg.Dispatch.SendDelay = 2 * time.Second
	}
	if cfg.Dispatch.ProgressInterval == 0 {
		cfg.Dispatch.ProgressInterval = 2 * time.Second
	}
	if cfg.Dispatch.SessionRetention == 0 {
		cfg.Dispatch.SessionRetention = time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Driver {
	case "bolt", "memory":
	default:
		return fmt.Errorf("storage.driver must be \"bolt\" or \"memory\", got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "bolt" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the bolt driver")
	}
	if cfg.SMTP.Port <= 0 || cfg.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port must be between 1 and 65535")
	}
	if cfg.Dispatch.SendDelay < 0 {
		return fmt.Errorf("dispatch.send_delay must not be negative")
	}
	return nil
}

// Example returns an example configuration file.
func Example() string {
	return `server:
  listen_addr: ":8080"

storage:
  driver: bolt
  path: /var/lib/bulkmail/batches.db

smtp:
  host: smtp.gmail.com
  port: 465
  timeout: 30s

tracking:
  base_url: https://pixel-tracker-dc1i.onrender.com
  timeout: 10s
  refresh_interval: 10s

dispatch:
  send_delay: 2s
  progress_interval: 2s
  session_retention: 1h

logging:
  level: info
  format: json
`
}
