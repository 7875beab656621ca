package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	DB       DBConfig       `yaml:"db"`
	Redis    RedisConfig    `yaml:"redis"`
	Provider ProviderConfig `yaml:"provider"`
	Chat     ChatConfig     `yaml:"chat"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig selects the cross-tab broadcast backend. An empty URL runs
// the in-process bus, which synchronizes nothing beyond this process.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type ProviderConfig struct {
	URL string `yaml:"url"`
}

type ChatConfig struct {
	RetentionHours     int  `yaml:"retention_hours"`
	ExtractProjectName bool `yaml:"extract_project_name"`
	VoiceSettleMs      int  `yaml:"voice_settle_ms"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		DB: DBConfig{
			Path: "hypley.db",
		},
		Provider: ProviderConfig{
			URL: "http://localhost:9090",
		},
		Chat: ChatConfig{
			RetentionHours:     24,
			ExtractProjectName: true,
			VoiceSettleMs:      300,
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if path := os.Getenv("HYPLEY_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if host := os.Getenv("HYPLEY_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("HYPLEY_SERVER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HYPLEY_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if dbPath := os.Getenv("HYPLEY_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if url := os.Getenv("HYPLEY_REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if url := os.Getenv("HYPLEY_PROVIDER_URL"); url != "" {
		cfg.Provider.URL = url
	}
	if level := os.Getenv("HYPLEY_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
