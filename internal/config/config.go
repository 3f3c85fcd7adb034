// Package config loads and validates miner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Ollama  OllamaConfig  `mapstructure:"ollama"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the record store. An empty DSN selects the
// in-memory store, which is useful for local development and tests.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// HTTPConfig tunes the shared outbound HTTP client.
type HTTPConfig struct {
	ConnectTimeoutSeconds int     `mapstructure:"connect_timeout_seconds"`
	TimeoutSeconds        int     `mapstructure:"timeout_seconds"`
	ReadTimeoutSeconds    int     `mapstructure:"read_timeout_seconds"`
	ConnectorLimit        int     `mapstructure:"connector_limit"`
	MaxBodyBytes          int64   `mapstructure:"max_body_bytes"`
	UserAgent             string  `mapstructure:"user_agent"`
	RatePerDomain         float64 `mapstructure:"rate_per_domain"`
	RespectRobots         bool    `mapstructure:"respect_robots"`
}

// OllamaConfig addresses the text-generation service.
type OllamaConfig struct {
	Host  string `mapstructure:"host"`
	Model string `mapstructure:"model"`
}

// ScraperConfig governs orchestrator behavior.
type ScraperConfig struct {
	Concurrency           int `mapstructure:"concurrency"`
	SampleSize            int `mapstructure:"sample_size"`
	CooldownSeconds       int `mapstructure:"cooldown_seconds"`
	SearchCacheTTLSeconds int `mapstructure:"search_cache_ttl_seconds"`
}

// NotifyConfig selects the saved-artifact notification provider.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARTIFACTMINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "artifacts")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("http.connect_timeout_seconds", 3)
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.read_timeout_seconds", 55)
	v.SetDefault("http.connector_limit", 8)
	v.SetDefault("http.max_body_bytes", 2<<20)
	v.SetDefault("http.user_agent", "artifact-miner/0.1")
	v.SetDefault("http.rate_per_domain", 2.0)
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("ollama.host", "http://host.docker.internal:11434")
	v.SetDefault("ollama.model", "llama3")
	v.SetDefault("scraper.concurrency", 4)
	v.SetDefault("scraper.sample_size", 3)
	v.SetDefault("scraper.cooldown_seconds", 10)
	v.SetDefault("scraper.search_cache_ttl_seconds", 300)
	v.SetDefault("notify.provider", "noop")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.ConnectorLimit <= 0 {
		return fmt.Errorf("http.connector_limit must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.SampleSize <= 0 {
		return fmt.Errorf("scraper.sample_size must be > 0")
	}
	if c.Ollama.Model == "" {
		return fmt.Errorf("ollama.model must be set")
	}
	switch c.Notify.Provider {
	case "noop":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.TopicID == "" {
			return fmt.Errorf("notify.project_id and notify.topic_id must be set when notify.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown notify.provider %q", c.Notify.Provider)
	}
	return nil
}

// FetchTimeout converts the total HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Cooldown converts the between-pass delay into a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Scraper.CooldownSeconds) * time.Second
}
