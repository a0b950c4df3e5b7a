// Package config loads and validates news digest configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. NEWSDIGEST_SERVER_PORT.
const EnvPrefix = "NEWSDIGEST"

// DefaultKeywords pre-fills the keyword input.
var DefaultKeywords = []string{"捷運", "輕軌", "環狀線", "新北", "軌道", "鐵路"}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Keywords []string       `mapstructure:"keywords"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Compose  ComposeConfig  `mapstructure:"compose"`
	Session  SessionConfig  `mapstructure:"session"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig guards the JSON API with a static key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FeedConfig points the fetcher at the news search feed.
type FeedConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Language       string `mapstructure:"language"`
	Region         string `mapstructure:"region"`
	Edition        string `mapstructure:"edition"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	WindowHours    int    `mapstructure:"window_hours"`
}

// ResolverConfig governs redirect resolution and its worker processes.
type ResolverConfig struct {
	RedirectHosts            []string `mapstructure:"redirect_hosts"`
	WorkerTimeoutSeconds     int      `mapstructure:"worker_timeout_seconds"`
	NavigationTimeoutSeconds int      `mapstructure:"navigation_timeout_seconds"`
	SettleDelayMs            int      `mapstructure:"settle_delay_ms"`
	UserAgent                string   `mapstructure:"user_agent"`
	RateLimitRPS             float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst           int      `mapstructure:"rate_limit_burst"`
	ChromePath               string   `mapstructure:"chrome_path"`
	NoSandbox                bool     `mapstructure:"no_sandbox"`
}

// ComposeConfig customizes the digest text.
type ComposeConfig struct {
	Header string `mapstructure:"header"`
}

// SessionConfig bounds how long idle sessions are kept.
type SessionConfig struct {
	IdleTimeoutMinutes int `mapstructure:"idle_timeout_minutes"`
}

// PubSubConfig holds the optional digest topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

// LoadDotEnv exports the variables in a dotenv file without overriding ones
// already set, so NEWSDIGEST_* overrides can live next to the binary. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load dotenv %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 600)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("feed.base_url", "https://news.google.com/rss/search")
	v.SetDefault("feed.language", "zh-TW")
	v.SetDefault("feed.region", "TW")
	v.SetDefault("feed.edition", "TW:zh-Hant")
	v.SetDefault("feed.user_agent", "news-digest/0.1")
	v.SetDefault("feed.timeout_seconds", 15)
	v.SetDefault("feed.window_hours", 24)
	v.SetDefault("keywords", DefaultKeywords)
	v.SetDefault("resolver.redirect_hosts", []string{"news.google.com"})
	v.SetDefault("resolver.worker_timeout_seconds", 30)
	v.SetDefault("resolver.navigation_timeout_seconds", 20)
	v.SetDefault("resolver.settle_delay_ms", 2000)
	v.SetDefault("resolver.rate_limit_rps", 0)
	v.SetDefault("resolver.rate_limit_burst", 1)
	v.SetDefault("resolver.no_sandbox", false)
	v.SetDefault("session.idle_timeout_minutes", 120)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if u, err := url.Parse(c.Feed.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("feed.base_url must be an absolute URL")
	}
	if c.Feed.TimeoutSeconds <= 0 {
		return fmt.Errorf("feed.timeout_seconds must be > 0")
	}
	if c.Feed.WindowHours <= 0 {
		return fmt.Errorf("feed.window_hours must be > 0")
	}
	if len(c.Resolver.RedirectHosts) == 0 {
		return fmt.Errorf("resolver.redirect_hosts must not be empty")
	}
	if c.Resolver.WorkerTimeoutSeconds <= 0 {
		return fmt.Errorf("resolver.worker_timeout_seconds must be > 0")
	}
	if c.Resolver.NavigationTimeoutSeconds <= 0 {
		return fmt.Errorf("resolver.navigation_timeout_seconds must be > 0")
	}
	if c.Resolver.NavigationTimeoutSeconds >= c.Resolver.WorkerTimeoutSeconds {
		return fmt.Errorf("resolver.navigation_timeout_seconds must be < resolver.worker_timeout_seconds")
	}
	if c.Resolver.SettleDelayMs < 0 {
		return fmt.Errorf("resolver.settle_delay_ms must be >= 0")
	}
	if c.Resolver.RateLimitRPS < 0 {
		return fmt.Errorf("resolver.rate_limit_rps must be >= 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// RequestTimeout bounds a single HTTP request, including exports that wait on
// several resolution workers.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful server shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// FeedTimeout bounds one feed request.
func (c Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSeconds) * time.Second
}

// RecencyWindow is the rolling inclusion window for feed entries.
func (c Config) RecencyWindow() time.Duration {
	return time.Duration(c.Feed.WindowHours) * time.Hour
}

// WorkerTimeout is the hard wall-clock limit for one resolution worker.
func (c Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Resolver.WorkerTimeoutSeconds) * time.Second
}

// NavigationTimeout bounds page navigation inside a worker.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Resolver.NavigationTimeoutSeconds) * time.Second
}

// SettleDelay is the pause after navigation that lets script redirects land.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Resolver.SettleDelayMs) * time.Millisecond
}

// SessionIdleTimeout is how long an unused session survives; zero keeps
// sessions until restart.
func (c Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutMinutes) * time.Minute
}

// PublishingEnabled reports whether a Pub/Sub topic is configured.
func (c Config) PublishingEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.TopicName != ""
}
