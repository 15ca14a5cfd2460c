// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging LoggingConfig  `mapstructure:"logging"`
	API     APIConfig      `mapstructure:"api"`
	Crawl   CrawlConfig    `mapstructure:"crawl"`
	Notify  NotifyConfig   `mapstructure:"notify"`
	Dedup   DedupConfig    `mapstructure:"dedup"`
	Catalog CatalogConfig  `mapstructure:"catalog"`
	Archive ArchiveConfig  `mapstructure:"archive"`
	Sources []SourceConfig `mapstructure:"sources"`

	// Keywords highlight matching titles in the dashboard and webhook
	// payloads; they never affect dedup or delivery.
	Keywords []string `mapstructure:"keywords"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// APIConfig controls the HTTP server for the dashboard and operators.
type APIConfig struct {
	Port    int    `mapstructure:"port"`
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlConfig governs cycle scheduling and per-source fetch behavior.
type CrawlConfig struct {
	IntervalSeconds      int `mapstructure:"interval_seconds"`
	SourceTimeoutSeconds int `mapstructure:"source_timeout_seconds"`
	SourceRetries        int `mapstructure:"source_retries"`
	RetryBackoffMs       int `mapstructure:"retry_backoff_ms"`
	MaxParallel          int `mapstructure:"max_parallel"`

	// FailureEscalation is the consecutive-failure streak at which a
	// source's failure log escalates from warn to error.
	FailureEscalation int `mapstructure:"failure_escalation"`
}

// NotifyConfig configures the webhook dispatcher.
type NotifyConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	WebhookURL  string `mapstructure:"webhook_url"`
	MinDelayMs  int    `mapstructure:"min_delay_ms"`
	PerCycleCap int    `mapstructure:"per_cycle_cap"`
	Retries     int    `mapstructure:"retries"`
	BackoffMs   int    `mapstructure:"backoff_ms"`
}

// DedupConfig sets the notified-fingerprint store location.
type DedupConfig struct {
	Path string `mapstructure:"path"`
}

// CatalogConfig selects and configures the accumulated catalog backend.
type CatalogConfig struct {
	Backend string `mapstructure:"backend"` // "file" or "postgres"
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// ArchiveConfig selects where raw per-cycle crawl dumps go.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"` // "local", "gcs" or "noop"
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// SelectorConfig holds the CSS selectors a list adapter applies to one
// site. Site markup lives here as configuration, not code.
type SelectorConfig struct {
	Item            string `mapstructure:"item"`
	Title           string `mapstructure:"title"`
	OpenDate        string `mapstructure:"open_date"`
	PerformanceDate string `mapstructure:"performance_date"`
	Place           string `mapstructure:"place"`
	Genre           string `mapstructure:"genre"`
	Link            string `mapstructure:"link"`
	LinkAttr        string `mapstructure:"link_attr"`
	Image           string `mapstructure:"image"`
}

// RenderConfig tunes the headless fetch used by rendered sources.
type RenderConfig struct {
	ScrollPasses      int `mapstructure:"scroll_passes"`
	NavTimeoutSeconds int `mapstructure:"nav_timeout_seconds"`
}

// SourceConfig describes one ticketing site to poll.
type SourceConfig struct {
	Name      string         `mapstructure:"name"`
	Type      string         `mapstructure:"type"` // "list", "api" or "rendered"
	URL       string         `mapstructure:"url"`
	Enabled   bool           `mapstructure:"enabled"`
	UserAgent string         `mapstructure:"user_agent"`
	Selectors SelectorConfig `mapstructure:"selectors"`
	Render    RenderConfig   `mapstructure:"render"`

	// Optional per-source overrides of crawl.source_timeout_seconds and
	// crawl.source_retries. Zero means inherit.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	Retries        int `mapstructure:"retries"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TICKETWATCH")
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
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8080)
	v.SetDefault("crawl.interval_seconds", 3600)
	v.SetDefault("crawl.source_timeout_seconds", 30)
	v.SetDefault("crawl.source_retries", 2)
	v.SetDefault("crawl.retry_backoff_ms", 500)
	v.SetDefault("crawl.max_parallel", 0)
	v.SetDefault("crawl.failure_escalation", 3)
	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.min_delay_ms", 1000)
	v.SetDefault("notify.per_cycle_cap", 20)
	v.SetDefault("notify.retries", 2)
	v.SetDefault("notify.backoff_ms", 500)
	v.SetDefault("dedup.path", "data/sent_notifications.json")
	v.SetDefault("catalog.backend", "file")
	v.SetDefault("catalog.path", "data/all_tickets.json")
	v.SetDefault("catalog.table", "tickets")
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.dir", "data/dumps")
	v.SetDefault("archive.prefix", "tickets")
}

// Validate enforces required values. Configuration problems stop the
// process at startup rather than running degraded.
func (c Config) Validate() error {
	if c.Crawl.IntervalSeconds <= 0 {
		return fmt.Errorf("crawl.interval_seconds must be > 0")
	}
	if c.Crawl.SourceTimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.source_timeout_seconds must be > 0")
	}

	enabled := 0
	names := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("every source needs a name")
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		names[s.Name] = struct{}{}
		if !s.Enabled {
			continue
		}
		enabled++
		switch s.Type {
		case "list", "rendered":
			if s.Selectors.Item == "" || s.Selectors.Title == "" {
				return fmt.Errorf("source %q: selectors.item and selectors.title are required", s.Name)
			}
		case "api":
		default:
			return fmt.Errorf("source %q: unknown type %q", s.Name, s.Type)
		}
		if _, err := url.ParseRequestURI(s.URL); err != nil {
			return fmt.Errorf("source %q: invalid url: %w", s.Name, err)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no sources enabled")
	}

	if c.Notify.Enabled {
		u, err := url.Parse(c.Notify.WebhookURL)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("notify.webhook_url must be an absolute URL when notifications are enabled")
		}
	}
	if c.Dedup.Path == "" {
		return fmt.Errorf("dedup.path is required")
	}

	switch c.Catalog.Backend {
	case "file":
		if c.Catalog.Path == "" {
			return fmt.Errorf("catalog.path is required for the file backend")
		}
	case "postgres":
		if c.Catalog.DSN == "" {
			return fmt.Errorf("catalog.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown catalog backend %q", c.Catalog.Backend)
	}

	switch c.Archive.Backend {
	case "local":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir is required for the local backend")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown archive backend %q", c.Archive.Backend)
	}
	return nil
}

// Interval returns the cycle interval as a duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Crawl.IntervalSeconds) * time.Second
}

// SourceTimeout returns the fetch timeout for a source, honoring the
// per-source override.
func (c Config) SourceTimeout(s SourceConfig) time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return time.Duration(c.Crawl.SourceTimeoutSeconds) * time.Second
}

// SourceRetries returns the retry count for a source, honoring the
// per-source override.
func (c Config) SourceRetries(s SourceConfig) int {
	if s.Retries > 0 {
		return s.Retries
	}
	return c.Crawl.SourceRetries
}

// RetryBackoff returns the initial fetch retry backoff.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Crawl.RetryBackoffMs) * time.Millisecond
}

// NotifyMinDelay returns the mandatory pause between webhook sends.
func (c Config) NotifyMinDelay() time.Duration {
	return time.Duration(c.Notify.MinDelayMs) * time.Millisecond
}

// NotifyBackoff returns the delivery retry backoff.
func (c Config) NotifyBackoff() time.Duration {
	return time.Duration(c.Notify.BackoffMs) * time.Millisecond
}
