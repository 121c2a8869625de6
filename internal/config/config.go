// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site      SiteConfig      `mapstructure:"site"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Gaps      GapsConfig      `mapstructure:"gaps"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SiteConfig identifies the remote catalog and its paging geometry.
type SiteConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	ListURLTemplate string `mapstructure:"list_url_template"`
	PageSize        int    `mapstructure:"page_size"`
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	IgnoreRobots    bool   `mapstructure:"ignore_robots"`
}

// SelectorsConfig holds the CSS selectors for listing and detail markup.
type SelectorsConfig struct {
	RecordRow   string `mapstructure:"record_row"`
	RecordLink  string `mapstructure:"record_link"`
	RecordTitle string `mapstructure:"record_title"`
	Pagination  string `mapstructure:"pagination"`
	DetailRow   string `mapstructure:"detail_row"`
	DetailKey   string `mapstructure:"detail_key"`
	DetailValue string `mapstructure:"detail_value"`
}

// StageConfig governs one collection stage's concurrency and retries.
type StageConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	RetryConcurrency  int `mapstructure:"retry_concurrency"`
	RetryLimit        int `mapstructure:"retry_limit"`
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds"`
}

// CrawlConfig governs the two-stage crawl pipeline.
type CrawlConfig struct {
	List            StageConfig `mapstructure:"list"`
	Detail          StageConfig `mapstructure:"detail"`
	SkipDetails     bool        `mapstructure:"skip_details"`
	TotalsTTLMin    int         `mapstructure:"totals_ttl_minutes"`
	PageLimit       int         `mapstructure:"page_limit"`
	SummaryTopic    string      `mapstructure:"summary_topic"`
	ProgressLogging bool        `mapstructure:"progress_logging"`
}

// GapsConfig governs targeted gap collection.
type GapsConfig struct {
	MaxConcurrentPages   int  `mapstructure:"max_concurrent_pages"`
	DelayBetweenPagesSec int  `mapstructure:"delay_between_pages_seconds"`
	PrioritizePartial    bool `mapstructure:"prioritize_partial"`
}

// RateLimitConfig paces outbound requests per host.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DBConfig controls access to the relational database. An empty DSN keeps
// the service on the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// project id keeps summaries in-process. Summaries go to the topic named by
// crawl.summary_topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// ServerConfig controls the health/metrics listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("site.page_size", 12)
	v.SetDefault("site.user_agent", "certis-crawler/1.0")
	v.SetDefault("site.timeout_seconds", 15)
	v.SetDefault("site.ignore_robots", false)
	v.SetDefault("selectors.record_row", "table.records tr.record")
	v.SetDefault("selectors.record_link", "a")
	v.SetDefault("selectors.record_title", "a")
	v.SetDefault("selectors.pagination", "ul.pagination li")
	v.SetDefault("selectors.detail_row", "table.detail tr")
	v.SetDefault("selectors.detail_key", "th")
	v.SetDefault("selectors.detail_value", "td")
	v.SetDefault("crawl.list.concurrency", 4)
	v.SetDefault("crawl.list.retry_concurrency", 2)
	v.SetDefault("crawl.list.retry_limit", 3)
	v.SetDefault("crawl.list.retry_delay_seconds", 2)
	v.SetDefault("crawl.detail.concurrency", 6)
	v.SetDefault("crawl.detail.retry_concurrency", 2)
	v.SetDefault("crawl.detail.retry_limit", 2)
	v.SetDefault("crawl.detail.retry_delay_seconds", 1)
	v.SetDefault("crawl.skip_details", false)
	v.SetDefault("crawl.totals_ttl_minutes", 10)
	v.SetDefault("crawl.summary_topic", "crawl-summaries")
	v.SetDefault("crawl.progress_logging", true)
	v.SetDefault("gaps.max_concurrent_pages", 3)
	v.SetDefault("gaps.delay_between_pages_seconds", 1)
	v.SetDefault("gaps.prioritize_partial", true)
	v.SetDefault("rate_limit.requests_per_second", 2.0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("db.table", "catalog_records")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is required")
	}
	if c.Site.ListURLTemplate == "" {
		return fmt.Errorf("site.list_url_template is required")
	}
	if strings.Count(c.Site.ListURLTemplate, "%d") != 1 {
		return fmt.Errorf("site.list_url_template must contain exactly one %%d placeholder")
	}
	if c.Site.PageSize <= 0 {
		return fmt.Errorf("site.page_size must be > 0")
	}
	if c.Site.TimeoutSeconds <= 0 {
		return fmt.Errorf("site.timeout_seconds must be > 0")
	}
	if c.Crawl.List.Concurrency <= 0 {
		return fmt.Errorf("crawl.list.concurrency must be > 0")
	}
	if c.Crawl.Detail.Concurrency <= 0 {
		return fmt.Errorf("crawl.detail.concurrency must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.PubSub.ProjectID != "" && c.Crawl.SummaryTopic == "" {
		return fmt.Errorf("crawl.summary_topic must be set when pubsub.project_id is set")
	}
	return nil
}

// TotalsTTL converts the configured cache window into a duration.
func (c Config) TotalsTTL() time.Duration {
	return time.Duration(c.Crawl.TotalsTTLMin) * time.Minute
}

// SiteTimeout converts the HTTP timeout config into a duration.
func (c Config) SiteTimeout() time.Duration {
	return time.Duration(c.Site.TimeoutSeconds) * time.Second
}
