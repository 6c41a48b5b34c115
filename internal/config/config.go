// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Triage   TriageConfig   `mapstructure:"triage"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlConfig governs page fetching.
type CrawlConfig struct {
	UserAgent          string `mapstructure:"user_agent"`
	DelaySeconds       int    `mapstructure:"delay_seconds"`
	PageTimeoutSeconds int    `mapstructure:"page_timeout_seconds"`
	MapLimit           int    `mapstructure:"map_limit"`
	ContinueOnError    bool   `mapstructure:"continue_on_error"`
}

// TriageConfig governs page selection.
type TriageConfig struct {
	MaxPages        int `mapstructure:"max_pages"`
	CharBudget      int `mapstructure:"char_budget"`
	MinLLMSelection int `mapstructure:"min_llm_selection"`
	AuthCap         int `mapstructure:"auth_cap"`
}

// LLMConfig configures the language-model collaborator.
type LLMConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// HeadlessConfig configures the rendered-fetch fallback.
type HeadlessConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
	MinContentBytes   int  `mapstructure:"min_content_bytes"`
}

// JobsConfig governs admission, caching and the worker pool.
type JobsConfig struct {
	Workers            int `mapstructure:"workers"`
	QueueDepth         int `mapstructure:"queue_depth"`
	MinCachedEndpoints int `mapstructure:"min_cached_endpoints"`
	StaleAfterMinutes  int `mapstructure:"stale_after_minutes"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// job store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// StorageConfig selects the corpus cache backend. An empty bucket selects the
// in-memory store.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion notifications. An empty project
// selects the in-memory publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Environment variables use the
// DOCPIPE_ prefix with underscores, e.g. DOCPIPE_SERVER_PORT.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCPIPE")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawl.user_agent", "docpipe-bot/0.1")
	v.SetDefault("crawl.delay_seconds", 1)
	v.SetDefault("crawl.page_timeout_seconds", 30)
	v.SetDefault("crawl.map_limit", 200)
	v.SetDefault("crawl.continue_on_error", true)
	v.SetDefault("triage.max_pages", 20)
	v.SetDefault("triage.char_budget", 24000)
	v.SetDefault("triage.min_llm_selection", 3)
	v.SetDefault("triage.auth_cap", 3)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 16000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.min_content_bytes", 512)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.min_cached_endpoints", 1)
	v.SetDefault("jobs.stale_after_minutes", 60)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "jobs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "corpora")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.page_timeout_seconds must be > 0")
	}
	if c.Triage.MaxPages <= 0 {
		return fmt.Errorf("triage.max_pages must be > 0")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// CrawlDelay returns the inter-request delay as a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawl.DelaySeconds) * time.Second
}

// PageTimeout returns the per-fetch timeout as a duration.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Crawl.PageTimeoutSeconds) * time.Second
}

// StaleAfter returns the stale-job cutoff as a duration.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Jobs.StaleAfterMinutes) * time.Minute
}
