// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fuzztriage/issue-harvester/internal/scraper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Scraper ScraperConfig  `mapstructure:"scraper"`
	Inputs  InputsConfig   `mapstructure:"inputs"`
	Output  OutputConfig   `mapstructure:"output"`
	Archive ArchiveConfig  `mapstructure:"archive"`
	Probe   ProbeConfig    `mapstructure:"probe"`
	Server  ServerConfig   `mapstructure:"server"`
	DB      DBConfig       `mapstructure:"db"`
	PubSub  PubSubConfig   `mapstructure:"pubsub"`
	Logging LoggingConfig  `mapstructure:"logging"`
	Filter  map[string]any `mapstructure:"rescrape"`
}

// ScraperConfig governs worker count, pacing and navigation budgets.
type ScraperConfig struct {
	Workers             int     `mapstructure:"workers"`
	SaveInterval        int     `mapstructure:"save_interval"`
	DelayMinMs          int     `mapstructure:"delay_min_ms"`
	DelayMaxMs          int     `mapstructure:"delay_max_ms"`
	IssueAttempts       int     `mapstructure:"issue_attempts"`
	SubPageAttempts     int     `mapstructure:"subpage_attempts"`
	IssueTimeoutSec     int     `mapstructure:"issue_timeout_seconds"`
	SubPageTimeoutSec   int     `mapstructure:"subpage_timeout_seconds"`
	TableTimeoutSec     int     `mapstructure:"table_timeout_seconds"`
	ThrottleCooldownSec int     `mapstructure:"throttle_cooldown_seconds"`
	NavTimeoutSec       int     `mapstructure:"nav_timeout_seconds"`
	QPS                 float64 `mapstructure:"qps"`
	UserAgent           string  `mapstructure:"user_agent"`
	LegacyIDThreshold   int64   `mapstructure:"legacy_id_threshold"`
	LegacyURLTemplate   string  `mapstructure:"legacy_url_template"`
	ModernURLTemplate   string  `mapstructure:"modern_url_template"`
}

// InputsConfig names the read-only inputs consumed at startup.
type InputsConfig struct {
	TargetIDsFile string `mapstructure:"target_ids_file"`
	MergedCSV     string `mapstructure:"merged_csv"`
}

// OutputConfig sets where batches and snapshots land.
type OutputConfig struct {
	ResultsDir string `mapstructure:"results_dir"`
	HTMLDir    string `mapstructure:"html_dir"`
}

// ArchiveConfig controls raw HTML snapshot archiving.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// ProbeConfig controls the pre-navigation availability probe.
type ProbeConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DBConfig controls the optional Postgres record mirror.
type DBConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// PubSubConfig holds metadata for batch-event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("scraper.workers", 8)
	v.SetDefault("scraper.save_interval", 50)
	v.SetDefault("scraper.delay_min_ms", 1000)
	v.SetDefault("scraper.delay_max_ms", 3000)
	v.SetDefault("scraper.issue_attempts", 5)
	v.SetDefault("scraper.subpage_attempts", 3)
	v.SetDefault("scraper.issue_timeout_seconds", 20)
	v.SetDefault("scraper.subpage_timeout_seconds", 15)
	v.SetDefault("scraper.table_timeout_seconds", 10)
	v.SetDefault("scraper.throttle_cooldown_seconds", 10)
	v.SetDefault("scraper.nav_timeout_seconds", 45)
	v.SetDefault("scraper.user_agent", "issue-harvester/0.1")
	v.SetDefault("output.results_dir", "scraping_results")
	v.SetDefault("output.html_dir", "html_results")
	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("probe.enabled", false)
	v.SetDefault("probe.timeout_seconds", 10)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.table", "issues")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scraper.Workers <= 0 {
		return fmt.Errorf("scraper.workers must be > 0")
	}
	if c.Scraper.SaveInterval <= 0 {
		return fmt.Errorf("scraper.save_interval must be > 0")
	}
	if c.Scraper.DelayMaxMs < c.Scraper.DelayMinMs {
		return fmt.Errorf("scraper.delay_max_ms must be >= scraper.delay_min_ms")
	}
	if c.Inputs.TargetIDsFile == "" {
		return fmt.Errorf("inputs.target_ids_file is required")
	}
	if c.Output.ResultsDir == "" {
		return fmt.Errorf("output.results_dir is required")
	}
	switch c.Archive.Backend {
	case "", "local", "gcs":
	default:
		return fmt.Errorf("archive.backend must be local or gcs")
	}
	if c.Archive.Enabled && c.Archive.Backend == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the status server is enabled")
	}
	return nil
}

// Trackers returns the configured issue-URL routing, defaulting to the
// production trackers.
func (c Config) Trackers() scraper.Trackers {
	trackers := scraper.DefaultTrackers()
	if c.Scraper.LegacyIDThreshold > 0 {
		trackers.Threshold = c.Scraper.LegacyIDThreshold
	}
	if c.Scraper.LegacyURLTemplate != "" {
		trackers.LegacyTemplate = c.Scraper.LegacyURLTemplate
	}
	if c.Scraper.ModernURLTemplate != "" {
		trackers.ModernTemplate = c.Scraper.ModernURLTemplate
	}
	return trackers
}

// NavigatorConfig converts the scraper section into navigation budgets.
func (c Config) NavigatorConfig() scraper.NavigatorConfig {
	return scraper.NavigatorConfig{
		IssueAttempts:    c.Scraper.IssueAttempts,
		SubPageAttempts:  c.Scraper.SubPageAttempts,
		IssueTimeout:     time.Duration(c.Scraper.IssueTimeoutSec) * time.Second,
		SubPageTimeout:   time.Duration(c.Scraper.SubPageTimeoutSec) * time.Second,
		ThrottleCooldown: time.Duration(c.Scraper.ThrottleCooldownSec) * time.Second,
		QPS:              c.Scraper.QPS,
	}
}

// DelayBounds returns the inter-issue politeness delay interval.
func (c Config) DelayBounds() (time.Duration, time.Duration) {
	return time.Duration(c.Scraper.DelayMinMs) * time.Millisecond,
		time.Duration(c.Scraper.DelayMaxMs) * time.Millisecond
}
