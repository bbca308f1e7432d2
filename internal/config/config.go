// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	DB       DBConfig       `mapstructure:"db"`
	Frontier FrontierConfig `mapstructure:"frontier"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Ops      OpsConfig      `mapstructure:"ops"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlerConfig governs the crawl pipeline.
type CrawlerConfig struct {
	Seeds          []string      `mapstructure:"seeds"`
	Concurrency    int           `mapstructure:"concurrency"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	// DomainFilter, when set, confines the crawl to normalized URLs
	// matching this regular expression.
	DomainFilter string `mapstructure:"domain_filter"`
	// MaxPages bounds the number of claims per run; 0 means unbounded.
	MaxPages int `mapstructure:"max_pages"`
	// BreakerThreshold is the number of consecutive store failures
	// tolerated before the run aborts.
	BreakerThreshold int `mapstructure:"breaker_threshold"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// FrontierConfig selects and tunes the frontier backend.
type FrontierConfig struct {
	// Backend is "memory" or "redis".
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds connection settings for the redis frontier.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"`
}

// ArchiveConfig controls optional raw-page archiving.
type ArchiveConfig struct {
	// Backend is "none", "local", "gcs", or "memory".
	Backend     string `mapstructure:"backend"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for optional result event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// OpsConfig controls the health/metrics HTTP listener.
type OpsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
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
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "linkcrawler/0.1 (+https://github.com/webgraph/linkcrawler)")
	v.SetDefault("crawler.request_timeout", "15s")
	v.SetDefault("crawler.max_body_bytes", 5*1024*1024)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.breaker_threshold", 5)
	v.SetDefault("frontier.backend", "memory")
	v.SetDefault("frontier.redis.namespace", "linkcrawler")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.BreakerThreshold <= 0 {
		return fmt.Errorf("crawler.breaker_threshold must be > 0")
	}
	if c.Crawler.DomainFilter != "" {
		if _, err := regexp.Compile(c.Crawler.DomainFilter); err != nil {
			return fmt.Errorf("crawler.domain_filter: %w", err)
		}
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	switch c.Frontier.Backend {
	case "memory":
	case "redis":
		if c.Frontier.Redis.Addr == "" {
			return fmt.Errorf("frontier.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown frontier backend %q", c.Frontier.Backend)
	}
	switch c.Archive.Backend {
	case "none", "memory":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs backend")
		}
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir is required for the local backend")
		}
	default:
		return fmt.Errorf("unknown archive backend %q", c.Archive.Backend)
	}
	if c.Ops.Enabled && c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0 when ops is enabled")
	}
	return nil
}
