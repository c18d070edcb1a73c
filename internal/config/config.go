// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultPageURLTemplate is the judge's problem page.
const DefaultPageURLTemplate = "http://ybt.ssoier.cn:8088/problem_show.php?pid=%d"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Images     ImagesConfig     `mapstructure:"images"`
	Output     OutputConfig     `mapstructure:"output"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	SQL        SQLConfig        `mapstructure:"sql"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CrawlerConfig governs the worker pool and the target site.
type CrawlerConfig struct {
	PageURLTemplate string  `mapstructure:"page_url_template"`
	UserAgent       string  `mapstructure:"user_agent"`
	RespectRobots   bool    `mapstructure:"respect_robots"`
	Workers         int     `mapstructure:"workers"`
	RateSeconds     float64 `mapstructure:"rate"`
}

// RateDelay is the per-worker pacing interval in concurrent mode.
func (c CrawlerConfig) RateDelay() time.Duration {
	return time.Duration(c.RateSeconds * float64(time.Second))
}

// HTTPConfig configures request timeouts and retry behavior.
type HTTPConfig struct {
	PageTimeout  time.Duration `mapstructure:"page_timeout"`
	AssetTimeout time.Duration `mapstructure:"asset_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	HostRPS      float64       `mapstructure:"host_rps"`
	HostBurst    int           `mapstructure:"host_burst"`
}

// ImagesConfig controls image localization.
type ImagesConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Dir          string `mapstructure:"dir"`
	PublicPrefix string `mapstructure:"public_prefix"`
}

// OutputConfig sets where checkpoint, SQL and sample files go.
type OutputConfig struct {
	Dir     string `mapstructure:"dir"`
	DataDir string `mapstructure:"data_dir"`
}

// CheckpointConfig controls periodic checkpoint flushes.
type CheckpointConfig struct {
	FlushEvery int `mapstructure:"flush_every"`
}

// SQLConfig controls the generated MySQL script.
type SQLConfig struct {
	Database    string `mapstructure:"database"`
	Source      string `mapstructure:"source"`
	CreateTable bool   `mapstructure:"create_table"`
}

// MetricsConfig enables the operator HTTP endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig mirrors images to a GCS bucket when GCSBucket is set.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// DBConfig mirrors records into Postgres when DSN is set.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig publishes record events when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// flagKeys maps CLI flags onto configuration keys. Flags only override
// configuration when the user sets them explicitly.
var flagKeys = map[string]string{
	"rate":         "crawler.rate",
	"output-dir":   "output.dir",
	"metrics-addr": "metrics.addr",
	"user-agent":   "crawler.user_agent",
}

// Load builds a Config from defaults, an optional file, CRAWLER_* environment
// variables and, when flags is non-nil, the command line.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
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

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
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
	v.SetDefault("crawler.page_url_template", DefaultPageURLTemplate)
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.workers", 3)
	v.SetDefault("crawler.rate", 0.5)
	v.SetDefault("http.page_timeout", 10*time.Second)
	v.SetDefault("http.asset_timeout", 15*time.Second)
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.base_delay", 600*time.Millisecond)
	v.SetDefault("http.max_delay", 10*time.Second)
	v.SetDefault("http.host_rps", 0)
	v.SetDefault("http.host_burst", 1)
	v.SetDefault("images.enabled", true)
	v.SetDefault("images.dir", "image")
	v.SetDefault("images.public_prefix", "/upload/image")
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.data_dir", "data")
	v.SetDefault("checkpoint.flush_every", 25)
	v.SetDefault("sql.database", "jol")
	v.SetDefault("sql.source", "信息学奥赛一本通（C++版）在线评测系统")
	v.SetDefault("sql.create_table", true)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "images")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "problem_records")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "crawler.log")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !strings.Contains(c.Crawler.PageURLTemplate, "%d") {
		return fmt.Errorf("crawler.page_url_template must contain %%d")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.RateSeconds < 0 {
		return fmt.Errorf("crawler.rate must be >= 0")
	}
	if c.HTTP.PageTimeout <= 0 || c.HTTP.AssetTimeout <= 0 {
		return fmt.Errorf("http.page_timeout and http.asset_timeout must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.HostRPS < 0 {
		return fmt.Errorf("http.host_rps must be >= 0")
	}
	if c.Images.Enabled && c.Images.Dir == "" {
		return fmt.Errorf("images.dir must be set when images are enabled")
	}
	if c.Output.DataDir == "" {
		return fmt.Errorf("output.data_dir must be set")
	}
	if c.SQL.Database == "" {
		return fmt.Errorf("sql.database must be set")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// PublishEnabled reports whether record events go to Pub/Sub.
func (c Config) PublishEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.TopicName != ""
}
