// Package config loads and validates the tool configuration from a YAML file
// with environment-variable overrides. It provides typed structs for every
// subsystem (n-gram orders, pipeline, cache, baseline, comparison, report
// sinks and their backing services).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	StrategyPrivate = "private"
	StrategyShared  = "shared"
)

// Config is the top-level configuration.
type Config struct {
	Ngram    NgramConfig    `yaml:"ngram"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Cache    CacheConfig    `yaml:"cache"`
	Baseline BaselineConfig `yaml:"baseline"`
	Compare  CompareConfig  `yaml:"compare"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Output   OutputConfig   `yaml:"output"`
	Report   ReportConfig   `yaml:"report"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// NgramConfig controls the n-gram orders counted and reference tracking.
type NgramConfig struct {
	MaxN      int  `yaml:"maxN"`
	TrackRefs bool `yaml:"trackRefs"`
}

// PipelineConfig sizes the ingestion worker pool and its queue.
type PipelineConfig struct {
	Workers          int     `yaml:"workers"`
	QueueSize        int     `yaml:"queueSize"`
	Strategy         string  `yaml:"strategy"`
	GarbageThreshold float64 `yaml:"garbageThreshold"`
}

// CacheConfig controls the per-document trie cache.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"maxEntries"`
	KeepText   bool `yaml:"keepText"`
}

// BaselineConfig locates the reference distribution.
type BaselineConfig struct {
	Path      string `yaml:"path"`
	Limit     int    `yaml:"limit"`
	BookCount int    `yaml:"bookCount"`
}

// CompareConfig controls the pairwise comparison run.
type CompareConfig struct {
	Workers  int  `yaml:"workers"`
	SkipSelf bool `yaml:"skipSelf"`
	TopK     int  `yaml:"topK"`
	Verbose  bool `yaml:"verbose"`
}

// CorpusConfig locates the documents.
type CorpusConfig struct {
	Root string `yaml:"root"`
}

// OutputConfig controls where an aggregate trie is written.
type OutputConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

// ReportConfig selects the similarity report sinks.
type ReportConfig struct {
	Path       string `yaml:"path"`
	Postgres   bool   `yaml:"postgres"`
	Kafka      bool   `yaml:"kafka"`
	ScoreCache bool   `yaml:"scoreCache"`
	BufferSize int    `yaml:"bufferSize"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	BatchSize       int           `yaml:"batchSize"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	ReportsTopic string   `yaml:"reportsTopic"`
}

// RedisConfig holds Redis connection and memo parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	ScoreTTL time.Duration `yaml:"scoreTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns a Config suitable for a single-machine run.
func Default() *Config {
	return &Config{
		Ngram: NgramConfig{
			MaxN: 4,
		},
		Pipeline: PipelineConfig{
			Workers:          1,
			QueueSize:        64,
			Strategy:         StrategyPrivate,
			GarbageThreshold: 0.05,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 1024,
		},
		Compare: CompareConfig{
			Workers:  4,
			SkipSelf: true,
		},
		Output: OutputConfig{
			Path:   "baseline.txt",
			Format: "txt",
		},
		Report: ReportConfig{
			BufferSize: 1024,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "ngrams",
			User:            "ngrams",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			BatchSize:       500,
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			ReportsTopic: "similarity-reports",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			ScoreTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Validate checks the values every command depends on. It runs before any
// document is touched.
func (c *Config) Validate() error {
	if c.Ngram.MaxN <= 0 {
		return &apperrors.ConfigError{Field: "ngram.maxN", Message: fmt.Sprintf("must be positive, got %d", c.Ngram.MaxN)}
	}
	if c.Pipeline.Workers <= 0 {
		return &apperrors.ConfigError{Field: "pipeline.workers", Message: fmt.Sprintf("must be positive, got %d", c.Pipeline.Workers)}
	}
	if c.Pipeline.QueueSize < 0 {
		return &apperrors.ConfigError{Field: "pipeline.queueSize", Message: "must not be negative"}
	}
	switch c.Pipeline.Strategy {
	case StrategyPrivate, StrategyShared:
	default:
		return &apperrors.ConfigError{Field: "pipeline.strategy", Message: fmt.Sprintf("unknown strategy %q", c.Pipeline.Strategy)}
	}
	if c.Compare.Workers <= 0 {
		return &apperrors.ConfigError{Field: "compare.workers", Message: fmt.Sprintf("must be positive, got %d", c.Compare.Workers)}
	}
	if c.Baseline.Limit < 0 {
		return &apperrors.ConfigError{Field: "baseline.limit", Message: "must not be negative"}
	}
	switch c.Output.Format {
	case "txt", "json", "ngd":
	default:
		return &apperrors.ConfigError{Field: "output.format", Message: fmt.Sprintf("unknown format %q", c.Output.Format)}
	}
	return nil
}

// applyEnvOverrides reads NG_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NG_MAX_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ngram.MaxN = n
		}
	}
	if v := os.Getenv("NG_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("NG_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.Enabled = b
		}
	}
	if v := os.Getenv("NG_CORPUS_ROOT"); v != "" {
		cfg.Corpus.Root = v
	}
	if v := os.Getenv("NG_BASELINE_PATH"); v != "" {
		cfg.Baseline.Path = v
	}
	if v := os.Getenv("NG_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("NG_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("NG_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("NG_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("NG_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("NG_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("NG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NG_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NG_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NG_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
