package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ngrams.yaml")
	data := []byte("ngram:\n  maxN: 3\npipeline:\n  workers: 6\n  strategy: shared\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Ngram.MaxN)
	assert.Equal(t, 6, cfg.Pipeline.Workers)
	assert.Equal(t, StrategyShared, cfg.Pipeline.Strategy)
	assert.Equal(t, 64, cfg.Pipeline.QueueSize)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NG_MAX_N", "2")
	t.Setenv("NG_KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("NG_CACHE_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Ngram.MaxN)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Cache.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero order", func(c *Config) { c.Ngram.MaxN = 0 }, "ngram.maxN"},
		{"negative order", func(c *Config) { c.Ngram.MaxN = -1 }, "ngram.maxN"},
		{"no workers", func(c *Config) { c.Pipeline.Workers = 0 }, "pipeline.workers"},
		{"bad strategy", func(c *Config) { c.Pipeline.Strategy = "sharded" }, "pipeline.strategy"},
		{"bad format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"negative limit", func(c *Config) { c.Baseline.Limit = -5 }, "baseline.limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
			var cfgErr *apperrors.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := Default()
	assert.Equal(t,
		"host=localhost port=5432 user=ngrams password=localdev dbname=ngrams sslmode=disable",
		cfg.Postgres.DSN(),
	)
}
