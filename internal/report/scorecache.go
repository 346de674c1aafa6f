package report

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/redis"
)

const scoreKeyPrefix = "sim:"

// KV is the part of redis.Client the score cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// ScoreCache remembers pair scores in Redis so a repeated comparison over
// the same documents and baseline skips the scoring walk. Backend failures
// are logged and treated as misses.
type ScoreCache struct {
	kv     KV
	ttl    time.Duration
	scope  string
	logger *slog.Logger
}

// NewScoreCache scopes keys by scope, which names the baseline the scores
// were computed against, so scores from a different baseline never match.
func NewScoreCache(kv KV, scope string, ttl time.Duration, logger *slog.Logger) *ScoreCache {
	return &ScoreCache{
		kv:     kv,
		ttl:    ttl,
		scope:  scope,
		logger: logger.With("component", "score-cache"),
	}
}

// prefix is shared by every key of this scope.
func (c *ScoreCache) prefix() string {
	if c.scope == "" {
		return scoreKeyPrefix
	}
	return scoreKeyPrefix + c.scope + "|"
}

// Key returns the Redis key for a directed pair.
func (c *ScoreCache) Key(x, y string, maxN int) string {
	var b strings.Builder
	b.WriteString(c.prefix())
	b.WriteString(x)
	b.WriteByte('|')
	b.WriteString(y)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(maxN))
	return b.String()
}

func (c *ScoreCache) Lookup(ctx context.Context, x, y string, maxN int) (float64, float64, bool) {
	key := c.Key(x, y, maxN)
	val, err := c.kv.Get(ctx, key)
	if err != nil {
		if !redis.IsNilError(err) {
			c.logger.Warn("score lookup failed", "key", key, "error", err)
		}
		return 0, 0, false
	}
	raw, score, err := parseScore(val)
	if err != nil {
		c.logger.Warn("discarding unreadable cached score", "key", key, "error", err)
		return 0, 0, false
	}
	return raw, score, true
}

func (c *ScoreCache) Store(ctx context.Context, x, y string, maxN int, raw, score float64) {
	key := c.Key(x, y, maxN)
	val := strconv.FormatFloat(raw, 'g', -1, 64) + " " + strconv.FormatFloat(score, 'g', -1, 64)
	if err := c.kv.Set(ctx, key, val, c.ttl); err != nil {
		c.logger.Warn("score store failed", "key", key, "error", err)
	}
}

type prefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// Forget deletes every score stored under this cache's scope.
func (c *ScoreCache) Forget(ctx context.Context) (int64, error) {
	d, ok := c.kv.(prefixDeleter)
	if !ok {
		return 0, fmt.Errorf("score cache backend %T cannot delete keys", c.kv)
	}
	n, err := d.DeletePrefix(ctx, c.prefix())
	if err != nil {
		return n, fmt.Errorf("forgetting scores for %q: %w", c.scope, err)
	}
	c.logger.Info("memoised scores forgotten", "scope", c.scope, "keys", n)
	return n, nil
}

func parseScore(val string) (float64, float64, error) {
	rawStr, scoreStr, ok := strings.Cut(val, " ")
	if !ok {
		return 0, 0, fmt.Errorf("expected two fields, got %q", val)
	}
	raw, err := strconv.ParseFloat(rawStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing raw sum: %w", err)
	}
	score, err := strconv.ParseFloat(scoreStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing score: %w", err)
	}
	return raw, score, nil
}
