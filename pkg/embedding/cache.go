package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheConfig configures the Redis embedding cache.
type CacheConfig struct {
	// Prefix namespaces cache keys; the model name is appended.
	Prefix string
	// Model separates vectors of different embedding models.
	Model string
	// TTL is the key lifetime; zero keeps entries forever.
	TTL time.Duration
}

// Cached stores vectors in Redis keyed by model and text digest, so repeated
// registrations and searches do not call the embedding service again.
// Cache failures are logged and the call falls through to the wrapped
// embedder.
type Cached struct {
	next   Embedder
	client redis.UniversalClient
	cfg    CacheConfig
	logger *slog.Logger
}

// NewCached wraps next with a Redis cache.
func NewCached(next Embedder, client redis.UniversalClient, cfg CacheConfig) *Cached {
	if cfg.Prefix == "" {
		cfg.Prefix = "agentreg:embedding"
	}
	return &Cached{
		next:   next,
		client: client,
		cfg:    cfg,
		logger: slog.Default().With(slog.String("component", "embedding.cache")),
	}
}

// Embed implements Embedder.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float32
		if jerr := json.Unmarshal(raw, &vec); jerr == nil {
			return vec, nil
		}
		c.logger.Warn("embedding.cache.corrupt", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("embedding.cache.get.error", slog.String("key", key), slog.String("error", err.Error()))
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(vec)
	if err == nil {
		if serr := c.client.Set(ctx, key, data, c.cfg.TTL).Err(); serr != nil {
			c.logger.Warn("embedding.cache.set.error", slog.String("key", key), slog.String("error", serr.Error()))
		}
	}
	return vec, nil
}

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.cfg.Prefix + ":" + c.cfg.Model + ":" + hex.EncodeToString(sum[:])
}
