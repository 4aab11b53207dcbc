package ai

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
)

// redisCacheClient wraps an EmbeddingClient with a shared Redis cache so that
// multiple replicas reuse each other's vectors. Cache failures are logged and
// otherwise ignored; the provider remains the source of truth.
type redisCacheClient struct {
	base  domain.EmbeddingClient
	rdb   redis.UniversalClient
	model string
	ttl   time.Duration
}

// NewRedisCache wraps base with a Redis-backed embedding cache. If rdb is nil,
// base is returned unmodified.
func NewRedisCache(base domain.EmbeddingClient, rdb redis.UniversalClient, model string, ttl time.Duration) domain.EmbeddingClient {
	if rdb == nil || base == nil {
		return base
	}
	return &redisCacheClient{base: base, rdb: rdb, model: model, ttl: ttl}
}

func (c *redisCacheClient) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	res := make([][]float32, len(texts))
	missIdx := make([]int, 0)
	missTexts := make([]string, 0)
	for i, t := range texts {
		raw, err := c.rdb.Get(ctx, c.key(t)).Bytes()
		if err == nil {
			var v []float32
			if json.Unmarshal(raw, &v) == nil && len(v) > 0 {
				res[i] = v
				continue
			}
		} else if err != redis.Nil {
			slog.Debug("embed cache read failed", slog.Any("error", err))
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missIdx) > 0 {
		vecs, err := c.base.Embed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, idx := range missIdx {
			res[idx] = vecs[j]
			if raw, err := json.Marshal(vecs[j]); err == nil {
				if err := c.rdb.Set(ctx, c.key(missTexts[j]), raw, c.ttl).Err(); err != nil {
					slog.Debug("embed cache write failed", slog.Any("error", err))
				}
			}
		}
	}
	return res, nil
}

func (c *redisCacheClient) key(text string) string {
	return "embed:" + c.model + ":" + keyFor(text)
}
