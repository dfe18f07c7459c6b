package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

// ArtifactCache holds rendered album archives in redis, keyed by
// content key. Archives are immutable for a given key, so TTL-based
// eviction is the only invalidation needed.
type ArtifactCache struct {
	log *logger.Logger
	rdb *redis.Client
	ttl time.Duration
}

func NewArtifactCache(log *logger.Logger, rdb *redis.Client) *ArtifactCache {
	return &ArtifactCache{
		log: log.With("service", "RedisArtifactCache"),
		rdb: rdb,
		ttl: ttlFromEnv("ARTIFACT_TTL_SECONDS", time.Hour),
	}
}

func artifactKey(key string) string { return "scrapbook:artifact:" + key }

func (a *ArtifactCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := a.rdb.Get(ctx, artifactKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read artifact %s: %w", key, err)
	}
	return raw, true, nil
}

func (a *ArtifactCache) Put(ctx context.Context, key string, data []byte) error {
	if err := a.rdb.Set(ctx, artifactKey(key), data, a.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store artifact %s: %w", key, err)
	}
	return nil
}
