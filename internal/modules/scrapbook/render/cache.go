package render

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/allocate"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

// ArtifactStore holds rendered album archives keyed by content key.
type ArtifactStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
}

// MemoryArtifactStore is the in-process ArtifactStore.
type MemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string][]byte
}

func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{artifacts: map[string][]byte{}}
}

func (m *MemoryArtifactStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.artifacts[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *MemoryArtifactStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[key] = append([]byte(nil), data...)
	return nil
}

// Cache wraps a Composer so that identical content renders once.
// Concurrent requests for one key share a single in-flight render.
type Cache struct {
	log      *logger.Logger
	store    ArtifactStore
	composer Composer
	group    singleflight.Group
}

func NewCache(log *logger.Logger, store ArtifactStore, composer Composer) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact store required")
	}
	if composer == nil {
		return nil, fmt.Errorf("composer required")
	}
	return &Cache{
		log:      log.With("service", "RenderCache"),
		store:    store,
		composer: composer,
	}, nil
}

// Result reports the archive and whether it was served from cache.
type Result struct {
	Key    string
	Data   []byte
	Cached bool
}

// Render returns the album for the given curated state, building it
// only when no artifact exists for its content key.
func (c *Cache) Render(ctx context.Context, cls domain.Classification, summary, styleName string, style Style, keyFor allocate.KeyFunc) (*Result, error) {
	key := ContentKey(cls, styleName, keyFor)

	if data, ok, err := c.store.Get(ctx, key); err != nil {
		c.log.Warn("artifact store read failed", "key", key, "error", err)
	} else if ok {
		return &Result{Key: key, Data: data, Cached: true}, nil
	}

	built := false
	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent winner may have stored the artifact between the
		// miss above and this callback.
		if data, ok, err := c.store.Get(ctx, key); err == nil && ok {
			return data, nil
		}
		data, err := c.composer.Compose(ctx, cls, summary, style)
		if err != nil {
			return nil, err
		}
		if err := c.store.Put(ctx, key, data); err != nil {
			c.log.Warn("artifact store write failed", "key", key, "error", err)
		}
		built = true
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Key: key, Data: v.([]byte), Cached: !built}, nil
}
