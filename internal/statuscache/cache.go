// Package statuscache keeps a read-through Redis snapshot of saga records for
// the polling surface. SQLite stays authoritative; the cache only absorbs
// status-poll traffic, so every Redis failure degrades to a store read.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sketchtocad/sagaflow/internal/store"
	"github.com/sketchtocad/sagaflow/logs"
	"github.com/sketchtocad/sagaflow/types"
)

const DefaultTTL = 30 * time.Minute

type Cache struct {
	rdb    *redis.Client
	store  *store.Store
	ttl    time.Duration
	logger logs.Logger
}

// New returns a cache over rdb. rdb may be nil, in which case every read goes
// straight to the store and writes are dropped.
func New(rdb *redis.Client, st *store.Store, ttl time.Duration, logger logs.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, store: st, ttl: ttl, logger: logger}
}

func key(sagaID string) string {
	return fmt.Sprintf("saga:%s", sagaID)
}

// Get returns the saga, serving from Redis when fresh and falling back to the
// store (and repopulating) on miss or Redis error. Store errors, including
// store.ErrSagaNotFound, pass through unchanged.
func (c *Cache) Get(ctx context.Context, sagaID string) (*types.Saga, error) {
	if c.rdb != nil {
		val, err := c.rdb.Get(ctx, key(sagaID)).Result()
		switch {
		case err == nil:
			var saga types.Saga
			if err := json.Unmarshal([]byte(val), &saga); err == nil {
				return &saga, nil
			}
			c.logger.Warn(ctx, "status_cache_corrupt_entry", "saga_id", sagaID)
		case errors.Is(err, redis.Nil):
			// miss
		default:
			c.logger.Warn(ctx, "status_cache_read_failed", "saga_id", sagaID, "error", err)
		}
	}

	saga, err := c.store.GetSaga(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	c.put(ctx, saga)
	return saga, nil
}

// Refresh re-reads the saga from the store and overwrites the cached entry.
// Called after every orchestrator mutation; failures are logged and dropped.
func (c *Cache) Refresh(ctx context.Context, sagaID string) {
	if c.rdb == nil {
		return
	}
	saga, err := c.store.GetSaga(ctx, sagaID)
	if err != nil {
		c.logger.Warn(ctx, "status_cache_refresh_failed", "saga_id", sagaID, "error", err)
		return
	}
	c.put(ctx, saga)
}

// Invalidate drops the cached entry.
func (c *Cache) Invalidate(ctx context.Context, sagaID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, key(sagaID)).Err(); err != nil {
		c.logger.Warn(ctx, "status_cache_invalidate_failed", "saga_id", sagaID, "error", err)
	}
}

func (c *Cache) put(ctx context.Context, saga *types.Saga) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(saga)
	if err != nil {
		c.logger.Warn(ctx, "status_cache_marshal_failed", "saga_id", saga.ID, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key(saga.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn(ctx, "status_cache_write_failed", "saga_id", saga.ID, "error", err)
	}
}
