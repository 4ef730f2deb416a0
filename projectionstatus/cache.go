package projectionstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"evtcore.dev/common"
)

// CachedCoordinator wraps a Coordinator with a Redis-backed read-through
// cache on GetStatus, invalidating the cached entry after each per-record
// call that mutates it (StartRebuild, StartCatchUp, MarkReady,
// CompleteRebuild, CancelRebuild, Disable, Enable). RecoverStuckRebuilds
// passes straight through to the wrapped Coordinator and invalidates
// nothing, so a record it moves to Failed can be served from the cache
// until that entry's TTL expires. Modeled on the teacher's
// RedisRepository cache operations.
type CachedCoordinator struct {
	Coordinator
	client *redis.Client
	ttl    time.Duration
	log    *common.ContextLogger
}

// NewCachedCoordinator wraps inner with a Redis cache reachable at url,
// caching GetStatus results for ttl.
func NewCachedCoordinator(inner Coordinator, url string, ttl time.Duration) (*CachedCoordinator, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &CachedCoordinator{
		Coordinator: inner,
		client:      redis.NewClient(opts),
		ttl:         ttl,
		log:         common.NewContextLogger(common.Logger, map[string]interface{}{"component": "projectionstatus.CachedCoordinator"}),
	}, nil
}

// NewCachedCoordinatorWithClient wraps inner with an already-constructed
// redis.Client, for tests driven against miniredis.
func NewCachedCoordinatorWithClient(inner Coordinator, client *redis.Client, ttl time.Duration) *CachedCoordinator {
	return &CachedCoordinator{
		Coordinator: inner,
		client:      client,
		ttl:         ttl,
		log:         common.NewContextLogger(common.Logger, map[string]interface{}{"component": "projectionstatus.CachedCoordinator"}),
	}
}

func cacheKey(projectionName, objectID string) string {
	return "projectionstatus:" + projectionName + ":" + objectID
}

// GetStatus serves from cache on a hit; on a miss (or a cache error, which
// is logged and treated as a miss) it falls through to the wrapped
// Coordinator and populates the cache.
func (c *CachedCoordinator) GetStatus(ctx context.Context, projectionName, objectID string) (Record, error) {
	key := cacheKey(projectionName, objectID)
	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var rec Record
		if jerr := json.Unmarshal(data, &rec); jerr == nil {
			return rec, nil
		}
	} else if err != redis.Nil {
		c.log.WithField("error", err).Warn("projection status cache read failed, falling through")
	}

	rec, err := c.Coordinator.GetStatus(ctx, projectionName, objectID)
	if err != nil {
		return Record{}, err
	}
	if data, merr := json.Marshal(rec); merr == nil {
		if serr := c.client.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.log.WithField("error", serr).Warn("projection status cache write failed")
		}
	}
	return rec, nil
}

func (c *CachedCoordinator) invalidate(ctx context.Context, projectionName, objectID string) {
	if err := c.client.Del(ctx, cacheKey(projectionName, objectID)).Err(); err != nil {
		c.log.WithField("error", err).Warn("projection status cache invalidation failed")
	}
}

func (c *CachedCoordinator) StartRebuild(ctx context.Context, projectionName, objectID, strategy string, timeout time.Duration) (RebuildToken, error) {
	token, err := c.Coordinator.StartRebuild(ctx, projectionName, objectID, strategy, timeout)
	c.invalidate(ctx, projectionName, objectID)
	return token, err
}

func (c *CachedCoordinator) StartCatchUp(ctx context.Context, projectionName, objectID string, token RebuildToken) error {
	err := c.Coordinator.StartCatchUp(ctx, projectionName, objectID, token)
	c.invalidate(ctx, projectionName, objectID)
	return err
}

func (c *CachedCoordinator) MarkReady(ctx context.Context, projectionName, objectID string, token RebuildToken) error {
	err := c.Coordinator.MarkReady(ctx, projectionName, objectID, token)
	c.invalidate(ctx, projectionName, objectID)
	return err
}

func (c *CachedCoordinator) CompleteRebuild(ctx context.Context, projectionName, objectID string, token RebuildToken) error {
	err := c.Coordinator.CompleteRebuild(ctx, projectionName, objectID, token)
	c.invalidate(ctx, projectionName, objectID)
	return err
}

func (c *CachedCoordinator) CancelRebuild(ctx context.Context, projectionName, objectID string, token RebuildToken, rebuildErr string) error {
	err := c.Coordinator.CancelRebuild(ctx, projectionName, objectID, token, rebuildErr)
	c.invalidate(ctx, projectionName, objectID)
	return err
}

func (c *CachedCoordinator) Disable(ctx context.Context, projectionName, objectID string) error {
	err := c.Coordinator.Disable(ctx, projectionName, objectID)
	c.invalidate(ctx, projectionName, objectID)
	return err
}

func (c *CachedCoordinator) Enable(ctx context.Context, projectionName, objectID string) error {
	err := c.Coordinator.Enable(ctx, projectionName, objectID)
	c.invalidate(ctx, projectionName, objectID)
	return err
}

var _ Coordinator = (*CachedCoordinator)(nil)
