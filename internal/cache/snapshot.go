// Package cache keeps board snapshots in Redis between mutations.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
)

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "grid",
	Subsystem: "snapshot_cache",
	Name:      "lookups_total",
	Help:      "Snapshot cache lookups by result (hit, miss, error).",
}, []string{"result"})

// Loader reads a snapshot from the store.
type Loader interface {
	GetBoardSnapshot(ctx context.Context, boardID int64) (grid.Snapshot, error)
}

type SnapshotCache struct {
	client *redis.Client
	loader Loader
	ttl    time.Duration
	prefix string
	group  singleflight.Group
	log    *log.Entry
}

func NewSnapshotCache(client *redis.Client, loader Loader, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SnapshotCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		prefix: "grid:snapshot:",
		log:    log.WithField("component", "snapshot_cache"),
	}
}

func (c *SnapshotCache) key(boardID int64) string {
	return c.prefix + strconv.FormatInt(boardID, 10)
}

// Get serves the snapshot from Redis, loading and storing it on a miss.
// Concurrent misses for one board share a single load. Redis failures
// fall through to the loader.
func (c *SnapshotCache) Get(ctx context.Context, boardID int64) (grid.Snapshot, error) {
	key := c.key(boardID)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var s grid.Snapshot
		if err := json.Unmarshal(raw, &s); err == nil {
			lookups.WithLabelValues("hit").Inc()
			return s, nil
		}
		c.log.WithField("board_id", boardID).Warn("discarding undecodable snapshot")
	case errors.Is(err, redis.Nil):
	default:
		lookups.WithLabelValues("error").Inc()
		c.log.WithField("board_id", boardID).WithError(err).Warn("snapshot cache read failed")
	}
	lookups.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		s, err := c.loader.GetBoardSnapshot(ctx, boardID)
		if err != nil {
			return grid.Snapshot{}, err
		}
		payload, err := json.Marshal(s)
		if err != nil {
			return grid.Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
		}
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.log.WithField("board_id", boardID).WithError(err).Warn("snapshot cache write failed")
		}
		return s, nil
	})
	if err != nil {
		return grid.Snapshot{}, err
	}
	return v.(grid.Snapshot), nil
}

// Evict drops the cached snapshots of the given boards.
func (c *SnapshotCache) Evict(ctx context.Context, boardIDs ...int64) error {
	if len(boardIDs) == 0 {
		return nil
	}
	keys := make([]string, len(boardIDs))
	for i, id := range boardIDs {
		keys[i] = c.key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("evict snapshots: %w", err)
	}
	return nil
}

// Hook evicts every board a committed mutation touched.
func (c *SnapshotCache) Hook() grid.CommitHook {
	return func(ctx context.Context, cs grid.Changeset) {
		ids := append(append([]int64{}, cs.Boards...), cs.DeletedBoards...)
		if err := c.Evict(ctx, ids...); err != nil {
			c.log.WithField("op", cs.Op).WithError(err).Warn("snapshot eviction failed")
		}
	}
}
