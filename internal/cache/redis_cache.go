// Package cache provides an optional Redis cache for a dashboard's linked
// library panels, sitting in front of the batched store read.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"panelbank/api/internal/store"
)

// DefaultTTL bounds how stale a cached panel set may get when an
// invalidation is missed (e.g. a panel edited through another instance).
const DefaultTTL = 30 * time.Second

// PanelCache caches GetLibraryPanelsForDashboard results keyed by dashboard ID.
type PanelCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates a Redis-backed panel cache.
func New(redisURL string) (*PanelCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient creates a cache from an existing Redis client.
func NewWithClient(client *redis.Client) *PanelCache {
	return &PanelCache{
		client: client,
		prefix: "linkedpanels:",
		ttl:    DefaultTTL,
	}
}

func (c *PanelCache) key(dashboardID int64) string {
	return c.prefix + strconv.FormatInt(dashboardID, 10)
}

// Get returns the cached panel map for the dashboard, or ok=false on a miss.
// Redis errors are reported as misses with the error attached so callers can
// log and fall through to the store.
func (c *PanelCache) Get(ctx context.Context, dashboardID int64) (map[string]store.LibraryPanel, bool, error) {
	raw, err := c.client.Get(ctx, c.key(dashboardID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached panels: %w", err)
	}

	var panels map[string]store.LibraryPanel
	if err := json.Unmarshal([]byte(raw), &panels); err != nil {
		return nil, false, fmt.Errorf("decode cached panels: %w", err)
	}
	return panels, true, nil
}

// Set stores the panel map for the dashboard with the cache TTL.
func (c *PanelCache) Set(ctx context.Context, dashboardID int64, panels map[string]store.LibraryPanel) error {
	raw, err := json.Marshal(panels)
	if err != nil {
		return fmt.Errorf("encode cached panels: %w", err)
	}
	if err := c.client.Set(ctx, c.key(dashboardID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached panels: %w", err)
	}
	return nil
}

// Invalidate drops the cached entries for the given dashboards. Called after
// link writes and after library panel edits.
func (c *PanelCache) Invalidate(ctx context.Context, dashboardIDs ...int64) error {
	if len(dashboardIDs) == 0 {
		return nil
	}
	keys := make([]string, len(dashboardIDs))
	for i, id := range dashboardIDs {
		keys[i] = c.key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate cached panels: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *PanelCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *PanelCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
