package content

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/coscribe/coscribe/pkg/cache"
	"github.com/coscribe/coscribe/pkg/log"
	"github.com/coscribe/coscribe/pkg/types"
)

// ChangeCheck is the outcome of comparing an incoming update against the
// cached snapshot.
type ChangeCheck struct {
	Changed     bool
	CachedBody  string
	CachedTitle string
}

// Cache holds the last-known body and title per document, used to skip
// no-op persistence and to serve warm reads. Entries carry a TTL refreshed
// on every successful persistence.
type Cache struct {
	store  *cache.Store
	ttl    time.Duration
	logger zerolog.Logger
}

// New creates a content cache with the given entry TTL.
func New(store *cache.Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl, logger: log.WithComponent("content")}
}

// Get returns the cached snapshot, or nil on a miss.
func (c *Cache) Get(ctx context.Context, documentID string) (*types.Snapshot, error) {
	cctx, cancel := c.store.Context(ctx)
	defer cancel()

	raw, err := c.store.Client().Get(cctx, cache.ContentKey(documentID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read content snapshot: %w", err)
	}

	var snap types.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode content snapshot: %w", err)
	}
	return &snap, nil
}

// Put stores a new snapshot with a fresh version and resets the TTL.
// Versions are wall-clock milliseconds and therefore non-decreasing.
func (c *Cache) Put(ctx context.Context, documentID, body, title string) error {
	now := types.NowMs()
	snap := types.Snapshot{Body: body, Title: title, CachedAt: now, Version: now}

	raw, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to encode content snapshot: %w", err)
	}

	cctx, cancel := c.store.Context(ctx)
	defer cancel()
	if err := c.store.Client().Set(cctx, cache.ContentKey(documentID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write content snapshot: %w", err)
	}
	return nil
}

// HasChanged reports whether the incoming body/title differ from the
// cached snapshot. A nil field means that field is not part of the
// update and is never compared. On a cache miss or store error the
// answer is true: persisting an unchanged document is cheap, skipping a
// changed one loses data.
func (c *Cache) HasChanged(ctx context.Context, documentID string, newBody, newTitle *string) ChangeCheck {
	snap, err := c.Get(ctx, documentID)
	if err != nil {
		c.logger.Warn().Err(err).Str("document_id", documentID).Msg("change check failing safe")
		return ChangeCheck{Changed: true}
	}
	if snap == nil {
		return ChangeCheck{Changed: true}
	}

	changed := false
	if newBody != nil && *newBody != snap.Body {
		changed = true
	}
	if newTitle != nil && *newTitle != snap.Title {
		changed = true
	}
	return ChangeCheck{Changed: changed, CachedBody: snap.Body, CachedTitle: snap.Title}
}

// Invalidate drops the cached snapshot.
func (c *Cache) Invalidate(ctx context.Context, documentID string) error {
	cctx, cancel := c.store.Context(ctx)
	defer cancel()
	if err := c.store.Client().Del(cctx, cache.ContentKey(documentID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate content snapshot: %w", err)
	}
	return nil
}
