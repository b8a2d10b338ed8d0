package cache

import (
	"context"
	"fmt"
	"time"

	"chat-relay/internal/kvstore"
	"chat-relay/pkg/logger"
)

// Query kinds cached by the read paths.
const (
	KindChatHistory = "chat_history"
	KindUsersList   = "users_list"
)

// Key builds the cache key for a query: <kind>:<requestingUser>:<target>.
// target is the other user (plus page coordinates) or "all".
func Key(kind string, requestingUser int, target string) string {
	return fmt.Sprintf("%s:%d:%s", kind, requestingUser, target)
}

// Cache is a read-through / write-invalidate wrapper over the ephemeral
// store. A cached value is only ever the last good rendering of a query,
// never an existence answer, so every failure here fails open.
type Cache struct {
	store kvstore.Store
}

func New(store kvstore.Store) *Cache {
	return &Cache{store: store}
}

// ReadThrough returns the cached value for key if fresh, otherwise runs
// compute and caches its result. Only a successful compute is stored.
// The second return reports whether this was a cache hit.
func (c *Cache) ReadThrough(ctx context.Context, key string, ttl time.Duration, compute func() ([]byte, error)) ([]byte, bool, error) {
	if cached, ok, err := c.store.Get(ctx, key); err != nil {
		logger.Warn("Cache read error for %s: %v", key, err)
	} else if ok {
		return []byte(cached), true, nil
	}

	value, err := compute()
	if err != nil {
		return nil, false, err
	}

	if err := c.store.Set(ctx, key, string(value), ttl); err != nil {
		logger.Warn("Cache write error for %s: %v", key, err)
	}
	return value, false, nil
}

// Invalidate removes every cached entry matching pattern. Callers on write
// paths invoke this before returning so a follow-up read cannot observe a
// stale entry; a store failure is logged and swallowed.
func (c *Cache) Invalidate(ctx context.Context, pattern string) {
	if err := c.store.DeleteByPattern(ctx, pattern); err != nil {
		logger.Warn("Cache invalidation error for %s: %v", pattern, err)
	}
}
