package kvstore

import (
	"context"
	"time"
)

// Store is the ephemeral key/value store behind presence mirroring, typing
// state, and the response cache. Values here are never a source of truth;
// callers must tolerate any call failing and degrade.
type Store interface {
	// Get returns the value and whether the key was present and unexpired.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPattern removes every key matching a glob pattern like
	// "chat_history:3:*".
	DeleteByPattern(ctx context.Context, pattern string) error
	Close() error
}
