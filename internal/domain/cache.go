package domain

import "context"

// Cache is the in-process key/value cache used for chat formats and outboxes.
type Cache interface {
	// Get returns the value stored under key if it has not expired.
	Get(ctx context.Context, key string) (any, bool)

	// Set stores value under key with the cache's TTL.
	Set(ctx context.Context, key string, value any) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// CleanExpired drops every expired entry.
	CleanExpired(ctx context.Context) error
}
