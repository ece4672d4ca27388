// Package store abstracts the key-value operations the bridge needs: scalar
// get/set, hashes, sets, and atomic increments. Components take the interface
// rather than a redis handle so tests can run against the in-memory
// implementation.
package store

import "context"

type Store interface {
	// Get returns the scalar at key, or "" with no error when absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// HGetAll returns the hash at key; an empty map means the key is absent.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// IncrBy atomically adjusts the integer at key by delta (which may be
	// negative) and returns the new value. An absent key counts as 0.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
}
