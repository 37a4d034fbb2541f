// Package storage provides the durable key-value store shared by the live agent and the
// background task process.
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned when the store has been closed.
var ErrClosed = errors.New("storage: store closed")

// KV is a device-local key-value store.
// SetMany and Delete apply all keys atomically: readers never observe a partial write.
type KV interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetMany writes all entries in a single atomic operation.
	SetMany(ctx context.Context, entries map[string]string) error

	// Delete removes the given keys in a single atomic operation. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Close releases resources held by the store.
	Close() error
}

// Set writes a single key.
func Set(ctx context.Context, kv KV, key, value string) error {
	return kv.SetMany(ctx, map[string]string{key: value})
}
