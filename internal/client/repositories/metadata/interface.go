// Package metadata is the namespaced key-value table backing the local cache.
// Keys are "<namespace>/<name>"; each store owns one namespace.
package metadata

import "context"

type Repository interface {
	// Get returns nil, nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns every key starting with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	// Clear deletes every key starting with prefix; "" clears the table.
	Clear(ctx context.Context, prefix string) error
}
