// Package cache layers typed JSON values over the key-value repository. Each
// store owns one namespace; a malformed value is treated as absent and
// removed so a corrupted cache never blocks startup.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/dmitrijs2005/declaro/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/declaro/internal/logging"
)

type Namespace struct {
	repo   metadata.Repository
	prefix string
	log    logging.Logger
}

func NewNamespace(repo metadata.Repository, name string, log logging.Logger) Namespace {
	if log == nil {
		log = logging.NopLogger{}
	}
	return Namespace{repo: repo, prefix: name + "/", log: log}
}

// With returns the same namespace bound to another repository, typically one
// scoped to a transaction.
func (n Namespace) With(repo metadata.Repository) Namespace {
	n.repo = repo
	return n
}

func (n Namespace) Key(name string) string { return n.prefix + name }

// Load decodes the value stored under name into v. It reports false when the
// key is absent or its content could not be decoded; the key is then removed
// and v is left at its zero value, never partly filled.
func (n Namespace) Load(ctx context.Context, name string, v any) (bool, error) {
	key := n.Key(name)
	raw, err := n.repo.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && !rv.IsNil() {
			rv.Elem().SetZero()
		}
		n.log.Warn(ctx, "resetting malformed cache entry", "key", key, "error", err)
		if derr := n.repo.Delete(ctx, key); derr != nil {
			return false, derr
		}
		return false, nil
	}
	return true, nil
}

func (n Namespace) Save(ctx context.Context, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", n.Key(name), err)
	}
	return n.repo.Set(ctx, n.Key(name), raw)
}

func (n Namespace) Remove(ctx context.Context, name string) error {
	return n.repo.Delete(ctx, n.Key(name))
}

// Purge drops every key of the namespace.
func (n Namespace) Purge(ctx context.Context) error {
	return n.repo.Clear(ctx, n.prefix)
}
