package linkkit

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by KVStore implementations for absent keys.
var ErrKeyNotFound = errors.New("linkstore.not_found")

// KVStore is the persisted key-value store backing registries and the
// pending link request. Implementations are origin-scoped: one logical
// store corresponds to one device profile. Writers are last-writer-wins;
// the store offers no cross-writer coordination.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// NamespacedStore prefixes every key, letting one backend serve many device
// profiles while each manager keeps the original key shapes.
type NamespacedStore struct {
	backend KVStore
	prefix  string
}

// NewNamespacedStore wraps backend so all keys carry the given namespace.
func NewNamespacedStore(backend KVStore, namespace string) *NamespacedStore {
	return &NamespacedStore{backend: backend, prefix: namespace + ":"}
}

func (store *NamespacedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return store.backend.Get(ctx, store.prefix+key)
}

func (store *NamespacedStore) Set(ctx context.Context, key string, value []byte) error {
	return store.backend.Set(ctx, store.prefix+key, value)
}

func (store *NamespacedStore) Delete(ctx context.Context, key string) error {
	return store.backend.Delete(ctx, store.prefix+key)
}
