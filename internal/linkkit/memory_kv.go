package linkkit

import (
	"context"
	"sync"
)

// MemoryKVStore is an in-memory store intended for tests and dev.
type MemoryKVStore struct {
	mutex   sync.Mutex
	entries map[string][]byte
}

// NewMemoryKVStore creates an empty in-memory store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{entries: make(map[string][]byte)}
}

// Get returns the value for key or ErrKeyNotFound.
func (store *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	value, ok := store.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	clone := make([]byte, len(value))
	copy(clone, value)
	return clone, nil
}

// Set stores value under key, replacing any previous value.
func (store *MemoryKVStore) Set(ctx context.Context, key string, value []byte) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	clone := make([]byte, len(value))
	copy(clone, value)
	store.entries[key] = clone
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (store *MemoryKVStore) Delete(ctx context.Context, key string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.entries, key)
	return nil
}

// Keys returns a snapshot of all stored keys, for tests.
func (store *MemoryKVStore) Keys() []string {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	keys := make([]string, 0, len(store.entries))
	for key := range store.entries {
		keys = append(keys, key)
	}
	return keys
}
