package kvstore

import (
	"bytes"
	"sort"
	"sync"
)

// memBackend is an in-memory Backend, mirroring tos-network-gtos's
// tosdb/memorydb test backend used against the shared dbtest suite.
type memBackend struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{m: make(map[string][]byte)}
}

func (b *memBackend) Get(key []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (b *memBackend) Put(key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	b.m[string(key)] = v
	return nil
}

func (b *memBackend) Delete(key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, string(key))
	return nil
}

func (b *memBackend) Has(key []byte) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.m[string(key)]
	return ok, nil
}

func (b *memBackend) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	b.mu.RLock()
	keys := make([]string, 0, len(b.m))
	for k := range b.m {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	type kv struct {
		k, v []byte
	}
	snapshot := make([]kv, 0, len(keys))
	for _, k := range keys {
		snapshot = append(snapshot, kv{[]byte(k), b.m[k]})
	}
	b.mu.RUnlock()

	for _, e := range snapshot {
		if !fn(e.k, e.v) {
			break
		}
	}
	return nil
}

func (b *memBackend) Close() error { return nil }
