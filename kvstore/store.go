// Package kvstore implements the multi-namespace transactional KV that
// spec.md §1/§6.4 treats as an external collaborator but a runnable repo
// needs a concrete instance of: logical namespaces (miner_canon,
// miner_forks, miner_active, validator_final, validator_active,
// node_state) each behind their own lock, backed by an in-memory map or a
// goleveldb instance.
//
// Grounded on tos-network-gtos/tosdb's KeyValueStore interface
// (Get/Put/Delete/Has, tested in tosdb/dbtest against both memorydb and
// leveldb backends).
package kvstore

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

var ErrNotFound = errors.New("kvstore: key not found")

// Backend is the minimal byte-oriented key-value operations a namespace
// needs from its underlying engine.
type Backend interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Store owns a set of named Namespaces over one Backend. Each namespace
// holds its own keyspace (prefixed) and its own RWMutex, matching
// spec.md §5's "single logical lock per namespace" policy.
type Store struct {
	mu         sync.Mutex
	backend    Backend
	namespaces map[string]*Namespace
}

// NewMemStore builds a Store over an in-memory backend.
func NewMemStore() *Store {
	return &Store{backend: newMemBackend(), namespaces: make(map[string]*Namespace)}
}

// NewLevelDBStore builds a Store over a goleveldb instance rooted at dir.
func NewLevelDBStore(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &Store{backend: &levelBackend{db: db}, namespaces: make(map[string]*Namespace)}, nil
}

// Namespace returns (creating if necessary) the named logical collection.
func (s *Store) Namespace(name string) *Namespace {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[name]
	if !ok {
		ns = &Namespace{name: name, backend: s.backend}
		s.namespaces[name] = ns
	}
	return ns
}

func (s *Store) Close() error { return s.backend.Close() }

// Namespace is a prefixed, lock-guarded view of a Store's backend.
// Mutation that spans multiple steps (e.g. "orphan old + save new" in
// minerchain's fork choice) holds the lock across the whole sequence via
// WithLock, matching spec.md §5's transactional-where-possible policy.
type Namespace struct {
	mu      sync.RWMutex
	name    string
	backend Backend
}

func (n *Namespace) key(k string) []byte {
	out := make([]byte, 0, len(n.name)+1+len(k))
	out = append(out, n.name...)
	out = append(out, ':')
	out = append(out, k...)
	return out
}

func (n *Namespace) Get(key string) ([]byte, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, err := n.backend.Get(n.key(key))
	if err != nil {
		return nil, false
	}
	return v, true
}

func (n *Namespace) Put(key string, value []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.backend.Put(n.key(key), value)
}

func (n *Namespace) Delete(key string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.backend.Delete(n.key(key))
}

func (n *Namespace) Has(key string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ok, _ := n.backend.Has(n.key(key))
	return ok
}

// Iterate walks every key in the namespace whose suffix starts with
// keyPrefix, invoking fn with the suffix (namespace prefix stripped) and
// value. Iteration stops early if fn returns false.
func (n *Namespace) Iterate(keyPrefix string, fn func(key string, value []byte) bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	prefix := n.key(keyPrefix)
	nsPrefixLen := len(n.name) + 1
	_ = n.backend.Iterate(prefix, func(k, v []byte) bool {
		return fn(string(k[nsPrefixLen:]), v)
	})
}

// WithLock holds the namespace's write lock across fn, for multi-step
// read-modify-write sequences that must appear atomic to readers (e.g.
// orphaning a block and canonizing its replacement in one step).
func (n *Namespace) WithLock(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn()
}
