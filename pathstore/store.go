package pathstore

import (
	"github.com/VictoriaMetrics/fastcache"
	"github.com/modality-org/modality-core/kvstore"
)

// Store is a typed path→value map layered over a kvstore.Namespace, with a
// fastcache read-through layer in front for hot paths (membership checks,
// repeated balance reads during commit evaluation).
type Store struct {
	ns    *kvstore.Namespace
	cache *fastcache.Cache
}

// New wraps ns with a cache sized cacheBytes (0 disables caching).
func New(ns *kvstore.Namespace, cacheBytes int) *Store {
	var c *fastcache.Cache
	if cacheBytes > 0 {
		c = fastcache.New(cacheBytes)
	}
	return &Store{ns: ns, cache: c}
}

// Set stores v at path. The path's type is immutable once first set
// (spec.md §3.1 invariant i).
func (s *Store) Set(path string, v Value) error {
	_, _, typ, err := ParsePath(path)
	if err != nil {
		return err
	}
	if typ != v.Type {
		return ErrTypeMismatch
	}
	if existing, ok := s.Get(path); ok && existing.Type != v.Type {
		return ErrTypeMismatch
	}
	if v.Type == TypePubkey && len(v.Pubkey) != 32 {
		return ErrInvalidPublicKey
	}
	enc, err := encodeValue(v)
	if err != nil {
		return err
	}
	if err := s.ns.Put(path, enc); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Set([]byte(path), enc)
	}
	return nil
}

// Get returns the value at path, if any.
func (s *Store) Get(path string) (Value, bool) {
	if s.cache != nil {
		if b, ok := s.cache.HasGet(nil, []byte(path)); ok {
			v, err := decodeValue(b)
			if err == nil {
				return v, true
			}
		}
	}
	raw, ok := s.ns.Get(path)
	if !ok {
		return Value{}, false
	}
	v, err := decodeValue(raw)
	if err != nil {
		return Value{}, false
	}
	if s.cache != nil {
		s.cache.Set([]byte(path), raw)
	}
	return v, true
}

// Delete removes the value at path.
func (s *Store) Delete(path string) error {
	if s.cache != nil {
		s.cache.Del([]byte(path))
	}
	return s.ns.Delete(path)
}

// Exists reports whether path has a value.
func (s *Store) Exists(path string) bool {
	_, ok := s.Get(path)
	return ok
}

// GetPubkey returns the 32-byte Ed25519 public key at path.
func (s *Store) GetPubkey(path string) ([]byte, bool) {
	v, ok := s.Get(path)
	if !ok || v.Type != TypePubkey {
		return nil, false
	}
	return v.Pubkey, true
}

// Keys lists every stored path whose key starts with dirPrefix, including
// paths in nested directories; no filtering by type suffix is applied.
func (s *Store) Keys(dirPrefix string) []string {
	var out []string
	s.ns.Iterate(dirPrefix, func(key string, _ []byte) bool {
		out = append(out, key)
		return true
	})
	return out
}
