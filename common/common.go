// Package common holds value types shared across every modality-core
// component: content hashes, peer identifiers, and the small helpers
// (hex codec, ascending sort) repeated throughout the rest of the tree.
package common

import (
	"bytes"
	"encoding/hex"
	"sort"
)

// HashLength is the size in bytes of a content hash.
const HashLength = 32

// Hash is a 32-byte content digest, used for block hashes, commit hashes,
// batch digests, and certificate digests alike.
type Hash [HashLength]byte

// BytesToHash converts b into a Hash, keeping only the last HashLength
// bytes when b is longer and left-padding with zeros when it is shorter.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

func (h Hash) IsZero() bool { return h == Hash{} }

// HexToHash decodes a 0x-prefixed or bare hex string into a Hash.
func HexToHash(s string) Hash {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, _ := hex.DecodeString(s)
	return BytesToHash(b)
}

// MarshalText implements encoding.TextMarshaler so Hash round-trips through
// JSON as a hex string.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	*h = HexToHash(string(text))
	return nil
}

// PeerID identifies a node in the gossip/reqres network. The core treats
// it as an opaque string; the concrete peer-identity service is an
// external collaborator (spec.md §1).
type PeerID string

// HashesAscending sorts a slice of Hash in ascending byte order,
// mirroring tos-network-gtos/consensus/dpos/snapshot.go's addressAscending
// used for deterministic validator-set ordering.
type HashesAscending []Hash

func (a HashesAscending) Len() int      { return len(a) }
func (a HashesAscending) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a HashesAscending) Less(i, j int) bool {
	return bytes.Compare(a[i][:], a[j][:]) < 0
}

// SortHashes sorts hashes ascending in place and returns the slice.
func SortHashes(hs []Hash) []Hash {
	sort.Sort(HashesAscending(hs))
	return hs
}

// XORHashes XORs a set of hashes together, used to derive a deterministic
// shuffle seed from an epoch's nonces (spec.md §4.4.8).
func XORHashes(hs []Hash) Hash {
	var out Hash
	for _, h := range hs {
		for i := range out {
			out[i] ^= h[i]
		}
	}
	return out
}
