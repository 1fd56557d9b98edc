package cryptoutil

import (
	"encoding/binary"

	"github.com/modality-org/modality-core/common"
	"golang.org/x/crypto/sha3"
)

// Sum256 returns the SHA3-256 digest of data, used throughout for block,
// batch, and commit content hashes (mirrors the teacher's
// crypto.Keccak256-over-a-tagged-byte-buffer idiom in kvstore/state.go,
// retargeted from Keccak to SHA3-256 since this core has no EVM/Keccak
// dependency elsewhere).
func Sum256(data ...[]byte) common.Hash {
	h := sha3.New256()
	for _, d := range data {
		h.Write(d)
	}
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// TaggedHash hashes a domain tag followed by a sequence of length-prefixed
// fields, preventing cross-domain hash collisions between (for example)
// block headers and batch digests that might otherwise share a prefix.
func TaggedHash(tag string, fields ...[]byte) common.Hash {
	h := sha3.New256()
	h.Write([]byte(tag))
	for _, f := range fields {
		var l [8]byte
		binary.BigEndian.PutUint64(l[:], uint64(len(f)))
		h.Write(l[:])
		h.Write(f)
	}
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}
