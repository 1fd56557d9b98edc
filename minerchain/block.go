// Package minerchain implements the proof-of-work miner chain of spec.md
// §3.3/§4.4: epoch-based difficulty, cancellable mining, canonical/orphan/
// pending block bookkeeping, gossip intake, competing-chain adoption,
// common-ancestor discovery, and epoch-shuffled validator nominations.
package minerchain

import (
	"encoding/json"
	"errors"

	"github.com/holiman/uint256"
	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/cryptoutil"
)

var (
	ErrBadHash         = errors.New("minerchain: block hash does not verify")
	ErrBadDataHash     = errors.New("minerchain: block data_hash does not verify")
	ErrBadProofOfWork  = errors.New("minerchain: mining_hash exceeds target for difficulty")
	ErrBadPrevHash     = errors.New("minerchain: previous_hash mismatch")
	ErrBadDifficulty   = errors.New("minerchain: difficulty does not match epoch prediction")
	ErrBadIndex        = errors.New("minerchain: index is not tip+1")
	ErrForcedFork      = errors.New("minerchain: hash does not match forced checkpoint")
	ErrTooOld          = errors.New("minerchain: timestamp below minimum_block_timestamp")
)

// Header is everything a block's hash (I1) is computed over, excluding
// the hash itself.
type Header struct {
	Index        uint64       `json:"index"`
	PreviousHash common.Hash  `json:"previous_hash"`
	DataHash     common.Hash  `json:"data_hash"`
	Timestamp    int64        `json:"timestamp"`
	Nonce        *uint256.Int `json:"nonce"`
	Difficulty   *uint256.Int `json:"difficulty"`
}

// Body is a block's nomination payload (spec.md §3.3).
type Body struct {
	NominatedPeerID common.PeerID `json:"nominated_peer_id"`
	MinerNumber     uint64        `json:"miner_number"`
}

// Block is one entry of the miner chain: a header, its body, and the
// hash binding them (spec.md §3.3).
type Block struct {
	Header Header      `json:"header"`
	Body   Body        `json:"body"`
	Hash   common.Hash `json:"hash"`

	IsCanonical    bool         `json:"is_canonical"`
	IsOrphaned     bool         `json:"is_orphaned"`
	OrphanReason   string       `json:"orphan_reason,omitempty"`
	CompetingHash  *common.Hash `json:"competing_hash,omitempty"`
	SeenAt         int64        `json:"seen_at"`
}

// Epoch returns index / blocksPerEpoch (spec.md §3.3).
func (b *Block) Epoch(blocksPerEpoch uint64) uint64 { return b.Header.Index / blocksPerEpoch }

// dataHash computes H(canonicalized body) — invariant I2.
func dataHash(body Body) (common.Hash, error) {
	raw, err := cryptoutil.Canonical(body)
	if err != nil {
		return common.Hash{}, err
	}
	return cryptoutil.Sum256(raw), nil
}

// headerHash computes H(header_without_hash) — invariant I1.
func headerHash(h Header) (common.Hash, error) {
	raw, err := cryptoutil.Canonical(h)
	if err != nil {
		return common.Hash{}, err
	}
	return cryptoutil.Sum256(raw), nil
}

// BuildBlock assembles and hashes a block from a header and body,
// enforcing I1/I2.
func BuildBlock(h Header, body Body) (*Block, error) {
	dh, err := dataHash(body)
	if err != nil {
		return nil, err
	}
	h.DataHash = dh
	hash, err := headerHash(h)
	if err != nil {
		return nil, err
	}
	return &Block{Header: h, Body: body, Hash: hash}, nil
}

// VerifyHash reports whether b.Hash equals H(header_without_hash) — I1.
func (b *Block) VerifyHash() bool {
	h, err := headerHash(b.Header)
	if err != nil {
		return false
	}
	return h == b.Hash
}

// VerifyDataHash reports whether b.Header.DataHash equals
// H(canonicalized body) — I2.
func (b *Block) VerifyDataHash() bool {
	dh, err := dataHash(b.Body)
	if err != nil {
		return false
	}
	return dh == b.Header.DataHash
}

// target returns floor((2^256-1) / difficulty), the maximum mining_hash
// value that satisfies the proof-of-work invariant I3 (spec.md §4.4.2).
// 2^256 itself overflows uint256.Int, so this uses the standard
// Bitcoin-style (2^256-1)/difficulty approximation of the target.
func target(difficulty *uint256.Int) *uint256.Int {
	maxU256 := new(uint256.Int).Not(uint256.NewInt(0))
	if difficulty == nil || difficulty.IsZero() {
		return maxU256
	}
	return new(uint256.Int).Div(maxU256, difficulty)
}

// MiningHash computes the proof-of-work digest for header h at nonce,
// tagged so it cannot collide with any other hash domain in this module.
func MiningHash(h Header, nonce *uint256.Int) (common.Hash, error) {
	hdr := h
	hdr.Nonce = nonce
	raw, err := cryptoutil.Canonical(hdr)
	if err != nil {
		return common.Hash{}, err
	}
	return cryptoutil.TaggedHash("minerchain.pow", raw), nil
}

// VerifyProofOfWork reports whether b's mining hash is ≤ target(difficulty)
// — invariant I3.
func (b *Block) VerifyProofOfWork() bool {
	mh, err := MiningHash(b.Header, b.Header.Nonce)
	if err != nil {
		return false
	}
	mhInt := new(uint256.Int).SetBytes(mh.Bytes())
	return mhInt.Cmp(target(b.Header.Difficulty)) <= 0
}

// MarshalJSON-friendly helper for tests/logging.
func (b *Block) String() string {
	raw, _ := json.Marshal(b)
	return string(raw)
}
