package dag

import (
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/cryptoutil"
)

var (
	ErrInsufficientParents = errors.New("dag: fewer parents than quorum threshold")
	ErrUnknownSigner       = errors.New("dag: signer is not a committee member")
	ErrBadSignature        = errors.New("dag: signature does not verify")
	ErrInsufficientVotes   = errors.New("dag: vote weight below quorum")
)

// Header is a Primary's proposal for one DAG round: the batch it is
// vouching for and the round-(r-1) certificates it builds on (spec.md
// §4.5.2).
type Header struct {
	Round       uint64        `json:"round"`
	Author      common.PeerID `json:"author"`
	Parents     []common.Hash `json:"parents"`
	BatchDigest common.Hash   `json:"batch_digest"`
	Timestamp   int64         `json:"timestamp"`
}

// Digest returns the content hash of the header, used as the
// certificate's identity once it has quorum signatures.
func (h Header) Digest() common.Hash {
	raw, err := cryptoutil.Canonical(h)
	if err != nil {
		return common.Hash{}
	}
	return cryptoutil.TaggedHash("dag.header", raw)
}

// Certificate is a Header plus the quorum of validator signatures
// vouching for it, mirroring tos-network-gtos/consensus/bft.QC's
// attestation-list shape.
type Certificate struct {
	Header     Header              `json:"header"`
	Digest     common.Hash         `json:"digest"`
	Signers    []common.PeerID     `json:"signers"`
	Signatures map[common.PeerID][]byte `json:"signatures"`
}

// Verify checks that every signer is a committee member, every
// signature verifies over the header digest, and the signer weight
// meets the committee's quorum threshold.
func (c *Certificate) Verify(committee *Committee) error {
	if c.Digest != c.Header.Digest() {
		return ErrBadSignature
	}
	var weight uint64
	seen := mapset.NewSet()
	for _, signer := range c.Signers {
		if seen.Contains(signer) {
			continue
		}
		seen.Add(signer)
		v, ok := committee.Get(signer)
		if !ok {
			return ErrUnknownSigner
		}
		sig, ok := c.Signatures[signer]
		if !ok || !cryptoutil.Verify(v.PubKey, c.Digest.Bytes(), sig) {
			return ErrBadSignature
		}
		weight += v.Weight
	}
	if weight < committee.QuorumThreshold() {
		return ErrInsufficientVotes
	}
	return nil
}

// CertificateBuilder accumulates validator votes over one Header until
// a quorum of signatures has been collected (spec.md §4.5.2
// create_certificate_builder/build).
type CertificateBuilder struct {
	mu        sync.Mutex
	header    Header
	digest    common.Hash
	committee *Committee
	sigs      map[common.PeerID][]byte
}

// NewCertificateBuilder starts accumulating votes for header.
func NewCertificateBuilder(header Header, committee *Committee) *CertificateBuilder {
	return &CertificateBuilder{
		header:    header,
		digest:    header.Digest(),
		committee: committee,
		sigs:      make(map[common.PeerID][]byte),
	}
}

// AddVote records signer's signature over the header digest. It
// rejects signatures from non-members or that fail to verify.
func (b *CertificateBuilder) AddVote(signer common.PeerID, sig []byte) error {
	v, ok := b.committee.Get(signer)
	if !ok {
		return ErrUnknownSigner
	}
	if !cryptoutil.Verify(v.PubKey, b.digest.Bytes(), sig) {
		return ErrBadSignature
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sigs[signer] = sig
	return nil
}

// VoteWeight returns the total weight of votes collected so far.
func (b *CertificateBuilder) VoteWeight() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var weight uint64
	for signer := range b.sigs {
		weight += b.committee.Weight(signer)
	}
	return weight
}

// Build emits a Certificate iff the accumulated signer weight meets
// quorum. It does not reset the builder; callers discard it after a
// successful build.
func (b *CertificateBuilder) Build() (*Certificate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var weight uint64
	signers := make([]common.PeerID, 0, len(b.sigs))
	sigs := make(map[common.PeerID][]byte, len(b.sigs))
	for signer, sig := range b.sigs {
		weight += b.committee.Weight(signer)
		signers = append(signers, signer)
		sigs[signer] = sig
	}
	if weight < b.committee.QuorumThreshold() {
		return nil, false
	}
	return &Certificate{
		Header:     b.header,
		Digest:     b.digest,
		Signers:    signers,
		Signatures: sigs,
	}, true
}
