package dag

import (
	"sync"

	"github.com/modality-org/modality-core/common"
)

// Primary is one validator's DAG participant: it proposes headers for
// its own round, assembles certificates from committee votes, and
// processes certificates gossiped by others (spec.md §4.5.2).
type Primary struct {
	mu           sync.Mutex
	self         common.PeerID
	committee    *Committee
	dag          *DAG
	currentRound uint64
	lastRoundCerts []common.Hash
}

// NewPrimary builds a Primary for self, sharing dag with the rest of
// the validator set.
func NewPrimary(self common.PeerID, committee *Committee, dag *DAG) *Primary {
	return &Primary{self: self, committee: committee, dag: dag}
}

// CurrentRound returns the Primary's current proposing round.
func (p *Primary) CurrentRound() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentRound
}

// Propose builds a Header for batchDigest at the current round,
// parented on the certificates accepted from the previous round. For
// round > 0 it requires at least a quorum of parents (spec.md §4.5.2).
func (p *Primary) Propose(batchDigest common.Hash, now int64) (Header, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentRound > 0 && uint64(len(p.lastRoundCerts)) < p.committee.QuorumThreshold() {
		return Header{}, ErrInsufficientParents
	}
	return Header{
		Round:       p.currentRound,
		Author:      p.self,
		Parents:     append([]common.Hash(nil), p.lastRoundCerts...),
		BatchDigest: batchDigest,
		Timestamp:   now,
	}, nil
}

// CreateCertificateBuilder starts collecting committee votes for
// header.
func (p *Primary) CreateCertificateBuilder(header Header) *CertificateBuilder {
	return NewCertificateBuilder(header, p.committee)
}

// ProcessCertificate validates cert's signatures, rejects equivocation
// and missing parents via the DAG, and on success inserts it.
func (p *Primary) ProcessCertificate(cert *Certificate) error {
	if err := cert.Verify(p.committee); err != nil {
		return err
	}
	return p.dag.Insert(cert)
}

// AdvanceRound moves to the next round, recording the certificates just
// accepted at the round now ending as next round's eligible parents.
// Monotonic: it never goes backward.
func (p *Primary) AdvanceRound() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	certs := p.dag.GetRound(p.currentRound)
	digests := make([]common.Hash, 0, len(certs))
	for _, c := range certs {
		digests = append(digests, c.Digest)
	}
	p.lastRoundCerts = digests
	p.currentRound++
	return p.currentRound
}
