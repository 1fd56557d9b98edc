package dag

import (
	"sort"
	"sync"

	"github.com/modality-org/modality-core/common"
)

// DefaultAnchorLag is the number of rounds an anchor trails the current
// round before its commit is attempted (spec.md §4.5.4's "typically 2").
const DefaultAnchorLag = 2

// ShoalConsensus runs the anchor-commit rule over a DAG: each time the
// frontier round advances, it attempts to commit the reputation-weighted
// leader's certificate from `round - anchorLag` rounds back, and on
// success walks its DAG ancestry to commit everything not yet ordered
// (spec.md §4.5.4).
type ShoalConsensus struct {
	mu                 sync.Mutex
	committee          *Committee
	dag                *DAG
	reputation         *ReputationManager
	anchorLag          uint64
	nextAnchorRound    uint64
	lastCommittedRound uint64
	committed          map[common.Hash]bool
	commitOrder        []common.Hash
}

// NewShoalConsensus builds a ShoalConsensus over dag with the given
// anchor lag. anchorLag <= 0 falls back to DefaultAnchorLag.
func NewShoalConsensus(committee *Committee, dag *DAG, reputation *ReputationManager, anchorLag uint64) *ShoalConsensus {
	if anchorLag == 0 {
		anchorLag = DefaultAnchorLag
	}
	return &ShoalConsensus{
		committee:  committee,
		dag:        dag,
		reputation: reputation,
		anchorLag:  anchorLag,
		committed:  make(map[common.Hash]bool),
	}
}

// ProcessCertificate forwards cert to the DAG, then attempts an anchor
// commit if the frontier has advanced far enough, returning the
// certificates newly committed as a result (possibly empty, never
// includes cert itself unless cert is or precedes the committed
// anchor).
func (s *ShoalConsensus) ProcessCertificate(cert *Certificate) ([]*Certificate, error) {
	if err := cert.Verify(s.committee); err != nil {
		return nil, err
	}
	if err := s.dag.Insert(cert); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tryCommitAnchors()
}

// tryCommitAnchors attempts to commit the anchor of round
// frontier - anchorLag, provided that round comes after the last
// committed anchor. It commits at most one anchor per call; anchor rounds
// that the frontier skipped over are not attempted on their own, and
// their certificates are committed only as ancestors of a later anchor.
func (s *ShoalConsensus) tryCommitAnchors() ([]*Certificate, error) {
	var committed []*Certificate
	for {
		frontier := s.dag.HighestRound()
		if frontier < s.anchorLag {
			return committed, nil
		}
		anchorRound := frontier - s.anchorLag
		if anchorRound < s.nextAnchorRound {
			return committed, nil
		}

		leader := s.reputation.SelectLeader(anchorRound)
		anchor, ok := s.anchorCertificate(anchorRound, leader)
		if !ok {
			return committed, nil
		}
		if !s.hasQuorumSupport(anchor) {
			return committed, nil
		}

		newlyCommitted := s.commitAncestry(anchor)
		s.lastCommittedRound = anchorRound
		s.nextAnchorRound = anchorRound + 1
		committed = append(committed, newlyCommitted...)
	}
}

// anchorCertificate finds the certificate authored by leader at round.
func (s *ShoalConsensus) anchorCertificate(round uint64, leader common.PeerID) (*Certificate, bool) {
	for _, c := range s.dag.GetRound(round) {
		if c.Header.Author == leader {
			return c, true
		}
	}
	return nil, false
}

// hasQuorumSupport reports whether a quorum (by weight) of the next
// round's certificates has a DAG path to anchor.
func (s *ShoalConsensus) hasQuorumSupport(anchor *Certificate) bool {
	var weight uint64
	for _, c := range s.dag.GetRound(anchor.Header.Round + 1) {
		if s.dag.HasPath(c.Digest, anchor.Digest) {
			weight += s.committee.Weight(c.Header.Author)
		}
	}
	return weight >= s.committee.QuorumThreshold()
}

// commitAncestry walks anchor's parent edges, collecting every
// not-yet-committed certificate, orders them deterministically, marks
// them committed, and returns them in commit order.
func (s *ShoalConsensus) commitAncestry(anchor *Certificate) []*Certificate {
	collected := make(map[common.Hash]*Certificate)
	var walk func(c *Certificate)
	walk = func(c *Certificate) {
		if s.committed[c.Digest] {
			return
		}
		if _, ok := collected[c.Digest]; ok {
			return
		}
		collected[c.Digest] = c
		for _, p := range c.Header.Parents {
			if pc, ok := s.dag.Get(p); ok {
				walk(pc)
			}
		}
	}
	walk(anchor)

	ordered := make([]*Certificate, 0, len(collected))
	for _, c := range collected {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Header.Round != b.Header.Round {
			return a.Header.Round < b.Header.Round
		}
		sa, sb := s.reputation.GetScore(a.Header.Author), s.reputation.GetScore(b.Header.Author)
		if sa != sb {
			return sa > sb
		}
		if a.Header.Author != b.Header.Author {
			return a.Header.Author < b.Header.Author
		}
		return common.HashesAscending{a.Digest, b.Digest}.Less(0, 1)
	})

	for _, c := range ordered {
		s.committed[c.Digest] = true
		s.commitOrder = append(s.commitOrder, c.Digest)
	}
	return ordered
}

// Committed reports whether digest has been committed.
func (s *ShoalConsensus) Committed(digest common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed[digest]
}

// CommitOrder returns the full commit sequence so far.
func (s *ShoalConsensus) CommitOrder() []common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Hash(nil), s.commitOrder...)
}

// LastCommittedRound returns the highest anchor round committed so far.
func (s *ShoalConsensus) LastCommittedRound() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommittedRound
}
