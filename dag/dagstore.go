package dag

import (
	"errors"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/modality-org/modality-core/common"
)

var (
	ErrEquivocation    = errors.New("dag: validator equivocated at this round")
	ErrDuplicateCert   = errors.New("dag: certificate already stored")
	ErrMissingParents  = errors.New("dag: certificate references unknown parents, sync first")
)

// authorRound identifies a single validator's slot in the DAG; two
// distinct certificates sharing one is equivocation (spec.md §4.5.3).
type authorRound struct {
	author common.PeerID
	round  uint64
}

// DAG stores certificates indexed by digest and by round, and answers
// reachability queries along the parent edges (spec.md §4.5.3). recents
// is a hot-path read cache in front of byDigest, the same ARC-in-front-
// of-a-map idiom minerchain.Chain uses for its block index.
type DAG struct {
	mu            sync.RWMutex
	byDigest      map[common.Hash]*Certificate
	byRound       map[uint64][]common.Hash
	byAuthorRound map[authorRound]common.Hash
	highestRound  uint64
	recents       *lru.ARCCache
}

// NewDAG builds an empty DAG.
func NewDAG() *DAG {
	recents, err := lru.NewARC(512)
	if err != nil {
		panic(err) // only fails for a non-positive size, which 512 never is
	}
	return &DAG{
		byDigest:      make(map[common.Hash]*Certificate),
		byRound:       make(map[uint64][]common.Hash),
		byAuthorRound: make(map[authorRound]common.Hash),
		recents:       recents,
	}
}

// HasCertificate reports whether digest is already stored.
func (d *DAG) HasCertificate(digest common.Hash) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byDigest[digest]
	return ok
}

// HasAllParents reports whether every parent referenced by cert is
// already stored.
func (d *DAG) HasAllParents(cert *Certificate) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range cert.Header.Parents {
		if _, ok := d.byDigest[p]; !ok {
			return false
		}
	}
	return true
}

// Insert validates and stores cert, rejecting equivocation, exact
// duplicates, and certificates whose parents are not yet known
// (spec.md §4.5.3: "caller must sync first").
func (d *DAG) Insert(cert *Certificate) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byDigest[cert.Digest]; ok {
		return ErrDuplicateCert
	}
	for _, p := range cert.Header.Parents {
		if _, ok := d.byDigest[p]; !ok {
			return ErrMissingParents
		}
	}
	ar := authorRound{author: cert.Header.Author, round: cert.Header.Round}
	if existing, ok := d.byAuthorRound[ar]; ok && existing != cert.Digest {
		return ErrEquivocation
	}

	d.byDigest[cert.Digest] = cert
	d.byRound[cert.Header.Round] = append(d.byRound[cert.Header.Round], cert.Digest)
	d.byAuthorRound[ar] = cert.Digest
	d.recents.Add(cert.Digest, cert)
	if cert.Header.Round > d.highestRound {
		d.highestRound = cert.Header.Round
	}
	return nil
}

// Get returns the certificate stored under digest, if any, consulting
// the ARC cache before falling back to the full index.
func (d *DAG) Get(digest common.Hash) (*Certificate, bool) {
	if v, ok := d.recents.Get(digest); ok {
		return v.(*Certificate), true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byDigest[digest]
	return c, ok
}

// GetRound returns the certificates authored at round r, in
// deterministic digest order.
func (d *DAG) GetRound(r uint64) []*Certificate {
	d.mu.RLock()
	defer d.mu.RUnlock()
	digests := append([]common.Hash(nil), d.byRound[r]...)
	sort.Sort(common.HashesAscending(digests))
	out := make([]*Certificate, 0, len(digests))
	for _, dg := range digests {
		out = append(out, d.byDigest[dg])
	}
	return out
}

// RoundSize returns the number of certificates stored at round r.
func (d *DAG) RoundSize(r uint64) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byRound[r])
}

// HighestRound returns the highest round with at least one certificate.
func (d *DAG) HighestRound() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.highestRound
}

// HasPath reports whether b is reachable from a by following parent
// edges (a breadth-first search over the DAG, spec.md §4.5.3).
func (d *DAG) HasPath(a, b common.Hash) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if a == b {
		return true
	}
	visited := map[common.Hash]bool{a: true}
	queue := []common.Hash{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		cert, ok := d.byDigest[cur]
		if !ok {
			continue
		}
		for _, p := range cert.Header.Parents {
			if p == b {
				return true
			}
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false
}

// SyncRequest asks a peer for certificates at the given digests, or
// (if Digests is empty) everything from FromRound onward.
type SyncRequest struct {
	Digests   []common.Hash `json:"digests,omitempty"`
	FromRound uint64        `json:"from_round,omitempty"`
}

// SyncResponse carries the certificates a peer found for a SyncRequest,
// keyed by digest (spec.md §4.5.7).
type SyncResponse struct {
	Certificates map[common.Hash]*Certificate `json:"certificates"`
}

// HandleSyncRequest answers req with whatever this DAG has on hand.
func (d *DAG) HandleSyncRequest(req SyncRequest) SyncResponse {
	d.mu.RLock()
	defer d.mu.RUnlock()
	resp := SyncResponse{Certificates: make(map[common.Hash]*Certificate)}
	if len(req.Digests) > 0 {
		for _, dg := range req.Digests {
			if c, ok := d.byDigest[dg]; ok {
				resp.Certificates[dg] = c
			}
		}
		return resp
	}
	for r := req.FromRound; r <= d.highestRound; r++ {
		for _, dg := range d.byRound[r] {
			resp.Certificates[dg] = d.byDigest[dg]
		}
	}
	return resp
}
