// Package dag implements the Narwhal/Shoal DAG-BFT consensus engine
// (spec.md §4.5): transaction batching, header/certificate propagation,
// DAG storage with reachability queries, reputation-weighted anchor
// commit, deterministic ordering, and peer sync.
package dag

import (
	"errors"
	"sort"
	"sync"

	"github.com/modality-org/modality-core/common"
)

var (
	ErrUnknownValidator = errors.New("dag: unknown validator")
	ErrEmptyCommittee    = errors.New("dag: committee has no validators")
)

// Validator is one committee member: its identity and voting weight
// (stake), mirroring tos-network-gtos/consensus/bft.Vote's
// Validator+Weight pairing.
type Validator struct {
	PeerID common.PeerID
	PubKey []byte
	Weight uint64
}

// Committee is the fixed set of validators participating in a DAG
// instance. Ordering is deterministic (PeerID ascending) so every
// honest node iterates it identically.
type Committee struct {
	mu         sync.RWMutex
	validators map[common.PeerID]Validator
	order      []common.PeerID
	totalWeight uint64
}

// NewCommittee builds a Committee from an unordered validator list.
func NewCommittee(validators []Validator) *Committee {
	c := &Committee{validators: make(map[common.PeerID]Validator, len(validators))}
	for _, v := range validators {
		c.validators[v.PeerID] = v
		c.totalWeight += v.Weight
	}
	order := make([]common.PeerID, 0, len(validators))
	for id := range c.validators {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	c.order = order
	return c
}

// Size returns the number of validators in the committee.
func (c *Committee) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// TotalWeight returns the sum of all validator weights.
func (c *Committee) TotalWeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalWeight
}

// QuorumThreshold returns ceil(2*totalWeight/3), the minimum weight for
// a quorum, shaped like tos-network-gtos/consensus/bft.RequiredQuorumWeight
// but computing the ceiling form the DAG committee's stake model calls
// for rather than that function's floor(2n/3)+1.
func (c *Committee) QuorumThreshold() uint64 {
	total := c.TotalWeight()
	if total == 0 {
		return 1
	}
	return (2*total + 2) / 3
}

// Members returns the committee's validators in deterministic order.
func (c *Committee) Members() []Validator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Validator, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.validators[id])
	}
	return out
}

// Get looks up a validator by peer ID.
func (c *Committee) Get(id common.PeerID) (Validator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.validators[id]
	return v, ok
}

// Weight returns a validator's weight, or 0 if unknown.
func (c *Committee) Weight(id common.PeerID) uint64 {
	v, ok := c.Get(id)
	if !ok {
		return 0
	}
	return v.Weight
}
