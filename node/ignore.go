package node

import (
	"sync"

	"github.com/modality-org/modality-core/common"
)

const (
	baseIgnoreBackoffSecs = 60
	maxIgnoreBackoffSecs  = 60 * 1024 // 60 * 2^10, spec.md §4.6.3's cap
)

// IgnoreTable tracks peers that have persistently failed sync or
// gossiped invalid blocks, backing them off exponentially: 60s, 120s,
// 240s, ... capped at 60*2^10s (spec.md §4.6.3).
type IgnoreTable struct {
	mu           sync.Mutex
	offenses     map[common.PeerID]uint
	ignoredUntil map[common.PeerID]int64
}

// NewIgnoreTable builds an empty IgnoreTable.
func NewIgnoreTable() *IgnoreTable {
	return &IgnoreTable{
		offenses:     make(map[common.PeerID]uint),
		ignoredUntil: make(map[common.PeerID]int64),
	}
}

// RecordOffense bumps peer's offense count and returns the unix
// timestamp until which it should now be ignored.
func (t *IgnoreTable) RecordOffense(peer common.PeerID, now int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offenses[peer]++
	backoff := backoffForOffense(t.offenses[peer])
	until := now + backoff
	t.ignoredUntil[peer] = until
	return until
}

// IsIgnored reports whether peer is still within its backoff window at
// time now.
func (t *IgnoreTable) IsIgnored(peer common.PeerID, now int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.ignoredUntil[peer]
	return ok && now < until
}

// Offenses returns how many times peer has been recorded as offending.
func (t *IgnoreTable) Offenses(peer common.PeerID) uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offenses[peer]
}

// backoffForOffense computes base*2^(offense-1), capped at
// maxIgnoreBackoffSecs, saturating rather than overflowing for large
// offense counts.
func backoffForOffense(offense uint) int64 {
	if offense == 0 {
		return 0
	}
	shift := offense - 1
	if shift >= 10 {
		return maxIgnoreBackoffSecs
	}
	backoff := int64(baseIgnoreBackoffSecs) << shift
	if backoff > maxIgnoreBackoffSecs {
		return maxIgnoreBackoffSecs
	}
	return backoff
}
