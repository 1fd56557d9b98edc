package dag

import (
	"encoding/binary"
	"math/big"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/modality-org/modality-core/common"
)

// ReputationConfig tunes the sliding-window scoring and leader-ticket
// selection (spec.md §4.5.5, resolving its Open Question with concrete
// constants grounded on
// original_source/rust/modal-validator-consensus/tests/integration_tests.rs's
// ReputationConfig literals).
type ReputationConfig struct {
	WindowSize      int
	DecayFactor     float64
	MinScore        float64
	TargetLatencyMs int64
}

// DefaultReputationConfig returns the production constants.
func DefaultReputationConfig() ReputationConfig {
	return ReputationConfig{
		WindowSize:      50,
		DecayFactor:     0.9,
		MinScore:        0.2,
		TargetLatencyMs: 2000,
	}
}

// PerformanceRecord is one observation of a validator's behavior in a
// round (spec.md §4.5.5).
type PerformanceRecord struct {
	Validator common.PeerID
	Round     uint64
	LatencyMs int64
	Success   bool
	Timestamp int64
}

// ReputationManager tracks a decaying-weighted score per validator from
// a sliding window of PerformanceRecords, and derives a deterministic
// leader selection from it.
type ReputationManager struct {
	mu        sync.RWMutex
	committee *Committee
	cfg       ReputationConfig
	records   map[common.PeerID][]PerformanceRecord
	scores    map[common.PeerID]float64
}

// NewReputationManager builds a manager with every committee member
// starting at the maximum score (1.0).
func NewReputationManager(committee *Committee, cfg ReputationConfig) *ReputationManager {
	scores := make(map[common.PeerID]float64, committee.Size())
	for _, v := range committee.Members() {
		scores[v.PeerID] = 1.0
	}
	return &ReputationManager{
		committee: committee,
		cfg:       cfg,
		records:   make(map[common.PeerID][]PerformanceRecord),
		scores:    scores,
	}
}

// RecordPerformance appends rec to validator's sliding window, evicting
// the oldest record once the window exceeds WindowSize.
func (r *ReputationManager) RecordPerformance(rec PerformanceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	window := append(r.records[rec.Validator], rec)
	if len(window) > r.cfg.WindowSize {
		window = window[len(window)-r.cfg.WindowSize:]
	}
	r.records[rec.Validator] = window
}

// UpdateScores recomputes every validator's score from its current
// window. Validators with no records keep their prior score.
func (r *ReputationManager) UpdateScores() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for validator, window := range r.records {
		r.scores[validator] = r.computeScore(window)
	}
}

// computeScore folds a window into [min_score, 1.0] via an
// exponentially-decaying weighted average of per-record success and
// latency components, most recent record weighted highest.
func (r *ReputationManager) computeScore(window []PerformanceRecord) float64 {
	if len(window) == 0 {
		return 1.0
	}
	var weightSum, scoreSum float64
	weight := 1.0
	for i := len(window) - 1; i >= 0; i-- {
		rec := window[i]
		successComponent := 0.0
		if rec.Success {
			successComponent = 1.0
		}
		component := 0.5*successComponent + 0.5*latencyComponent(rec.LatencyMs, r.cfg.TargetLatencyMs)
		scoreSum += weight * component
		weightSum += weight
		weight *= r.cfg.DecayFactor
	}
	raw := scoreSum / weightSum
	if raw < r.cfg.MinScore {
		raw = r.cfg.MinScore
	}
	if raw > 1.0 {
		raw = 1.0
	}
	return raw
}

// latencyComponent scores 1.0 at or under target, degrading toward 0 as
// observed latency grows beyond it.
func latencyComponent(latencyMs, targetMs int64) float64 {
	if targetMs <= 0 || latencyMs <= targetMs {
		return 1.0
	}
	return float64(targetMs) / float64(latencyMs)
}

// GetScore returns validator's current score, defaulting to 1.0 for an
// unrecorded (e.g. brand new) validator.
func (r *ReputationManager) GetScore(validator common.PeerID) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scores[validator]
	if !ok {
		return 1.0
	}
	return s
}

// SelectLeader deterministically picks the round's leader: each
// validator draws a SHA3-256(round||pubkey) ticket, and the winner
// minimizes ticket/score — equivalent to weighted reservoir sampling,
// with ties (equal ticket/score, only possible across distinct
// validators at vanishing probability) broken by ascending PeerID
// (spec.md §4.5.5).
func (r *ReputationManager) SelectLeader(round uint64) common.PeerID {
	members := r.committee.Members()
	if len(members) == 0 {
		return ""
	}

	var roundBuf [8]byte
	binary.BigEndian.PutUint64(roundBuf[:], round)

	var winner common.PeerID
	var winnerKey *big.Float
	for _, v := range members {
		h := sha3.New256()
		h.Write(roundBuf[:])
		h.Write(v.PubKey)
		ticket := new(big.Int).SetBytes(h.Sum(nil))

		score := r.GetScore(v.PeerID)
		if score < r.cfg.MinScore {
			score = r.cfg.MinScore
		}
		key := new(big.Float).Quo(new(big.Float).SetInt(ticket), big.NewFloat(score))

		if winnerKey == nil || key.Cmp(winnerKey) < 0 ||
			(key.Cmp(winnerKey) == 0 && v.PeerID < winner) {
			winner = v.PeerID
			winnerKey = key
		}
	}
	return winner
}
