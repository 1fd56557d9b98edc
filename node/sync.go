package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/minerchain"
)

// syncCooldown is the minimum spacing between sync attempts (spec.md
// §4.6.2's 500ms trigger cooldown).
const syncCooldown = 500 * time.Millisecond

// DefaultSyncChunkSize is how many blocks SyncCoordinator streams per
// request during step (iv) below (spec.md §4.6.2).
const DefaultSyncChunkSize = 50

var (
	ErrSyncAlreadyInProgress = errors.New("node: sync already in progress")
	ErrNoCommonAncestor      = errors.New("node: peer chain shares no ancestor with local chain")
)

// BlockRangeRequester fetches canonical blocks [from, from+limit) from a
// peer, the §4.4.5 streaming counterpart to minerchain.Chain.FindAncestor's
// single-checkpoint QueryCheckpointFn.
type BlockRangeRequester func(ctx context.Context, peer common.PeerID, from, limit uint64) ([]*minerchain.Block, error)

// CheckpointRequester asks peer for its checkpoint match response
// against a locally built checkpoint ladder (spec.md §4.4.6 step 2).
type CheckpointRequester func(ctx context.Context, peer common.PeerID, checkpoints []minerchain.Checkpoint) (minerchain.PeerCheckpointResponse, error)

// SingleCheckpointRequester asks peer whether it has (index, hash)
// canonical, used during FindAncestor's binary-search narrowing phase.
type SingleCheckpointRequester func(ctx context.Context, peer common.PeerID, index uint64, hash common.Hash) (bool, error)

// SyncCoordinator runs the sync-trigger-and-mining-pause algorithm of
// spec.md §4.6.2: on trigger, pause mining, repair local continuity,
// find a common ancestor with a chosen peer, and stream the peer's
// suffix in chunks through minerchain.Chain.ProcessCompetingChain.
// Grounded on original_source/rust/modal-node/src/actions/miner.rs's
// pause-mining-during-sync coordination.
type SyncCoordinator struct {
	chain      *minerchain.Chain
	limiter    *rate.Limiter
	chunkSize  uint64
	inProgress int32 // atomic bool

	miningPaused func(paused bool)

	checkpoints      CheckpointRequester
	singleCheckpoint SingleCheckpointRequester
	blockRange       BlockRangeRequester
}

// NewSyncCoordinator builds a SyncCoordinator over chain. miningPaused,
// if non-nil, is called with true before a sync run starts and false
// when it ends, letting the orchestrator gate its mining loop.
func NewSyncCoordinator(
	chain *minerchain.Chain,
	checkpoints CheckpointRequester,
	singleCheckpoint SingleCheckpointRequester,
	blockRange BlockRangeRequester,
	miningPaused func(paused bool),
) *SyncCoordinator {
	return &SyncCoordinator{
		chain:            chain,
		limiter:          rate.NewLimiter(rate.Every(syncCooldown), 1),
		chunkSize:        DefaultSyncChunkSize,
		checkpoints:      checkpoints,
		singleCheckpoint: singleCheckpoint,
		blockRange:       blockRange,
		miningPaused:     miningPaused,
	}
}

// InProgress reports whether a sync run is currently executing.
func (s *SyncCoordinator) InProgress() bool {
	return atomic.LoadInt32(&s.inProgress) == 1
}

// Trigger runs the full §4.6.2 sync algorithm against peer if the
// cooldown allows it and no other sync is already running:
//
//	(i)   sets the in-progress flag
//	(ii)  validates local chain continuity, repairing on a break
//	(iii) finds a common ancestor with peer via the checkpoint ladder
//	(iv)  streams the peer's suffix in chunks into ProcessCompetingChain
//	(v)   clears the in-progress flag
func (s *SyncCoordinator) Trigger(ctx context.Context, peer common.PeerID) error {
	if !s.limiter.Allow() {
		return nil // within cooldown window, silently skip
	}
	if !atomic.CompareAndSwapInt32(&s.inProgress, 0, 1) {
		return ErrSyncAlreadyInProgress
	}
	if s.miningPaused != nil {
		s.miningPaused(true)
	}
	defer func() {
		atomic.StoreInt32(&s.inProgress, 0)
		if s.miningPaused != nil {
			s.miningPaused(false)
		}
	}()

	if lastValid, ok := s.chain.ValidateContinuity(); !ok {
		s.chain.RepairFromBreak(lastValid)
	}

	ancestor, err := s.findCommonAncestor(ctx, peer)
	if err != nil {
		return err
	}

	return s.streamFrom(ctx, peer, ancestor+1)
}

func (s *SyncCoordinator) findCommonAncestor(ctx context.Context, peer common.PeerID) (uint64, error) {
	checkpoints := s.chain.BuildCheckpoints()
	resp, err := s.checkpoints(ctx, peer, checkpoints)
	if err != nil {
		return 0, err
	}
	ancestor, _, err := s.chain.FindAncestor(resp, func(index uint64, hash common.Hash) (bool, error) {
		return s.singleCheckpoint(ctx, peer, index, hash)
	})
	if err != nil {
		return 0, err
	}
	if ancestor == 0 && resp.ChainLength > 0 {
		if _, ok := s.chain.CanonicalAt(0); !ok {
			return 0, ErrNoCommonAncestor
		}
	}
	return ancestor, nil
}

func (s *SyncCoordinator) streamFrom(ctx context.Context, peer common.PeerID, from uint64) error {
	for {
		blocks, err := s.blockRange(ctx, peer, from, s.chunkSize)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			return nil
		}
		if _, err := s.chain.ProcessCompetingChain(blocks); err != nil {
			return fmt.Errorf("node: sync chunk starting at %d rejected: %w", from, err)
		}
		from += uint64(len(blocks))
		if uint64(len(blocks)) < s.chunkSize {
			return nil // peer exhausted its chain
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// BlockRangeEnvelope is the wire payload for RouteMinerBlockRange.
type BlockRangeEnvelope struct {
	From  uint64 `json:"from"`
	Limit uint64 `json:"limit"`
}

// MarshalBlockRangeRequest encodes a range request for the reqres wire.
func MarshalBlockRangeRequest(from, limit uint64) ([]byte, error) {
	return json.Marshal(BlockRangeEnvelope{From: from, Limit: limit})
}
