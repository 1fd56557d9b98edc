package minerchain

import "github.com/holiman/uint256"

const (
	// DefaultBlocksPerEpoch is spec.md §4.4.1's default epoch length.
	DefaultBlocksPerEpoch = 40

	minActualSecsFloor = 1 // avoids division by (near-)zero epoch durations
	maxRatioNum        = 4 // clamp new_d to at most 4x old_d
	minRatioDen        = 4 // clamp new_d to at least old_d/4
)

// EpochManager predicts the mining difficulty of block i from the
// wallclock duration of its epoch's predecessor (spec.md §4.4.1).
type EpochManager struct {
	BlocksPerEpoch      uint64
	TargetBlockTimeSecs uint64
	InitialDifficulty   *uint256.Int
}

// NewEpochManager builds an EpochManager with the given epoch length,
// target block interval, and genesis-epoch difficulty.
func NewEpochManager(blocksPerEpoch, targetBlockTimeSecs uint64, initialDifficulty *uint256.Int) *EpochManager {
	return &EpochManager{
		BlocksPerEpoch:      blocksPerEpoch,
		TargetBlockTimeSecs: targetBlockTimeSecs,
		InitialDifficulty:   initialDifficulty,
	}
}

// GetEpoch returns index / BlocksPerEpoch.
func (e *EpochManager) GetEpoch(index uint64) uint64 { return index / e.BlocksPerEpoch }

// GetDifficultyForBlock predicts the difficulty for block `index` given
// the canonical blocks mined so far (indices 0..index-1, in order).
// Genesis epoch (index < BlocksPerEpoch) always uses InitialDifficulty.
// At every later epoch boundary (index % BlocksPerEpoch == 0, index > 0)
// the difficulty is recomputed from the wallclock duration of the prior
// epoch's blocks; within an epoch, difficulty is constant (spec.md
// §4.4.1, §8.3 boundary behavior).
func (e *EpochManager) GetDifficultyForBlock(index uint64, priorBlocks []*Block) *uint256.Int {
	if index < e.BlocksPerEpoch {
		return e.InitialDifficulty
	}
	epoch := e.GetEpoch(index)
	if index%e.BlocksPerEpoch != 0 {
		// Mid-epoch: same difficulty as the first block of this epoch.
		epochStart := epoch * e.BlocksPerEpoch
		return e.GetDifficultyForBlock(epochStart, priorBlocks)
	}
	prevEpoch := epoch - 1
	prevStart := prevEpoch * e.BlocksPerEpoch
	prevEnd := prevStart + e.BlocksPerEpoch - 1
	if prevEnd >= uint64(len(priorBlocks)) {
		return e.InitialDifficulty
	}
	oldDifficulty := priorBlocks[prevStart].Header.Difficulty
	actualSecs := priorBlocks[prevEnd].Header.Timestamp - priorBlocks[prevStart].Header.Timestamp
	if actualSecs < minActualSecsFloor {
		actualSecs = minActualSecsFloor
	}
	expectedSecs := int64(e.TargetBlockTimeSecs) * int64(e.BlocksPerEpoch-1)
	return adjustDifficulty(oldDifficulty, expectedSecs, actualSecs)
}

// adjustDifficulty computes new_d = old_d * expected/actual clamped to
// [old_d/4, old_d*4] (spec.md §4.4.1).
func adjustDifficulty(old *uint256.Int, expectedSecs, actualSecs int64) *uint256.Int {
	expected := uint256.NewInt(uint64(expectedSecs))
	actual := uint256.NewInt(uint64(actualSecs))

	raw := new(uint256.Int).Mul(old, expected)
	raw.Div(raw, actual)

	ceiling := new(uint256.Int).Mul(old, uint256.NewInt(maxRatioNum))
	floor := new(uint256.Int).Div(old, uint256.NewInt(minRatioDen))

	if raw.Gt(ceiling) {
		return ceiling
	}
	if raw.Lt(floor) {
		return floor
	}
	return raw
}
