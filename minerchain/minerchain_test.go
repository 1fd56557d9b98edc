package minerchain

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/kvstore"
	"github.com/stretchr/testify/require"
)

func testChain(t *testing.T) *Chain {
	t.Helper()
	cfg := Config{
		BlocksPerEpoch:      DefaultBlocksPerEpoch,
		TargetBlockTimeSecs: 60,
		InitialDifficulty:   uint256.NewInt(1000),
	}
	ns := kvstore.NewMemStore().Namespace("minerchain-test")
	c, err := NewChain(cfg, ns, "genesis-peer", nil)
	require.NoError(t, err)
	return c
}

// mineNext mines the next block for c's current tip with the given
// difficulty and nominated peer. AddLocalBlock accepts the block only if
// that difficulty equals the epoch prediction, which is 1000 throughout
// testChain's first epoch.
func mineNext(t *testing.T, c *Chain, difficulty uint64, peer common.PeerID, timestamp int64) *Block {
	t.Helper()
	_, tip := c.Tip()
	h := Header{
		Index:        tip.Header.Index + 1,
		PreviousHash: tip.Hash,
		Timestamp:    timestamp,
		Difficulty:   uint256.NewInt(difficulty),
	}
	res, err := Mine(context.Background(), h, Body{NominatedPeerID: peer}, nil)
	require.NoError(t, err)
	return res.Block
}

func TestGenesisIsCanonical(t *testing.T) {
	c := testChain(t)
	idx, tip := c.Tip()
	require.Equal(t, uint64(0), idx)
	require.True(t, tip.IsCanonical)
	require.True(t, tip.VerifyHash())
	require.True(t, tip.VerifyDataHash())
}

func TestMineAndAddLocalBlock(t *testing.T) {
	c := testChain(t)
	b1 := mineNext(t, c, 1000, "peer-1", 100)
	require.NoError(t, c.AddLocalBlock(b1))

	idx, tip := c.Tip()
	require.Equal(t, uint64(1), idx)
	require.Equal(t, b1.Hash, tip.Hash)
}

func TestAddLocalBlockRejectsBadPrevHash(t *testing.T) {
	c := testChain(t)
	b1 := mineNext(t, c, 50, "peer-1", 100)
	b1.Header.PreviousHash = common.Hash{0xff}
	b1.Hash, _ = headerHash(b1.Header)
	err := c.AddLocalBlock(b1)
	require.ErrorIs(t, err, ErrBadPrevHash)
}

// S2 — first-seen reject.
func TestProcessGossipedBlockFirstSeenRule(t *testing.T) {
	c := testChain(t)
	var b1, b2 *Block
	for i, peer := range []common.PeerID{"p1", "p2"} {
		b := mineNext(t, c, 1000, peer, int64(100*(i+1)))
		require.NoError(t, c.AddLocalBlock(b))
		if i == 0 {
			b1 = b
		} else {
			b2 = b
		}
	}
	_ = b1

	// B2' competes with B2 at the same index, same previous_hash, higher
	// difficulty, different nonce.
	rival := Header{
		Index:        b2.Header.Index,
		PreviousHash: b2.Header.PreviousHash,
		Timestamp:    b2.Header.Timestamp + 1,
		Difficulty:   uint256.NewInt(2000),
	}
	res, err := Mine(context.Background(), rival, Body{NominatedPeerID: "rival"}, nil)
	require.NoError(t, err)

	accepted, err := c.ProcessGossipedBlock(res.Block)
	require.NoError(t, err)
	require.False(t, accepted)

	_, tip := c.Tip()
	require.Equal(t, b2.Hash, tip.Hash, "B2 must remain canonical")

	stored, ok := c.ByHash(res.Block.Hash)
	require.True(t, ok)
	require.True(t, stored.IsOrphaned)
	require.Equal(t, "first-seen rule", stored.OrphanReason)
	require.NotNil(t, stored.CompetingHash)
	require.Equal(t, b2.Hash, *stored.CompetingHash)
}

// S3 — reorg by cumulative difficulty.
func TestProcessCompetingChainReorgsOnHigherDifficulty(t *testing.T) {
	c := testChain(t)
	var chain []*Block
	for i := 0; i < 5; i++ {
		b := mineNext(t, c, 1000, "local-peer", int64(100*(i+1)))
		require.NoError(t, c.AddLocalBlock(b))
		chain = append(chain, b)
	}
	// chain[1] is B2 (index 2); build a peer branch B3',B4',B5' off it.
	b2 := chain[1]
	var peerBranch []*Block
	prev := b2
	for i := 0; i < 3; i++ {
		h := Header{
			Index:        prev.Header.Index + 1,
			PreviousHash: prev.Hash,
			Timestamp:    prev.Header.Timestamp + 1000,
			Difficulty:   uint256.NewInt(1500),
		}
		res, err := Mine(context.Background(), h, Body{NominatedPeerID: "peer-branch"}, nil)
		require.NoError(t, err)
		peerBranch = append(peerBranch, res.Block)
		prev = res.Block
	}

	adopted, err := c.ProcessCompetingChain(peerBranch)
	require.NoError(t, err)
	require.True(t, adopted)

	idx, tip := c.Tip()
	require.Equal(t, uint64(5), idx)
	require.Equal(t, peerBranch[2].Hash, tip.Hash)

	for _, b := range chain[2:] {
		stored, ok := c.ByHash(b.Hash)
		require.True(t, ok)
		require.True(t, stored.IsOrphaned)
	}
}

// S4 — find_ancestor correctness.
func TestFindAncestorBinarySearch(t *testing.T) {
	local := testChain(t)
	peer := testChain(t)

	var prevLocal, prevPeer *Block
	_, g := local.Tip()
	prevLocal, prevPeer = g, g

	for i := 0; i < 9; i++ {
		diffLocal := uint64(1000)
		diffPeer := diffLocal
		peerID := common.PeerID("shared")
		localID := peerID
		if i >= 4 { // diverge from B5 onward (index 5)
			peerID = "peer-only"
			localID = "local-only"
		}
		hl := Header{Index: prevLocal.Header.Index + 1, PreviousHash: prevLocal.Hash, Timestamp: int64(100 * (i + 1)), Difficulty: uint256.NewInt(diffLocal)}
		rl, err := Mine(context.Background(), hl, Body{NominatedPeerID: localID}, nil)
		require.NoError(t, err)
		require.NoError(t, local.AddLocalBlock(rl.Block))
		prevLocal = rl.Block

		hp := Header{Index: prevPeer.Header.Index + 1, PreviousHash: prevPeer.Hash, Timestamp: int64(100 * (i + 1)), Difficulty: uint256.NewInt(diffPeer)}
		rp, err := Mine(context.Background(), hp, Body{NominatedPeerID: peerID}, nil)
		require.NoError(t, err)
		require.NoError(t, peer.AddLocalBlock(rp.Block))
		prevPeer = rp.Block
	}

	resp := peer.MatchLocalCheckpoints(local.BuildCheckpoints())
	queryFn := func(index uint64, hash common.Hash) (bool, error) {
		b, ok := peer.CanonicalAt(index)
		return ok && b.Hash == hash, nil
	}
	ancestor, queries, err := local.FindAncestor(resp, queryFn)
	require.NoError(t, err)
	require.Equal(t, uint64(4), ancestor)
	require.LessOrEqual(t, queries, 5)
}

func TestEpochBoundaryDifficultyMatchesPrediction(t *testing.T) {
	c := testChain(t)
	var last *Block
	_, last = c.Tip()
	for i := uint64(1); i < DefaultBlocksPerEpoch; i++ {
		b := mineNext(t, c, 1000, "peer", int64(i*60))
		require.NoError(t, c.AddLocalBlock(b))
		last = b
	}
	predicted := c.ExpectedDifficulty(DefaultBlocksPerEpoch)
	require.True(t, predicted.Eq(uint256.NewInt(1000)))
	_ = last
}

func TestShuffledNominationsOnlyWhenEpochComplete(t *testing.T) {
	c := testChain(t)
	_, ok := c.ShuffledNominations(0)
	require.False(t, ok)

	for i := uint64(1); i < DefaultBlocksPerEpoch; i++ {
		b := mineNext(t, c, 1000, common.PeerID("peer"), int64(i*60))
		require.NoError(t, c.AddLocalBlock(b))
	}
	noms, ok := c.ShuffledNominations(0)
	require.True(t, ok)
	require.Len(t, noms, DefaultBlocksPerEpoch)
}

func TestMineRespectsCancelFlag(t *testing.T) {
	flag := &CancelFlag{}
	flag.Set()
	h := Header{Index: 1, Difficulty: uint256.NewInt(1 << 62)}
	_, err := Mine(context.Background(), h, Body{}, flag)
	require.ErrorIs(t, err, ErrMiningCancelled)
}
