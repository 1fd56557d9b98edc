package minerchain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/bloomfilter/v2"
	"github.com/holiman/uint256"
	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/kvstore"
)

var ErrChainDiscontinuous = errors.New("minerchain: competing chain is not index-consecutive")

// Config holds the tunables of spec.md §4.4.1/§4.4.4.
type Config struct {
	BlocksPerEpoch      uint64
	TargetBlockTimeSecs uint64
	InitialDifficulty   *uint256.Int
	MinimumBlockTime    int64                  // rejects blocks with Timestamp below this
	ForcedForkHashes    map[uint64]common.Hash // index -> required hash
}

// ChainObserver is notified of canonicalization/orphan events, so a node
// orchestrator can react (broadcast new tips, log reorgs) without this
// package depending on gossip/logging concerns (SPEC_FULL.md §4.4
// supplement, grounded on original_source's chain_observer.rs).
type ChainObserver interface {
	OnCanonicalized(b *Block)
	OnOrphaned(b *Block)
	OnEpochComplete(epoch uint64, shuffled []EpochNomination)
}

type noopObserver struct{}

func (noopObserver) OnCanonicalized(*Block)                    {}
func (noopObserver) OnOrphaned(*Block)                         {}
func (noopObserver) OnEpochComplete(uint64, []EpochNomination) {}

// Chain is the miner chain: canonical/orphan/pending block bookkeeping,
// an epoch/difficulty manager, and fork-choice logic (spec.md §3.3,
// §4.4). Grounded on tos-network-gtos/consensus/dpos's Snapshot (ARC
// caching over an authoritative store) and original_source's
// modal-miner/src/chain.rs Blockchain struct.
type Chain struct {
	mu sync.RWMutex

	cfg   Config
	epoch *EpochManager
	ns    *kvstore.Namespace

	byIndex        map[uint64]*Block      // canonical, index -> block
	byHash         map[common.Hash]*Block // every known block (canonical, orphan, pending), by hash
	orphansByIndex map[uint64][]*Block

	tip uint64

	recents *lru.ARCCache       // hash -> *Block, hot-path cache
	seen    *bloomfilter.Filter // probabilistic "have we ever seen this hash" short-circuit

	observer ChainObserver
}

// NewChain builds a chain with genesisPeerID's genesis block at index 0.
func NewChain(cfg Config, ns *kvstore.Namespace, genesisPeerID common.PeerID, observer ChainObserver) (*Chain, error) {
	if cfg.BlocksPerEpoch == 0 {
		cfg.BlocksPerEpoch = DefaultBlocksPerEpoch
	}
	if observer == nil {
		observer = noopObserver{}
	}
	recents, err := lru.NewARC(256)
	if err != nil {
		return nil, err
	}
	seen, err := bloomfilter.New(1<<20, 6)
	if err != nil {
		return nil, err
	}

	genesisHeader := Header{Index: 0, Timestamp: 0, Difficulty: cfg.InitialDifficulty, Nonce: uint256.NewInt(0)}
	genesisBody := Body{NominatedPeerID: genesisPeerID}
	genesis, err := BuildBlock(genesisHeader, genesisBody)
	if err != nil {
		return nil, err
	}
	genesis.IsCanonical = true

	c := &Chain{
		cfg:            cfg,
		epoch:          NewEpochManager(cfg.BlocksPerEpoch, cfg.TargetBlockTimeSecs, cfg.InitialDifficulty),
		ns:             ns,
		byIndex:        map[uint64]*Block{0: genesis},
		byHash:         map[common.Hash]*Block{genesis.Hash: genesis},
		orphansByIndex: make(map[uint64][]*Block),
		recents:        recents,
		seen:           seen,
		observer:       observer,
	}
	c.seen.Add(bloomKey(genesis.Hash))
	return c, nil
}

// bloomKey adapts a content hash to the uint64 key bloomfilter/v2 keys on,
// the same truncate-to-uint64 idiom go-ethereum's trie/sync_bloom.go uses
// in front of a goleveldb-backed store.
func bloomKey(h common.Hash) bloomfilter.Hash {
	return bloomfilter.Hash(binary.BigEndian.Uint64(h[:8]))
}

// Tip returns the current canonical tip index and block.
func (c *Chain) Tip() (uint64, *Block) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip, c.byIndex[c.tip]
}

// Height is an alias for Tip's index, matching original_source naming.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip
}

// CanonicalAt returns the canonical block at index, if any.
func (c *Chain) CanonicalAt(index uint64) (*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byIndex[index]
	return b, ok
}

// ByHash returns any known block (canonical/orphan/pending) by hash.
func (c *Chain) ByHash(h common.Hash) (*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.recents.Get(h); ok {
		return v.(*Block), true
	}
	b, ok := c.byHash[h]
	return b, ok
}

// priorCanonicalBlocks returns the canonical blocks [0, upTo) in index
// order, for epoch-difficulty prediction.
func (c *Chain) priorCanonicalBlocks(upTo uint64) []*Block {
	out := make([]*Block, 0, upTo)
	for i := uint64(0); i < upTo; i++ {
		b, ok := c.byIndex[i]
		if !ok {
			break
		}
		out = append(out, b)
	}
	return out
}

// ExpectedDifficulty predicts the difficulty for block `index` (spec.md
// §4.4.1, exposed for miners building the next header).
func (c *Chain) ExpectedDifficulty(index uint64) *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch.GetDifficultyForBlock(index, c.priorCanonicalBlocks(index))
}

// NextHeader builds the header a miner should mine against to extend
// the current tip.
func (c *Chain) NextHeader(now int64) Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tipBlock := c.byIndex[c.tip]
	return nextHeader(tipBlock, c.epoch, c.priorCanonicalBlocks(tipBlock.Header.Index+1), now)
}

func (c *Chain) markOrphan(b *Block, reason string, competing *common.Hash) {
	b.IsOrphaned = true
	b.IsCanonical = false
	b.OrphanReason = reason
	b.CompetingHash = competing
	c.orphansByIndex[b.Header.Index] = append(c.orphansByIndex[b.Header.Index], b)
	c.byHash[b.Hash] = b
	c.seen.Add(bloomKey(b.Hash))
	c.persist(b)
	c.observer.OnOrphaned(b)
}

func (c *Chain) markCanonical(b *Block) {
	b.IsCanonical = true
	b.IsOrphaned = false
	b.OrphanReason = ""
	b.CompetingHash = nil
	c.byIndex[b.Header.Index] = b
	c.byHash[b.Hash] = b
	c.recents.Add(b.Hash, b)
	c.seen.Add(bloomKey(b.Hash))
	c.persist(b)
	if b.Header.Index > c.tip || (b.Header.Index == 0 && c.tip == 0 && len(c.byIndex) == 1) {
		c.tip = b.Header.Index
	}
	c.observer.OnCanonicalized(b)
	if b.Header.Index > 0 && b.Header.Index%c.cfg.BlocksPerEpoch == 0 {
		c.maybeSignalEpoch(c.epoch.GetEpoch(b.Header.Index) - 1)
	}
}

// persist writes b to the namespaced disk store under
// block/<index>/<hash>. The chain never reads these entries back:
// NewChain starts from genesis and lookups use the in-memory
// byIndex/byHash maps.
func (c *Chain) persist(b *Block) {
	if c.ns == nil {
		return
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return
	}
	_ = c.ns.Put(fmt.Sprintf("block/%d/%s", b.Header.Index, b.Hash.Hex()), raw)
}

func (c *Chain) maybeSignalEpoch(epoch uint64) {
	shuffled, ok := c.shuffledNominationsLocked(epoch)
	if ok {
		c.observer.OnEpochComplete(epoch, shuffled)
	}
}

// validForcedFork reports whether b satisfies any configured forced-fork
// checkpoint at its index (spec.md §4.4.4 step 2).
func (c *Chain) validForcedFork(b *Block) (ok bool, required common.Hash, has bool) {
	req, has := c.cfg.ForcedForkHashes[b.Header.Index]
	if !has {
		return true, common.Hash{}, false
	}
	return req == b.Hash, req, true
}

// ProcessGossipedBlock applies the intake algorithm of spec.md §4.4.4 to
// a newly received block B. Returns true if B became canonical.
func (c *Chain) ProcessGossipedBlock(b *Block) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b.Header.Timestamp < c.cfg.MinimumBlockTime {
		c.markOrphan(b, "timestamp below minimum_block_timestamp", nil)
		return false, ErrTooOld
	}

	forcedOK, required, hasForced := c.validForcedFork(b)
	if hasForced && !forcedOK {
		c.markOrphan(b, "forced-fork checkpoint mismatch", &required)
		return false, ErrForcedFork
	}

	// The bloom filter gates the exact-match lookup: a miss proves b.Hash
	// was never stored, letting large chains skip the map probe entirely.
	if c.seen.Contains(bloomKey(b.Hash)) {
		if existing, ok := c.byHash[b.Hash]; ok && existing.IsCanonical {
			return false, nil // already stored canonical: skipped
		}
	}

	canon, hasCanon := c.byIndex[b.Header.Index]
	if hasCanon {
		if hasForced && required == b.Hash && canon.Hash != b.Hash {
			c.markOrphan(canon, "forced-fork override", &b.Hash)
			c.markCanonical(b)
			return true, nil
		}
		// first-seen rule: keep canon, orphan b.
		c.markOrphan(b, "first-seen rule", &canon.Hash)
		return false, nil
	}

	if b.Header.Index == 0 {
		c.markCanonical(b)
		return true, nil
	}

	parent, hasParent := c.byIndex[b.Header.Index-1]
	switch {
	case hasParent && parent.Hash == b.PreviousHashField():
		c.markCanonical(b)
		return true, nil
	case hasParent:
		c.markOrphan(b, "Fork detected", &parent.Hash)
		return false, nil
	default:
		if j, ok := c.indexOfCanonicalHash(b.PreviousHashField()); ok {
			c.markOrphan(b, fmt.Sprintf("Gap between %d and %d", j, b.Header.Index), nil)
		} else {
			c.markOrphan(b, "Parent not found", nil)
		}
		return false, nil
	}
}

// PreviousHashField exposes Header.PreviousHash through the Block, kept
// as a method so call sites read as b.PreviousHashField() next to
// b.Hash.
func (b *Block) PreviousHashField() common.Hash { return b.Header.PreviousHash }

func (c *Chain) indexOfCanonicalHash(h common.Hash) (uint64, bool) {
	for idx, blk := range c.byIndex {
		if blk.Hash == h {
			return idx, true
		}
	}
	return 0, false
}

// validateSegment checks spec.md §4.4.5 step 1: sorted, consecutive,
// chained previous_hash, and forced-fork/timestamp checks.
func (c *Chain) validateSegment(blocks []*Block) error {
	for i, b := range blocks {
		if b.Header.Timestamp < c.cfg.MinimumBlockTime {
			return ErrTooOld
		}
		if ok, required, has := c.validForcedFork(b); has && !ok {
			return fmt.Errorf("%w: index %d expected %s", ErrForcedFork, b.Header.Index, required.Hex())
		}
		if i == 0 {
			continue
		}
		prev := blocks[i-1]
		if b.Header.Index != prev.Header.Index+1 {
			return ErrChainDiscontinuous
		}
		if b.PreviousHashField() != prev.Hash {
			return ErrChainDiscontinuous
		}
	}
	return nil
}

// cumulativeDifficulty sums difficulty (saturating) over blocks.
func cumulativeDifficulty(blocks []*Block) *uint256.Int {
	sum := new(uint256.Int)
	for _, b := range blocks {
		if b.Header.Difficulty == nil {
			continue
		}
		next := new(uint256.Int).Add(sum, b.Header.Difficulty)
		if next.Lt(sum) {
			sum = new(uint256.Int).Not(uint256.NewInt(0)) // saturate at max u256
			break
		}
		sum = next
	}
	return sum
}

// ProcessCompetingChain implements spec.md §4.4.5: adopt a peer-supplied
// suffix iff it carries strictly more cumulative difficulty (with length
// and lexicographic tiebreakers).
func (c *Chain) ProcessCompetingChain(blocks []*Block) (adopted bool, err error) {
	if len(blocks) == 0 {
		return false, nil
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Header.Index < blocks[j].Header.Index })

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validateSegment(blocks); err != nil {
		for _, b := range blocks {
			c.markOrphan(b, "invalid competing segment", nil)
		}
		return false, err
	}

	first := blocks[0]
	fork := first.Header.Index - 1 // pseudo fork point directly before the segment
	if first.Header.Index == 0 {
		fork = 0
	} else if parent, ok := c.byIndex[first.Header.Index-1]; ok && parent.Hash == first.PreviousHashField() {
		fork = first.Header.Index - 1
	} else {
		// No common ancestor at the expected point: full-chain comparison
		// with index 0 as pseudo-fork (spec.md §4.4.5 step 2).
		fork = 0
	}

	last := blocks[len(blocks)-1].Header.Index
	var local []*Block
	for i := fork + 1; i <= last; i++ {
		if b, ok := c.byIndex[i]; ok {
			local = append(local, b)
		}
	}

	dLocal := cumulativeDifficulty(local)
	dPeer := cumulativeDifficulty(blocks)

	adopt := false
	switch {
	case dPeer.Gt(dLocal):
		adopt = true
	case dPeer.Eq(dLocal) && len(blocks) > len(local):
		adopt = true
	case dPeer.Eq(dLocal) && len(blocks) == len(local):
		adopt = firstDivergentLess(blocks, local)
	}

	if !adopt {
		for _, b := range blocks {
			c.markOrphan(b, "competing chain rejected: insufficient cumulative difficulty", nil)
		}
		return false, nil
	}

	peerFirst := firstHash(blocks)
	for _, b := range local {
		c.markOrphan(b, "reorg: peer chain adopted", &peerFirst)
	}
	for _, b := range blocks {
		c.markCanonical(b)
	}
	return true, nil
}

func firstHash(blocks []*Block) common.Hash {
	if len(blocks) == 0 {
		return common.Hash{}
	}
	return blocks[0].Hash
}

// firstDivergentLess implements the final tiebreaker of spec.md §4.4.5
// step 4: peer wins iff its first divergent hash is lexicographically
// less than the corresponding local hash.
func firstDivergentLess(peer, local []*Block) bool {
	for i := 0; i < len(peer) && i < len(local); i++ {
		if peer[i].Hash != local[i].Hash {
			return common.HashesAscending{peer[i].Hash, local[i].Hash}.Less(0, 1)
		}
	}
	return false
}

// Checkpoint is one entry of the exponential checkpoint ladder used by
// FindAncestor (spec.md §4.4.6).
type Checkpoint struct {
	Index uint64
	Hash  common.Hash
}

// BuildCheckpoints returns checkpoints at tip, tip-1, tip-2, tip-4,
// tip-8, ... down to 0 (spec.md §4.4.6 step 1).
func (c *Chain) BuildCheckpoints() []Checkpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Checkpoint
	tip := c.tip
	add := func(idx uint64) {
		if b, ok := c.byIndex[idx]; ok {
			out = append(out, Checkpoint{Index: idx, Hash: b.Hash})
		}
	}
	add(tip)
	for step := uint64(1); step > 0 && step < tip; step *= 2 {
		add(tip - step)
	}
	if tip > 0 {
		add(0)
	}
	return out
}

// PeerCheckpointResponse is what a remote peer returns for a checkpoint
// query (spec.md §4.4.6 step 2).
type PeerCheckpointResponse struct {
	Matches              map[uint64]bool
	ChainLength          uint64
	CumulativeDifficulty *uint256.Int
}

// MatchLocalCheckpoints reports, for each of checkpoints, whether the
// local canonical chain has that (index, hash) pair — the peer side of
// FindAncestor (spec.md §4.4.6 step 2).
func (c *Chain) MatchLocalCheckpoints(checkpoints []Checkpoint) PeerCheckpointResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	matches := make(map[uint64]bool, len(checkpoints))
	for _, cp := range checkpoints {
		b, ok := c.byIndex[cp.Index]
		matches[cp.Index] = ok && b.Hash == cp.Hash
	}
	var local []*Block
	for i := uint64(0); i <= c.tip; i++ {
		if b, ok := c.byIndex[i]; ok {
			local = append(local, b)
		}
	}
	return PeerCheckpointResponse{
		Matches:              matches,
		ChainLength:          c.tip + 1,
		CumulativeDifficulty: cumulativeDifficulty(local),
	}
}

// QueryCheckpointFn asks a peer whether it has (index, hash) canonical,
// the single-checkpoint query used during binary search (spec.md §4.4.6
// step 5).
type QueryCheckpointFn func(index uint64, hash common.Hash) (bool, error)

// FindAncestor runs spec.md §4.4.6's exponential-then-binary search: it
// sends BuildCheckpoints() via resp, then narrows with single queries
// via query until the interval width is ≤ 1.
func (c *Chain) FindAncestor(resp PeerCheckpointResponse, query QueryCheckpointFn) (highestMatch uint64, queries int, err error) {
	checkpoints := c.BuildCheckpoints()

	highestMatch = 0
	found := false
	searchHigh := c.Height()
	for _, cp := range checkpoints {
		if resp.Matches[cp.Index] {
			if !found || cp.Index > highestMatch {
				highestMatch = cp.Index
				found = true
			}
		}
	}
	if !found {
		return 0, 0, nil // fully diverged
	}
	for _, cp := range checkpoints {
		if !resp.Matches[cp.Index] && cp.Index > highestMatch && cp.Index < searchHigh {
			searchHigh = cp.Index
		}
	}

	lo, hi := highestMatch, searchHigh
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		b, ok := c.CanonicalAt(mid)
		if !ok {
			hi = mid
			continue
		}
		ok, err = query(mid, b.Hash)
		queries++
		if err != nil {
			return 0, queries, err
		}
		if ok {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, queries, nil
}

// EpochNomination is one (local_index, nominated_peer_id) pair from a
// completed epoch, in shuffled order (spec.md §4.4.8).
type EpochNomination struct {
	LocalIndex      uint64
	NominatedPeerID common.PeerID
}

// ShuffledNominations returns the deterministically shuffled nomination
// list for a completed epoch, or false if the epoch is incomplete.
func (c *Chain) ShuffledNominations(epoch uint64) ([]EpochNomination, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shuffledNominationsLocked(epoch)
}

func (c *Chain) shuffledNominationsLocked(epoch uint64) ([]EpochNomination, bool) {
	start := epoch * c.cfg.BlocksPerEpoch
	end := start + c.cfg.BlocksPerEpoch
	noms := make([]EpochNomination, 0, c.cfg.BlocksPerEpoch)
	nonceHashes := make([]common.Hash, 0, c.cfg.BlocksPerEpoch)
	for i := start; i < end; i++ {
		b, ok := c.byIndex[i]
		if !ok {
			return nil, false
		}
		noms = append(noms, EpochNomination{LocalIndex: i, NominatedPeerID: b.Body.NominatedPeerID})
		nonceHashes = append(nonceHashes, nonceHash(b.Header.Nonce))
	}
	seed := common.XORHashes(nonceHashes)
	shuffleNominations(noms, seed)
	return noms, true
}

func nonceHash(n *uint256.Int) common.Hash {
	if n == nil {
		return common.Hash{}
	}
	b32 := n.Bytes32()
	return common.BytesToHash(b32[:])
}

// shuffleNominations performs a deterministic Fisher-Yates shuffle of
// noms, seeded by seed (spec.md §4.4.8).
func shuffleNominations(noms []EpochNomination, seed common.Hash) {
	state := seed
	for i := len(noms) - 1; i > 0; i-- {
		state = common.XORHashes([]common.Hash{state, common.BytesToHash([]byte{byte(i)})})
		j := int(state[0])<<24 | int(state[1])<<16 | int(state[2])<<8 | int(state[3])
		if j < 0 {
			j = -j
		}
		j %= i + 1
		noms[i], noms[j] = noms[j], noms[i]
	}
}

// ValidateLocalBlock checks spec.md §4.4.7's local-add invariants before
// a freshly mined block extends the tip.
func (c *Chain) ValidateLocalBlock(b *Block) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tipBlock := c.byIndex[c.tip]
	if b.Header.Index != tipBlock.Header.Index+1 {
		return ErrBadIndex
	}
	if b.PreviousHashField() != tipBlock.Hash {
		return ErrBadPrevHash
	}
	if !b.VerifyDataHash() {
		return ErrBadDataHash
	}
	if !b.VerifyHash() {
		return ErrBadHash
	}
	if !b.VerifyProofOfWork() {
		return ErrBadProofOfWork
	}
	expected := c.epoch.GetDifficultyForBlock(b.Header.Index, c.priorCanonicalBlocks(b.Header.Index))
	if b.Header.Difficulty == nil || !b.Header.Difficulty.Eq(expected) {
		return ErrBadDifficulty
	}
	return nil
}

// AddLocalBlock validates and canonicalizes a freshly mined block.
func (c *Chain) AddLocalBlock(b *Block) error {
	if err := c.ValidateLocalBlock(b); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markCanonical(b)
	return nil
}

// ValidateContinuity walks the canonical chain from 0 up to the tip,
// checking that every index is present and chained to its predecessor's
// hash. It is the node orchestrator's pre-sync check (spec.md §4.6.2
// step ii). lastValid is the highest index still properly chained; ok
// is false iff a break was found at or below the current tip.
func (c *Chain) ValidateContinuity() (lastValid uint64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validateContinuityLocked()
}

func (c *Chain) validateContinuityLocked() (lastValid uint64, ok bool) {
	prev, has := c.byIndex[0]
	if !has {
		return 0, false
	}
	for i := uint64(1); i <= c.tip; i++ {
		b, has := c.byIndex[i]
		if !has || b.PreviousHashField() != prev.Hash {
			return lastValid, false
		}
		prev = b
		lastValid = i
	}
	return lastValid, true
}

// RepairFromBreak orphans every canonical block above lastValid and
// resets the tip to lastValid, recovering from a continuity break
// ValidateContinuity found (spec.md §4.6.2 step ii).
func (c *Chain) RepairFromBreak(lastValid uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := c.tip; i > lastValid; i-- {
		b, ok := c.byIndex[i]
		if !ok {
			continue
		}
		delete(c.byIndex, i)
		c.markOrphan(b, "chain continuity repair", nil)
	}
	c.tip = lastValid
}
