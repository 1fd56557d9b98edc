package minerchain

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
)

// ErrMiningCancelled is returned by Mine when its cancel flag is set, or
// ctx is done, before a valid nonce is found.
var ErrMiningCancelled = errors.New("minerchain: mining cancelled")

// MineResult is the outcome of a successful Mine call (spec.md §4.4.2).
type MineResult struct {
	Block       *Block
	Attempts    uint64
	DurationSec float64
}

// Hashrate returns attempts per second.
func (r *MineResult) Hashrate() float64 {
	if r.DurationSec <= 0 {
		return 0
	}
	return float64(r.Attempts) / r.DurationSec
}

// CancelFlag is a shared atomic switch the mining loop polls once per
// iteration, letting the node pause mining on sync or shut down on
// Ctrl-C (spec.md §4.4.2, §9 "cooperative async").
type CancelFlag struct {
	flag atomic.Bool
}

func (c *CancelFlag) Set()        { c.flag.Store(true) }
func (c *CancelFlag) Clear()      { c.flag.Store(false) }
func (c *CancelFlag) IsSet() bool { return c.flag.Load() }

// Mine searches for a nonce such that MiningHash(header, nonce) ≤
// target(difficulty), polling cancel and ctx once per iteration
// (spec.md §4.4.2). header.Nonce and header.DataHash are overwritten.
func Mine(ctx context.Context, header Header, body Body, cancel *CancelFlag) (*MineResult, error) {
	dh, err := dataHash(body)
	if err != nil {
		return nil, err
	}
	header.DataHash = dh

	start := time.Now()
	t := target(header.Difficulty)
	var attempts uint64
	nonce := new(uint256.Int)

	for {
		select {
		case <-ctx.Done():
			return nil, ErrMiningCancelled
		default:
		}
		if cancel != nil && cancel.IsSet() {
			return nil, ErrMiningCancelled
		}

		attempts++
		mh, err := MiningHash(header, nonce)
		if err != nil {
			return nil, err
		}
		mhInt := new(uint256.Int).SetBytes(mh.Bytes())
		if mhInt.Cmp(t) <= 0 {
			header.Nonce = new(uint256.Int).Set(nonce)
			hash, err := headerHash(header)
			if err != nil {
				return nil, err
			}
			blk := &Block{Header: header, Body: body, Hash: hash, SeenAt: time.Now().Unix()}
			return &MineResult{
				Block:       blk,
				Attempts:    attempts,
				DurationSec: time.Since(start).Seconds(),
			}, nil
		}
		nonce.AddUint64(nonce, 1)
	}
}

// nextHeader builds the header for the block following tip, with
// difficulty predicted by em.
func nextHeader(tip *Block, em *EpochManager, priorBlocks []*Block, now int64) Header {
	index := tip.Header.Index + 1
	return Header{
		Index:        index,
		PreviousHash: tip.Hash,
		Timestamp:    now,
		Difficulty:   em.GetDifficultyForBlock(index, priorBlocks),
	}
}
