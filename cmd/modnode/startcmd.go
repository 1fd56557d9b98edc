package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/internal/glog"
	"github.com/modality-org/modality-core/kvstore"
	"github.com/modality-org/modality-core/minerchain"
	"github.com/modality-org/modality-core/node"
)

var commandStart = &cli.Command{
	Name:  "start",
	Usage: "run a node against its local datastore",
	Action: func(ctx *cli.Context) error {
		cfg, err := loadNodeConfig(ctx.String(configFlag.Name))
		if err != nil {
			return err
		}
		priv, err := cfg.privateKey()
		if err != nil {
			return err
		}

		store, err := kvstore.NewLevelDBStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()
		ns := store.Namespace("minerchain")

		chain, err := minerchain.NewChain(minerchain.Config{
			BlocksPerEpoch:      cfg.BlocksPerEpoch,
			TargetBlockTimeSecs: cfg.TargetBlockTimeSecs,
			InitialDifficulty:   cfg.initialDifficulty(),
		}, ns, cfg.peerID(), nil)
		if err != nil {
			return err
		}

		n, err := node.New(node.Config{
			Self:            cfg.peerID(),
			Keypair:         priv,
			Bootstrappers:   cfg.bootstrapperIDs(),
			MinerChain:      chain,
			HybridConsensus: cfg.HybridConsensus,
			RunValidator:    cfg.RunValidator,
		})
		if err != nil {
			return err
		}

		runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go mineUntilDone(runCtx, chain, n, cfg.peerID())

		return n.Run(runCtx)
	},
}

// mineUntilDone runs a simple single-threaded PoW mining loop against
// chain, pausing whenever n reports a sync in progress (spec.md §4.6.2).
// It is the CLI's stand-in for a dedicated mining worker pool.
func mineUntilDone(ctx context.Context, chain *minerchain.Chain, n *node.Node, self common.PeerID) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if n.MiningPaused() {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		header := chain.NextHeader(time.Now().Unix())
		res, err := minerchain.Mine(ctx, header, minerchain.Body{NominatedPeerID: self}, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			glog.Warn("mining attempt failed", "err", err)
			continue
		}
		if err := chain.AddLocalBlock(res.Block); err != nil {
			glog.Debug("mined block rejected, tip moved under us", "err", err)
			continue
		}
		glog.Info("mined block", "index", res.Block.Header.Index, "hashrate", res.Hashrate())
	}
}
