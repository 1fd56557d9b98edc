package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/modality-org/modality-core/dag"
	"github.com/modality-org/modality-core/kvstore"
	"github.com/modality-org/modality-core/minerchain"
)

// stdout returns an ANSI-capable writer on terminals and a plain one
// when piped, matching go-ethereum's log package's isatty/colorable
// terminal-detection idiom.
func stdout() io.Writer {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return colorable.NewColorableStdout()
	}
	return os.Stdout
}

var commandChainInfo = &cli.Command{
	Name:  "chain-info",
	Usage: "print the local miner chain's tip and height",
	Action: func(ctx *cli.Context) error {
		cfg, err := loadNodeConfig(ctx.String(configFlag.Name))
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

		index, tip := chain.Tip()
		table := tablewriter.NewWriter(stdout())
		table.SetHeader([]string{"field", "value"})
		table.Append([]string{"height", strconv.FormatUint(index, 10)})
		table.Append([]string{"tip hash", tip.Hash.Hex()})
		table.Append([]string{"epoch", strconv.FormatUint(tip.Epoch(cfg.BlocksPerEpoch), 10)})
		table.Append([]string{"difficulty", chain.ExpectedDifficulty(index + 1).String()})
		table.Render()
		return nil
	},
}

var commandDAGStatus = &cli.Command{
	Name:  "dag-status",
	Usage: "print the DAG committee nominated by the latest completed epoch",
	Action: func(ctx *cli.Context) error {
		cfg, err := loadNodeConfig(ctx.String(configFlag.Name))
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

		index, _ := chain.Tip()
		epoch := index / cfg.BlocksPerEpoch
		if epoch == 0 {
			fmt.Println(color.YellowString("no epoch has completed yet"))
			return nil
		}
		noms, ok := chain.ShuffledNominations(epoch - 1)
		if !ok {
			fmt.Println(color.YellowString("epoch %d has not completed", epoch-1))
			return nil
		}

		validators := make([]dag.Validator, 0, len(noms))
		for _, nom := range noms {
			validators = append(validators, dag.Validator{PeerID: nom.NominatedPeerID, Weight: 1})
		}
		committee := dag.NewCommittee(validators)

		table := tablewriter.NewWriter(stdout())
		table.SetHeader([]string{"peer", "weight"})
		for _, v := range committee.Members() {
			table.Append([]string{string(v.PeerID), strconv.FormatUint(v.Weight, 10)})
		}
		table.Render()
		fmt.Println(color.GreenString("quorum threshold: %d / %d", committee.QuorumThreshold(), committee.TotalWeight()))
		return nil
	},
}
