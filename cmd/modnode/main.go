package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/modality-org/modality-core/internal/glog"
)

// gitCommit and gitDate are set via linker flags at release build time,
// mirroring tos-network-gtos/cmd's release-metadata convention.
var (
	gitCommit = ""
	gitDate   = ""
)

var configFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "path to the node's TOML config file",
	Value: defaultConfigPath,
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "modnode"
	app.Usage = "run and inspect a modality-core node"
	app.Version = fmt.Sprintf("%s-%s", gitCommit, gitDate)
	app.Flags = []cli.Flag{configFlag}
	app.Commands = []*cli.Command{
		commandInit,
		commandStart,
		commandChainInfo,
		commandDAGStatus,
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		glog.Error("modnode exited with error", "err", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
