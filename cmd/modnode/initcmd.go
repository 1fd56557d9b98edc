package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var commandInit = &cli.Command{
	Name:      "init",
	Usage:     "write a default node config file",
	ArgsUsage: "[ <config-file> ]",
	Action: func(ctx *cli.Context) error {
		path := ctx.Args().First()
		if path == "" {
			path = ctx.String(configFlag.Name)
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
		if err := writeNodeConfig(path, defaultNodeConfig()); err != nil {
			return err
		}
		fmt.Println("wrote", path)
		return nil
	},
}
