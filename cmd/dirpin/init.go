package main

import (
	"fmt"

	"github.com/ipfs/dirpin/internal/config"
	"github.com/urfave/cli/v2"
)

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "Create the repo and write its config file",
	Action: func(cctx *cli.Context) error {
		v := newViper(cctx)
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		path, err := config.WriteRepoConfig(v)
		if err != nil {
			return err
		}
		st, err := openLocal(cctx.Context, cfg)
		if err != nil {
			return err
		}
		if err := st.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "initialized repo at %s (config %s)\n", cfg.Repo, path)
		return nil
	},
}
