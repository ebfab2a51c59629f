package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/dirpin/pkg/retrieval"
	"github.com/ipfs/go-cid"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
)

var getCmd = &cli.Command{
	Name:      "get",
	Usage:     "Retrieve a published tree and write it to a directory",
	ArgsUsage: "<cid> <outputDir>",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() != 2 {
			return fmt.Errorf("usage: get <cid> <outputDir>")
		}
		root, err := cid.Parse(cctx.Args().First())
		if err != nil {
			return fmt.Errorf("parsing CID '%s': %w", cctx.Args().First(), err)
		}
		outputDir, err := homedir.Expand(cctx.Args().Get(1))
		if err != nil {
			return fmt.Errorf("expanding output path: %w", err)
		}

		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		st, err := openStore(cctx.Context, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		content, err := retrieval.New(st).Retrieve(cctx.Context, root)
		if err != nil {
			return err
		}
		for _, p := range content.Paths() {
			dest := filepath.Join(outputDir, filepath.FromSlash(p))
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(dest, content[p], 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", dest, err)
			}
		}
		fmt.Fprintf(cctx.App.Writer, "wrote %d files from %s to %s\n", len(content), root, outputDir)
		return nil
	},
}
