package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

var exportCmd = &cli.Command{
	Name:      "export",
	Usage:     "Write a root and every block below it to a CAR file",
	ArgsUsage: "<cid> <file.car>",
	Action: func(cctx *cli.Context) (err error) {
		if cctx.Args().Len() != 2 {
			return fmt.Errorf("usage: export <cid> <file.car>")
		}
		root, err := cid.Parse(cctx.Args().First())
		if err != nil {
			return fmt.Errorf("parsing CID '%s': %w", cctx.Args().First(), err)
		}
		dest, err := homedir.Expand(cctx.Args().Get(1))
		if err != nil {
			return fmt.Errorf("expanding car file path: %w", err)
		}
		st, err := localOnly(cctx)
		if err != nil {
			return err
		}
		defer st.Close()

		f, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("creating car file: %w", err)
		}
		defer func() {
			err = multierr.Append(err, f.Close())
			if err != nil {
				_ = os.Remove(dest)
			}
		}()
		if err := st.ExportCAR(cctx.Context, root, f); err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "exported %s to %s\n", root, dest)
		return nil
	},
}

var importCmd = &cli.Command{
	Name:      "import",
	Usage:     "Import the blocks of a CAR file and record its roots",
	ArgsUsage: "<file.car>",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() != 1 {
			return fmt.Errorf("usage: import <file.car>")
		}
		srcName, err := homedir.Expand(cctx.Args().First())
		if err != nil {
			return fmt.Errorf("expanding source file path: %w", err)
		}
		srcName, err = filepath.Abs(srcName)
		if err != nil {
			return fmt.Errorf("expanding source file path: %w", err)
		}
		st, err := localOnly(cctx)
		if err != nil {
			return err
		}
		defer st.Close()

		roots, err := st.ImportCAR(cctx.Context, srcName)
		if err != nil {
			return err
		}
		for _, root := range roots {
			fmt.Fprintf(cctx.App.Writer, "imported %s\n", root)
		}
		return nil
	},
}
