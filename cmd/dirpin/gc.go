package main

import (
	"fmt"

	"github.com/ipfs/go-unixfsnode/data"
	"github.com/urfave/cli/v2"
)

var gcCmd = &cli.Command{
	Name:  "gc",
	Usage: "Delete every block not reachable from a pin",
	Action: func(cctx *cli.Context) error {
		st, err := localOnly(cctx)
		if err != nil {
			return err
		}
		defer st.Close()

		removed, err := st.GC(cctx.Context)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "removed %d blocks\n", removed)
		return nil
	},
}

var lsCmd = &cli.Command{
	Name:  "ls",
	Usage: "List the roots held by the local store",
	Action: func(cctx *cli.Context) error {
		st, err := localOnly(cctx)
		if err != nil {
			return err
		}
		defer st.Close()

		roots, err := st.Roots(cctx.Context)
		if err != nil {
			return err
		}
		for _, root := range roots {
			fmt.Fprintf(cctx.App.Writer, "%s\t%s\t%s\n", root.CID, data.DataTypeNames[root.Kind], root.Metadata)
		}
		return nil
	},
}
