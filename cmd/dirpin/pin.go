package main

import (
	"fmt"
	"time"

	"github.com/ipfs/dirpin/pkg/pinmanager"
	"github.com/ipfs/dirpin/pkg/store/local"
	"github.com/ipfs/go-cid"
	"github.com/urfave/cli/v2"
)

func cidArg(cctx *cli.Context, usage string) (cid.Cid, error) {
	if cctx.Args().Len() != 1 {
		return cid.Undef, fmt.Errorf("usage: %s", usage)
	}
	c, err := cid.Parse(cctx.Args().First())
	if err != nil {
		return cid.Undef, fmt.Errorf("parsing CID '%s': %w", cctx.Args().First(), err)
	}
	return c, nil
}

var pinCmd = &cli.Command{
	Name:      "pin",
	Usage:     "Pin a published root and confirm the store lists it",
	ArgsUsage: "<cid>",
	Action: func(cctx *cli.Context) error {
		c, err := cidArg(cctx, "pin <cid>")
		if err != nil {
			return err
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

		rec, err := pinmanager.New(st).Pin(cctx.Context, c)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "pinned %s\n", rec.Cid)
		return nil
	},
}

var unpinCmd = &cli.Command{
	Name:      "unpin",
	Usage:     "Remove the pin on a root",
	ArgsUsage: "<cid>",
	Action: func(cctx *cli.Context) error {
		c, err := cidArg(cctx, "unpin <cid>")
		if err != nil {
			return err
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

		if err := pinmanager.New(st).Unpin(cctx.Context, c); err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "unpinned %s\n", c)
		return nil
	},
}

var pinsCmd = &cli.Command{
	Name:      "pins",
	Usage:     "List pinned roots, or check whether one root is pinned",
	ArgsUsage: "[cid]",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		st, err := openStore(cctx.Context, cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		out := cctx.App.Writer

		if cctx.Args().Present() {
			c, err := cidArg(cctx, "pins [cid]")
			if err != nil {
				return err
			}
			pinned, err := pinmanager.New(st).Pinned(cctx.Context, c)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\tpinned=%t\n", c, pinned)
			return nil
		}

		// the local index also knows when each pin was made
		if ls, ok := st.(*local.Store); ok {
			pins, err := ls.Pins(cctx.Context)
			if err != nil {
				return err
			}
			for _, p := range pins {
				fmt.Fprintf(out, "%s\t%s\n", p.CID, time.Unix(p.PinnedAt, 0).UTC().Format(time.RFC3339))
			}
			return nil
		}
		pins, err := st.PinLs(cctx.Context)
		if err != nil {
			return err
		}
		for _, c := range pins {
			fmt.Fprintln(out, c)
		}
		return nil
	},
}
