package main

import (
	"fmt"
	"path/filepath"

	"github.com/ipfs/dirpin/pkg/pinmanager"
	"github.com/ipfs/dirpin/pkg/publisher"
	"github.com/ipfs/dirpin/pkg/retrieval"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

// DefaultDir is published when no directory is given
const DefaultDir = "./client/"

var publishCmd = &cli.Command{
	Name:      "publish",
	Usage:     "Publish a directory, verify it, pin it and verify it again",
	ArgsUsage: "[dir]",
	Action:    publishAction,
}

func publishAction(cctx *cli.Context) error {
	if cctx.Args().Len() > 1 {
		return fmt.Errorf("usage: publish [dir]")
	}
	dir := DefaultDir
	if cctx.Args().Present() {
		dir = cctx.Args().First()
	}
	dir, err := homedir.Expand(dir)
	if err != nil {
		return fmt.Errorf("expanding directory path: %w", err)
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("expanding directory path: %w", err)
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

	fsys := afero.NewOsFs()
	pub, err := publisher.New(st, fsys,
		publisher.WithConcurrency(cfg.Publish.Concurrency),
		publisher.WithChunkSize(cfg.Publish.ChunkSize))
	if err != nil {
		return err
	}
	verifier := retrieval.New(st)
	pins := pinmanager.New(st)
	out := cctx.App.Writer

	log.Infow("publishing", "dir", dir, "store", cfg.Store.Backend, "concurrency", cfg.Publish.Concurrency)
	root, err := pub.Publish(cctx.Context, dir)
	if err != nil {
		return err
	}
	content, err := verifier.Verify(cctx.Context, root, fsys, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "published %s (%d files verified)\n", root, len(content))

	if _, err := pins.Pin(cctx.Context, root); err != nil {
		return err
	}
	if _, err := verifier.Verify(cctx.Context, root, fsys, dir); err != nil {
		return err
	}
	fmt.Fprintf(out, "pinned %s\n", root)
	return nil
}
