package local

import (
	"context"
	"fmt"
	"io"

	dirpin "github.com/ipfs/dirpin/pkg"
	"github.com/ipfs/dirpin/pkg/carwriter"
	"github.com/ipfs/dirpin/pkg/unixfsstore/traversal"
	"github.com/ipfs/go-cid"
	"github.com/ipld/go-car/v2/blockstore"
)

// ExportCAR writes root and every block below it to w as a CARv1
func (s *Store) ExportCAR(ctx context.Context, root cid.Cid, w io.Writer) error {
	s.gcLk.RLock()
	defer s.gcLk.RUnlock()
	has, err := s.blocks.Has(ctx, root)
	if err != nil {
		return err
	}
	if !has {
		return dirpin.ErrNotFound{Cid: root}
	}
	lsys := s.linkSystem(ctx)
	return carwriter.WriteCar(ctx, w, root, &lsys)
}

// ImportCAR copies every block of the CAR file at path into the store and records its roots.
// The roots named in the CAR header are used when the file holds them, otherwise roots are
// discovered from the blocks themselves.
func (s *Store) ImportCAR(ctx context.Context, path string) ([]cid.Cid, error) {
	s.gcLk.RLock()
	defer s.gcLk.RUnlock()

	// whole CIDs keep each block's codec; without them every key comes back as raw
	bs, err := blockstore.OpenReadOnly(path, blockstore.UseWholeCIDs(true))
	if err != nil {
		return nil, fmt.Errorf("opening car %s: %w", path, err)
	}
	defer bs.Close()

	// stops the key producer if a copy fails part way
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	keysCh, err := bs.AllKeysChan(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading car %s: %w", path, err)
	}
	var keys []cid.Cid
	present := make(map[cid.Cid]struct{})
	for c := range keysCh {
		blk, err := bs.Get(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("reading block %s: %w", c, err)
		}
		if err := s.blocks.Put(ctx, blk); err != nil {
			return nil, err
		}
		keys = append(keys, c)
		present[c] = struct{}{}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lsys := s.linkSystem(ctx)
	headerRoots, err := bs.Roots()
	if err != nil {
		return nil, fmt.Errorf("reading car roots: %w", err)
	}
	var roots []cid.Cid
	for _, root := range headerRoots {
		if _, ok := present[root]; !ok {
			continue
		}
		if _, err := traversal.Kind(ctx, root, &lsys); err != nil {
			log.Debugw("skipping car root that is not UnixFS", "root", root, "err", err)
			continue
		}
		roots = append(roots, root)
	}
	if len(roots) == 0 {
		roots, err = traversal.DiscoverRoots(ctx, keys, &lsys)
		if err != nil {
			return nil, err
		}
	}
	if err := s.index.AddRoots(ctx, roots, MetadataImport, &lsys); err != nil {
		return nil, fmt.Errorf("recording roots: %w", err)
	}
	log.Debugw("imported car", "path", path, "blocks", len(keys), "roots", len(roots))
	return roots, nil
}
