package local

import (
	"context"
	"fmt"

	"github.com/ipfs/dirpin/pkg/unixfsstore/traversal"
	"github.com/ipfs/go-cid"
)

// GC deletes every block that is not reachable from a pin and forgets the roots it deleted.
// It returns the number of blocks removed. Writes wait while it runs.
func (s *Store) GC(ctx context.Context) (int, error) {
	s.gcLk.Lock()
	defer s.gcLk.Unlock()

	pins, err := s.index.Pins(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pins: %w", err)
	}
	lsys := s.linkSystem(ctx)
	live := make(map[cid.Cid]struct{})
	for _, pin := range pins {
		closure, err := traversal.Closure(ctx, pin.CID, &lsys)
		if err != nil {
			return 0, fmt.Errorf("walking pin %s: %w", pin.CID, err)
		}
		for _, c := range closure {
			live[c] = struct{}{}
		}
	}

	keys, err := s.blocks.AllKeys(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, c := range keys {
		if _, ok := live[c]; ok {
			continue
		}
		if err := s.blocks.Delete(ctx, c); err != nil {
			return removed, err
		}
		removed++
	}

	roots, err := s.index.Roots(ctx)
	if err != nil {
		return removed, fmt.Errorf("listing roots: %w", err)
	}
	var dead []cid.Cid
	for _, root := range roots {
		if _, ok := live[root.CID]; !ok {
			dead = append(dead, root.CID)
		}
	}
	if err := s.index.RemoveRoots(ctx, dead); err != nil {
		return removed, fmt.Errorf("forgetting collected roots: %w", err)
	}
	log.Debugw("collected garbage", "pins", len(pins), "kept", len(live), "removed", removed, "roots", len(dead))
	return removed, nil
}
