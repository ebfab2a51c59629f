package traversal

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime"
)

// closureVisitor collects every CID reachable from a root, once each, in the order first seen
type closureVisitor struct {
	seen  map[cid.Cid]struct{}
	order []cid.Cid
}

func (cv *closureVisitor) add(c cid.Cid) {
	if _, ok := cv.seen[c]; ok {
		return
	}
	cv.seen[c] = struct{}{}
	cv.order = append(cv.order, c)
}

func (cv *closureVisitor) OnPath(ctx context.Context, root cid.Cid, path string, cids []cid.Cid) error {
	for _, c := range cids {
		cv.add(c)
	}
	return nil
}

func (cv *closureVisitor) OnFileRange(ctx context.Context, root cid.Cid, c cid.Cid, depth int, byteMin uint64, byteMax uint64, leaf bool) error {
	cv.add(c)
	return nil
}

func (cv *closureVisitor) OnRoot(ctx context.Context, root cid.Cid, kind int64) error {
	cv.add(root)
	return nil
}

// Closure returns root followed by every block reachable from it. Every block is loaded on the
// way, so a missing block anywhere below root fails the walk with the link system's error.
func Closure(ctx context.Context, root cid.Cid, lsys *ipld.LinkSystem) ([]cid.Cid, error) {
	cv := &closureVisitor{seen: make(map[cid.Cid]struct{})}
	if err := IterateUnixFSNode(ctx, root, lsys, RecursiveVisitor(cv, lsys)); err != nil {
		return nil, err
	}
	return cv.order, nil
}
