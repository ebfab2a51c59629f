package traversal

import (
	"context"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-unixfsnode/data"
	"github.com/ipfs/go-unixfsnode/hamt"
	dagpb "github.com/ipld/go-codec-dagpb"
	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/linking"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/multiformats/go-multicodec"
)

// DiscoverRoots finds the UnixFS roots among a set of blocks: blocks that no other block in the
// set uses as a file chunk or shard node. Directory entries stay roots, since each can be
// retrieved on its own. Blocks that are neither dag-pb UnixFS nor raw are ignored.
func DiscoverRoots(ctx context.Context, keys []cid.Cid, ls *linking.LinkSystem) ([]cid.Cid, error) {
	candidates := make(map[cid.Cid]struct{}, len(keys))
	nonRoots := make(map[cid.Cid]struct{})
	for _, next := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch multicodec.Code(next.Type()) {
		case multicodec.Raw:
			// raw may be a root, but it has no children
		case multicodec.DagPb:
			children, isUnixFS, err := nonRootChildren(ctx, next, ls)
			if err != nil {
				return nil, err
			}
			if !isUnixFS {
				continue
			}
			for _, child := range children {
				nonRoots[child] = struct{}{}
			}
		default:
			continue
		}
		candidates[next] = struct{}{}
	}

	roots := make([]cid.Cid, 0, len(candidates))
	for c := range candidates {
		if _, ok := nonRoots[c]; !ok {
			roots = append(roots, c)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		return roots[i].KeyString() < roots[j].KeyString()
	})
	return roots, nil
}

// nonRootChildren returns the links of a dag-pb block that only make sense as part of it
func nonRootChildren(ctx context.Context, c cid.Cid, ls *linking.LinkSystem) ([]cid.Cid, bool, error) {
	nd, err := ls.Load(ipld.LinkContext{Ctx: ctx}, cidlink.Link{Cid: c}, dagpb.Type.PBNode)
	if err != nil {
		return nil, false, fmt.Errorf("malformed blockstore cid %s: %w", c, err)
	}
	pbnd, ok := nd.(dagpb.PBNode)
	if !ok {
		return nil, false, fmt.Errorf("malformed blockstore cid %s: %w", c, hamt.ErrNotProtobuf)
	}
	if !pbnd.FieldData().Exists() {
		return nil, false, nil
	}
	ufsdata, err := data.DecodeUnixFSData(pbnd.FieldData().Must().Bytes())
	if err != nil {
		return nil, false, nil
	}

	var children []cid.Cid
	switch ufsdata.DataType.Int() {
	case data.Data_File:
		iter := pbnd.Links.Iterator()
		for !iter.Done() {
			_, lnk := iter.Next()
			children = append(children, lnk.Hash.Link().(cidlink.Link).Cid)
		}
	case data.Data_HAMTShard:
		// shard nodes below a HAMT are not roots, its values are
		maxPadLen := maxPadLength(ufsdata)
		iter := pbnd.Links.Iterator()
		for !iter.Done() {
			_, lnk := iter.Next()
			isValue, err := isValueLink(lnk, maxPadLen)
			if err != nil {
				return nil, false, err
			}
			if !isValue {
				children = append(children, lnk.Hash.Link().(cidlink.Link).Cid)
			}
		}
	}
	return children, true, nil
}
