// Package traversal walks UnixFS DAGs block by block. The walkers report every CID they pass
// through, which is what pin closure checks, garbage collection and CAR export need.
package traversal

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-unixfsnode/data"
	"github.com/ipfs/go-unixfsnode/directory"
	"github.com/ipfs/go-unixfsnode/hamt"
	dagpb "github.com/ipld/go-codec-dagpb"
	"github.com/ipld/go-ipld-prime"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
)

type UnixFSVisitor interface {
	OnPath(ctx context.Context, root cid.Cid, path string, cids []cid.Cid) error
	OnFileRange(ctx context.Context, root cid.Cid, cid cid.Cid, depth int, byteMin uint64, byteMax uint64, leaf bool) error
	OnRoot(ctx context.Context, root cid.Cid, kind int64) error
}

type recursiveVisitor struct {
	UnixFSVisitor
	lsys *ipld.LinkSystem
}

func (rv *recursiveVisitor) OnPath(ctx context.Context, root cid.Cid, path string, cids []cid.Cid) error {
	err := rv.UnixFSVisitor.OnPath(ctx, root, path, cids)
	if err != nil {
		return err
	}
	return IterateUnixFSNode(ctx, cids[len(cids)-1], rv.lsys, rv)
}

// RecursiveVisitor descends into every directory entry it is told about
func RecursiveVisitor(visitor UnixFSVisitor, lsys *ipld.LinkSystem) UnixFSVisitor {
	return &recursiveVisitor{UnixFSVisitor: visitor, lsys: lsys}
}

type iterateFunc func(context.Context, cid.Cid, dagpb.PBNode, data.UnixFSData, *ipld.LinkSystem, UnixFSVisitor) error

func noopIterate(context.Context, cid.Cid, dagpb.PBNode, data.UnixFSData, *ipld.LinkSystem, UnixFSVisitor) error {
	return nil
}

var iterateFuncs = map[int64]iterateFunc{
	data.Data_File:      IterateFileLinks,
	data.Data_Metadata:  noopIterate,
	data.Data_Raw:       noopIterate,
	data.Data_Symlink:   noopIterate,
	data.Data_Directory: IterateDirLinks,
	data.Data_HAMTShard: IterateHAMTDirLinks,
}

// IterateUnixFSNode reports root to the visitor, then its links. Raw blocks are single-block
// files and have no links.
func IterateUnixFSNode(ctx context.Context, root cid.Cid, lsys *ipld.LinkSystem, visitor UnixFSVisitor) error {
	if root.Prefix().Codec == cid.Raw {
		if _, err := lsys.LoadRaw(ipld.LinkContext{Ctx: ctx}, cidlink.Link{Cid: root}); err != nil {
			return err
		}
		return visitor.OnRoot(ctx, root, data.Data_Raw)
	}
	pbnd, ufsdata, err := loadUnixFSNode(ctx, root, lsys)
	if err != nil {
		return err
	}
	dt := ufsdata.DataType.Int()
	iterate, ok := iterateFuncs[dt]
	if !ok {
		return data.ErrInvalidDataType{DataType: dt}
	}
	if err := visitor.OnRoot(ctx, root, dt); err != nil {
		return err
	}
	return iterate(ctx, root, pbnd, ufsdata, lsys, visitor)
}

// Kind returns the UnixFS data type of c. The block must be present in lsys.
func Kind(ctx context.Context, c cid.Cid, lsys *ipld.LinkSystem) (int64, error) {
	if c.Prefix().Codec == cid.Raw {
		if _, err := lsys.LoadRaw(ipld.LinkContext{Ctx: ctx}, cidlink.Link{Cid: c}); err != nil {
			return 0, err
		}
		return data.Data_Raw, nil
	}
	_, ufsdata, err := loadUnixFSNode(ctx, c, lsys)
	if err != nil {
		return 0, err
	}
	return ufsdata.DataType.Int(), nil
}

func loadUnixFSNode(ctx context.Context, c cid.Cid, lsys *ipld.LinkSystem) (dagpb.PBNode, data.UnixFSData, error) {
	nd, err := lsys.Load(ipld.LinkContext{Ctx: ctx}, cidlink.Link{Cid: c}, dagpb.Type.PBNode)
	if err != nil {
		return nil, nil, err
	}
	pbnd, ok := nd.(dagpb.PBNode)
	if !ok {
		return nil, nil, hamt.ErrNotProtobuf
	}
	if !pbnd.FieldData().Exists() {
		return nil, nil, hamt.ErrNotUnixFSNode
	}
	ufsdata, err := data.DecodeUnixFSData(pbnd.FieldData().Must().Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("decoding %s: %w", c, err)
	}
	return pbnd, ufsdata, nil
}

// IterateHAMTDirLinks reports each entry of a sharded directory along with the shard nodes
// leading to it
func IterateHAMTDirLinks(ctx context.Context, root cid.Cid, substrate dagpb.PBNode, data data.UnixFSData, lsys *ipld.LinkSystem, visitor UnixFSVisitor) error {
	return iterateHAMTDirLinks(ctx, root, substrate, data, lsys, nil, visitor)
}

func iterateHAMTDirLinks(ctx context.Context, root cid.Cid, substrate dagpb.PBNode, ufsdata data.UnixFSData, lsys *ipld.LinkSystem, cidsSoFar []cid.Cid, visitor UnixFSVisitor) error {
	_, err := hamt.NewUnixFSHAMTShard(ctx, substrate, ufsdata, lsys)
	if err != nil {
		return err
	}
	maxPadLen := maxPadLength(ufsdata)
	itr := substrate.FieldLinks().Iterator()
	for !itr.Done() {
		_, next := itr.Next()
		nextCid := next.FieldHash().Link().(cidlink.Link).Cid
		isValue, err := isValueLink(next, maxPadLen)
		if err != nil {
			return err
		}
		if isValue {
			name := next.FieldName().Must().String()[maxPadLen:]
			// copy before handing off, so later appends cannot alias the visitor's slice
			onPathCids := make([]cid.Cid, 0, len(cidsSoFar)+1)
			onPathCids = append(onPathCids, cidsSoFar...)
			onPathCids = append(onPathCids, nextCid)
			if err := visitor.OnPath(ctx, root, name, onPathCids); err != nil {
				return err
			}
			continue
		}
		pbnd, nextData, err := loadUnixFSNode(ctx, nextCid, lsys)
		if err != nil {
			return err
		}
		if err := iterateHAMTDirLinks(ctx, root, pbnd, nextData, lsys, append(cidsSoFar, nextCid), visitor); err != nil {
			return err
		}
	}
	return nil
}

func maxPadLength(nd data.UnixFSData) int {
	return len(fmt.Sprintf("%X", nd.FieldFanout().Must().Int()-1))
}

func isValueLink(pbLink dagpb.PBLink, maxPadLen int) (bool, error) {
	if !pbLink.FieldName().Exists() {
		return false, hamt.ErrMissingLinkName
	}
	name := pbLink.FieldName().Must().String()
	if len(name) < maxPadLen {
		return false, hamt.ErrInvalidLinkName{Name: name}
	}
	return len(name) > maxPadLen, nil
}

// IterateDirLinks reports each entry of a basic directory
func IterateDirLinks(ctx context.Context, root cid.Cid, substrate dagpb.PBNode, data data.UnixFSData, lsys *ipld.LinkSystem, visitor UnixFSVisitor) error {
	dir, err := directory.NewUnixFSBasicDir(ctx, substrate, data, lsys)
	if err != nil {
		return err
	}
	iter := dir.(directory.UnixFSBasicDir).Iterator()
	for !iter.Done() {
		path, link := iter.Next()
		if err := visitor.OnPath(ctx, root, path.String(), []cid.Cid{link.Link().(cidlink.Link).Cid}); err != nil {
			return err
		}
	}
	return nil
}

// IterateFileLinks reports every block of a multi-block file with the byte range it covers
func IterateFileLinks(ctx context.Context, root cid.Cid, substrate dagpb.PBNode, data data.UnixFSData, lsys *ipld.LinkSystem, visitor UnixFSVisitor) error {
	return iterateFileLinks(ctx, root, substrate, data, lsys, 0, 0, visitor)
}

func iterateFileLinks(ctx context.Context, root cid.Cid, substrate dagpb.PBNode, ufsdata data.UnixFSData, lsys *ipld.LinkSystem, bytesOffset uint64, depth int, visitor UnixFSVisitor) error {
	iter := substrate.Links.Iterator()
	for !iter.Done() {
		idx, next := iter.Next()
		nextCid := next.Hash.Link().(cidlink.Link).Cid
		var nextSize uint64
		var leaf bool
		if nextCid.Prefix().Codec == cid.Raw {
			if !next.Tsize.Exists() {
				return errors.New("missing t-size")
			}
			if _, err := lsys.LoadRaw(ipld.LinkContext{Ctx: ctx}, cidlink.Link{Cid: nextCid}); err != nil {
				return err
			}
			nextSize = uint64(next.Tsize.Must().Int())
			leaf = true
		} else {
			nextSize = uint64(ufsdata.BlockSizes.Lookup(idx).Int())
			pbnd, nextData, err := loadUnixFSNode(ctx, nextCid, lsys)
			if err != nil {
				return err
			}
			switch nextData.DataType.Int() {
			case data.Data_Raw:
				leaf = true
			case data.Data_File:
				if err := iterateFileLinks(ctx, root, pbnd, nextData, lsys, bytesOffset, depth+1, visitor); err != nil {
					return err
				}
			default:
				return data.ErrInvalidDataType{DataType: nextData.DataType.Int()}
			}
		}
		if err := visitor.OnFileRange(ctx, root, nextCid, depth, bytesOffset, bytesOffset+nextSize, leaf); err != nil {
			return err
		}
		bytesOffset += nextSize
	}
	return nil
}
