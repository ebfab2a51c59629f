package local

import (
	"context"
	"fmt"
	"io"
	"path"

	dirpin "github.com/ipfs/dirpin/pkg"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-unixfsnode"
	"github.com/ipfs/go-unixfsnode/data"
	"github.com/ipfs/go-unixfsnode/file"
	dagpb "github.com/ipld/go-codec-dagpb"
	"github.com/ipld/go-ipld-prime"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
)

// Get reads the whole tree under root into memory
func (s *Store) Get(ctx context.Context, root cid.Cid) (dirpin.Content, error) {
	has, err := s.blocks.Has(ctx, root)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, dirpin.ErrNotFound{Cid: root}
	}
	lsys := s.linkSystem(ctx)
	content := make(dirpin.Content)
	if err := extract(ctx, &lsys, root, "", content); err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}
	return content, nil
}

// extract adds the node at c to content. Files are keyed by their path below the root; a root
// that is itself a file is keyed by its CID.
func extract(ctx context.Context, lsys *ipld.LinkSystem, c cid.Cid, at string, content dirpin.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := at
	if key == "" {
		key = c.String()
	}
	if c.Prefix().Codec == cid.Raw {
		raw, err := lsys.LoadRaw(ipld.LinkContext{Ctx: ctx}, cidlink.Link{Cid: c})
		if err != nil {
			return err
		}
		content[key] = raw
		return nil
	}

	nd, err := lsys.Load(ipld.LinkContext{Ctx: ctx}, cidlink.Link{Cid: c}, dagpb.Type.PBNode)
	if err != nil {
		return err
	}
	pbnode := nd.(dagpb.PBNode)
	if !pbnode.FieldData().Exists() {
		return fmt.Errorf("%s is not a UnixFS node", c)
	}
	ufsData, err := data.DecodeUnixFSData(pbnode.FieldData().Must().Bytes())
	if err != nil {
		return err
	}

	switch ufsData.DataType.Int() {
	case data.Data_File, data.Data_Raw:
		fnode, err := file.NewUnixFSFile(ctx, pbnode, lsys)
		if err != nil {
			return err
		}
		rs, err := fnode.AsLargeBytes()
		if err != nil {
			return err
		}
		buf, err := io.ReadAll(rs)
		if err != nil {
			return fmt.Errorf("reading %s: %w", key, err)
		}
		content[key] = buf
		return nil
	case data.Data_Directory, data.Data_HAMTShard:
		ufn, err := unixfsnode.Reify(ipld.LinkContext{Ctx: ctx}, pbnode, lsys)
		if err != nil {
			return err
		}
		mi := ufn.MapIterator()
		for !mi.Done() {
			k, v, err := mi.Next()
			if err != nil {
				return err
			}
			name, err := k.AsString()
			if err != nil {
				return err
			}
			if v.Kind() != ipld.Kind_Link {
				return fmt.Errorf("unexpected map value for %s at %s", name, at)
			}
			link, err := v.AsLink()
			if err != nil {
				return err
			}
			if err := extract(ctx, lsys, link.(cidlink.Link).Cid, path.Join(at, name), content); err != nil {
				return err
			}
		}
		return nil
	default:
		return data.ErrInvalidDataType{DataType: ufsData.DataType.Int()}
	}
}
