package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	dirpin "github.com/ipfs/dirpin/pkg"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/linking"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/spf13/afero"
)

const tmpPrefix = ".tmp-"

// blockDir keeps one file per block, named by the CID's string form and sharded into
// directories by two characters near the end of the name
type blockDir struct {
	fs afero.Fs
}

func newBlockDir(fs afero.Fs) *blockDir {
	return &blockDir{fs: fs}
}

func shard(key string) string {
	return key[len(key)-3 : len(key)-1]
}

func (b *blockDir) path(c cid.Cid) string {
	key := c.String()
	return path.Join("/", shard(key), key)
}

func (b *blockDir) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return afero.Exists(b.fs, b.path(c))
}

func (b *blockDir) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	data, err := afero.ReadFile(b.fs, b.path(c))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dirpin.ErrNotFound{Cid: c}
		}
		return nil, fmt.Errorf("reading block %s: %w", c, err)
	}
	return blocks.NewBlockWithCid(data, c)
}

// Put writes blk unless it is already present. Blocks become visible atomically.
func (b *blockDir) Put(ctx context.Context, blk blocks.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := b.path(blk.Cid())
	if has, err := afero.Exists(b.fs, target); err != nil || has {
		return err
	}
	dir := path.Dir(target)
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating block shard %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(b.fs, dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("writing block %s: %w", blk.Cid(), err)
	}
	if _, err := tmp.Write(blk.RawData()); err != nil {
		_ = tmp.Close()
		_ = b.fs.Remove(tmp.Name())
		return fmt.Errorf("writing block %s: %w", blk.Cid(), err)
	}
	if err := tmp.Close(); err != nil {
		_ = b.fs.Remove(tmp.Name())
		return fmt.Errorf("writing block %s: %w", blk.Cid(), err)
	}
	if err := b.fs.Rename(tmp.Name(), target); err != nil {
		_ = b.fs.Remove(tmp.Name())
		return fmt.Errorf("writing block %s: %w", blk.Cid(), err)
	}
	return nil
}

// Delete removes the block for c. Deleting a missing block is not an error.
func (b *blockDir) Delete(ctx context.Context, c cid.Cid) error {
	err := b.fs.Remove(b.path(c))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting block %s: %w", c, err)
	}
	return nil
}

// AllKeys lists every stored block. Leftover temporary files are skipped.
func (b *blockDir) AllKeys(ctx context.Context) ([]cid.Cid, error) {
	var keys []cid.Cid
	err := afero.Walk(b.fs, "/", func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tmpPrefix) {
			return nil
		}
		c, err := cid.Decode(info.Name())
		if err != nil {
			log.Debugw("skipping unrecognized file in block directory", "path", p)
			return nil
		}
		keys = append(keys, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing blocks: %w", err)
	}
	return keys, nil
}

// LinkSystem reads and writes blocks of the directory. Loads verify the block hash.
func (b *blockDir) LinkSystem(ctx context.Context) linking.LinkSystem {
	lsys := cidlink.DefaultLinkSystem()
	lsys.StorageReadOpener = func(lctx ipld.LinkContext, l ipld.Link) (io.Reader, error) {
		cl, ok := l.(cidlink.Link)
		if !ok {
			return nil, fmt.Errorf("not a cidlink")
		}
		blk, err := b.Get(lctx.Ctx, cl.Cid)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(blk.RawData()), nil
	}
	lsys.StorageWriteOpener = func(lctx ipld.LinkContext) (io.Writer, linking.BlockWriteCommitter, error) {
		var buf bytes.Buffer
		return &buf, func(l ipld.Link) error {
			cl, ok := l.(cidlink.Link)
			if !ok {
				return fmt.Errorf("not a cidlink")
			}
			blk, err := blocks.NewBlockWithCid(buf.Bytes(), cl.Cid)
			if err != nil {
				return err
			}
			writeCtx := lctx.Ctx
			if writeCtx == nil {
				writeCtx = ctx
			}
			return b.Put(writeCtx, blk)
		}, nil
	}
	return lsys
}
