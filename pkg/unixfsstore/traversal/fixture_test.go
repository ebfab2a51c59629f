package traversal_test

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-unixfsnode/data/builder"
	quickbuilder "github.com/ipfs/go-unixfsnode/data/builder/quick"
	dagpb "github.com/ipld/go-codec-dagpb"
	"github.com/ipld/go-ipld-prime/linking"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/storage/memstore"
	"github.com/stretchr/testify/require"
)

// fixture is a block store holding one DAG of each shape the walkers handle
type fixture struct {
	ls    linking.LinkSystem
	store *memstore.Store

	file       cid.Cid
	smallFile  cid.Cid
	subFolder  cid.Cid
	recursive  cid.Cid
	hamt       cid.Cid
	basic      cid.Cid
	hamtDir    map[string]quickbuilder.Node
	basicDir   map[string]quickbuilder.Node
	hamtFiles  int
	basicFiles int
}

func buildFixture(t *testing.T) *fixture {
	f := &fixture{
		ls:         cidlink.DefaultLinkSystem(),
		store:      &memstore.Store{Bag: make(map[string][]byte)},
		hamtDir:    map[string]quickbuilder.Node{},
		basicDir:   map[string]quickbuilder.Node{},
		hamtFiles:  10000,
		basicFiles: 20,
	}
	f.ls.SetReadStorage(f.store)
	f.ls.SetWriteStorage(f.store)

	delimited := io.LimitReader(rand.Reader, 1<<22)
	n, sz, err := builder.BuildUnixFSFile(delimited, "size-4096", &f.ls)
	require.NoError(t, err)
	f.file = n.(cidlink.Link).Cid

	small, _, err := builder.BuildUnixFSFile(bytes.NewReader([]byte("hello\n")), "size-4096", &f.ls)
	require.NoError(t, err)
	f.smallFile = small.(cidlink.Link).Cid

	dirEntry, err := builder.BuildUnixFSDirectoryEntry("file.txt", int64(sz), n)
	require.NoError(t, err)
	subFolderLink, sz, err := builder.BuildUnixFSDirectory([]dagpb.PBLink{dirEntry}, &f.ls)
	require.NoError(t, err)
	f.subFolder = subFolderLink.(cidlink.Link).Cid
	dirEntry, err = builder.BuildUnixFSDirectoryEntry("subfolder", int64(sz), subFolderLink)
	require.NoError(t, err)
	recursiveFolderLink, _, err := builder.BuildUnixFSDirectory([]dagpb.PBLink{dirEntry}, &f.ls)
	require.NoError(t, err)
	f.recursive = recursiveFolderLink.(cidlink.Link).Cid

	err = quickbuilder.Store(&f.ls, func(b *quickbuilder.Builder) error {
		for i := 0; i < f.hamtFiles; i++ {
			f.hamtDir[fmt.Sprintf("file%d.txt", i)] = b.NewBytesFile([]byte(fmt.Sprintf("data%d", i)))
		}
		f.hamt = b.NewMapDirectory(f.hamtDir).Link().(cidlink.Link).Cid
		for i := 0; i < f.basicFiles; i++ {
			f.basicDir[fmt.Sprintf("filebasice%d.txt", i)] = b.NewBytesFile([]byte(fmt.Sprintf("databasic%d", i)))
		}
		f.basic = b.NewMapDirectory(f.basicDir).Link().(cidlink.Link).Cid
		return nil
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) keys(t *testing.T) []cid.Cid {
	keys := make([]cid.Cid, 0, len(f.store.Bag))
	for key := range f.store.Bag {
		_, c, err := cid.CidFromBytes([]byte(key))
		require.NoError(t, err)
		keys = append(keys, c)
	}
	return keys
}

// remove deletes a block so walks through it fail
func (f *fixture) remove(c cid.Cid) {
	delete(f.store.Bag, c.KeyString())
}
