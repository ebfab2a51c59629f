package sql_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/ipfs/dirpin/internal/testutil"
	"github.com/ipfs/dirpin/pkg/unixfsstore/sql"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-unixfsnode/data"
	"github.com/ipfs/go-unixfsnode/data/builder"
	dagpb "github.com/ipld/go-codec-dagpb"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/storage/memstore"
	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ls := cidlink.DefaultLinkSystem()
	store := memstore.Store{Bag: make(map[string][]byte)}
	ls.SetReadStorage(&store)
	ls.SetWriteStorage(&store)

	delimited := io.LimitReader(rand.Reader, 1<<20)
	n, sz, err := builder.BuildUnixFSFile(delimited, "size-4096", &ls)
	req.NoError(err)
	fileLink := n.(cidlink.Link).Cid
	dirEntry, err := builder.BuildUnixFSDirectoryEntry("file.txt", int64(sz), n)
	req.NoError(err)
	folderLink, _, err := builder.BuildUnixFSDirectory([]dagpb.PBLink{dirEntry}, &ls)
	req.NoError(err)
	folder := folderLink.(cidlink.Link).Cid

	index := sql.NewSQLIndex(CreateTestTmpDB(t))
	req.NoError(index.AddRoot(ctx, folder, []byte("publish"), &ls))
	req.NoError(index.AddRoots(ctx, []cid.Cid{fileLink, folder}, []byte("import"), &ls))

	records, err := index.RootCID(ctx, folder)
	req.NoError(err)
	req.Len(records, 2)
	req.Equal(data.Data_Directory, records[0].Kind)

	records, err = index.RootCID(ctx, fileLink)
	req.NoError(err)
	req.Len(records, 1)
	req.Equal(data.Data_File, records[0].Kind)
	req.Equal([]byte("import"), records[0].Metadata)

	// a root that is not in the link system is rejected
	req.Error(index.AddRoot(ctx, testutil.GenerateCid(), nil, &ls))
	roots, err := index.Roots(ctx)
	req.NoError(err)
	req.Len(roots, 3)

	req.NoError(index.RemoveRoots(ctx, []cid.Cid{folder}))
	roots, err = index.Roots(ctx)
	req.NoError(err)
	req.Len(roots, 1)
	req.Equal(fileLink, roots[0].CID)

	req.NoError(index.AddPin(ctx, folder))
	req.NoError(index.AddPin(ctx, folder))
	pins, err := index.Pins(ctx)
	req.NoError(err)
	req.Len(pins, 1)
	req.Equal(folder, pins[0].CID)
	req.NoError(index.RemovePin(ctx, folder))
	pins, err = index.Pins(ctx)
	req.NoError(err)
	req.Empty(pins)
}
