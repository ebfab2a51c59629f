package traversal_test

import (
	"context"
	"testing"

	"github.com/ipfs/dirpin/pkg/unixfsstore/traversal"
	"github.com/ipfs/go-cid"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/stretchr/testify/require"
)

func TestDiscoverRoots(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	f := buildFixture(t)

	expectedRoots := []cid.Cid{
		f.file,
		f.smallFile,
		f.subFolder,
		f.recursive,
		f.hamt,
		f.basic,
	}
	for _, entry := range f.hamtDir {
		expectedRoots = append(expectedRoots, entry.Link().(cidlink.Link).Cid)
	}
	for _, entry := range f.basicDir {
		expectedRoots = append(expectedRoots, entry.Link().(cidlink.Link).Cid)
	}
	roots, err := traversal.DiscoverRoots(ctx, f.keys(t), &f.ls)
	req.NoError(err)
	req.ElementsMatch(expectedRoots, roots)

	again, err := traversal.DiscoverRoots(ctx, f.keys(t), &f.ls)
	req.NoError(err)
	req.Equal(roots, again, "roots come back in a stable order")
}

func TestDiscoverRootsCancelled(t *testing.T) {
	f := buildFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := traversal.DiscoverRoots(ctx, f.keys(t), &f.ls)
	require.ErrorIs(t, err, context.Canceled)
}
