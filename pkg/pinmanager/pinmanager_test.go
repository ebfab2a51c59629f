package pinmanager_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ipfs/dirpin/internal/testutil"
	dirpin "github.com/ipfs/dirpin/pkg"
	"github.com/ipfs/dirpin/pkg/pinmanager"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
)

func publish(t *testing.T, store *testutil.FakeStore) cid.Cid {
	entries := dirpin.DirectoryContentMap{}
	for p, data := range testutil.ScenarioTree {
		entries[p] = dirpin.FileEntry{Path: p, Content: nopCloser{strings.NewReader(data)}}
	}
	root, err := store.Put(context.Background(), entries)
	require.NoError(t, err)
	return root
}

type nopCloser struct {
	*strings.Reader
}

func (nopCloser) Close() error { return nil }

func TestPinAndUnpin(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	store := testutil.NewFakeStore()
	root := publish(t, store)
	m := pinmanager.New(store)

	record, err := m.Pin(ctx, root)
	req.NoError(err)
	req.Equal(dirpin.PinRecord{Cid: root}, record)
	req.Equal(1, store.Calls("PinAdd"))
	req.Equal(1, store.Calls("PinLs"))

	// pinning twice is fine and still lists the root once
	_, err = m.Pin(ctx, root)
	req.NoError(err)
	pins, err := store.PinLs(ctx)
	req.NoError(err)
	listed := 0
	for _, c := range pins {
		if c.Equals(root) {
			listed++
		}
	}
	req.Equal(1, listed)

	pinned, err := m.Pinned(ctx, root)
	req.NoError(err)
	req.True(pinned)

	req.NoError(m.Unpin(ctx, root))
	req.NoError(m.Unpin(ctx, root))
	req.Equal(4, store.Calls("PinLs"), "unpin does not list pins again")

	pinned, err = m.Pinned(ctx, root)
	req.NoError(err)
	req.False(pinned)
}

func TestPinNotListed(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	store := testutil.NewFakeStore()
	root := publish(t, store)
	store.HidePins = true

	_, err := pinmanager.New(store).Pin(ctx, root)
	var verification dirpin.ErrPinVerification
	req.ErrorAs(err, &verification)
	req.Equal(root, verification.Cid)
	req.NoError(verification.Cause)
}

func TestPinStoreFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, configure := range map[string]func(*testutil.FakeStore){
		"pin add": func(s *testutil.FakeStore) { s.PinAddErr = boom },
		"pin ls":  func(s *testutil.FakeStore) { s.PinLsErr = boom },
	} {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			store := testutil.NewFakeStore()
			root := publish(t, store)
			configure(store)

			_, err := pinmanager.New(store).Pin(ctx, root)
			var verification dirpin.ErrPinVerification
			req.ErrorAs(err, &verification)
			req.Equal(root, verification.Cid)
			req.ErrorIs(err, boom)
		})
	}
}

func TestPinUnknownCid(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	missing := testutil.GenerateCid()
	_, err := pinmanager.New(testutil.NewFakeStore()).Pin(ctx, missing)
	var verification dirpin.ErrPinVerification
	req.ErrorAs(err, &verification)
	var notFound dirpin.ErrNotFound
	req.ErrorAs(err, &notFound)
}

func TestUnpinFailure(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	store := testutil.NewFakeStore()
	store.PinRmErr = errors.New("daemon gone")
	root := publish(t, store)

	err := pinmanager.New(store).Unpin(ctx, root)
	var unpinErr dirpin.ErrUnpin
	req.ErrorAs(err, &unpinErr)
	req.Equal(root, unpinErr.Cid)
	req.ErrorContains(err, "daemon gone")
}
