package sql_test

import (
	"context"
	"testing"

	"github.com/ipfs/dirpin/internal/testutil"
	"github.com/ipfs/dirpin/pkg/unixfsstore"
	"github.com/ipfs/dirpin/pkg/unixfsstore/sql"
	"github.com/stretchr/testify/require"
)

func TestPinsDb(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	sqldb := CreateTestTmpDB(t)
	cids := testutil.GenerateCids(3)

	req.NoError(sql.InsertPin(ctx, sqldb, unixfsstore.Pin{CID: cids[0], PinnedAt: 10}))
	req.NoError(sql.InsertPin(ctx, sqldb, unixfsstore.Pin{CID: cids[1], PinnedAt: 5}))
	// pinning again keeps the original timestamp
	req.NoError(sql.InsertPin(ctx, sqldb, unixfsstore.Pin{CID: cids[0], PinnedAt: 20}))

	pins, err := sql.Pins(ctx, sqldb)
	req.NoError(err)
	req.Equal([]unixfsstore.Pin{
		{CID: cids[1], PinnedAt: 5},
		{CID: cids[0], PinnedAt: 10},
	}, pins)

	req.NoError(sql.DeletePin(ctx, sqldb, cids[1]))
	req.NoError(sql.DeletePin(ctx, sqldb, cids[1]))
	req.NoError(sql.DeletePin(ctx, sqldb, cids[2]))

	pins, err = sql.Pins(ctx, sqldb)
	req.NoError(err)
	req.Equal([]unixfsstore.Pin{{CID: cids[0], PinnedAt: 10}}, pins)
}
