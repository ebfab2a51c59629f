package sql_test

import (
	"context"
	"testing"

	"github.com/ipfs/dirpin/internal/testutil"
	"github.com/ipfs/dirpin/pkg/unixfsstore"
	"github.com/ipfs/dirpin/pkg/unixfsstore/sql"
	"github.com/ipfs/go-unixfsnode/data"
	"github.com/stretchr/testify/require"
)

func TestRootCIDSDb(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	sqldb := CreateTestTmpDB(t)

	rootCid := testutil.GenerateCid()
	err := sql.InsertRootCID(ctx, sqldb, unixfsstore.RootCID{CID: rootCid, Kind: data.Data_File, Metadata: []byte("apples")})
	req.NoError(err)
	err = sql.InsertRootCID(ctx, sqldb, unixfsstore.RootCID{CID: rootCid, Kind: data.Data_File})
	req.NoError(err)
	// same root and metadata again is ignored
	err = sql.InsertRootCID(ctx, sqldb, unixfsstore.RootCID{CID: rootCid, Kind: data.Data_File, Metadata: []byte("apples")})
	req.NoError(err)
	otherRootCid := testutil.GenerateCid()
	err = sql.InsertRootCID(ctx, sqldb, unixfsstore.RootCID{CID: otherRootCid, Kind: data.Data_HAMTShard, Metadata: []byte("oranges")})
	req.NoError(err)

	missingRootCid := testutil.GenerateCid()

	records, err := sql.RootCID(ctx, sqldb, rootCid)
	req.NoError(err)
	req.Len(records, 2)
	for _, record := range records {
		req.Equal(rootCid, record.CID)
		req.Equal(data.Data_File, record.Kind)
	}
	req.ElementsMatch([]string{"", "apples"}, []string{string(records[0].Metadata), string(records[1].Metadata)})

	records, err = sql.RootCID(ctx, sqldb, otherRootCid)
	req.NoError(err)
	req.Len(records, 1)
	req.Equal(data.Data_HAMTShard, records[0].Kind)
	req.Equal([]byte("oranges"), records[0].Metadata)

	records, err = sql.RootCID(ctx, sqldb, missingRootCid)
	req.NoError(err)
	req.Empty(records)

	all, err := sql.RootCIDs(ctx, sqldb)
	req.NoError(err)
	req.Len(all, 3)

	req.NoError(sql.DeleteRootCID(ctx, sqldb, rootCid))
	all, err = sql.RootCIDs(ctx, sqldb)
	req.NoError(err)
	req.Len(all, 1)
	req.Equal(otherRootCid, all[0].CID)

	// deleting a missing root is not an error
	req.NoError(sql.DeleteRootCID(ctx, sqldb, missingRootCid))
}
