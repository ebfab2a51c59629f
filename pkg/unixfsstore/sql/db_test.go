package sql_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	ufssql "github.com/ipfs/dirpin/pkg/unixfsstore/sql"
	"github.com/stretchr/testify/require"
)

func CreateTestTmpDB(t *testing.T) *sql.DB {
	f, err := os.CreateTemp(t.TempDir(), "*.db")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	d, err := ufssql.SqlDB(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, ufssql.CreateTables(context.Background(), d))
	return d
}
