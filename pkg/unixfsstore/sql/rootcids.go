package sql

import (
	"context"

	"github.com/ipfs/dirpin/pkg/unixfsstore"
	"github.com/ipfs/dirpin/pkg/unixfsstore/sql/fielddef"
	"github.com/ipfs/go-cid"
)

var rootCIDsOrder = []string{"CID", "Kind", "Metadata"}

func rootCIDFields(rootCID *unixfsstore.RootCID) map[string]fielddef.FieldDefinition {
	return map[string]fielddef.FieldDefinition{
		"CID":      &fielddef.CidFieldDef{F: &rootCID.CID},
		"Kind":     &fielddef.FieldDef{F: &rootCID.Kind},
		"Metadata": &fielddef.BytesFieldDef{F: (*fielddef.SqlBytes)(&rootCID.Metadata)},
	}
}

// InsertRootCID records a root. Recording the same root with the same metadata twice is a no-op.
func InsertRootCID(ctx context.Context, db Transactable, rootCID unixfsstore.RootCID) error {
	return fielddef.InsertOrIgnore(ctx, db, "RootCIDs", rootCIDsOrder, rootCIDFields(&rootCID))
}

var getByCID string = "SELECT CID, Kind, Metadata FROM RootCIDs WHERE CID = ?"

// RootCID returns every record of root, one per distinct metadata
func RootCID(ctx context.Context, db Transactable, root cid.Cid) ([]unixfsstore.RootCID, error) {
	return queryRootCIDs(ctx, db, getByCID, root.Bytes())
}

var allRootCIDs string = "SELECT CID, Kind, Metadata FROM RootCIDs ORDER BY CID, Metadata"

// RootCIDs returns every recorded root
func RootCIDs(ctx context.Context, db Transactable) ([]unixfsstore.RootCID, error) {
	return queryRootCIDs(ctx, db, allRootCIDs)
}

func queryRootCIDs(ctx context.Context, db Transactable, query string, args ...any) ([]unixfsstore.RootCID, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rootCIDs []unixfsstore.RootCID
	for rows.Next() {
		var rootCID unixfsstore.RootCID
		if err := fielddef.Scan(rows, rootCIDsOrder, rootCIDFields(&rootCID)); err != nil {
			return nil, err
		}
		rootCIDs = append(rootCIDs, rootCID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rootCIDs, nil
}

var deleteRootCID string = "DELETE FROM RootCIDs WHERE CID = ?"

// DeleteRootCID forgets every record of root
func DeleteRootCID(ctx context.Context, db Transactable, root cid.Cid) error {
	_, err := db.ExecContext(ctx, deleteRootCID, root.Bytes())
	return err
}
