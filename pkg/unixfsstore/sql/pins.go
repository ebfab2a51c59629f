package sql

import (
	"context"

	"github.com/ipfs/dirpin/pkg/unixfsstore"
	"github.com/ipfs/dirpin/pkg/unixfsstore/sql/fielddef"
	"github.com/ipfs/go-cid"
)

var pinsOrder = []string{"CID", "PinnedAt"}

func pinFields(pin *unixfsstore.Pin) map[string]fielddef.FieldDefinition {
	return map[string]fielddef.FieldDefinition{
		"CID":      &fielddef.CidFieldDef{F: &pin.CID},
		"PinnedAt": &fielddef.FieldDef{F: &pin.PinnedAt},
	}
}

// InsertPin records a pin. An existing pin on the same CID is kept as is.
func InsertPin(ctx context.Context, db Transactable, pin unixfsstore.Pin) error {
	return fielddef.InsertOrIgnore(ctx, db, "Pins", pinsOrder, pinFields(&pin))
}

var allPins string = "SELECT CID, PinnedAt FROM Pins ORDER BY PinnedAt, CID"

// Pins lists every pin, oldest first
func Pins(ctx context.Context, db Transactable) ([]unixfsstore.Pin, error) {
	rows, err := db.QueryContext(ctx, allPins)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pins []unixfsstore.Pin
	for rows.Next() {
		var pin unixfsstore.Pin
		if err := fielddef.Scan(rows, pinsOrder, pinFields(&pin)); err != nil {
			return nil, err
		}
		pins = append(pins, pin)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pins, nil
}

var deletePin string = "DELETE FROM Pins WHERE CID = ?"

// DeletePin removes the pin on c, if there is one
func DeletePin(ctx context.Context, db Transactable, c cid.Cid) error {
	_, err := db.ExecContext(ctx, deletePin, c.Bytes())
	return err
}
