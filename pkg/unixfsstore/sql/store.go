package sql

import (
	"context"
	"database/sql"
	"time"

	"github.com/ipfs/dirpin/pkg/unixfsstore"
	"github.com/ipfs/dirpin/pkg/unixfsstore/traversal"
	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime"
	_ "github.com/mattn/go-sqlite3"
)

// rootVisitor records the root it is shown and ignores everything below it
type rootVisitor struct {
	db       Transactable
	metadata []byte
}

func (rv *rootVisitor) OnPath(ctx context.Context, root cid.Cid, path string, cids []cid.Cid) error {
	return nil
}

func (rv *rootVisitor) OnFileRange(ctx context.Context, root cid.Cid, cid cid.Cid, depth int, byteMin uint64, byteMax uint64, leaf bool) error {
	return nil
}

func (rv *rootVisitor) OnRoot(ctx context.Context, root cid.Cid, kind int64) error {
	return InsertRootCID(ctx, rv.db, unixfsstore.RootCID{CID: root, Kind: kind, Metadata: rv.metadata})
}

// SQLIndex keeps track of the roots and pins of a block store
type SQLIndex struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLIndex(db *sql.DB) *SQLIndex {
	return &SQLIndex{db: db, now: time.Now}
}

// AddRoot records root, whose top block must be loadable from linkSystem
func (s *SQLIndex) AddRoot(ctx context.Context, root cid.Cid, metadata []byte, linkSystem *ipld.LinkSystem) error {
	return withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		kind, err := traversal.Kind(ctx, root, linkSystem)
		if err != nil {
			return err
		}
		return (&rootVisitor{tx, metadata}).OnRoot(ctx, root, kind)
	})
}

// AddRoots records several roots in one transaction
func (s *SQLIndex) AddRoots(ctx context.Context, roots []cid.Cid, metadata []byte, linkSystem *ipld.LinkSystem) error {
	return withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		visitor := &rootVisitor{tx, metadata}
		for _, root := range roots {
			kind, err := traversal.Kind(ctx, root, linkSystem)
			if err != nil {
				return err
			}
			if err := visitor.OnRoot(ctx, root, kind); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLIndex) RootCID(ctx context.Context, root cid.Cid) ([]unixfsstore.RootCID, error) {
	return RootCID(ctx, s.db, root)
}

func (s *SQLIndex) Roots(ctx context.Context) ([]unixfsstore.RootCID, error) {
	return RootCIDs(ctx, s.db)
}

// RemoveRoots forgets roots, typically after their blocks were garbage collected
func (s *SQLIndex) RemoveRoots(ctx context.Context, roots []cid.Cid) error {
	return withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		for _, root := range roots {
			if err := DeleteRootCID(ctx, tx, root); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLIndex) AddPin(ctx context.Context, c cid.Cid) error {
	return InsertPin(ctx, s.db, unixfsstore.Pin{CID: c, PinnedAt: s.now().Unix()})
}

func (s *SQLIndex) Pins(ctx context.Context) ([]unixfsstore.Pin, error) {
	return Pins(ctx, s.db)
}

func (s *SQLIndex) RemovePin(ctx context.Context, c cid.Cid) error {
	return DeletePin(ctx, s.db, c)
}

func withTransaction(ctx context.Context, db *sql.DB, f func(*sql.Tx) error) (err error) {
	var tx *sql.Tx
	tx, err = db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	err = f(tx)
	return
}
