// Package local implements dirpin.Store on the local disk: UnixFS blocks live one per file in a
// block directory, while published roots and pins are indexed in sqlite.
package local

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	dirpin "github.com/ipfs/dirpin/pkg"
	"github.com/ipfs/dirpin/pkg/unixfsstore"
	ufssql "github.com/ipfs/dirpin/pkg/unixfsstore/sql"
	"github.com/ipfs/dirpin/pkg/unixfsstore/traversal"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/ipfs/go-unixfsnode/data/builder"
	dagpb "github.com/ipld/go-codec-dagpb"
	"github.com/ipld/go-ipld-prime"
	_ "github.com/ipld/go-ipld-prime/codec/raw"
	"github.com/ipld/go-ipld-prime/linking"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	basicnode "github.com/ipld/go-ipld-prime/node/basic"
	"github.com/multiformats/go-multihash"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("dirpin/local")

const (
	// DefaultChunker splits files the way a Kubo node does by default
	DefaultChunker = "size-262144"

	blocksDir = "blocks"
	dbDir     = "db"
	dbFile    = "dirpin.db"

	putWorkers = 8
)

// Metadata recorded against roots, saying how the store came to hold them
var (
	MetadataPublish = []byte("publish")
	MetadataImport  = []byte("import")
)

// Option configures a Store
type Option func(*Store)

// WithChunker sets the go-ipfs-chunker spec files are split with, such as "size-1048576"
func WithChunker(chunker string) Option {
	return func(s *Store) {
		s.chunker = chunker
	}
}

// WithBlockFs stores blocks in fs instead of under the repo directory
func WithBlockFs(fs afero.Fs) Option {
	return func(s *Store) {
		s.blockFs = fs
	}
}

// Store is a dirpin.Store backed by a repo directory
type Store struct {
	db      *sql.DB
	index   *ufssql.SQLIndex
	blocks  *blockDir
	blockFs afero.Fs
	chunker string

	// writers share gcLk, garbage collection holds it exclusively
	gcLk sync.RWMutex
}

var _ dirpin.Store = (*Store)(nil)

// Open opens the repo at repoPath, creating its layout if needed
func Open(ctx context.Context, repoPath string, opts ...Option) (*Store, error) {
	s := &Store{chunker: DefaultChunker}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Join(repoPath, dbDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating repo directory: %w", err)
	}
	if s.blockFs == nil {
		dir := filepath.Join(repoPath, blocksDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating block directory: %w", err)
		}
		s.blockFs = afero.NewBasePathFs(afero.NewOsFs(), dir)
	}
	s.blocks = newBlockDir(s.blockFs)

	db, err := ufssql.SqlDB(filepath.Join(repoPath, dbDir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	if err := ufssql.CreateTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	s.index = ufssql.NewSQLIndex(db)
	log.Debugw("opened local store", "repo", repoPath, "chunker", s.chunker)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) linkSystem(ctx context.Context) linking.LinkSystem {
	return s.blocks.LinkSystem(ctx)
}

type builtFile struct {
	link ipld.Link
	size uint64
}

// ctxReader stops a file build as soon as its context ends
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// Put chunks every entry into a UnixFS file, then builds the directory tree over them
func (s *Store) Put(ctx context.Context, entries dirpin.DirectoryContentMap) (cid.Cid, error) {
	s.gcLk.RLock()
	defer s.gcLk.RUnlock()

	lsys := s.linkSystem(ctx)
	files := make(map[string]builtFile, len(entries))
	var lk sync.Mutex

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(putWorkers)
	for _, p := range entries.Paths() {
		entry := entries[p]
		group.Go(func() error {
			link, size, err := s.addFile(gctx, &lsys, entry.Content)
			if closeErr := entry.Content.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return fmt.Errorf("adding %s: %w", entry.Path, err)
			}
			lk.Lock()
			files[entry.Path] = builtFile{link, size}
			lk.Unlock()
			log.Debugw("added file", "path", entry.Path, "cid", link, "size", size)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return cid.Undef, err
	}

	tree := newDirTree()
	for p, f := range files {
		if err := tree.insert(p, f); err != nil {
			return cid.Undef, err
		}
	}
	rootLink, _, err := tree.build(&lsys)
	if err != nil {
		return cid.Undef, fmt.Errorf("building directory: %w", err)
	}
	root := rootLink.(cidlink.Link).Cid
	if err := s.index.AddRoot(ctx, root, MetadataPublish, &lsys); err != nil {
		return cid.Undef, fmt.Errorf("recording root %s: %w", root, err)
	}
	return root, nil
}

// addFile chunks r into a UnixFS file. An empty file is a single empty raw block.
func (s *Store) addFile(ctx context.Context, lsys *ipld.LinkSystem, r io.Reader) (ipld.Link, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	br := bufio.NewReader(ctxReader{ctx, r})
	if _, err := br.Peek(1); err != nil {
		if err != io.EOF {
			return nil, 0, err
		}
		link, err := lsys.Store(ipld.LinkContext{Ctx: ctx}, rawLeafPrototype, basicnode.NewBytes([]byte{}))
		return link, 0, err
	}
	return builder.BuildUnixFSFile(br, s.chunker, lsys)
}

var rawLeafPrototype = cidlink.LinkPrototype{Prefix: cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}}

// dirTree is the nested directory structure implied by a set of relative paths
type dirTree struct {
	files map[string]builtFile
	dirs  map[string]*dirTree
}

func newDirTree() *dirTree {
	return &dirTree{files: map[string]builtFile{}, dirs: map[string]*dirTree{}}
}

func (d *dirTree) insert(p string, f builtFile) error {
	segments := strings.Split(p, "/")
	current := d
	for i, segment := range segments {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("invalid path %q", p)
		}
		if i == len(segments)-1 {
			if _, ok := current.dirs[segment]; ok {
				return fmt.Errorf("path %q is both a file and a directory", p)
			}
			current.files[segment] = f
			return nil
		}
		if _, ok := current.files[segment]; ok {
			return fmt.Errorf("path %q is both a file and a directory", strings.Join(segments[:i+1], "/"))
		}
		next, ok := current.dirs[segment]
		if !ok {
			next = newDirTree()
			current.dirs[segment] = next
		}
		current = next
	}
	return nil
}

func (d *dirTree) build(lsys *ipld.LinkSystem) (ipld.Link, uint64, error) {
	names := make([]string, 0, len(d.files)+len(d.dirs))
	for name := range d.files {
		names = append(names, name)
	}
	for name := range d.dirs {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]dagpb.PBLink, 0, len(names))
	for _, name := range names {
		var link ipld.Link
		var size uint64
		if f, ok := d.files[name]; ok {
			link, size = f.link, f.size
		} else {
			var err error
			link, size, err = d.dirs[name].build(lsys)
			if err != nil {
				return nil, 0, err
			}
		}
		entry, err := builder.BuildUnixFSDirectoryEntry(name, int64(size), link)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return builder.BuildUnixFSDirectory(entries, lsys)
}

// PinAdd pins c once every block below it is present
func (s *Store) PinAdd(ctx context.Context, c cid.Cid) error {
	s.gcLk.RLock()
	defer s.gcLk.RUnlock()
	has, err := s.blocks.Has(ctx, c)
	if err != nil {
		return err
	}
	if !has {
		return dirpin.ErrNotFound{Cid: c}
	}
	lsys := s.linkSystem(ctx)
	if _, err := traversal.Closure(ctx, c, &lsys); err != nil {
		return fmt.Errorf("pinning %s: incomplete DAG: %w", c, err)
	}
	return s.index.AddPin(ctx, c)
}

func (s *Store) PinLs(ctx context.Context) ([]cid.Cid, error) {
	pins, err := s.index.Pins(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pins: %w", err)
	}
	cids := make([]cid.Cid, 0, len(pins))
	for _, pin := range pins {
		cids = append(cids, pin.CID)
	}
	return cids, nil
}

func (s *Store) PinRm(ctx context.Context, c cid.Cid) error {
	return s.index.RemovePin(ctx, c)
}

// Pins lists pins with the time they were made
func (s *Store) Pins(ctx context.Context) ([]unixfsstore.Pin, error) {
	return s.index.Pins(ctx)
}

// Roots lists every root published to or imported into the store
func (s *Store) Roots(ctx context.Context) ([]unixfsstore.RootCID, error) {
	return s.index.Roots(ctx)
}
