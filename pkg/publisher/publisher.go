// Package publisher publishes a local directory tree into a dirpin.Store
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	dirpin "github.com/ipfs/dirpin/pkg"
	"github.com/ipfs/dirpin/pkg/enumerate"
	"github.com/ipfs/dirpin/pkg/stream"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("dirpin/publisher")

// DefaultConcurrency is the number of files prepared and streamed at once
const DefaultConcurrency = 4

var ErrInvalidConcurrency = errors.New("concurrency must be a positive integer")

// Option configures a Publisher
type Option func(*Publisher)

// WithConcurrency caps the number of files in flight
func WithConcurrency(concurrency int) Option {
	return func(p *Publisher) {
		p.concurrency = concurrency
	}
}

// WithChunkSize bounds the bytes handed to the store per read
func WithChunkSize(chunkSize int) Option {
	return func(p *Publisher) {
		p.chunkSize = chunkSize
	}
}

// Publisher streams directory trees into a store under a concurrency cap
type Publisher struct {
	store       dirpin.Store
	fsys        afero.Fs
	concurrency int
	chunkSize   int
}

// New returns a Publisher reading from fsys and writing to store
func New(store dirpin.Store, fsys afero.Fs, opts ...Option) (*Publisher, error) {
	p := &Publisher{
		store:       store,
		fsys:        fsys,
		concurrency: DefaultConcurrency,
		chunkSize:   stream.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, p.concurrency)
	}
	return p, nil
}

// Publish enumerates rootDir, submits every regular file under it to the store and returns the
// root CID of the resulting directory DAG.
//
// Enumeration failures are returned as dirpin.ErrPathNotFound or dirpin.ErrNotADirectory and
// happen before any store call. Every later failure is a dirpin.ErrPublish; the store may keep
// whatever it received before the failure.
func (p *Publisher) Publish(ctx context.Context, rootDir string) (cid.Cid, error) {
	files, err := enumerate.Enumerate(p.fsys, rootDir)
	if err != nil {
		return cid.Undef, err
	}
	log.Debugw("enumerated", "root", rootDir, "files", len(files))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gate := stream.NewGate(p.concurrency)
	entries, err := p.prepare(ctx, rootDir, files, gate)
	if err != nil {
		return cid.Undef, dirpin.ErrPublish{Cause: err}
	}

	root, err := p.store.Put(ctx, entries)
	if err != nil {
		// stores close what they consume; closing again is a no-op
		return cid.Undef, dirpin.ErrPublish{Cause: multierr.Append(err, closeAll(entries))}
	}
	log.Debugw("published", "root", rootDir, "cid", root, "peakOpenFiles", gate.Peak())
	return root, nil
}

func (p *Publisher) prepare(ctx context.Context, rootDir string, files []string, gate *stream.Gate) (dirpin.DirectoryContentMap, error) {
	entries := make(dirpin.DirectoryContentMap, len(files))
	var lk sync.Mutex

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(p.concurrency)
	for _, file := range files {
		if gctx.Err() != nil {
			break
		}
		file := file
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := p.fsys.Stat(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			if !info.Mode().IsRegular() {
				return fmt.Errorf("%s is no longer a regular file", file)
			}
			rel, err := enumerate.RelativePath(rootDir, file)
			if err != nil {
				return err
			}
			// streams outlive the group, so they take the publish context
			content := stream.Open(ctx, p.fsys, file, stream.Options{
				ChunkSize: p.chunkSize,
				Gate:      gate,
			})
			lk.Lock()
			defer lk.Unlock()
			if _, ok := entries[rel]; ok {
				return fmt.Errorf("duplicate path %s", rel)
			}
			entries[rel] = dirpin.FileEntry{Path: rel, Content: content}
			return nil
		})
	}
	err := group.Wait()
	if err == nil {
		// scheduling stops early if the caller cancels
		err = ctx.Err()
	}
	if err != nil {
		return nil, multierr.Append(err, closeAll(entries))
	}
	return entries, nil
}

func closeAll(entries dirpin.DirectoryContentMap) error {
	var err error
	for _, entry := range entries {
		err = multierr.Append(err, entry.Content.Close())
	}
	return err
}
