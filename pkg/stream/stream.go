// Package stream adapts files into lazily opened, single-use byte streams whose concurrently
// open count is bounded by a Gate.
package stream

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

// DefaultChunkSize is the largest number of bytes a single Read returns
const DefaultChunkSize = 64 << 10

// Gate caps how many streams may hold an open file at once
type Gate struct {
	sem  *semaphore.Weighted
	lk   sync.Mutex
	open int
	peak int
}

// NewGate returns a gate admitting up to size open streams
func NewGate(size int) *Gate {
	return &Gate{sem: semaphore.NewWeighted(int64(size))}
}

func (g *Gate) acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.lk.Lock()
	g.open++
	if g.open > g.peak {
		g.peak = g.open
	}
	g.lk.Unlock()
	return nil
}

func (g *Gate) release() {
	g.lk.Lock()
	g.open--
	g.lk.Unlock()
	g.sem.Release(1)
}

// Open is the number of streams currently holding a file open
func (g *Gate) Open() int {
	g.lk.Lock()
	defer g.lk.Unlock()
	return g.open
}

// Peak is the highest value Open has reached
func (g *Gate) Peak() int {
	g.lk.Lock()
	defer g.lk.Unlock()
	return g.peak
}

// Options configure a FileStream
type Options struct {
	// ChunkSize bounds the bytes returned per Read, DefaultChunkSize when zero
	ChunkSize int
	// Gate, when set, must admit the stream before its file is opened
	Gate *Gate
}

// FileStream is an io.ReadCloser over a file that is opened on the first Read and closed as soon
// as it is exhausted, fails, or is closed by the consumer.
type FileStream struct {
	ctx       context.Context
	fsys      afero.Fs
	path      string
	chunkSize int
	gate      *Gate

	lk       sync.Mutex
	file     afero.File
	finished bool
	finalErr error
}

var _ io.ReadCloser = (*FileStream)(nil)

// Open prepares a stream over path. Nothing is opened until the first Read.
func Open(ctx context.Context, fsys afero.Fs, path string, opts Options) *FileStream {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &FileStream{
		ctx:       ctx,
		fsys:      fsys,
		path:      path,
		chunkSize: chunkSize,
		gate:      opts.Gate,
	}
}

// Path is the file the stream reads
func (s *FileStream) Path() string {
	return s.path
}

func (s *FileStream) Read(p []byte) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.finished {
		return 0, s.finalErr
	}
	if s.file == nil {
		if err := s.open(); err != nil {
			s.finished = true
			s.finalErr = err
			return 0, err
		}
	}
	if len(p) > s.chunkSize {
		p = p[:s.chunkSize]
	}
	n, err := s.file.Read(p)
	if err == nil {
		return n, nil
	}
	closeErr := s.closeFile()
	s.finished = true
	if err == io.EOF {
		if closeErr != nil {
			err = fmt.Errorf("closing %s: %w", s.path, closeErr)
		}
		s.finalErr = err
		return n, err
	}
	s.finalErr = multierr.Append(fmt.Errorf("reading %s: %w", s.path, err), closeErr)
	return n, s.finalErr
}

// Close releases the file if it is open. Reads after Close fail with fs.ErrClosed.
func (s *FileStream) Close() error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.finished {
		return nil
	}
	s.finished = true
	s.finalErr = fs.ErrClosed
	if s.file == nil {
		return nil
	}
	if err := s.closeFile(); err != nil {
		return fmt.Errorf("closing %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStream) open() error {
	if s.gate != nil {
		if err := s.gate.acquire(s.ctx); err != nil {
			return fmt.Errorf("waiting to open %s: %w", s.path, err)
		}
	}
	f, err := s.fsys.Open(s.path)
	if err != nil {
		if s.gate != nil {
			s.gate.release()
		}
		return fmt.Errorf("opening %s: %w", s.path, err)
	}
	s.file = f
	return nil
}

// closeFile must be called with lk held and a file open; it releases the gate exactly once.
func (s *FileStream) closeFile() error {
	err := s.file.Close()
	s.file = nil
	if s.gate != nil {
		s.gate.release()
	}
	return err
}
