package testutil

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	dirpin "github.com/ipfs/dirpin/pkg"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// FakeStore is an in-memory dirpin.Store with failure hooks. Its CIDs are a hash of the
// submitted paths and bytes, so identical trees get identical CIDs.
type FakeStore struct {
	PutErr    error
	GetErr    error
	PinAddErr error
	PinLsErr  error
	PinRmErr  error
	// HidePins makes PinAdd succeed without the pin ever appearing in PinLs
	HidePins bool
	// ReadDelay is slept between reads in Put, so streams consumed concurrently overlap
	ReadDelay time.Duration

	lk    sync.Mutex
	trees map[cid.Cid]dirpin.Content
	pins  map[cid.Cid]struct{}
	calls map[string]int
}

var _ dirpin.Store = (*FakeStore)(nil)

func NewFakeStore() *FakeStore {
	return &FakeStore{
		trees: make(map[cid.Cid]dirpin.Content),
		pins:  make(map[cid.Cid]struct{}),
		calls: make(map[string]int),
	}
}

// Calls is how many times the named method was invoked
func (s *FakeStore) Calls(method string) int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.calls[method]
}

// TotalCalls is how many times any method was invoked
func (s *FakeStore) TotalCalls() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *FakeStore) record(method string) {
	s.lk.Lock()
	s.calls[method]++
	s.lk.Unlock()
}

// Put reads every entry concurrently, one goroutine per entry
func (s *FakeStore) Put(ctx context.Context, entries dirpin.DirectoryContentMap) (cid.Cid, error) {
	s.record("Put")
	if s.PutErr != nil {
		var err error = s.PutErr
		for _, entry := range entries {
			err = multierr.Append(err, entry.Content.Close())
		}
		return cid.Undef, err
	}

	content := make(dirpin.Content, len(entries))
	var lk sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		entry := entry
		group.Go(func() error {
			defer entry.Content.Close()
			data, err := s.readAll(gctx, entry.Content)
			if err != nil {
				return err
			}
			lk.Lock()
			content[entry.Path] = data
			lk.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return cid.Undef, err
	}

	root, err := contentCid(content)
	if err != nil {
		return cid.Undef, err
	}
	s.lk.Lock()
	s.trees[root] = content
	s.lk.Unlock()
	return root, nil
}

func (s *FakeStore) readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 32<<10)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		if s.ReadDelay > 0 {
			time.Sleep(s.ReadDelay)
		}
	}
}

func contentCid(content dirpin.Content) (cid.Cid, error) {
	var buf bytes.Buffer
	for _, p := range content.Paths() {
		buf.WriteString(p)
		buf.WriteByte(0)
		buf.Write(binary.AppendUvarint(nil, uint64(len(content[p]))))
		buf.Write(content[p])
	}
	mh, err := multihash.Sum(buf.Bytes(), multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.DagProtobuf, mh), nil
}

func (s *FakeStore) Get(ctx context.Context, root cid.Cid) (dirpin.Content, error) {
	s.record("Get")
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	content, ok := s.trees[root]
	if !ok {
		return nil, dirpin.ErrNotFound{Cid: root}
	}
	out := make(dirpin.Content, len(content))
	for p, data := range content {
		out[p] = append([]byte(nil), data...)
	}
	return out, nil
}

// Corrupt replaces the bytes stored for path under root
func (s *FakeStore) Corrupt(root cid.Cid, path string, data []byte) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if content, ok := s.trees[root]; ok {
		content[path] = data
	}
}

func (s *FakeStore) PinAdd(ctx context.Context, c cid.Cid) error {
	s.record("PinAdd")
	if s.PinAddErr != nil {
		return s.PinAddErr
	}
	if s.HidePins {
		return nil
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	if _, ok := s.trees[c]; !ok {
		return dirpin.ErrNotFound{Cid: c}
	}
	s.pins[c] = struct{}{}
	return nil
}

func (s *FakeStore) PinLs(ctx context.Context) ([]cid.Cid, error) {
	s.record("PinLs")
	if s.PinLsErr != nil {
		return nil, s.PinLsErr
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	pins := make([]cid.Cid, 0, len(s.pins))
	for c := range s.pins {
		pins = append(pins, c)
	}
	return pins, nil
}

func (s *FakeStore) PinRm(ctx context.Context, c cid.Cid) error {
	s.record("PinRm")
	if s.PinRmErr != nil {
		return s.PinRmErr
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.pins, c)
	return nil
}
