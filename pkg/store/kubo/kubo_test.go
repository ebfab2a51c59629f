package kubo_test

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ipfs/dirpin/internal/testutil"
	dirpin "github.com/ipfs/dirpin/pkg"
	"github.com/ipfs/dirpin/pkg/store/kubo"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

// fakeDaemon answers the handful of RPC commands the store uses, keeping trees in memory
type fakeDaemon struct {
	t *testing.T

	lk       sync.Mutex
	trees    map[string]map[string][]byte
	pins     map[string]struct{}
	parts    []string
	queries  map[string]url.Values
	failAdds bool
}

func newFakeDaemon(t *testing.T) (*fakeDaemon, *kubo.Store) {
	d := &fakeDaemon{
		t:       t,
		trees:   make(map[string]map[string][]byte),
		pins:    make(map[string]struct{}),
		queries: make(map[string]url.Values),
	}
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	s, err := kubo.New(srv.URL)
	require.NoError(t, err)
	return d, s
}

func writeKuboError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"Message": msg, "Code": 0, "Type": "error"})
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	command := strings.TrimPrefix(r.URL.Path, "/api/v0/")
	d.lk.Lock()
	d.queries[command] = r.URL.Query()
	d.lk.Unlock()
	switch command {
	case "add":
		d.add(w, r)
	case "get":
		d.get(w, r)
	case "pin/add":
		d.lk.Lock()
		defer d.lk.Unlock()
		arg := r.URL.Query().Get("arg")
		if _, ok := d.trees[arg]; !ok {
			writeKuboError(w, http.StatusInternalServerError, "pin: block was not found locally (offline): ipld: could not find "+arg)
			return
		}
		d.pins[arg] = struct{}{}
		json.NewEncoder(w).Encode(map[string]interface{}{"Pins": []string{arg}})
	case "pin/ls":
		d.lk.Lock()
		defer d.lk.Unlock()
		keys := make(map[string]interface{})
		for c := range d.pins {
			keys[c] = map[string]string{"Type": "recursive"}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"Keys": keys})
	case "pin/rm":
		d.lk.Lock()
		defer d.lk.Unlock()
		arg := r.URL.Query().Get("arg")
		if _, ok := d.pins[arg]; !ok {
			writeKuboError(w, http.StatusInternalServerError, "not pinned or pinned indirectly")
			return
		}
		delete(d.pins, arg)
		json.NewEncoder(w).Encode(map[string]interface{}{"Pins": []string{arg}})
	default:
		writeKuboError(w, http.StatusNotFound, "unknown command "+command)
	}
}

func (d *fakeDaemon) add(w http.ResponseWriter, r *http.Request) {
	if d.failAdds {
		io.Copy(io.Discard, r.Body)
		writeKuboError(w, http.StatusInternalServerError, "repo is full")
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeKuboError(w, http.StatusBadRequest, err.Error())
		return
	}
	files := make(map[string][]byte)
	var parts []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeKuboError(w, http.StatusBadRequest, err.Error())
			return
		}
		name, err := url.QueryUnescape(part.FileName())
		if err != nil {
			writeKuboError(w, http.StatusBadRequest, err.Error())
			return
		}
		if part.Header.Get("Content-Type") == "application/x-directory" {
			parts = append(parts, name+"/")
			continue
		}
		parts = append(parts, name)
		data, err := io.ReadAll(part)
		if err != nil {
			writeKuboError(w, http.StatusBadRequest, err.Error())
			return
		}
		files[name] = data
	}

	root := treeCid(d.t, files)
	d.lk.Lock()
	d.trees[root] = files
	d.parts = parts
	d.lk.Unlock()

	enc := json.NewEncoder(w)
	for _, name := range sortedKeys(files) {
		enc.Encode(map[string]string{"Name": name, "Hash": treeCid(d.t, map[string][]byte{"": files[name]}), "Size": fmt.Sprint(len(files[name]))})
	}
	enc.Encode(map[string]string{"Name": "", "Hash": root, "Size": "0"})
}

func (d *fakeDaemon) get(w http.ResponseWriter, r *http.Request) {
	arg := r.URL.Query().Get("arg")
	d.lk.Lock()
	files, ok := d.trees[arg]
	d.lk.Unlock()
	if !ok {
		writeKuboError(w, http.StatusInternalServerError, "block was not found locally (offline): ipld: could not find "+arg)
		return
	}
	w.Header().Set("Content-Type", "application/x-tar")
	tw := tar.NewWriter(w)
	tw.WriteHeader(&tar.Header{Name: arg, Typeflag: tar.TypeDir, Mode: 0o755})
	written := make(map[string]struct{})
	for _, name := range sortedKeys(files) {
		segments := strings.Split(name, "/")
		for i := 1; i < len(segments); i++ {
			dir := strings.Join(segments[:i], "/")
			if _, ok := written[dir]; !ok {
				written[dir] = struct{}{}
				tw.WriteHeader(&tar.Header{Name: arg + "/" + dir, Typeflag: tar.TypeDir, Mode: 0o755})
			}
		}
		tw.WriteHeader(&tar.Header{Name: arg + "/" + name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(files[name]))})
		tw.Write(files[name])
	}
	tw.Close()
}

func sortedKeys(files map[string][]byte) []string {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func treeCid(t *testing.T, files map[string][]byte) string {
	var buf bytes.Buffer
	for _, name := range sortedKeys(files) {
		buf.WriteString(name)
		buf.WriteByte(0)
		buf.Write(files[name])
		buf.WriteByte(0)
	}
	mh, err := multihash.Sum(buf.Bytes(), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.DagProtobuf, mh).String()
}

type closeCounter struct {
	io.Reader
	closed *int32
}

func (c closeCounter) Close() error {
	atomic.AddInt32(c.closed, 1)
	return nil
}

func scenarioEntries(closed *int32) dirpin.DirectoryContentMap {
	entries := make(dirpin.DirectoryContentMap)
	for p, data := range testutil.ScenarioTree {
		entries[p] = dirpin.FileEntry{Path: p, Content: closeCounter{strings.NewReader(data), closed}}
	}
	return entries
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	d, s := newFakeDaemon(t)

	var closed int32
	root, err := s.Put(ctx, scenarioEntries(&closed))
	req.NoError(err)
	req.Equal(int32(len(testutil.ScenarioTree)), atomic.LoadInt32(&closed))

	query := d.queries["add"]
	req.Equal("true", query.Get("wrap-with-directory"))
	req.Equal("1", query.Get("cid-version"))
	req.Equal("true", query.Get("raw-leaves"))
	req.Equal("false", query.Get("pin"))
	req.Equal(kubo.DefaultChunker, query.Get("chunker"))
	req.Equal([]string{"a.txt", "sub/", "sub/b.txt"}, d.parts)

	content, err := s.Get(ctx, root)
	req.NoError(err)
	req.Len(content, len(testutil.ScenarioTree))
	for p, data := range testutil.ScenarioTree {
		req.Equal([]byte(data), content[p])
	}
	req.Equal("true", d.queries["get"].Get("archive"))
}

func TestPutNestedParts(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	d, s := newFakeDaemon(t)

	entries := make(dirpin.DirectoryContentMap)
	for _, p := range []string{"z.txt", "a/b/c.txt", "a/b/d e.txt", "a/x.txt", "m/n.txt"} {
		entries[p] = dirpin.FileEntry{Path: p, Content: io.NopCloser(strings.NewReader(p))}
	}
	root, err := s.Put(ctx, entries)
	req.NoError(err)
	req.Equal([]string{"a/", "a/b/", "a/b/c.txt", "a/b/d e.txt", "a/x.txt", "m/", "m/n.txt", "z.txt"}, d.parts)

	content, err := s.Get(ctx, root)
	req.NoError(err)
	req.Equal([]byte("a/b/d e.txt"), content["a/b/d e.txt"])
}

func TestPutConflictingPaths(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	d, s := newFakeDaemon(t)

	var closed int32
	entries := scenarioEntries(&closed)
	entries["sub"] = dirpin.FileEntry{Path: "sub", Content: closeCounter{strings.NewReader("x"), &closed}}
	_, err := s.Put(ctx, entries)
	req.ErrorContains(err, "both a file and a directory")
	req.Equal(int32(len(entries)), atomic.LoadInt32(&closed))
	req.NotContains(d.queries, "add")
}

func TestGetUnknown(t *testing.T) {
	ctx := context.Background()
	_, s := newFakeDaemon(t)
	missing := testutil.GenerateCid()
	_, err := s.Get(ctx, missing)
	var notFound dirpin.ErrNotFound
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, missing, notFound.Cid)
}

func TestPutDaemonError(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	d, s := newFakeDaemon(t)
	d.failAdds = true

	var closed int32
	_, err := s.Put(ctx, scenarioEntries(&closed))
	var kerr kubo.Error
	req.ErrorAs(err, &kerr)
	req.Equal("repo is full", kerr.Message)
	req.Equal(int32(len(testutil.ScenarioTree)), atomic.LoadInt32(&closed))
}

func TestPutUnreachable(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	s, err := kubo.New(addr)
	req.NoError(err)

	var closed int32
	_, err = s.Put(ctx, scenarioEntries(&closed))
	req.Error(err)
	req.Equal(int32(len(testutil.ScenarioTree)), atomic.LoadInt32(&closed))
}

func TestPins(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	_, s := newFakeDaemon(t)

	var notFound dirpin.ErrNotFound
	req.ErrorAs(s.PinAdd(ctx, testutil.GenerateCid()), &notFound)

	var closed int32
	root, err := s.Put(ctx, scenarioEntries(&closed))
	req.NoError(err)

	req.NoError(s.PinAdd(ctx, root))
	req.NoError(s.PinAdd(ctx, root))
	pins, err := s.PinLs(ctx)
	req.NoError(err)
	req.Equal([]cid.Cid{root}, pins)

	req.NoError(s.PinRm(ctx, root))
	// already unpinned
	req.NoError(s.PinRm(ctx, root))
	pins, err = s.PinLs(ctx)
	req.NoError(err)
	req.Empty(pins)
}

func TestNewRejectsBadAddress(t *testing.T) {
	_, err := kubo.New("localhost:5001")
	require.Error(t, err)
	_, err = kubo.New("ftp://localhost:5001")
	require.Error(t, err)
}
