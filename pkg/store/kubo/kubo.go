// Package kubo implements dirpin.Store against the RPC API of a Kubo daemon
package kubo

import (
	"archive/tar"
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	dirpin "github.com/ipfs/dirpin/pkg"
	"github.com/ipfs/go-cid"
	files "github.com/ipfs/go-ipfs-files"
	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/multierr"
)

var log = logging.Logger("dirpin/kubo")

const (
	// DefaultAPI is where a Kubo daemon listens for RPC by default
	DefaultAPI = "http://localhost:5001"
	// DefaultChunker matches the daemon's own default
	DefaultChunker = "size-262144"

	streamErrorTrailer = "X-Stream-Error"
)

// Option configures a Store
type Option func(*Store)

// WithHTTPClient replaces http.DefaultClient
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) {
		s.client = client
	}
}

// WithChunker sets the chunker the daemon splits files with
func WithChunker(chunker string) Option {
	return func(s *Store) {
		s.chunker = chunker
	}
}

// Store talks to a Kubo daemon. Packing rules are fixed per request: CIDv1, raw leaves,
// sha2-256 and the configured chunker.
type Store struct {
	api     *url.URL
	client  *http.Client
	chunker string
}

var _ dirpin.Store = (*Store)(nil)

// New returns a Store for the daemon whose RPC API is at api, such as DefaultAPI
func New(api string, opts ...Option) (*Store, error) {
	u, err := url.Parse(api)
	if err != nil {
		return nil, fmt.Errorf("parsing api address %q: %w", api, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api address %q must be http or https", api)
	}
	s := &Store{api: u, client: http.DefaultClient, chunker: DefaultChunker}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Error is an error reported by the daemon
type Error struct {
	Command string
	Message string
	Code    int
	Type    string
}

func (e Error) Error() string {
	return fmt.Sprintf("kubo %s: %s", e.Command, e.Message)
}

func isLikelyNotFound(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "could not find")
}

func (s *Store) endpoint(command string, args url.Values) string {
	u := *s.api
	u.Path = path.Join(u.Path, "/api/v0", command)
	u.RawQuery = args.Encode()
	return u.String()
}

// call posts a command and returns the response when the daemon accepted it
func (s *Store) call(ctx context.Context, command string, args url.Values, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(command, args), body)
	if err != nil {
		return nil, fmt.Errorf("constructing request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing %s: %w", command, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		bd, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, fmt.Errorf("kubo %s: status code: %s, error parsing message: %w", command, res.Status, err)
		}
		kerr := Error{Command: command, Code: res.StatusCode}
		if json.Unmarshal(bd, &kerr) != nil || kerr.Message == "" {
			kerr.Message = fmt.Sprintf("status code: %s, message: %s", res.Status, strings.TrimSpace(string(bd)))
		}
		return nil, kerr
	}
	return res, nil
}

// streamError reports an error the daemon sent after the response had started
func streamError(command string, res *http.Response) error {
	if msg := res.Trailer.Get(streamErrorTrailer); msg != "" {
		return Error{Command: command, Message: msg}
	}
	return nil
}

type addEntry struct {
	Name string
	Hash string
	Size string
}

// Put streams the entries to the daemon as one multipart add, wrapped in a directory. Parent
// directories are announced before their children.
func (s *Store) Put(ctx context.Context, entries dirpin.DirectoryContentMap) (root cid.Cid, err error) {
	defer func() {
		err = multierr.Append(err, closeAll(entries))
	}()

	dir, err := entryTree(entries)
	if err != nil {
		return cid.Undef, err
	}
	args := url.Values{}
	args.Set("wrap-with-directory", "true")
	args.Set("cid-version", "1")
	args.Set("raw-leaves", "true")
	args.Set("pin", "false")
	args.Set("quieter", "false")
	args.Set("chunker", s.chunker)

	body := files.NewMultiFileReader(dir, true)
	return s.add(ctx, args, "multipart/form-data; boundary="+body.Boundary(), body)
}

func closeAll(entries dirpin.DirectoryContentMap) error {
	var err error
	for _, entry := range entries {
		err = multierr.Append(err, entry.Content.Close())
	}
	return err
}

// treeNode is a file or a directory of the tree the entry paths imply
type treeNode struct {
	content  io.Reader
	children map[string]*treeNode
}

// entryTree nests the entries into directories. Entry streams are wrapped, not read.
func entryTree(entries dirpin.DirectoryContentMap) (files.Directory, error) {
	root := &treeNode{children: map[string]*treeNode{}}
	for _, p := range entries.Paths() {
		segments := strings.Split(p, "/")
		current := root
		for i, segment := range segments {
			if segment == "" || segment == "." || segment == ".." {
				return nil, fmt.Errorf("invalid path %q", p)
			}
			if current.children == nil {
				return nil, fmt.Errorf("path %q is both a file and a directory", strings.Join(segments[:i], "/"))
			}
			next, ok := current.children[segment]
			if i == len(segments)-1 {
				if ok {
					return nil, fmt.Errorf("path %q is both a file and a directory", p)
				}
				current.children[segment] = &treeNode{content: entries[p].Content}
				break
			}
			if !ok {
				next = &treeNode{children: map[string]*treeNode{}}
				current.children[segment] = next
			}
			current = next
		}
	}
	return root.directory(), nil
}

func (n *treeNode) directory() files.Directory {
	nodes := make(map[string]files.Node, len(n.children))
	for name, child := range n.children {
		if child.children == nil {
			nodes[name] = files.NewReaderFile(child.content)
		} else {
			nodes[name] = child.directory()
		}
	}
	return files.NewMapDirectory(nodes)
}

func (s *Store) add(ctx context.Context, args url.Values, contentType string, body io.Reader) (cid.Cid, error) {
	res, err := s.call(ctx, "add", args, contentType, body)
	if err != nil {
		return cid.Undef, err
	}
	defer res.Body.Close()

	root := cid.Undef
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		var entry addEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return cid.Undef, fmt.Errorf("parsing add response: %w", err)
		}
		log.Debugw("added", "name", entry.Name, "cid", entry.Hash)
		if entry.Name == "" && entry.Hash != "" {
			root, err = cid.Decode(entry.Hash)
			if err != nil {
				return cid.Undef, fmt.Errorf("parsing add response: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return cid.Undef, fmt.Errorf("reading add response: %w", err)
	}
	if err := streamError("add", res); err != nil {
		return cid.Undef, err
	}
	if !root.Defined() {
		return cid.Undef, errors.New("kubo add: response named no root directory")
	}
	return root, nil
}

// Get fetches root as a tar archive from the daemon's local repo
func (s *Store) Get(ctx context.Context, root cid.Cid) (dirpin.Content, error) {
	args := url.Values{}
	args.Set("arg", root.String())
	args.Set("archive", "true")
	args.Set("offline", "true")
	res, err := s.call(ctx, "get", args, "", nil)
	if err != nil {
		return nil, s.notFound(root, err)
	}
	defer res.Body.Close()

	content, err := readTar(res.Body, root)
	// trailers arrive once the body is drained
	_, _ = io.Copy(io.Discard, res.Body)
	if serr := streamError("get", res); serr != nil {
		return nil, s.notFound(root, serr)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}
	return content, nil
}

// readTar collects the regular files of an archive whose entries all sit under a top level
// entry named after root
func readTar(r io.Reader, root cid.Cid) (dirpin.Content, error) {
	content := make(dirpin.Content)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return content, nil
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := strings.TrimPrefix(path.Clean(hdr.Name), "/")
		key := root.String()
		if i := strings.IndexByte(name, '/'); i >= 0 {
			key = name[i+1:]
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		content[key] = data
	}
}

func (s *Store) notFound(c cid.Cid, err error) error {
	var kerr Error
	if errors.As(err, &kerr) && isLikelyNotFound(kerr.Message) {
		return dirpin.ErrNotFound{Cid: c}
	}
	return err
}

func (s *Store) PinAdd(ctx context.Context, c cid.Cid) error {
	args := url.Values{}
	args.Set("arg", c.String())
	args.Set("recursive", "true")
	res, err := s.call(ctx, "pin/add", args, "", nil)
	if err != nil {
		return s.notFound(c, err)
	}
	defer res.Body.Close()
	_, err = io.Copy(io.Discard, res.Body)
	if err == nil {
		err = streamError("pin/add", res)
	}
	return s.notFound(c, err)
}

type pinLsResponse struct {
	Keys map[string]struct {
		Type string
	}
}

func (s *Store) PinLs(ctx context.Context) ([]cid.Cid, error) {
	args := url.Values{}
	args.Set("type", "recursive")
	res, err := s.call(ctx, "pin/ls", args, "", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	var pins pinLsResponse
	if err := json.NewDecoder(res.Body).Decode(&pins); err != nil {
		return nil, fmt.Errorf("parsing pin/ls response: %w", err)
	}
	cids := make([]cid.Cid, 0, len(pins.Keys))
	for key := range pins.Keys {
		c, err := cid.Decode(key)
		if err != nil {
			return nil, fmt.Errorf("parsing pin/ls response: %w", err)
		}
		cids = append(cids, c)
	}
	return cids, nil
}

// PinRm removes a recursive pin. A CID that is not pinned is not an error.
func (s *Store) PinRm(ctx context.Context, c cid.Cid) error {
	args := url.Values{}
	args.Set("arg", c.String())
	args.Set("recursive", "true")
	res, err := s.call(ctx, "pin/rm", args, "", nil)
	if err != nil {
		var kerr Error
		if errors.As(err, &kerr) && strings.Contains(kerr.Message, "not pinned") {
			log.Debugw("unpin of unpinned cid", "cid", c)
			return nil
		}
		return err
	}
	defer res.Body.Close()
	_, err = io.Copy(io.Discard, res.Body)
	return err
}
