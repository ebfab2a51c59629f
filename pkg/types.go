package dirpin

import (
	"io"
	"sort"

	"github.com/ipfs/go-cid"
)

// FileEntry is a single file of a publish batch
type FileEntry struct {
	// Path is relative to the published root, uses forward slashes and has no leading slash
	Path string
	// Content is a single-use stream of the file's bytes. Ownership passes to the store on Put,
	// which must Close it whether or not it was read to the end.
	Content io.ReadCloser
}

// DirectoryContentMap is the set of files submitted in one publish call, keyed by FileEntry.Path
type DirectoryContentMap map[string]FileEntry

// Paths returns the keys of the map in lexical order
func (m DirectoryContentMap) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// PinRecord is proof that a store reported a CID among its active pins
type PinRecord struct {
	Cid cid.Cid
}

// Content is a retrieved tree: file bytes keyed by path relative to the root.
// A root that is itself a file yields a single entry keyed by the root CID string.
type Content map[string][]byte

// Paths returns the keys of the content in lexical order
func (c Content) Paths() []string {
	paths := make([]string, 0, len(c))
	for p := range c {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
