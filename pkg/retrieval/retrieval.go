// Package retrieval fetches published trees back out of a store. It is the read path offered to
// collaborators holding a CID, and doubles as the read-after-write check of the publish pipeline.
package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	dirpin "github.com/ipfs/dirpin/pkg"
	"github.com/ipfs/dirpin/pkg/enumerate"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"
)

var log = logging.Logger("dirpin/retrieval")

// Getter is the read surface of a dirpin.Store
type Getter interface {
	Get(ctx context.Context, root cid.Cid) (dirpin.Content, error)
}

type Verifier struct {
	store Getter
}

func New(store Getter) *Verifier {
	return &Verifier{store: store}
}

// Retrieve returns the tree addressed by root, or dirpin.ErrNotFound if the store does not have it
func (v *Verifier) Retrieve(ctx context.Context, root cid.Cid) (dirpin.Content, error) {
	content, err := v.store.Get(ctx, root)
	if err != nil {
		var notFound dirpin.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, err
		}
		return nil, fmt.Errorf("retrieving %s: %w", root, err)
	}
	log.Debugw("retrieved", "cid", root, "files", len(content))
	return content, nil
}

// Verify retrieves root and checks it holds exactly the regular files under rootDir, byte for byte
func (v *Verifier) Verify(ctx context.Context, root cid.Cid, fsys afero.Fs, rootDir string) (dirpin.Content, error) {
	content, err := v.Retrieve(ctx, root)
	if err != nil {
		return nil, err
	}
	files, err := enumerate.Enumerate(fsys, rootDir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(files))
	for _, file := range files {
		rel, err := enumerate.RelativePath(rootDir, file)
		if err != nil {
			return nil, err
		}
		seen[rel] = struct{}{}
		got, ok := content[rel]
		if !ok {
			return nil, dirpin.ErrContentMismatch{Path: rel, Reason: "missing from retrieved content"}
		}
		want, err := afero.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		if len(want) != len(got) {
			return nil, dirpin.ErrContentMismatch{Path: rel, Reason: fmt.Sprintf("retrieved %d bytes, local file has %d", len(got), len(want))}
		}
		if !bytes.Equal(want, got) {
			return nil, dirpin.ErrContentMismatch{Path: rel, Reason: "bytes differ"}
		}
	}
	for _, p := range content.Paths() {
		if _, ok := seen[p]; !ok {
			return nil, dirpin.ErrContentMismatch{Path: p, Reason: "not present locally"}
		}
	}
	return content, nil
}
