// Package testutil holds helpers shared by the dirpin tests
package testutil

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

// GenerateCid returns the raw CID of a random block that was never stored anywhere
func GenerateCid() cid.Cid {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	mh, err := multihash.Sum(buf, multihash.SHA2_256, -1)
	if err != nil {
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, mh)
}

func GenerateCids(n int) []cid.Cid {
	cids := make([]cid.Cid, 0, n)
	for i := 0; i < n; i++ {
		cids = append(cids, GenerateCid())
	}
	return cids
}

// RandomBytes returns n random bytes
func RandomBytes(n int) []byte {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return buf
}

// WriteTree creates dir and writes files into it, keyed by forward-slash relative path.
// It returns dir.
func WriteTree(t *testing.T, dir string, files map[string]string) string {
	for rel, contents := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
	}
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

// ScenarioTree is the tree used by the end to end tests: two files, one of them nested
var ScenarioTree = map[string]string{
	"a.txt":     "hello\n",
	"sub/b.txt": "world\n",
}
