/*
Package enumerate lists the regular files of a directory tree.

Policy:
  - symbolic links are never followed, and are not listed, whether they point at files or
    directories;
  - hidden files and directories are included;
  - sockets, devices and named pipes are skipped;
  - the result is sorted, so a tree always enumerates in the same order.
*/
package enumerate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	dirpin "github.com/ipfs/dirpin/pkg"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"
)

var log = logging.Logger("dirpin/enumerate")

// Enumerate returns the cleaned absolute path of every regular file reachable from root by
// recursive descent.
func Enumerate(fsys afero.Fs, root string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	info, err := fsys.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dirpin.ErrPathNotFound{Path: root}
		}
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, dirpin.ErrNotADirectory{Path: root}
	}

	// the root itself may be a link (e.g. /tmp on some systems); links below it are not followed
	walkRoot := root
	if _, ok := fsys.(*afero.OsFs); ok {
		if resolved, err := filepath.EvalSymlinks(root); err == nil {
			walkRoot = resolved
		}
	}

	var files []string
	err = afero.Walk(fsys, walkRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// afero.Walk reports links through lstat where the filesystem supports it, so a
		// linked directory arrives here as a link and is never descended into
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			log.Debugw("skipping symlink", "path", p)
		case info.Mode().IsRegular():
			rel, err := filepath.Rel(walkRoot, p)
			if err != nil {
				return err
			}
			files = append(files, filepath.Join(root, rel))
		case info.IsDir():
		default:
			log.Debugw("skipping irregular file", "path", p, "mode", info.Mode().String())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// RelativePath converts a file found under root into the forward slash form used as a key in a
// dirpin.DirectoryContentMap
func RelativePath(root string, file string) (string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is not under %s", file, root)
	}
	return path.Clean(rel), nil
}
