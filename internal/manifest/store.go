package manifest

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Extension is the on-disk suffix of manifest files.
const Extension = ".plist"

// ErrFileNotFound is returned when no manifest exists for a slug.
var ErrFileNotFound = stderrors.New("manifest file not found")

// File is an opened manifest.
type File struct {
	io.ReadCloser
	Size int64
}

// Files opens manifests by slug.
type Files interface {
	Open(slug string) (*File, error)
}

// Dir serves manifests from a flat directory of <slug>.plist files.
type Dir struct {
	root string
}

// NewDir returns a Dir rooted at root.
func NewDir(root string) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("manifest dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("manifest dir %s is not a directory", root)
	}
	return &Dir{root: root}, nil
}

// Path returns the file path for slug, or false if the slug is not a plain
// file name.
func (d *Dir) Path(slug string) (string, bool) {
	if !validSlug(slug) {
		return "", false
	}
	return filepath.Join(d.root, slug+Extension), true
}

// Open implements Files.
func (d *Dir) Open(slug string) (*File, error) {
	path, ok := d.Path(slug)
	if !ok {
		return nil, ErrFileNotFound
	}

	f, err := os.Open(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat manifest: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrFileNotFound
	}
	return &File{ReadCloser: f, Size: info.Size()}, nil
}

func validSlug(slug string) bool {
	if slug == "" || slug == "." || slug == ".." {
		return false
	}
	if strings.ContainsAny(slug, `/\`) || strings.Contains(slug, "..") {
		return false
	}
	return !strings.ContainsRune(slug, 0)
}
