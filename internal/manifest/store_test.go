package manifest

import (
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirOpen(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "my-app.plist"), []byte("<plist/>"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "folder.plist"), 0o700))

	dir, err := NewDir(root)
	require.NoError(t, err)

	f, err := dir.Open("my-app")
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "<plist/>", string(body))
	assert.Equal(t, int64(len(body)), f.Size)

	_, err = dir.Open("missing")
	assert.True(t, stderrors.Is(err, ErrFileNotFound))

	_, err = dir.Open("folder")
	assert.True(t, stderrors.Is(err, ErrFileNotFound))
}

func TestDirRejectsUnsafeSlugs(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	require.NoError(t, err)

	for _, slug := range []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`, "a..b", "nul\x00"} {
		_, ok := dir.Path(slug)
		assert.False(t, ok, "%q", slug)

		_, err := dir.Open(slug)
		assert.True(t, stderrors.Is(err, ErrFileNotFound), "%q", slug)
	}
}

func TestNewDirRequiresDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := NewDir(file)
	assert.Error(t, err)

	_, err = NewDir(filepath.Join(root, "absent"))
	assert.Error(t, err)
}
