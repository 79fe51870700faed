package platform

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRegular(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.txt"), []byte("payload"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { root.Close() })

	f, err := OpenRegular(root, "data.txt")
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "payload", string(content))

	_, err = OpenRegular(root, "sub")
	require.ErrorIs(t, err, ErrNotRegular)

	_, err = OpenRegular(root, "missing")
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = OpenRegular(root, "../escape")
	require.Error(t, err)
}

func TestOpenRegular_Symlink(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "target"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.Symlink("target", filepath.Join(dir, "link")))
	require.NoError(t, os.Symlink("../target", filepath.Join(dir, "sub", "nested")))
	require.NoError(t, os.Symlink("missing", filepath.Join(dir, "dangling")))

	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { root.Close() })

	for _, name := range []string{"link", "sub/nested", "dangling"} {
		f, err := OpenRegular(root, name)
		require.ErrorIs(t, err, ErrSymlink, name)
		assert.Nil(t, f)
	}

	f, err := OpenRegular(root, "target")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
