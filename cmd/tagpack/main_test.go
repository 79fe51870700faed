package main

import (
	"bytes"
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/tagpack"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func TestPackListCat(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{
		"a.txt":        "alpha",
		"dir/b.txt":    "bravo",
		"dir/sub/c.md": "charlie",
	})
	container := filepath.Join(t.TempDir(), "out.tp")

	out, err := run(t, "pack", container, src)
	require.NoError(t, err)
	assert.Contains(t, out, "packed 3 sections")

	r, err := tagpack.OpenFile(container)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	assert.Equal(t, 3, r.Len())
	assert.True(t, r.HasSection("dir/sub/c.md"))

	out, err = run(t, "ls", "--digest", container)
	require.NoError(t, err)
	assert.Contains(t, out, "dir/b.txt")
	assert.Contains(t, out, digest.FromString("bravo").String())

	out, err = run(t, "cat", container, "dir/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "bravo", out)

	_, err = run(t, "cat", container, "nope")
	require.ErrorIs(t, err, tagpack.ErrSectionNotFound)
}

func TestPackSkipsSymlinks(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"real": "data"})
	require.NoError(t, os.Symlink("real", filepath.Join(src, "link")))
	container := filepath.Join(t.TempDir(), "out.tp")

	_, err := run(t, "pack", container, src)
	require.NoError(t, err)

	r, err := tagpack.OpenFile(container)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	assert.True(t, r.HasSection("real"))
	assert.False(t, r.HasSection("link"))
}

func TestAddAndPatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	container := filepath.Join(dir, "c.tp")
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")
	short := filepath.Join(dir, "short")
	long := filepath.Join(dir, "long")
	require.NoError(t, os.WriteFile(first, []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("world"), 0o644))
	require.NoError(t, os.WriteFile(short, []byte("HE"), 0o644))
	require.NoError(t, os.WriteFile(long, []byte("too long"), 0o644))

	_, err := run(t, "add", container, "one", first)
	require.NoError(t, err)
	_, err = run(t, "add", "--sync", container, "two", second)
	require.NoError(t, err)

	_, err = run(t, "add", container, "one", second)
	require.ErrorIs(t, err, tagpack.ErrSectionExists)

	_, err = run(t, "patch", container, "one", short)
	require.NoError(t, err)
	_, err = run(t, "patch", container, "two", long)
	require.ErrorContains(t, err, "exceeds section size")
	_, err = run(t, "patch", container, "three", short)
	require.ErrorIs(t, err, tagpack.ErrSectionNotFound)

	out, err := run(t, "cat", container, "one")
	require.NoError(t, err)
	assert.Equal(t, "HEllo", out)
	out, err = run(t, "cat", container, "two")
	require.NoError(t, err)
	assert.Equal(t, "world", out)
}

func TestExtract(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{
		"a.txt":     "alpha",
		"dir/b.txt": "bravo",
	})
	container := filepath.Join(t.TempDir(), "out.tp")
	_, err := run(t, "pack", container, src)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "all")
	out, err := run(t, "extract", "--concurrency", "2", container, dest)
	require.NoError(t, err)
	assert.Contains(t, out, "extracted 2 sections")

	content, err := os.ReadFile(filepath.Join(dest, "dir", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bravo", string(content))

	partial := t.TempDir()
	_, err = run(t, "extract", container, partial, "a.txt")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(partial, "a.txt"))
	assert.NoFileExists(t, filepath.Join(partial, "dir", "b.txt"))

	_, err = run(t, "extract", container, partial, "missing")
	require.ErrorIs(t, err, tagpack.ErrSectionNotFound)
}

func TestExtractRefusesEscapingTags(t *testing.T) {
	t.Parallel()

	container := filepath.Join(t.TempDir(), "evil.tp")
	w, err := tagpack.Create(container)
	require.NoError(t, err)
	require.NoError(t, w.AppendBytes("../escape", []byte("x")))
	require.NoError(t, w.Finish())

	dest := t.TempDir()
	_, err = run(t, "extract", container, dest)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "escape"))
}

func TestVerify(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a": "1", "b": "22"})
	container := filepath.Join(t.TempDir(), "out.tp")
	_, err := run(t, "pack", container, src)
	require.NoError(t, err)

	out, err := run(t, "verify", container)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 2 sections")

	// Point the header past the end of the file.
	f, err := os.OpenFile(container, os.O_RDWR, 0)
	require.NoError(t, err)
	var header [tagpack.HeaderSize]byte
	tagpack.PutHeader(header[:], 1<<40)
	_, err = f.WriteAt(header[:], 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = run(t, "verify", container)
	require.ErrorIs(t, err, tagpack.ErrCorruptIndex)
}

func TestRemoteContainer(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"remote.txt": "over the wire"})
	container := filepath.Join(t.TempDir(), "out.tp")
	_, err := run(t, "pack", container, src)
	require.NoError(t, err)

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.ServeFile(w, r, container)
	}))
	t.Cleanup(server.Close)

	out, err := run(t, "cat", server.URL, "remote.txt")
	require.NoError(t, err)
	assert.Equal(t, "over the wire", out)

	cacheDir := t.TempDir()
	for range 2 {
		out, err = run(t, "--cache-dir", cacheDir, "cat", server.URL, "remote.txt")
		require.NoError(t, err)
		assert.Equal(t, "over the wire", out)
	}
	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	out, err = run(t, "verify", server.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 1 sections")
}

func TestRootFlags(t *testing.T) {
	t.Parallel()

	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "tagpack "+Version)

	_, err = run(t, "--log-level", "loud", "verify", "x")
	var e exitErr
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 2, e.code)
}
