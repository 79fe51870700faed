package http_test

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/tagpack"
	tagpackhttp "github.com/meigma/tagpack/http"
	"github.com/meigma/tagpack/internal/testutil"
)

func serve(t *testing.T, data []byte, etag string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if etag != "" {
			w.Header().Set("ETag", etag)
		}
		nethttp.ServeContent(w, r, "container", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSourceReadAt(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	server := serve(t, data, "")

	src, err := tagpackhttp.NewSource(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, "world", string(buf))

	edge := make([]byte, 10)
	n, err = src.ReadAt(edge, int64(len(data)-3))
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, n)
	assert.Equal(t, "rld", string(edge[:n]))

	n, err = src.ReadAt(buf, int64(len(data)))
	require.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)
}

func TestSourceSourceID(t *testing.T) {
	t.Parallel()

	server := serve(t, []byte("abc"), `"v1"`)

	src, err := tagpackhttp.NewSource(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "url:"+server.URL+`|etag:"v1"`, src.SourceID())

	custom, err := tagpackhttp.NewSource(context.Background(), server.URL, tagpackhttp.WithSourceID("fixed"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", custom.SourceID())
}

func TestSourceRangeUnsupported(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write([]byte("range unsupported"))
	}))
	t.Cleanup(server.Close)

	_, err := tagpackhttp.NewSource(context.Background(), server.URL)
	require.ErrorIs(t, err, tagpackhttp.ErrRangeUnsupported)
}

func TestSourceRemoteChanged(t *testing.T) {
	t.Parallel()

	var version atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if version.Load() == 0 {
			w.Header().Set("ETag", `"v1"`)
		} else {
			w.Header().Set("ETag", `"v2"`)
		}
		nethttp.ServeContent(w, r, "container", time.Time{}, bytes.NewReader([]byte("0123456789")))
	}))
	t.Cleanup(server.Close)

	src, err := tagpackhttp.NewSource(context.Background(), server.URL, tagpackhttp.WithConditionalHeaders())
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = src.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(buf))

	version.Store(1)
	_, err = src.ReadAt(buf, 2)
	require.ErrorIs(t, err, tagpackhttp.ErrRemoteChanged)
}

func TestSourceHeaders(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(nethttp.StatusUnauthorized)
			return
		}
		nethttp.ServeContent(w, r, "container", time.Time{}, bytes.NewReader([]byte("secret")))
	}))
	t.Cleanup(server.Close)

	_, err := tagpackhttp.NewSource(context.Background(), server.URL)
	require.Error(t, err)

	src, err := tagpackhttp.NewSource(context.Background(), server.URL,
		tagpackhttp.WithHeader("Authorization", "Bearer token"),
		tagpackhttp.WithClient(server.Client()))
	require.NoError(t, err)
	assert.Equal(t, int64(6), src.Size())
}

func TestSourceReaderOverHTTP(t *testing.T) {
	t.Parallel()

	data := testutil.BuildContainer(
		testutil.RawSection{Tag: "config", Data: []byte(`{"debug":true}`)},
		testutil.RawSection{Tag: "empty"},
		testutil.RawSection{Tag: "payload", Data: bytes.Repeat([]byte("p"), 4096)},
	)
	server := serve(t, data, `"c1"`)

	src, err := tagpackhttp.NewSource(context.Background(), server.URL)
	require.NoError(t, err)

	r, err := tagpack.New(src)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())

	got, err := r.ReadSections(context.Background(), "config", "empty", "payload")
	require.NoError(t, err)
	assert.JSONEq(t, `{"debug":true}`, string(got["config"]))
	assert.Empty(t, got["empty"])
	assert.Len(t, got["payload"], 4096)

	_, err = r.ReadSection("missing")
	require.ErrorIs(t, err, tagpack.ErrSectionNotFound)
}
