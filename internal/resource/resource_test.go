package resource

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ehrlich-b/tangram-go/internal/store"
	"github.com/ehrlich-b/tangram-go/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzWriteAll(t *testing.T, dst *bytes.Buffer, raw []byte) {
	t.Helper()
	gw := gzip.NewWriter(dst)
	_, err := gw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRunner(t *testing.T, s *store.Store) *Runner {
	t.Helper()
	dataDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "tmp"), 0o755))
	return NewRunner(s, Config{DataDir: dataDir})
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestReduceResourcePlainFileChecksumMatch(t *testing.T) {
	body := []byte("hello resource")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	res := value.Resource{
		URL:      srv.URL,
		Checksum: &value.Checksum{Algorithm: value.ChecksumSHA256, Value: sha256Hex(body)},
	}
	outId, err := r.ReduceResource(ctx, value.Id(res), res)
	require.NoError(t, err)

	v, err := s.GetValue(ctx, outId)
	require.NoError(t, err)
	file, ok := v.(value.File)
	require.True(t, ok)
	assert.False(t, file.Executable)
}

func TestReduceResourceChecksumMismatchFails(t *testing.T) {
	body := []byte("hello resource")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	res := value.Resource{
		URL:      srv.URL,
		Checksum: &value.Checksum{Algorithm: value.ChecksumSHA256, Value: "deadbeef"},
	}
	_, err := r.ReduceResource(ctx, value.Id(res), res)
	require.Error(t, err)
}

func TestReduceResourceNoChecksumRequiresUnsafe(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	res := value.Resource{URL: "http://example.invalid/x"}
	_, err := r.ReduceResource(ctx, value.Id(res), res)
	require.Error(t, err)
}

func TestReduceResourceUnpacksTarGz(t *testing.T) {
	var buf bytes.Buffer
	func() {
		tw := tar.NewWriter(&buf)
		defer tw.Close()
		content := []byte("#!/bin/sh\necho hi\n")
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: "bin/run.sh", Mode: 0o755, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}()

	// Re-wrap the tar bytes with gzip for the tar.gz path.
	var gzBuf bytes.Buffer
	gzWriteAll(t, &gzBuf, buf.Bytes())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write(gzBuf.Bytes())
	}))
	defer srv.Close()

	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	res := value.Resource{URL: srv.URL, UnpackFormat: "tar.gz", Unsafe: true}
	outId, err := r.ReduceResource(ctx, value.Id(res), res)
	require.NoError(t, err)

	v, err := s.GetValue(ctx, outId)
	require.NoError(t, err)
	dir, ok := v.(value.Directory)
	require.True(t, ok)
	require.Contains(t, dir.Entries, "bin")
}

func TestReduceResourceUnpacksZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("data.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("zipped"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	res := value.Resource{URL: srv.URL, UnpackFormat: "zip", Unsafe: true}
	outId, err := r.ReduceResource(ctx, value.Id(res), res)
	require.NoError(t, err)

	v, err := s.GetValue(ctx, outId)
	require.NoError(t, err)
	dir, ok := v.(value.Directory)
	require.True(t, ok)
	require.Contains(t, dir.Entries, "data.txt")
}

func TestReduceResourceRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	res := value.Resource{URL: srv.URL, Unsafe: true}
	_, err := r.ReduceResource(ctx, value.Id(res), res)
	require.Error(t, err)
}
