// Package resource implements the resource reducer: fetch a URL, tee the
// stream into every supported checksum algorithm, unpack it if requested,
// verify the checksum, and check the result into the object store.
package resource

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ehrlich-b/tangram-go/internal/artifact"
	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"lukechampine.com/blake3"
)

// ObjectStore is the subset of the store this package needs: the same
// shape artifact.ObjectStore declares.
type ObjectStore interface {
	value.Resolver
	Put(ctx context.Context, i id.Id, bytes []byte) error
	TryGet(ctx context.Context, i id.Id) ([]byte, bool, error)
}

// HTTPClient is the fetch dependency, satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds runner-wide fetch settings.
type Config struct {
	DataDir string        // instance data dir: DataDir/tmp holds fetch scratch space
	Client  HTTPClient    // nil defaults to http.DefaultClient
	Limiter *rate.Limiter // nil means unlimited fetch pacing

	// FDSem caps how many reductions may hold the filesystem open at once,
	// shared instance-wide with the task runner. Nil applies no cap.
	FDSem *semaphore.Weighted
}

// Runner implements evaluator.ResourceReducer.
type Runner struct {
	store ObjectStore
	cfg   Config
}

// NewRunner builds a Runner. A nil Config.Client defaults to
// http.DefaultClient; a nil Config.Limiter applies no pacing.
func NewRunner(store ObjectStore, cfg Config) *Runner {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &Runner{store: store, cfg: cfg}
}

// ReduceResource fetches r.URL, optionally unpacks it, verifies any
// declared checksum, and checks the result into the object store. It
// satisfies evaluator.ResourceReducer.
func (r *Runner) ReduceResource(ctx context.Context, opId id.Id, res value.Resource) (id.Id, error) {
	if res.Checksum == nil && !res.Unsafe {
		return id.Id{}, tgerror.New(tgerror.KindInvalid, "resource: %s: fetch with no checksum requires unsafe=true", opId)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindInvalid, err, "resource: %s: build request", opId)
	}
	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindIO, err, "resource: %s: fetch %s", opId, res.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return id.Id{}, tgerror.New(tgerror.KindIO, "resource: %s: fetch %s: status %d", opId, res.URL, resp.StatusCode)
	}

	if r.cfg.FDSem != nil {
		if err := r.cfg.FDSem.Acquire(ctx, 1); err != nil {
			return id.Id{}, tgerror.WrapKind(tgerror.KindCancellation, err, "resource: %s: acquire fd slot", opId)
		}
		defer r.cfg.FDSem.Release(1)
	}

	runDir, err := os.MkdirTemp(filepath.Join(r.cfg.DataDir, "tmp"), "fetch-*")
	if err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindIO, err, "resource: %s: create fetch dir", opId)
	}
	defer os.RemoveAll(runDir)

	blake3h := blake3.New(32, nil)
	sha256h := sha256.New()
	tee := io.TeeReader(r.pace(ctx, resp.Body), io.MultiWriter(blake3h, sha256h))

	checkedOutPath, err := fetchInto(tee, runDir, res.UnpackFormat)
	if err != nil {
		return id.Id{}, tgerror.Wrap(err, "resource: %s: unpack %s", opId, res.URL)
	}

	if res.Checksum != nil {
		got := digestFor(res.Checksum.Algorithm, blake3h, sha256h)
		if got != res.Checksum.Value {
			return id.Id{}, tgerror.New(tgerror.KindChecksumMismatch, "resource: %s: checksum mismatch: want %s, got %s", opId, res.Checksum.Value, got)
		}
	}

	_, outId, err := artifact.CheckIn(ctx, r.store, checkedOutPath)
	if err != nil {
		return id.Id{}, tgerror.Wrap(err, "resource: %s: check_in", opId)
	}
	return outId, nil
}

// pace wraps body in a rate-limited reader when a Limiter is configured,
// chunking reads against the burst size the same way a bandwidth meter
// chunks oversized writes.
func (r *Runner) pace(ctx context.Context, body io.Reader) io.Reader {
	if r.cfg.Limiter == nil {
		return body
	}
	return &pacedReader{ctx: ctx, r: body, lim: r.cfg.Limiter, burst: r.cfg.Limiter.Burst()}
}

type pacedReader struct {
	ctx   context.Context
	r     io.Reader
	lim   *rate.Limiter
	burst int
}

func (p *pacedReader) Read(b []byte) (int, error) {
	if p.burst > 0 && len(b) > p.burst {
		b = b[:p.burst]
	}
	n, err := p.r.Read(b)
	if n > 0 {
		if waitErr := p.lim.WaitN(p.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

// digestFor returns the hex digest matching algo; both hashes are always
// computed, so the caller never has to re-read the stream to check a
// different algorithm than the one a prior fetch happened to pick.
func digestFor(algo value.ChecksumAlgorithm, blake3h, sha256h hash.Hash) string {
	switch algo {
	case value.ChecksumSHA256:
		return hex.EncodeToString(sha256h.Sum(nil))
	default:
		return hex.EncodeToString(blake3h.Sum(nil))
	}
}

// fetchInto writes src to a plain file under dir when format is empty, or
// unpacks it as format into dir, returning the path check_in should walk.
func fetchInto(src io.Reader, dir, format string) (string, error) {
	if format == "" {
		dest := filepath.Join(dir, "fetched")
		f, err := os.Create(dest)
		if err != nil {
			return "", tgerror.WrapKind(tgerror.KindIO, err, "create fetch file")
		}
		defer f.Close()
		if _, err := io.Copy(f, src); err != nil {
			return "", tgerror.WrapKind(tgerror.KindIO, err, "write fetch file")
		}
		return dest, nil
	}

	extractDir := filepath.Join(dir, "unpacked")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", tgerror.WrapKind(tgerror.KindIO, err, "mkdir unpack dir")
	}

	if format == "zip" {
		return extractDir, unzipInto(src, dir, extractDir)
	}

	tr, closer, err := tarReaderFor(src, format)
	if err != nil {
		return "", err
	}
	if closer != nil {
		defer closer.Close()
	}
	if err := untarInto(tr, extractDir); err != nil {
		return "", err
	}
	return extractDir, nil
}

// tarReaderFor wraps src in the decompressor format names, returning a
// tar.Reader over the decompressed stream. The returned io.Closer (if
// non-nil) must be closed after the tar walk finishes.
func tarReaderFor(src io.Reader, format string) (*tar.Reader, io.Closer, error) {
	switch format {
	case "tar":
		return tar.NewReader(src), nil, nil
	case "tar.gz":
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, nil, tgerror.WrapKind(tgerror.KindInvalid, err, "open gzip stream")
		}
		return tar.NewReader(gz), gz, nil
	case "tar.bz2":
		return tar.NewReader(bzip2.NewReader(src)), nil, nil
	case "tar.xz":
		xr, err := xz.NewReader(src)
		if err != nil {
			return nil, nil, tgerror.WrapKind(tgerror.KindInvalid, err, "open xz stream")
		}
		return tar.NewReader(xr), nil, nil
	case "tar.zstd":
		zr, err := zstd.NewReader(src)
		if err != nil {
			return nil, nil, tgerror.WrapKind(tgerror.KindInvalid, err, "open zstd stream")
		}
		return tar.NewReader(zr), zstdCloser{zr}, nil
	case "tar.lz":
		return nil, nil, tgerror.New(tgerror.KindInvalid, "resource: unpack_format %q has no available decoder", format)
	default:
		return nil, nil, tgerror.New(tgerror.KindInvalid, "resource: unknown unpack_format %q", format)
	}
}

// zstdCloser adapts *zstd.Decoder's non-error Close into io.Closer.
type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}

func untarInto(tr *tar.Reader, dir string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return tgerror.WrapKind(tgerror.KindInvalid, err, "read tar entry")
		}
		dest, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return tgerror.WrapKind(tgerror.KindIO, err, "mkdir %s", dest)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return tgerror.WrapKind(tgerror.KindIO, err, "mkdir parent of %s", dest)
			}
			mode := os.FileMode(hdr.Mode) & 0o777
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return tgerror.WrapKind(tgerror.KindIO, err, "create %s", dest)
			}
			_, copyErr := io.Copy(f, tr)
			closeErr := f.Close()
			if copyErr != nil {
				return tgerror.WrapKind(tgerror.KindIO, copyErr, "write %s", dest)
			}
			if closeErr != nil {
				return tgerror.WrapKind(tgerror.KindIO, closeErr, "close %s", dest)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return tgerror.WrapKind(tgerror.KindIO, err, "mkdir parent of %s", dest)
			}
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return tgerror.WrapKind(tgerror.KindIO, err, "symlink %s", dest)
			}
		}
	}
}

// unzipInto buffers src to a temp file (zip's central directory requires
// random access) then walks its entries into extractDir.
func unzipInto(src io.Reader, scratchDir, extractDir string) error {
	tmpZip := filepath.Join(scratchDir, "archive.zip")
	f, err := os.Create(tmpZip)
	if err != nil {
		return tgerror.WrapKind(tgerror.KindIO, err, "create zip scratch file")
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return tgerror.WrapKind(tgerror.KindIO, err, "buffer zip stream")
	}
	f.Close()

	zr, err := zip.OpenReader(tmpZip)
	if err != nil {
		return tgerror.WrapKind(tgerror.KindInvalid, err, "open zip archive")
	}
	defer zr.Close()

	for _, e := range zr.File {
		dest, err := safeJoin(extractDir, e.Name)
		if err != nil {
			return err
		}
		if e.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return tgerror.WrapKind(tgerror.KindIO, err, "mkdir %s", dest)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return tgerror.WrapKind(tgerror.KindIO, err, "mkdir parent of %s", dest)
		}
		rc, err := e.Open()
		if err != nil {
			return tgerror.WrapKind(tgerror.KindInvalid, err, "open zip entry %s", e.Name)
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, e.Mode().Perm())
		if err != nil {
			rc.Close()
			return tgerror.WrapKind(tgerror.KindIO, err, "create %s", dest)
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		closeErr := out.Close()
		if copyErr != nil {
			return tgerror.WrapKind(tgerror.KindIO, copyErr, "write %s", dest)
		}
		if closeErr != nil {
			return tgerror.WrapKind(tgerror.KindIO, closeErr, "close %s", dest)
		}
	}
	return nil
}

// safeJoin resolves name under dir, rejecting archive entries that would
// escape it via ".." path segments (zip-slip).
func safeJoin(dir, name string) (string, error) {
	dest := filepath.Join(dir, name)
	if dest != dir && !strings.HasPrefix(dest, dir+string(os.PathSeparator)) {
		return "", tgerror.New(tgerror.KindInvalid, "resource: archive entry %q escapes extraction root", name)
	}
	return dest, nil
}
