package blob

import (
	"context"
	"io"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

// Getter is the read half of the object store a blob tree is read
// against. It is satisfied by *store.Store.
type Getter interface {
	TryGet(ctx context.Context, i id.Id) ([]byte, bool, error)
}

// Reader is a seekable reader over a blob tree. Seek only moves the
// position and fetches no node; the tree walk to the leaf holding that
// position, and the leaf bytes, are fetched when a Read call needs them.
type Reader struct {
	ctx  context.Context
	g    Getter
	root id.Id
	size uint64
	pos  uint64
}

// NewReader opens root for reading, fetching only the root node to learn
// the stream's total size.
func NewReader(ctx context.Context, g Getter, root id.Id) (*Reader, error) {
	v, err := fetchValue(ctx, g, root)
	if err != nil {
		return nil, tgerror.Wrap(err, "blob: open reader: fetch root %s", root)
	}
	return &Reader{ctx: ctx, g: g, root: root, size: blobSize(v)}, nil
}

// Size is the total byte length of the stream.
func (r *Reader) Size() uint64 { return r.size }

// Seek implements io.Seeker. Seeking past the end of the stream is an
// error; seeking exactly to the end is allowed and leaves the reader at
// EOF.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(r.pos)
	case io.SeekEnd:
		base = int64(r.size)
	default:
		return 0, tgerror.New(tgerror.KindInvalid, "blob: seek: invalid whence %d", whence)
	}
	newPos := base + offset
	if newPos < 0 || uint64(newPos) > r.size {
		return 0, tgerror.New(tgerror.KindInvalid, "blob: seek: offset %d out of range [0, %d]", newPos, r.size)
	}
	r.pos = uint64(newPos)
	return int64(r.pos), nil
}

// Read streams bytes from the leaf containing the current position,
// advancing to the next leaf on exhaustion. Read past EOF returns
// (0, io.EOF).
func (r *Reader) Read(buf []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}
	leafData, leafStart, err := r.resolveLeaf(r.pos)
	if err != nil {
		return 0, err
	}
	offsetInLeaf := int(r.pos - leafStart)
	n := copy(buf, leafData[offsetInLeaf:])
	r.pos += uint64(n)
	return n, nil
}

// resolveLeaf descends from the root, following cumulative child sizes,
// to find the leaf containing offset and that leaf's start offset in the
// overall stream.
func (r *Reader) resolveLeaf(offset uint64) ([]byte, uint64, error) {
	cur := r.root
	var base uint64
outer:
	for {
		v, err := fetchValue(r.ctx, r.g, cur)
		if err != nil {
			return nil, 0, tgerror.Wrap(err, "blob: read: fetch node %s", cur)
		}
		switch t := v.(type) {
		case value.LeafBlob:
			return t.Data, base, nil
		case value.BranchBlob:
			childBase := base
			for _, c := range t.Children {
				if offset < childBase+c.Size {
					cur = c.Id
					base = childBase
					continue outer
				}
				childBase += c.Size
			}
			return nil, 0, tgerror.New(tgerror.KindInvalid, "blob: read: offset %d past branch %s", offset, cur)
		default:
			return nil, 0, tgerror.New(tgerror.KindInvalid, "blob: read: node %s is not a blob node", cur)
		}
	}
}

func fetchValue(ctx context.Context, g Getter, i id.Id) (value.Value, error) {
	raw, ok, err := g.TryGet(ctx, i)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tgerror.New(tgerror.KindNotFound, "blob: object %s not found", i)
	}
	return value.Deserialize(raw)
}

func blobSize(v value.Value) uint64 {
	switch t := v.(type) {
	case value.LeafBlob:
		return t.Size()
	case value.BranchBlob:
		return t.TotalSize()
	default:
		return 0
	}
}
