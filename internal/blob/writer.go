package blob

import (
	"context"
	"io"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

// Putter is the write half of the object store a blob tree is built
// against. It is satisfied by *store.Store.
type Putter interface {
	Put(ctx context.Context, i id.Id, bytes []byte) error
}

// Write chunks r into LeafSize leaves, stores each one, then folds them
// into a balanced tree of BranchFanout-wide branch nodes until a single
// root id remains. The returned id is the blob's content address.
func Write(ctx context.Context, p Putter, r io.Reader) (id.Id, error) {
	var level []value.BlobChild
	buf := make([]byte, LeafSize)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			leaf := value.LeafBlob{Data: append([]byte(nil), buf[:n]...)}
			leafId := value.Id(leaf)
			if err := p.Put(ctx, leafId, value.Serialize(leaf)); err != nil {
				return id.Id{}, tgerror.Wrap(err, "blob: write: store leaf")
			}
			level = append(level, value.BlobChild{Id: leafId, Size: uint64(n)})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return id.Id{}, tgerror.WrapKind(tgerror.KindIO, readErr, "blob: write: read source")
		}
	}
	if len(level) == 0 {
		// Empty stream: a single zero-length leaf, same as any other leaf.
		leaf := value.LeafBlob{Data: nil}
		leafId := value.Id(leaf)
		if err := p.Put(ctx, leafId, value.Serialize(leaf)); err != nil {
			return id.Id{}, tgerror.Wrap(err, "blob: write: store empty leaf")
		}
		return leafId, nil
	}
	if len(level) == 1 {
		return level[0].Id, nil
	}
	return foldBranches(ctx, p, level)
}

// foldBranches repeatedly groups children into BranchFanout-wide branch
// nodes until exactly one id remains — the root.
func foldBranches(ctx context.Context, p Putter, level []value.BlobChild) (id.Id, error) {
	for len(level) > 1 {
		var next []value.BlobChild
		for start := 0; start < len(level); start += BranchFanout {
			end := start + BranchFanout
			if end > len(level) {
				end = len(level)
			}
			group := level[start:end]
			branch := value.BranchBlob{Children: append([]value.BlobChild(nil), group...)}
			branchId := value.Id(branch)
			if err := p.Put(ctx, branchId, value.Serialize(branch)); err != nil {
				return id.Id{}, tgerror.Wrap(err, "blob: write: store branch")
			}
			next = append(next, value.BlobChild{Id: branchId, Size: branch.TotalSize()})
		}
		level = next
	}
	return level[0].Id, nil
}
