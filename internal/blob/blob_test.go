package blob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/ehrlich-b/tangram-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteReadOneMebibyte(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("A"), 1<<20)
	root, err := Write(ctx, s, bytes.NewReader(data))
	require.NoError(t, err)

	r, err := NewReader(ctx, s, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<20), r.Size())

	pos, err := r.Seek(1024, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), pos)

	out := make([]byte, 16)
	n, err := r.Read(out)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, bytes.Repeat([]byte("A"), 16), out)
}

func TestWriteReadSpansMultipleLeaves(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	data := make([]byte, LeafSize*3+17)
	for i := range data {
		data[i] = byte(i % 251)
	}
	root, err := Write(ctx, s, bytes.NewReader(data))
	require.NoError(t, err)

	r, err := NewReader(ctx, s, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), r.Size())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteReadManyLeavesRequiresBranchFold(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	data := make([]byte, LeafSize*(BranchFanout+2))
	for i := range data {
		data[i] = byte(i)
	}
	root, err := Write(ctx, s, bytes.NewReader(data))
	require.NoError(t, err)

	r, err := NewReader(ctx, s, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), r.Size())

	mid := uint64(len(data) / 2)
	_, err = r.Seek(int64(mid), io.SeekStart)
	require.NoError(t, err)
	out := make([]byte, 8)
	n, err := r.Read(out)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, data[mid:mid+8], out)
}

func TestSeekPastEndIsError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	root, err := Write(ctx, s, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	r, err := NewReader(ctx, s, root)
	require.NoError(t, err)

	_, err = r.Seek(100, io.SeekStart)
	assert.Error(t, err)
}

func TestReadPastEOFReturnsZero(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	root, err := Write(ctx, s, bytes.NewReader([]byte("hi")))
	require.NoError(t, err)
	r, err := NewReader(ctx, s, root)
	require.NoError(t, err)

	_, err = r.Seek(2, io.SeekStart)
	require.NoError(t, err)
	n, err := r.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestEmptyStreamRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	root, err := Write(ctx, s, bytes.NewReader(nil))
	require.NoError(t, err)
	r, err := NewReader(ctx, s, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.Size())
}

func TestWriteDeterministic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("xyz"), 100000)
	root1, err := Write(ctx, s, bytes.NewReader(data))
	require.NoError(t, err)
	root2, err := Write(ctx, s, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, root1, root2)
}
