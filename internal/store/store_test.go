package store

import (
	"context"
	"testing"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetExistsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	leaf := value.LeafBlob{Data: []byte("hello")}
	leafId := value.Id(leaf)
	require.NoError(t, s.Put(ctx, leafId, value.Serialize(leaf)))

	ok, err := s.GetExists(ctx, leafId)
	require.NoError(t, err)
	assert.True(t, ok)

	raw, ok, err := s.TryGet(ctx, leafId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Serialize(leaf), raw)

	v, err := s.GetValue(ctx, leafId)
	require.NoError(t, err)
	assert.Equal(t, leaf, v)
}

func TestGetExistsFalseForMissing(t *testing.T) {
	s := openTestStore(t)
	ok, err := s.GetExists(context.Background(), id.NewRandom(id.KindBuild))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutRejectsMismatchedHash(t *testing.T) {
	s := openTestStore(t)
	leaf := value.LeafBlob{Data: []byte("hello")}
	wrongId := value.Id(value.LeafBlob{Data: []byte("world!")})
	err := s.Put(context.Background(), wrongId, value.Serialize(leaf))
	assert.Error(t, err)
}

func TestTryPutReportsMissingChildren(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	leaf := value.LeafBlob{Data: []byte("hello")}
	leafId := value.Id(leaf)

	file := value.File{Contents: leafId, Executable: false}
	fileId := value.Id(file)
	fileBytes := value.Serialize(file)

	result, err := s.TryPut(ctx, fileId, fileBytes)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	require.Len(t, result.MissingChildren, 1)
	assert.Equal(t, leafId, result.MissingChildren[0])

	exists, err := s.GetExists(ctx, fileId)
	require.NoError(t, err)
	assert.False(t, exists, "try_put must not store while children are missing")

	require.NoError(t, s.Put(ctx, leafId, value.Serialize(leaf)))
	result, err = s.TryPut(ctx, fileId, fileBytes)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Empty(t, result.MissingChildren)

	exists, err = s.GetExists(ctx, fileId)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestChildrenIndexPopulatedOnPut(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	leaf := value.LeafBlob{Data: []byte("a")}
	leafId := value.Id(leaf)
	require.NoError(t, s.Put(ctx, leafId, value.Serialize(leaf)))

	file := value.File{Contents: leafId, Executable: true}
	fileId := value.Id(file)
	require.NoError(t, s.Put(ctx, fileId, value.Serialize(file)))

	children, err := s.Children(ctx, fileId)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, leafId, children[0])
}

func TestAssignmentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	target := id.NewRandom(id.KindTarget)
	_, ok, err := s.GetAssignment(ctx, target)
	require.NoError(t, err)
	assert.False(t, ok)

	build1 := id.NewRandom(id.KindBuild)
	require.NoError(t, s.PutAssignment(ctx, target, build1))
	got, ok, err := s.GetAssignment(ctx, target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, build1, got)

	build2 := id.NewRandom(id.KindBuild)
	require.NoError(t, s.PutAssignment(ctx, target, build2))
	got, ok, err = s.GetAssignment(ctx, target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, build2, got, "put_assignment overwrites the prior assignment")
}

func TestOutputRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	op := id.NewRandom(id.KindTask)
	_, ok, err := s.GetOutput(ctx, op)
	require.NoError(t, err)
	assert.False(t, ok)

	leaf := value.LeafBlob{Data: []byte("bb")}
	leafId := value.Id(leaf)
	require.NoError(t, s.PutOutput(ctx, op, leafId))

	got, ok, err := s.GetOutput(ctx, op)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, leafId, got)
}

func TestGCSweepsUnreachableObjects(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	kept := value.LeafBlob{Data: []byte("a")}
	keptId := value.Id(kept)
	require.NoError(t, s.Put(ctx, keptId, value.Serialize(kept)))

	keptFile := value.File{Contents: keptId, Executable: false}
	keptFileId := value.Id(keptFile)
	require.NoError(t, s.Put(ctx, keptFileId, value.Serialize(keptFile)))

	orphan := value.LeafBlob{Data: []byte("bb")}
	orphanId := value.Id(orphan)
	require.NoError(t, s.Put(ctx, orphanId, value.Serialize(orphan)))

	result, err := s.GC(ctx, []id.Id{keptFileId})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ObjectsRemoved)

	exists, err := s.GetExists(ctx, keptFileId)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.GetExists(ctx, keptId)
	require.NoError(t, err)
	assert.True(t, exists, "gc must keep everything reachable from roots")
	exists, err = s.GetExists(ctx, orphanId)
	require.NoError(t, err)
	assert.False(t, exists, "gc must remove objects unreachable from any root")
}

func TestOutputRootsPinMemoizedResultsThroughGC(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	result := value.LeafBlob{Data: []byte("task output")}
	resultId := value.Id(result)
	require.NoError(t, s.Put(ctx, resultId, value.Serialize(result)))

	op := id.HashBlake3(id.KindTask, []byte("op"))
	require.NoError(t, s.PutOutput(ctx, op, resultId))

	orphan := value.LeafBlob{Data: []byte("orphan")}
	orphanId := value.Id(orphan)
	require.NoError(t, s.Put(ctx, orphanId, value.Serialize(orphan)))

	roots, err := s.OutputRoots(ctx)
	require.NoError(t, err)
	assert.Contains(t, roots, op)
	assert.Contains(t, roots, resultId)

	_, err = s.GC(ctx, roots)
	require.NoError(t, err)

	exists, err := s.GetExists(ctx, resultId)
	require.NoError(t, err)
	assert.True(t, exists, "a memoized output's value must survive a default sweep")
	exists, err = s.GetExists(ctx, orphanId)
	require.NoError(t, err)
	assert.False(t, exists)
}
