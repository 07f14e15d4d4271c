package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ehrlich-b/tangram-go/internal/id"
	objstore "github.com/ehrlich-b/tangram-go/internal/store"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *objstore.Store {
	t.Helper()
	s, err := objstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func putLeaf(t *testing.T, ctx context.Context, s *objstore.Store, contents string) id.Id {
	t.Helper()
	leaf := value.LeafBlob{Data: []byte(contents)}
	leafId := value.Id(leaf)
	require.NoError(t, s.Put(ctx, leafId, value.Serialize(leaf)))
	return leafId
}

func putArtifact(t *testing.T, ctx context.Context, s *objstore.Store, a value.Artifact) id.Id {
	t.Helper()
	aid := value.Id(a)
	require.NoError(t, s.Put(ctx, aid, value.Serialize(a)))
	return aid
}

func TestBuilderNestedDirectories(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cId := putLeaf(t, ctx, s, "x")
	dId := putLeaf(t, ctx, s, "y")

	fileC := value.File{Contents: cId}
	fileD := value.File{Contents: dId}

	b := NewBuilder()
	require.NoError(t, b.Add("a/b/c", fileC))
	require.NoError(t, b.Add("a/b/d", fileD))

	root, _, err := b.Build(ctx, s)
	require.NoError(t, err)
	require.Len(t, root.Entries, 1)

	aVal, err := s.GetValue(ctx, root.Entries["a"])
	require.NoError(t, err)
	aDir, ok := aVal.(value.Directory)
	require.True(t, ok)
	require.Len(t, aDir.Entries, 1)

	bVal, err := s.GetValue(ctx, aDir.Entries["b"])
	require.NoError(t, err)
	bDir, ok := bVal.(value.Directory)
	require.True(t, ok)
	require.Len(t, bDir.Entries, 2)
	assert.Contains(t, bDir.Entries, "c")
	assert.Contains(t, bDir.Entries, "d")
}

func TestBuilderRejectsParentPath(t *testing.T) {
	b := NewBuilder()
	err := b.Add("../x", value.File{})
	assert.Error(t, err)
}

func TestBuilderDeterministicIdRegardlessOfInsertOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	leafId := putLeaf(t, ctx, s, "z")
	file := value.File{Contents: leafId}

	b1 := NewBuilder()
	require.NoError(t, b1.Add("a/b/c", file))
	require.NoError(t, b1.Add("a/b/d", file))
	_, id1, err := b1.Build(ctx, s)
	require.NoError(t, err)

	b2 := NewBuilder()
	require.NoError(t, b2.Add("a/b/d", file))
	require.NoError(t, b2.Add("a/b/c", file))
	_, id2, err := b2.Build(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestCheckInCheckOutRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "hello.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "run.sh"), []byte("#!/bin/sh\necho hi"), 0o755))

	root, rootId, err := CheckIn(ctx, s, src)
	require.NoError(t, err)
	dir, ok := root.(value.Directory)
	require.True(t, ok)
	assert.Len(t, dir.Entries, 2)

	dst := t.TempDir()
	checkedOutRoot, err := s.GetValue(ctx, rootId)
	require.NoError(t, err)
	require.NoError(t, CheckOut(ctx, s, checkedOutRoot.(value.Directory), dst, nil))

	got, err := os.ReadFile(filepath.Join(dst, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	info, err := os.Stat(filepath.Join(dst, "sub", "run.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111, "executable bit must survive check_in/check_out")
}

func TestRecursiveReferencesWalksDirectoryAndFileRefs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	depLeafId := putLeaf(t, ctx, s, "a")
	depFile := value.File{Contents: depLeafId}
	depId := putArtifact(t, ctx, s, depFile)

	mainLeafId := putLeaf(t, ctx, s, "b")
	mainFile := value.File{Contents: mainLeafId, References: []id.Id{depId}}
	mainId := putArtifact(t, ctx, s, mainFile)

	rootDir := value.Directory{Entries: map[string]id.Id{"main": mainId}}

	refs, err := RecursiveReferences(ctx, s, rootDir)
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Contains(t, refs, mainId)
	assert.Contains(t, refs, depId)
}

func TestBundleNoReferencesIsNoOp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	leafId := putLeaf(t, ctx, s, "#!/bin/sh\necho hi")
	exe := value.File{Contents: leafId, Executable: true}

	bundled, bundledId, err := Bundle(ctx, s, exe)
	require.NoError(t, err)
	assert.Equal(t, value.Artifact(exe), bundled, "a self-contained artifact must bundle to itself")
	assert.Equal(t, value.Id(exe), bundledId)
}

func TestBundleSingleExecutableFileWithReferences(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	depLeafId := putLeaf(t, ctx, s, "library bytes")
	depId := putArtifact(t, ctx, s, value.File{Contents: depLeafId})

	leafId := putLeaf(t, ctx, s, "#!/bin/sh\necho hi")
	exe := value.File{Contents: leafId, Executable: true, References: []id.Id{depId}}

	bundled, _, err := Bundle(ctx, s, exe)
	require.NoError(t, err)
	dir, ok := bundled.(value.Directory)
	require.True(t, ok)
	require.Contains(t, dir.Entries, ".tangram")

	tangramVal, err := s.GetValue(ctx, dir.Entries[".tangram"])
	require.NoError(t, err)
	tangramDir := tangramVal.(value.Directory)
	require.Contains(t, tangramDir.Entries, "run")
	require.Contains(t, tangramDir.Entries, "artifacts")

	runVal, err := s.GetValue(ctx, tangramDir.Entries["run"])
	require.NoError(t, err)
	runFile := runVal.(value.File)
	assert.True(t, runFile.Executable)
	assert.Empty(t, runFile.References, "bundled file's references must be cleared")

	artifactsVal, err := s.GetValue(ctx, tangramDir.Entries["artifacts"])
	require.NoError(t, err)
	artifactsDir := artifactsVal.(value.Directory)
	assert.Contains(t, artifactsDir.Entries, depId.HashHex())
}

func TestBundleNonExecutableFileWithReferencesErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	depLeafId := putLeaf(t, ctx, s, "library bytes")
	depId := putArtifact(t, ctx, s, value.File{Contents: depLeafId})

	leafId := putLeaf(t, ctx, s, "plain data")
	plain := value.File{Contents: leafId, References: []id.Id{depId}}

	_, _, err := Bundle(ctx, s, plain)
	require.Error(t, err)
	assert.True(t, tgerror.Is(err, tgerror.KindInvalid))
}

func TestBundleDirectoryRootRewritesSymlinkTargets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	depLeafId := putLeaf(t, ctx, s, "dep contents")
	depFile := value.File{Contents: depLeafId}
	depId := putArtifact(t, ctx, s, depFile)

	link := value.Symlink{Target: value.Template{Components: []value.Component{
		value.ArtifactComponent(depId),
		value.StringComponent("/bin/tool"),
	}}}
	linkId := putArtifact(t, ctx, s, link)

	root := value.Directory{Entries: map[string]id.Id{"link": linkId}}

	bundled, _, err := Bundle(ctx, s, root)
	require.NoError(t, err)
	dir, ok := bundled.(value.Directory)
	require.True(t, ok)
	require.Contains(t, dir.Entries, ".tangram")
	require.Contains(t, dir.Entries, "link")

	rewrittenVal, err := s.GetValue(ctx, dir.Entries["link"])
	require.NoError(t, err)
	rewrittenLink := rewrittenVal.(value.Symlink)
	require.Len(t, rewrittenLink.Target.Components, 2)
	assert.Equal(t, value.ComponentString, rewrittenLink.Target.Components[0].Kind)
	assert.Contains(t, rewrittenLink.Target.Components[0].Str, ".tangram/artifacts/"+depId.HashHex())
}
