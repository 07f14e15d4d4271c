package resolver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ehrlich-b/tangram-go/internal/id"
	mocks "github.com/ehrlich-b/tangram-go/internal/mocks/interfaces"
	"github.com/ehrlich-b/tangram-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func mustPackageId() id.Id {
	return id.HashBlake3(id.KindPackage, []byte("fixture"))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeManifest(t *testing.T, dir string, deps []manifestDependency) {
	t.Helper()
	m := manifest{Dependencies: deps}
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFileName), raw, 0o644))
}

func TestResolveTwoPackageFixtureAndLockfileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	root := t.TempDir()
	child := filepath.Join(root, "child")
	require.NoError(t, os.Mkdir(child, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(child, "mod.js"), []byte("export default 1;"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "mod.js"), []byte("export default 0;"), 0o644))
	writeManifest(t, root, []manifestDependency{{Path: "child"}})

	r := New(s, ManifestDependencySource{}, nil)
	rootId, lf, err := r.Resolve(ctx, root, "")
	require.NoError(t, err)
	assert.False(t, rootId.IsZero())

	childPkgId, _, err := r.resolvePath(ctx, child, lf)
	require.NoError(t, err)

	lock, err := lf.Lock("")
	require.NoError(t, err)
	locked, ok := lock.Dependencies[PathDependency("child")]
	require.True(t, ok, "lock must have an entry for the path dependency")
	assert.Equal(t, childPkgId, locked.Package)
}

func TestResolveDetectsCycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	require.NoError(t, os.Mkdir(a, 0o755))
	require.NoError(t, os.Mkdir(b, 0o755))
	writeManifest(t, a, []manifestDependency{{Path: "../b"}})
	writeManifest(t, b, []manifestDependency{{Path: "../a"}})

	r := New(s, ManifestDependencySource{}, nil)
	_, _, err := r.Resolve(ctx, a, "")
	assert.Error(t, err)
}

func TestResolveRegistryDependencyWithoutCollaboratorErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "mod.js"), []byte("x"), 0o644))
	writeManifest(t, root, []manifestDependency{{Registry: "std/fmt", Version: "1.0.0"}})

	r := New(s, ManifestDependencySource{}, nil)
	_, _, err := r.Resolve(ctx, root, "")
	assert.Error(t, err)
}

func TestResolveRegistryDependencyPinsCollaboratorResult(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "mod.js"), []byte("x"), 0o644))
	writeManifest(t, root, []manifestDependency{{Registry: "std", Version: "1.0.0"}})

	registry := mocks.NewRegistryClient(t)
	pinned := mustPackageId()
	registry.On("ResolvePackage", mock.Anything, "std", "1.0.0").Return(pinned, nil)

	r := New(s, ManifestDependencySource{}, registry)
	_, lf, err := r.Resolve(ctx, root, "")
	require.NoError(t, err)

	lock, err := lf.Lock("")
	require.NoError(t, err)
	dep, ok := lock.Dependencies[RegistryDependency("std", "1.0.0")]
	require.True(t, ok)
	assert.Equal(t, pinned, dep.Package)
}

func TestModuleResolutionLibraryPathJoins(t *testing.T) {
	lib := Module{Kind: ModuleLibrary, LibrarySubpath: "std"}
	got, err := Resolve(lib, "fmt", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "std/fmt", got.LibrarySubpath)
}

func TestModuleResolutionLibraryDependencyErrors(t *testing.T) {
	lib := Module{Kind: ModuleLibrary, LibrarySubpath: "std"}
	dep := PathDependency("child")
	_, err := Resolve(lib, "", &dep, nil)
	assert.Error(t, err)
}

func TestModuleResolutionNormalPathResolvesAgainstReferrerDir(t *testing.T) {
	normal := Module{Kind: ModuleNormal, Subpath: "a/main.js"}
	got, err := Resolve(normal, "./lib/util.js", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "a/lib/util.js", got.Subpath)

	got, err = Resolve(normal, "../other.js", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "other.js", got.Subpath)
}

func TestModuleResolutionNormalPathRejectsEscape(t *testing.T) {
	normal := Module{Kind: ModuleNormal, Subpath: ""}
	_, err := Resolve(normal, "../outside", nil, nil)
	assert.Error(t, err)
}

func TestModuleResolutionNormalDependencyConsultsLock(t *testing.T) {
	dep := PathDependency("child")
	lock := Lock{Dependencies: map[Dependency]LockedDependency{
		dep: {Package: mustPackageId(), Lock: Lock{}},
	}}
	normal := Module{Kind: ModuleNormal}
	got, err := Resolve(normal, "", &dep, &lock)
	require.NoError(t, err)
	assert.Equal(t, ModuleNormal, got.Kind)
}

func TestModuleResolutionNormalDependencyMissingFromLockErrors(t *testing.T) {
	dep := PathDependency("child")
	lock := Lock{Dependencies: map[Dependency]LockedDependency{}}
	normal := Module{Kind: ModuleNormal}
	_, err := Resolve(normal, "", &dep, &lock)
	assert.Error(t, err)
}

func TestDocumentWatcherReportsChangedFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mod.js")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	events := make(chan string, 1)
	dw, err := NewDocumentWatcher(func(path string) { events <- path })
	require.NoError(t, err)
	t.Cleanup(dw.Stop)
	require.NoError(t, dw.Watch(dir))

	require.NoError(t, os.WriteFile(file, []byte("y"), 0o644))

	select {
	case got := <-events:
		assert.Equal(t, file, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for document watcher event")
	}
}

func TestResolverInvalidateDropsMemoizedResult(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "mod.js"), []byte("x"), 0o644))

	r := New(s, ManifestDependencySource{}, nil)
	first, _, err := r.resolvePath(ctx, root, NewLockfile())
	require.NoError(t, err)

	r.Invalidate(mustCanonicalPath(t, root))
	r.mu.Lock()
	_, cached := r.resolved[mustCanonicalPath(t, root)]
	r.mu.Unlock()
	assert.False(t, cached, "Invalidate must drop the memoized entry")
	second, _, err := r.resolvePath(ctx, root, NewLockfile())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func mustCanonicalPath(t *testing.T, path string) string {
	t.Helper()
	canon, err := canonicalPath(path)
	require.NoError(t, err)
	return canon
}
