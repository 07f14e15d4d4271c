package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockfileSaveLoadRoundTrip(t *testing.T) {
	childPkg := id.HashBlake3(id.KindPackage, []byte("child"))
	regPkg := id.HashBlake3(id.KindPackage, []byte("registry-dep"))

	lf := NewLockfile()
	childLock := lf.allocLock(nil)
	regLock := lf.allocLock(nil)
	rootLock := lf.allocLock([]LockDependency{
		{Dependency: PathDependency("child"), Package: childPkg, Lock: childLock},
		{Dependency: RegistryDependency("std", "1.2.0"), Package: regPkg, Lock: regLock},
	})
	lf.Paths["."] = rootLock

	dir := t.TempDir()
	require.NoError(t, lf.Save(dir))

	loaded, err := LoadLockfile(dir)
	require.NoError(t, err)

	lock, err := loaded.Lock(".")
	require.NoError(t, err)
	pathDep, ok := lock.Dependencies[PathDependency("child")]
	require.True(t, ok)
	assert.Equal(t, childPkg, pathDep.Package)
	regDep, ok := lock.Dependencies[RegistryDependency("std", "1.2.0")]
	require.True(t, ok)
	assert.Equal(t, regPkg, regDep.Package)
}

func TestLockfileLoadMissingIsNotFound(t *testing.T) {
	_, err := LoadLockfile(t.TempDir())
	require.Error(t, err)
	assert.True(t, tgerror.Is(err, tgerror.KindNotFound))
}

func TestLockfileLoadMalformedIsInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockfileName), []byte("{not json"), 0o644))
	_, err := LoadLockfile(dir)
	require.Error(t, err)
	assert.True(t, tgerror.Is(err, tgerror.KindInvalid))
}

func TestLockfileLoadContinuesAllocatingFreshLockIds(t *testing.T) {
	lf := NewLockfile()
	first := lf.allocLock(nil)
	lf.Paths["."] = lf.allocLock([]LockDependency{
		{Dependency: PathDependency("a"), Package: mustPackageId(), Lock: first},
	})

	dir := t.TempDir()
	require.NoError(t, lf.Save(dir))
	loaded, err := LoadLockfile(dir)
	require.NoError(t, err)

	fresh := loaded.allocLock(nil)
	_, taken := lf.Locks[fresh]
	assert.False(t, taken, "fresh lock id must not collide with a loaded one")
}
