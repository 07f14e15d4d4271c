package resolver

import (
	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// LockId names one entry of a lockfile's lock table. It has no meaning
// outside the Lockfile that minted it.
type LockId uint64

// LockDependency is one resolved edge out of a lock entry: the dependency
// specifier that produced it, the package id it pinned to, and the nested
// lock entry describing that package's own dependencies.
type LockDependency struct {
	Dependency Dependency
	Package    id.Id
	Lock       LockId
}

// Lockfile is a two-table structure: a map from a module's subpath to the
// lock entry describing its package's dependency closure, and a map from
// lock entry to that closure's resolved edges.
type Lockfile struct {
	Paths map[string]LockId
	Locks map[LockId][]LockDependency

	nextLockId LockId
}

// NewLockfile returns an empty, ready-to-populate lockfile.
func NewLockfile() *Lockfile {
	return &Lockfile{
		Paths: map[string]LockId{},
		Locks: map[LockId][]LockDependency{},
	}
}

// allocLock reserves a fresh LockId and records its dependency edges.
func (lf *Lockfile) allocLock(deps []LockDependency) LockId {
	id := lf.nextLockId
	lf.nextLockId++
	lf.Locks[id] = deps
	return id
}

// LockedDependency is one entry of a reconstructed Lock: the package a
// dependency specifier pinned to, plus that package's own locked
// dependencies.
type LockedDependency struct {
	Package id.Id
	Lock    Lock
}

// Lock is the in-memory reconstruction of a lock entry's dependency edges.
type Lock struct {
	Dependencies map[Dependency]LockedDependency
}

// Lock reconstructs the in-memory Lock graph for the module at subpath, by
// walking Locks starting from Paths[subpath].
func (lf *Lockfile) Lock(subpath string) (Lock, error) {
	lockId, ok := lf.Paths[subpath]
	if !ok {
		return Lock{}, tgerror.New(tgerror.KindNotFound, "resolver: lockfile: no entry for subpath %q", subpath)
	}
	return lf.buildLock(lockId, map[LockId]bool{})
}

func (lf *Lockfile) buildLock(lockId LockId, visiting map[LockId]bool) (Lock, error) {
	if visiting[lockId] {
		return Lock{}, tgerror.New(tgerror.KindInvalid, "resolver: lockfile: cyclic lock entry %d", lockId)
	}
	visiting[lockId] = true
	defer delete(visiting, lockId)

	edges, ok := lf.Locks[lockId]
	if !ok {
		return Lock{}, tgerror.New(tgerror.KindNotFound, "resolver: lockfile: unknown lock id %d", lockId)
	}

	deps := make(map[Dependency]LockedDependency, len(edges))
	for _, e := range edges {
		nested, err := lf.buildLock(e.Lock, visiting)
		if err != nil {
			return Lock{}, err
		}
		deps[e.Dependency] = LockedDependency{Package: e.Package, Lock: nested}
	}
	return Lock{Dependencies: deps}, nil
}
