package resolver

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/ehrlich-b/tangram-go/internal/artifact"
	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// DependencySource enumerates the dependency specifiers declared by the
// package rooted at path. ManifestDependencySource, the implementation this
// package ships, reads them from the package's tangram.json or tangram.yaml
// manifest; no implementation here parses the root module or its imports.
type DependencySource interface {
	Dependencies(ctx context.Context, packagePath string) ([]Dependency, error)
}

// Registry resolves a registry dependency specifier to the package id an
// external registry collaborator has published for it.
type Registry interface {
	ResolvePackage(ctx context.Context, name, version string) (id.Id, error)
}

// ObjectStore is the subset of the store a resolver needs to check package
// directories into the content-addressed graph.
type ObjectStore = artifact.ObjectStore

// Resolver turns a package path into a pinned dependency closure. Path
// dependencies are resolved by a DFS memoized on canonical absolute path
// so a diamond dependency is only checked in once.
type Resolver struct {
	store    ObjectStore
	deps     DependencySource
	registry Registry

	mu       sync.Mutex
	visiting map[string]bool
	resolved map[string]resolvedPackage
}

type resolvedPackage struct {
	packageId id.Id
	lockId    LockId
}

// New builds a Resolver. registry may be nil if the package graph is known
// to have no registry dependencies — attempting one without a registry
// collaborator configured is a typed error, not a panic.
func New(store ObjectStore, deps DependencySource, registry Registry) *Resolver {
	return &Resolver{
		store:    store,
		deps:     deps,
		registry: registry,
		visiting: map[string]bool{},
		resolved: map[string]resolvedPackage{},
	}
}

// Resolve checks the package at rootPath into the object graph, resolves
// its transitive dependency closure, and returns the resulting package id
// alongside a lockfile pinning every dependency encountered. subpath is
// the module subpath the caller will later pass to Lockfile.Lock to
// reconstruct this resolution.
func (r *Resolver) Resolve(ctx context.Context, rootPath, subpath string) (id.Id, *Lockfile, error) {
	lf := NewLockfile()
	pkgId, lockId, err := r.resolvePath(ctx, rootPath, lf)
	if err != nil {
		return id.Id{}, nil, err
	}
	lf.Paths[subpath] = lockId
	return pkgId, lf, nil
}

func (r *Resolver) resolvePath(ctx context.Context, absPath string, lf *Lockfile) (id.Id, LockId, error) {
	canon, err := canonicalPath(absPath)
	if err != nil {
		return id.Id{}, 0, err
	}
	r.mu.Lock()
	if r.visiting[canon] {
		r.mu.Unlock()
		return id.Id{}, 0, tgerror.New(tgerror.KindInvalid, "resolver: dependency cycle at %s", canon)
	}
	if cached, ok := r.resolved[canon]; ok {
		r.mu.Unlock()
		return cached.packageId, cached.lockId, nil
	}
	r.visiting[canon] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.visiting, canon)
		r.mu.Unlock()
	}()

	_, packageId, err := artifact.CheckIn(ctx, r.store, canon)
	if err != nil {
		return id.Id{}, 0, tgerror.Wrap(err, "resolver: check in package %s", canon)
	}

	specs, err := r.deps.Dependencies(ctx, canon)
	if err != nil {
		return id.Id{}, 0, tgerror.Wrap(err, "resolver: enumerate dependencies of %s", canon)
	}

	edges := make([]LockDependency, 0, len(specs))
	for _, spec := range specs {
		var depPkgId id.Id
		var depLockId LockId
		switch spec.Kind {
		case DependencyPath:
			childPath, err := canonicalPath(filepath.Join(canon, spec.Path))
			if err != nil {
				return id.Id{}, 0, err
			}
			depPkgId, depLockId, err = r.resolvePath(ctx, childPath, lf)
			if err != nil {
				return id.Id{}, 0, err
			}
		case DependencyRegistry:
			if r.registry == nil {
				return id.Id{}, 0, tgerror.New(tgerror.KindInvalid, "resolver: %s: no registry collaborator configured", spec)
			}
			depPkgId, err = r.registry.ResolvePackage(ctx, spec.Name, spec.Version)
			if err != nil {
				return id.Id{}, 0, tgerror.Wrap(err, "resolver: resolve registry dependency %s", spec)
			}
			depLockId = lf.allocLock(nil)
		default:
			return id.Id{}, 0, tgerror.New(tgerror.KindInvalid, "resolver: unknown dependency kind %d", spec.Kind)
		}
		edges = append(edges, LockDependency{Dependency: spec, Package: depPkgId, Lock: depLockId})
	}

	lockId := lf.allocLock(edges)
	r.mu.Lock()
	r.resolved[canon] = resolvedPackage{packageId: packageId, lockId: lockId}
	r.mu.Unlock()
	return packageId, lockId, nil
}

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", tgerror.WrapKind(tgerror.KindIO, err, "resolver: canonicalize %s", path)
	}
	return filepath.Clean(abs), nil
}
