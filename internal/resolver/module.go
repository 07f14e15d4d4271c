package resolver

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// ModuleKind distinguishes the three contexts an import specifier can be
// resolved from.
type ModuleKind uint8

const (
	// ModuleLibrary is a module from the standard library tree bundled
	// with the runtime.
	ModuleLibrary ModuleKind = iota
	// ModuleDocument is an on-disk, not-yet-checked-in module — the state
	// a module is in while its containing package is still being edited.
	ModuleDocument
	// ModuleNormal is a module resolved from the in-store object graph,
	// addressed by package id and subpath.
	ModuleNormal
)

// Module identifies a resolvable unit of source: either a library subpath,
// an on-disk document path, or a (package id, subpath) pair in the store.
type Module struct {
	Kind ModuleKind

	// LibrarySubpath is set for ModuleLibrary: the path within the
	// library tree.
	LibrarySubpath string

	// DocumentPath is set for ModuleDocument: an absolute filesystem path.
	DocumentPath string

	// Package and Subpath are set for ModuleNormal.
	Package id.Id
	Subpath string
}

// specifierKind is the shape of the import specifier half of the
// resolution table: a bare relative path, or a Dependency.
type specifierKind uint8

const (
	specifierPath specifierKind = iota
	specifierDependency
)

// Resolve implements the module resolution table: given the module a
// specifier was written in, and the specifier itself (either a relative
// path or a Dependency), produce the Module it refers to.
//
// lock is consulted for Document.Dependency.Registry and
// Normal.Dependency resolution; it may be nil when current.Kind is
// ModuleLibrary or the specifier is a bare path, since neither path needs a
// lock lookup.
func Resolve(current Module, specPath string, specDep *Dependency, lock *Lock) (Module, error) {
	kind := specifierPath
	if specDep != nil {
		kind = specifierDependency
	}

	switch current.Kind {
	case ModuleLibrary:
		if kind == specifierDependency {
			return Module{}, tgerror.New(tgerror.KindInvalid, "resolver: library module cannot depend on a package")
		}
		joined, err := joinWithinTree(current.LibrarySubpath, specPath)
		if err != nil {
			return Module{}, err
		}
		return Module{Kind: ModuleLibrary, LibrarySubpath: joined}, nil

	case ModuleDocument:
		if kind == specifierPath {
			resolved, err := normalizeDocumentPath(current.DocumentPath, specPath)
			if err != nil {
				return Module{}, err
			}
			if _, err := os.Stat(resolved); err != nil {
				return Module{}, tgerror.WrapKind(tgerror.KindNotFound, err, "resolver: document module %s: open %s", current.DocumentPath, resolved)
			}
			return Module{Kind: ModuleDocument, DocumentPath: resolved}, nil
		}
		switch specDep.Kind {
		case DependencyPath:
			resolved, err := normalizeDocumentPath(current.DocumentPath, specDep.Path)
			if err != nil {
				return Module{}, err
			}
			return Module{Kind: ModuleDocument, DocumentPath: resolved}, nil
		case DependencyRegistry:
			if lock == nil {
				return Module{}, tgerror.New(tgerror.KindInvalid, "resolver: document module %s: no lock available for registry dependency", current.DocumentPath)
			}
			locked, ok := lock.Dependencies[*specDep]
			if !ok {
				return Module{}, tgerror.New(tgerror.KindNotFound, "resolver: document module %s: lock has no entry for %s", current.DocumentPath, specDep)
			}
			return Module{Kind: ModuleNormal, Package: locked.Package, Subpath: ""}, nil
		default:
			return Module{}, tgerror.New(tgerror.KindInvalid, "resolver: unknown dependency kind %d", specDep.Kind)
		}

	case ModuleNormal:
		if kind == specifierPath {
			resolved, err := normalizeNormalSubpath(current.Subpath, specPath)
			if err != nil {
				return Module{}, err
			}
			return Module{Kind: ModuleNormal, Package: current.Package, Subpath: resolved}, nil
		}
		if lock == nil {
			return Module{}, tgerror.New(tgerror.KindInvalid, "resolver: normal module in package %s: no lock available", current.Package)
		}
		locked, ok := lock.Dependencies[*specDep]
		if !ok {
			return Module{}, tgerror.New(tgerror.KindNotFound, "resolver: normal module in package %s: lock has no entry for %s", current.Package, specDep)
		}
		return Module{Kind: ModuleNormal, Package: locked.Package, Subpath: ""}, nil

	default:
		return Module{}, tgerror.New(tgerror.KindInvalid, "resolver: unknown module kind %d", current.Kind)
	}
}

func joinWithinTree(base, rel string) (string, error) {
	joined, err := normalizeSlashPath(base, rel)
	if err != nil {
		return "", err
	}
	return joined, nil
}

// normalizeNormalSubpath resolves rel against the directory containing the
// referring module, so "./sibling.js" imported from "a/main.js" is
// "a/sibling.js", mirroring normalizeDocumentPath's on-disk semantics.
func normalizeNormalSubpath(base, rel string) (string, error) {
	parts := splitNonEmpty(base)
	if len(parts) > 0 {
		parts = parts[:len(parts)-1]
	}
	return normalizeSlashPath(strings.Join(parts, "/"), rel)
}

// normalizeDocumentPath resolves rel against the directory containing the
// document at base, the way a real filesystem import resolves: unlike the
// in-tree Subpath case, stepping above the document's own directory is
// legitimate (it is how a sibling package is reached), so no escape check
// applies here.
func normalizeDocumentPath(base, rel string) (string, error) {
	return filepath.Clean(filepath.Join(filepath.Dir(base), rel)), nil
}

// normalizeSlashPath joins base and rel as slash-separated paths and
// rejects any result that escapes base via a leading "..".
func normalizeSlashPath(base, rel string) (string, error) {
	baseParts := splitNonEmpty(base)
	relParts := strings.Split(rel, "/")
	for _, p := range relParts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(baseParts) == 0 {
				return "", tgerror.New(tgerror.KindInvalid, "resolver: path %q escapes its base", rel)
			}
			baseParts = baseParts[:len(baseParts)-1]
		default:
			baseParts = append(baseParts, p)
		}
	}
	return strings.Join(baseParts, "/"), nil
}

func splitNonEmpty(path string) []string {
	var out []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
