// Package resolver turns a package's import graph into a pinned dependency
// closure and records it as a lockfile.
package resolver

import "fmt"

// DependencyKind discriminates the two ways a package can depend on
// another package.
type DependencyKind uint8

const (
	// DependencyPath names a sibling directory on the filesystem, relative
	// to the depending package's root.
	DependencyPath DependencyKind = iota
	// DependencyRegistry names an entry resolved against an external
	// registry collaborator by (name, version).
	DependencyRegistry
)

// Dependency is a single dependency specifier. Only the fields matching Kind
// are meaningful. It is a plain comparable value so it can key a map
// directly, unlike value.Relpath (which holds a slice).
type Dependency struct {
	Kind DependencyKind

	// Path is the canonical, slash-separated relative path for
	// DependencyPath (e.g. "../sibling" or "../../vendor/lib").
	Path string

	// Name and Version identify a DependencyRegistry entry. Version is
	// empty when unspecified — the registry picks the latest.
	Name    string
	Version string
}

func PathDependency(path string) Dependency {
	return Dependency{Kind: DependencyPath, Path: path}
}

func RegistryDependency(name, version string) Dependency {
	return Dependency{Kind: DependencyRegistry, Name: name, Version: version}
}

func (d Dependency) String() string {
	switch d.Kind {
	case DependencyPath:
		return fmt.Sprintf("path:%s", d.Path)
	case DependencyRegistry:
		if d.Version == "" {
			return fmt.Sprintf("registry:%s", d.Name)
		}
		return fmt.Sprintf("registry:%s@%s", d.Name, d.Version)
	default:
		return "dependency:unknown"
	}
}
