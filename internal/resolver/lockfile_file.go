package resolver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// LockfileName is the pinned-closure file written at a package root.
const LockfileName = "tangram.lock"

// lockfileEntry is the on-disk shape of one LockDependency edge. Exactly
// one of Path or Registry is set, mirroring the manifest's dependency
// entries so the two files read alike.
type lockfileEntry struct {
	Path     string `json:"path,omitempty"`
	Registry string `json:"registry,omitempty"`
	Version  string `json:"version,omitempty"`
	Package  string `json:"package"`
	Lock     uint64 `json:"lock"`
}

// lockfileFile is the on-disk shape of the whole two-table structure. Lock
// ids become decimal string keys because JSON objects cannot key on
// numbers.
type lockfileFile struct {
	Paths map[string]uint64          `json:"paths"`
	Locks map[string][]lockfileEntry `json:"locks"`
}

// Save writes the lockfile as tangram.lock under dir.
func (lf *Lockfile) Save(dir string) error {
	out := lockfileFile{
		Paths: make(map[string]uint64, len(lf.Paths)),
		Locks: make(map[string][]lockfileEntry, len(lf.Locks)),
	}
	for subpath, lockId := range lf.Paths {
		out.Paths[subpath] = uint64(lockId)
	}
	for lockId, edges := range lf.Locks {
		entries := make([]lockfileEntry, 0, len(edges))
		for _, e := range edges {
			entry := lockfileEntry{
				Package: e.Package.String(),
				Lock:    uint64(e.Lock),
			}
			switch e.Dependency.Kind {
			case DependencyPath:
				entry.Path = e.Dependency.Path
			case DependencyRegistry:
				entry.Registry = e.Dependency.Name
				entry.Version = e.Dependency.Version
			}
			entries = append(entries, entry)
		}
		out.Locks[strconv.FormatUint(uint64(lockId), 10)] = entries
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return tgerror.Wrap(err, "resolver: marshal lockfile")
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(dir, LockfileName), data, 0o644); err != nil {
		return tgerror.WrapKind(tgerror.KindIO, err, "resolver: write lockfile in %s", dir)
	}
	return nil
}

// LoadLockfile reads tangram.lock from dir. A missing file is a typed
// not-found, distinct from a malformed one.
func LoadLockfile(dir string) (*Lockfile, error) {
	raw, err := os.ReadFile(filepath.Join(dir, LockfileName))
	if os.IsNotExist(err) {
		return nil, tgerror.WrapKind(tgerror.KindNotFound, err, "resolver: no lockfile in %s", dir)
	}
	if err != nil {
		return nil, tgerror.WrapKind(tgerror.KindIO, err, "resolver: read lockfile in %s", dir)
	}

	var in lockfileFile
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, tgerror.WrapKind(tgerror.KindInvalid, err, "resolver: parse lockfile in %s", dir)
	}

	lf := NewLockfile()
	for subpath, lockId := range in.Paths {
		lf.Paths[subpath] = LockId(lockId)
	}
	for key, entries := range in.Locks {
		lockId, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, tgerror.WrapKind(tgerror.KindInvalid, err, "resolver: lockfile in %s: lock key %q", dir, key)
		}
		edges := make([]LockDependency, 0, len(entries))
		for _, e := range entries {
			pkg, err := id.ParseString(e.Package)
			if err != nil {
				return nil, tgerror.WrapKind(tgerror.KindInvalid, err, "resolver: lockfile in %s: package id %q", dir, e.Package)
			}
			var dep Dependency
			switch {
			case e.Path != "":
				dep = PathDependency(e.Path)
			case e.Registry != "":
				dep = RegistryDependency(e.Registry, e.Version)
			default:
				return nil, tgerror.New(tgerror.KindInvalid, "resolver: lockfile in %s: entry has neither path nor registry", dir)
			}
			edges = append(edges, LockDependency{Dependency: dep, Package: pkg, Lock: LockId(e.Lock)})
		}
		lf.Locks[LockId(lockId)] = edges
		if LockId(lockId) >= lf.nextLockId {
			lf.nextLockId = LockId(lockId) + 1
		}
	}
	return lf, nil
}
