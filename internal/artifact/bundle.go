package artifact

import (
	"context"
	"strings"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

// Bundle produces a self-contained directory artifact: every transitive
// reference of a lives under ".tangram/artifacts/<hash>/", every symlink's
// artifact components are rewritten to relative paths into that
// subdirectory, and files' declared references are emptied since they are
// no longer needed once everything is colocated. An artifact with no
// references is already self-contained and comes back unchanged. A single
// executable file bundles as ".tangram/run" inside the enclosing
// directory; any other non-directory artifact with outstanding references
// cannot be bundled.
func Bundle(ctx context.Context, s ObjectStore, a value.Artifact) (value.Artifact, id.Id, error) {
	refs, err := RecursiveReferences(ctx, s, a)
	if err != nil {
		return nil, id.Id{}, err
	}
	if len(refs) == 0 {
		return a, value.Id(a), nil
	}

	artifactsEntries := make(map[string]id.Id, len(refs))
	for _, r := range refs {
		artifactsEntries[r.HashHex()] = r
	}
	artifactsDirId, err := store(ctx, s, value.Directory{Entries: artifactsEntries})
	if err != nil {
		return nil, id.Id{}, err
	}

	switch t := a.(type) {
	case value.File:
		if !t.Executable {
			return nil, id.Id{}, tgerror.New(tgerror.KindInvalid, "artifact: bundle: the artifact must be a directory or an executable file")
		}
		cleared := value.File{Contents: t.Contents, Executable: true}
		clearedId, err := store(ctx, s, cleared)
		if err != nil {
			return nil, id.Id{}, err
		}
		tangramDirId, err := store(ctx, s, value.Directory{Entries: map[string]id.Id{
			"artifacts": artifactsDirId,
			"run":       clearedId,
		}})
		if err != nil {
			return nil, id.Id{}, err
		}
		root := value.Directory{Entries: map[string]id.Id{".tangram": tangramDirId}}
		rootId, err := store(ctx, s, root)
		if err != nil {
			return nil, id.Id{}, err
		}
		return root, rootId, nil

	case value.Directory:
		rewritten, err := rewriteForBundle(ctx, s, t, 0)
		if err != nil {
			return nil, id.Id{}, err
		}
		dir, ok := rewritten.(value.Directory)
		if !ok {
			return nil, id.Id{}, tgerror.New(tgerror.KindInvalid, "artifact: bundle: directory rewrite produced a non-directory")
		}
		tangramDirId, err := store(ctx, s, value.Directory{Entries: map[string]id.Id{"artifacts": artifactsDirId}})
		if err != nil {
			return nil, id.Id{}, err
		}
		dir.Entries[".tangram"] = tangramDirId
		rootId, err := store(ctx, s, dir)
		if err != nil {
			return nil, id.Id{}, err
		}
		return dir, rootId, nil

	default:
		return nil, id.Id{}, tgerror.New(tgerror.KindInvalid, "artifact: bundle: the artifact must be a directory or an executable file")
	}
}

// rewriteForBundle produces a copy of a with file references cleared and
// symlink artifact components replaced by relative paths into
// ".tangram/artifacts/<hash>", computed from depth (the number of
// directory levels between the bundle root and the directory holding a, or
// a itself when a is a directory).
func rewriteForBundle(ctx context.Context, s ObjectStore, a value.Artifact, depth int) (value.Artifact, error) {
	switch t := a.(type) {
	case value.Directory:
		newEntries := make(map[string]id.Id, len(t.Entries))
		for name, cid := range t.Entries {
			childVal, err := s.GetValue(ctx, cid)
			if err != nil {
				return nil, err
			}
			childArtifact, ok := childVal.(value.Artifact)
			if !ok {
				newEntries[name] = cid
				continue
			}
			// A symlink resolves relative to the directory holding it, so it
			// shares this directory's depth; only a subdirectory is deeper.
			childDepth := depth
			if _, isDir := childArtifact.(value.Directory); isDir {
				childDepth = depth + 1
			}
			rewritten, err := rewriteForBundle(ctx, s, childArtifact, childDepth)
			if err != nil {
				return nil, err
			}
			rid, err := store(ctx, s, rewritten)
			if err != nil {
				return nil, err
			}
			newEntries[name] = rid
		}
		return value.Directory{Entries: newEntries}, nil

	case value.File:
		return value.File{Contents: t.Contents, Executable: t.Executable}, nil

	case value.Symlink:
		var comps []value.Component
		for _, c := range t.Target.Components {
			if c.Kind == value.ComponentArtifact {
				up := strings.Repeat("../", depth)
				comps = append(comps, value.StringComponent(up+".tangram/artifacts/"+c.ArtifactId.HashHex()))
				continue
			}
			comps = append(comps, c)
		}
		return value.Symlink{Target: value.Template{Components: comps}}, nil

	default:
		return a, nil
	}
}
