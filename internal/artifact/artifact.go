// Package artifact implements the Directory/File/Symlink operations:
// recursive reference walking, checking a real filesystem tree in and out
// of the content-addressed object graph, and bundling an artifact into a
// self-contained tree.
package artifact

import (
	"bytes"
	"context"
	"sort"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

// ObjectStore is the subset of the store this package needs: typed
// resolution plus raw put/get for the blob tree underneath files.
type ObjectStore interface {
	value.Resolver
	Put(ctx context.Context, i id.Id, bytes []byte) error
	TryGet(ctx context.Context, i id.Id) ([]byte, bool, error)
}

func store(ctx context.Context, s ObjectStore, v value.Value) (id.Id, error) {
	i := value.Id(v)
	if err := s.Put(ctx, i, value.Serialize(v)); err != nil {
		return id.Id{}, err
	}
	return i, nil
}

func sortedEntryNames(entries map[string]id.Id) []string {
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RecursiveReferences returns the transitive set of artifact ids root
// depends on: files' declared References, symlinks' template artifact
// components, and directories' children. The result is sorted by id so
// callers get a deterministic order.
func RecursiveReferences(ctx context.Context, s ObjectStore, root value.Artifact) ([]id.Id, error) {
	visited := map[id.Id]struct{}{}
	var order []id.Id

	var walk func(value.Artifact) error
	visit := func(cid id.Id) error {
		if _, ok := visited[cid]; ok {
			return nil
		}
		visited[cid] = struct{}{}
		order = append(order, cid)
		v, err := s.GetValue(ctx, cid)
		if err != nil {
			return err
		}
		childArtifact, ok := v.(value.Artifact)
		if !ok {
			return nil
		}
		return walk(childArtifact)
	}
	walk = func(a value.Artifact) error {
		switch t := a.(type) {
		case value.Directory:
			for _, name := range sortedEntryNames(t.Entries) {
				if err := visit(t.Entries[name]); err != nil {
					return err
				}
			}
		case value.File:
			for _, r := range t.References {
				if err := visit(r); err != nil {
					return err
				}
			}
		case value.Symlink:
			for _, c := range t.Target.Components {
				if c.Kind == value.ComponentArtifact {
					if err := visit(c.ArtifactId); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	sort.Slice(order, func(i, j int) bool {
		return bytes.Compare(order[i].Bytes(), order[j].Bytes()) < 0
	})
	return order, nil
}
