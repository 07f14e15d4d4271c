package artifact

import (
	"context"
	"strings"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

// Builder composes a directory artifact entry-by-entry from slash-
// separated paths.
type Builder struct {
	dirs  map[string]*Builder
	files map[string]value.Artifact
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{dirs: map[string]*Builder{}, files: map[string]value.Artifact{}}
}

// Add places a at path, creating intermediate directory builders as
// needed. path must not be empty and must not contain "." or ".."
// components.
func (b *Builder) Add(path string, a value.Artifact) error {
	head, tail, hasTail := splitPath(path)
	if head == "" || head == "." || head == ".." {
		return tgerror.New(tgerror.KindInvalid, "artifact: builder: invalid path component %q", head)
	}
	if !hasTail {
		b.files[head] = a
		return nil
	}
	sub, ok := b.dirs[head]
	if !ok {
		sub = NewBuilder()
		b.dirs[head] = sub
	}
	return sub.Add(tail, a)
}

func splitPath(path string) (head, tail string, hasTail bool) {
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		return path, "", false
	}
	return path[:idx], path[idx+1:], true
}

// Build stores every constructed node bottom-up and returns the resulting
// directory and its id.
func (b *Builder) Build(ctx context.Context, s ObjectStore) (value.Directory, id.Id, error) {
	entries := make(map[string]id.Id, len(b.files)+len(b.dirs))
	for name, a := range b.files {
		aid, err := store(ctx, s, a)
		if err != nil {
			return value.Directory{}, id.Id{}, err
		}
		entries[name] = aid
	}
	for name, sub := range b.dirs {
		_, did, err := sub.Build(ctx, s)
		if err != nil {
			return value.Directory{}, id.Id{}, err
		}
		entries[name] = did
	}
	dir := value.Directory{Entries: entries}
	dirId, err := store(ctx, s, dir)
	if err != nil {
		return value.Directory{}, id.Id{}, err
	}
	return dir, dirId, nil
}
