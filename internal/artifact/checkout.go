package artifact

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/ehrlich-b/tangram-go/internal/blob"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/template"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

// CheckOut materializes an artifact tree onto a real filesystem at
// destination. roots resolves the checkout locations of any artifact ids
// a symlink's target template references; pass nil when a is known to
// have no such dependency symlinks.
func CheckOut(ctx context.Context, s ObjectStore, a value.Artifact, destination string, roots template.ArtifactRoots) error {
	switch t := a.(type) {
	case value.Directory:
		if err := os.MkdirAll(destination, 0o755); err != nil {
			return tgerror.WrapKind(tgerror.KindIO, err, "artifact: check_out: mkdir %s", destination)
		}
		for _, name := range sortedEntryNames(t.Entries) {
			childVal, err := s.GetValue(ctx, t.Entries[name])
			if err != nil {
				return err
			}
			childArtifact, ok := childVal.(value.Artifact)
			if !ok {
				return tgerror.New(tgerror.KindInvalid, "artifact: check_out: entry %s is not an artifact", name)
			}
			if err := CheckOut(ctx, s, childArtifact, filepath.Join(destination, name), roots); err != nil {
				return err
			}
		}
		return nil

	case value.File:
		r, err := blob.NewReader(ctx, s, t.Contents)
		if err != nil {
			return tgerror.Wrap(err, "artifact: check_out: open blob for %s", destination)
		}
		perm := os.FileMode(0o644)
		if t.Executable {
			perm = 0o755
		}
		out, err := os.OpenFile(destination, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
		if err != nil {
			return tgerror.WrapKind(tgerror.KindIO, err, "artifact: check_out: create %s", destination)
		}
		defer out.Close()
		if _, err := io.Copy(out, r); err != nil {
			return tgerror.WrapKind(tgerror.KindIO, err, "artifact: check_out: write %s", destination)
		}
		return nil

	case value.Symlink:
		renderer := template.NewRenderer(roots, nil)
		rendered, err := template.Render(t.Target, renderer)
		if err != nil {
			return tgerror.Wrap(err, "artifact: check_out: render symlink target for %s", destination)
		}
		if err := os.Symlink(rendered, destination); err != nil {
			return tgerror.WrapKind(tgerror.KindIO, err, "artifact: check_out: symlink %s", destination)
		}
		return nil

	default:
		return tgerror.New(tgerror.KindInvalid, "artifact: check_out: unknown artifact type %T", a)
	}
}
