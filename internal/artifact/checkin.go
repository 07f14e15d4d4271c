package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ehrlich-b/tangram-go/internal/blob"
	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

// CheckIn walks a real filesystem tree rooted at path and builds the
// corresponding artifact graph, storing every node along the way. It
// returns the root artifact value and its id.
func CheckIn(ctx context.Context, s ObjectStore, path string) (value.Artifact, id.Id, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, id.Id{}, tgerror.WrapKind(tgerror.KindIO, err, "artifact: check_in: stat %s", path)
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return checkInSymlink(ctx, s, path)
	case info.IsDir():
		return checkInDirectory(ctx, s, path)
	default:
		return checkInFile(ctx, s, path, info)
	}
}

func checkInSymlink(ctx context.Context, s ObjectStore, path string) (value.Artifact, id.Id, error) {
	var tmpl value.Template
	if dep, ok := readDependencyXattr(path); ok {
		parsed, err := parseDependencyTag(dep)
		if err != nil {
			return nil, id.Id{}, tgerror.WrapKind(tgerror.KindInvalid, err, "artifact: check_in: %s: bad dependency xattr", path)
		}
		tmpl = parsed
	} else {
		target, err := os.Readlink(path)
		if err != nil {
			return nil, id.Id{}, tgerror.WrapKind(tgerror.KindIO, err, "artifact: check_in: readlink %s", path)
		}
		tmpl = value.Template{Components: []value.Component{value.StringComponent(target)}}
	}
	sym := value.Symlink{Target: tmpl}
	symId, err := store(ctx, s, sym)
	if err != nil {
		return nil, id.Id{}, err
	}
	return sym, symId, nil
}

// parseDependencyTag parses "<artifact-id-string>#<subpath>" into a
// template of an artifact component followed by an optional string
// component for the subpath.
func parseDependencyTag(tag string) (value.Template, error) {
	idPart, subpath, _ := strings.Cut(tag, "#")
	depId, err := id.ParseString(idPart)
	if err != nil {
		return value.Template{}, err
	}
	comps := []value.Component{value.ArtifactComponent(depId)}
	if subpath != "" {
		comps = append(comps, value.StringComponent("/"+subpath))
	}
	return value.Template{Components: comps}, nil
}

func checkInDirectory(ctx context.Context, s ObjectStore, path string) (value.Artifact, id.Id, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, id.Id{}, tgerror.WrapKind(tgerror.KindIO, err, "artifact: check_in: readdir %s", path)
	}
	dirEntries := make(map[string]id.Id, len(entries))
	for _, e := range entries {
		_, childId, err := CheckIn(ctx, s, filepath.Join(path, e.Name()))
		if err != nil {
			return nil, id.Id{}, err
		}
		dirEntries[e.Name()] = childId
	}
	dir := value.Directory{Entries: dirEntries}
	dirId, err := store(ctx, s, dir)
	if err != nil {
		return nil, id.Id{}, err
	}
	return dir, dirId, nil
}

func checkInFile(ctx context.Context, s ObjectStore, path string, info os.FileInfo) (value.Artifact, id.Id, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, id.Id{}, tgerror.WrapKind(tgerror.KindIO, err, "artifact: check_in: open %s", path)
	}
	defer f.Close()

	blobId, err := blob.Write(ctx, s, f)
	if err != nil {
		return nil, id.Id{}, tgerror.Wrap(err, "artifact: check_in: blob write %s", path)
	}
	file := value.File{
		Contents:   blobId,
		Executable: info.Mode()&0o111 != 0,
	}
	fileId, err := store(ctx, s, file)
	if err != nil {
		return nil, id.Id{}, err
	}
	return file, fileId, nil
}
