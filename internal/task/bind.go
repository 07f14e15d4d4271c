package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"github.com/ehrlich-b/tangram-go/internal/artifact"
	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/sandbox"
	"github.com/ehrlich-b/tangram-go/internal/template"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// renderedTask is a task's executable/env/args after every Artifact and
// Placeholder component has been resolved to a concrete string.
type renderedTask struct {
	executable string
	args       []string
	env        map[string]string
}

// collectArtifacts gathers the ids a task's executable, env, and args
// templates reference directly, in a stable order so later steps see
// deterministic checkout ordering.
func collectArtifacts(t value.Task) []id.Id {
	var direct []id.Id
	add := func(tpl value.Template) {
		for _, c := range tpl.Components {
			if c.Kind == value.ComponentArtifact {
				direct = append(direct, c.ArtifactId)
			}
		}
	}
	add(t.Executable)
	for _, a := range t.Args {
		add(a)
	}
	for _, e := range t.Env {
		add(e)
	}
	return direct
}

// closure expands direct into the full transitive set of artifacts that
// must be present under the sandbox's artifacts root: the runtime contract
// promises every transitively-referenced artifact, not just the ones a
// task's own templates name directly.
func closure(ctx context.Context, s ObjectStore, direct []id.Id) ([]id.Id, error) {
	seen := map[id.Id]struct{}{}
	var all []id.Id
	visit := func(i id.Id) error {
		if _, ok := seen[i]; ok {
			return nil
		}
		seen[i] = struct{}{}
		all = append(all, i)
		v, err := s.GetValue(ctx, i)
		if err != nil {
			return err
		}
		a, ok := v.(value.Artifact)
		if !ok {
			return nil
		}
		refs, err := artifact.RecursiveReferences(ctx, s, a)
		if err != nil {
			return err
		}
		for _, r := range refs {
			if _, ok := seen[r]; !ok {
				seen[r] = struct{}{}
				all = append(all, r)
			}
		}
		return nil
	}
	for _, i := range direct {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// materializeArtifacts checks out every artifact a task's templates
// transitively depend on into artifactsDir/<hash>, skipping ids already
// present on disk, and returns the resulting host-path roots keyed by
// artifact id. Each root directory is named by the artifact's bare content
// hash, matching template.Unrender's checkout directory convention.
//
// The artifacts directory is shared across concurrent reductions, so each
// check-out goes into a staging directory under tmp and is renamed into
// place: when two reductions race on the same artifact, at most one rename
// wins and the loser treats the EEXIST as success.
func (r *Runner) materializeArtifacts(ctx context.Context, t value.Task, artifactsDir string) (template.ArtifactRoots, error) {
	direct := collectArtifacts(t)
	all, err := closure(ctx, r.store, direct)
	if err != nil {
		return nil, tgerror.Wrap(err, "task: materialize: compute closure")
	}

	roots := make(template.ArtifactRoots, len(all))
	for _, i := range all {
		roots[i] = filepath.Join(artifactsDir, i.HashHex())
	}
	for _, i := range all {
		dest := roots[i]
		if pathExists(dest) {
			continue
		}
		v, err := r.store.GetValue(ctx, i)
		if err != nil {
			return nil, tgerror.Wrap(err, "task: materialize: resolve %s", i)
		}
		a, ok := v.(value.Artifact)
		if !ok {
			return nil, tgerror.New(tgerror.KindInvalid, "task: materialize: %s is not an artifact", i)
		}
		staging, err := os.MkdirTemp(filepath.Join(r.cfg.DataDir, "tmp"), "checkout-*")
		if err != nil {
			return nil, tgerror.WrapKind(tgerror.KindIO, err, "task: materialize: create staging dir")
		}
		staged := filepath.Join(staging, "artifact")
		if err := artifact.CheckOut(ctx, r.store, a, staged, roots); err != nil {
			os.RemoveAll(staging)
			return nil, tgerror.Wrap(err, "task: materialize: check_out %s", i)
		}
		err = os.Rename(staged, dest)
		os.RemoveAll(staging)
		if err != nil && !os.IsExist(err) && !errors.Is(err, syscall.ENOTEMPTY) {
			return nil, tgerror.WrapKind(tgerror.KindIO, err, "task: materialize: install %s", i)
		}
	}
	return roots, nil
}

// renderTask translates hostRoots (real filesystem checkout directories)
// into the sandbox-visible roots under paths.Artifacts, then renders the
// task's executable, args, and env against them plus the output
// placeholder. Host and sandbox-visible roots diverge exactly when the
// backend chroots: hostRoots holds real paths under artifactsDir, while
// the rendered command line must use paths.Artifacts/<hash> instead.
func renderTask(t value.Task, hostRoots template.ArtifactRoots, paths sandbox.Paths) (renderedTask, error) {
	sandboxRoots := make(template.ArtifactRoots, len(hostRoots))
	for i := range hostRoots {
		sandboxRoots[i] = filepath.Join(paths.Artifacts, i.HashHex())
	}
	renderer := template.NewRenderer(sandboxRoots, template.Placeholders{
		"output": paths.Output,
	})

	exe, err := template.Render(t.Executable, renderer)
	if err != nil {
		return renderedTask{}, tgerror.Wrap(err, "render executable")
	}

	args := make([]string, 0, len(t.Args))
	for _, a := range t.Args {
		s, err := template.Render(a, renderer)
		if err != nil {
			return renderedTask{}, tgerror.Wrap(err, "render arg")
		}
		args = append(args, s)
	}

	env := make(map[string]string, len(t.Env))
	for k, v := range t.Env {
		s, err := template.Render(v, renderer)
		if err != nil {
			return renderedTask{}, tgerror.Wrap(err, "render env %q", k)
		}
		env[k] = s
	}

	return renderedTask{executable: exe, args: args, env: env}, nil
}
