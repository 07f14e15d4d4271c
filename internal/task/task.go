// Package task implements the sandboxed task runner: it renders a task's
// executable/env/args against materialized artifact dependencies, executes
// the result inside an internal/sandbox backend, and checks the resulting
// output tree back into the object store.
package task

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ehrlich-b/tangram-go/internal/artifact"
	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/sandbox"
	"github.com/ehrlich-b/tangram-go/internal/system"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
	"golang.org/x/sync/semaphore"
)

// ObjectStore is the subset of the store a task reduction needs: the same
// shape artifact.ObjectStore declares, so the store can be passed straight
// through to CheckIn/CheckOut/RecursiveReferences without an adapter.
type ObjectStore interface {
	value.Resolver
	Put(ctx context.Context, i id.Id, bytes []byte) error
	TryGet(ctx context.Context, i id.Id) ([]byte, bool, error)
}

// LogSink routes a running task's stdio into a build's live log stream. A
// nil LogSink discards output.
type LogSink interface {
	TaskStdout(opId id.Id) io.Writer
	TaskStderr(opId id.Id) io.Writer
}

// Config holds runner-wide defaults applied to every task unless the task
// itself is more specific (tasks carry no per-task resource limits in the
// object graph, so these are the only knobs available).
type Config struct {
	DataDir  string // instance data dir: DataDir/artifacts, DataDir/tmp
	Backend  sandbox.Backend
	CPULimit time.Duration
	MemLimit uint64
	MaxFDs   uint32
	Timeout  time.Duration

	// FDSem caps how many reductions may hold the filesystem open at once
	// (check-out of dependencies, check-in of outputs), shared instance-wide
	// with the resource runner. Nil applies no cap.
	FDSem *semaphore.Weighted
}

// Runner implements evaluator.TaskReducer.
type Runner struct {
	store ObjectStore
	cfg   Config
	logs  LogSink
}

// NewRunner builds a Runner. logs may be nil to discard task stdio.
func NewRunner(store ObjectStore, cfg Config, logs LogSink) *Runner {
	return &Runner{store: store, cfg: cfg, logs: logs}
}

// ReduceTask renders t, executes it in a sandbox, and checks in its output.
// It satisfies evaluator.TaskReducer.
func (r *Runner) ReduceTask(ctx context.Context, opId id.Id, t value.Task) (id.Id, error) {
	if t.Network && !t.Unsafe && t.Checksum == nil {
		return id.Id{}, tgerror.New(tgerror.KindInvalid, "task: %s: network=true requires unsafe=true or a checksum", opId)
	}
	if !t.Host.IsLinux() && !t.Host.IsMacos() {
		return id.Id{}, tgerror.New(tgerror.KindInvalid, "task: %s: no sandbox backend for system %s", opId, t.Host)
	}
	if host, ok := system.Host(); !ok || host != t.Host {
		return id.Id{}, tgerror.New(tgerror.KindInvalid, "task: %s: declared for %s, running on a different system", opId, t.Host)
	}

	artifactsDir := filepath.Join(r.cfg.DataDir, "artifacts")
	runDir, err := os.MkdirTemp(filepath.Join(r.cfg.DataDir, "tmp"), "run-*")
	if err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindIO, err, "task: %s: create run dir", opId)
	}
	defer os.RemoveAll(runDir)

	workDir := filepath.Join(runDir, "work")
	outputDir := filepath.Join(runDir, "output")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindIO, err, "task: %s: mkdir work", opId)
	}
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindIO, err, "task: %s: mkdir artifacts", opId)
	}

	releaseFD, err := r.acquireFD(ctx)
	if err != nil {
		return id.Id{}, err
	}
	roots, err := r.materializeArtifacts(ctx, t, artifactsDir)
	releaseFD()
	if err != nil {
		return id.Id{}, err
	}

	sb, err := sandbox.New(sandbox.Config{
		Backend:     r.cfg.Backend,
		ArtifactDir: artifactsDir,
		OutputDir:   outputDir,
		WorkDir:     workDir,
		Network:     t.Network,
		Timeout:     r.cfg.Timeout,
		CPULimit:    r.cfg.CPULimit,
		MemLimit:    r.cfg.MemLimit,
		MaxFDs:      r.cfg.MaxFDs,
	})
	if err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindSandbox, err, "task: %s: create sandbox", opId)
	}
	defer sb.Destroy()

	rendered, err := renderTask(t, roots, sb.Paths())
	if err != nil {
		return id.Id{}, tgerror.Wrap(err, "task: %s: render", opId)
	}

	if err := r.run(ctx, opId, sb, rendered); err != nil {
		return id.Id{}, err
	}

	releaseFD, err = r.acquireFD(ctx)
	if err != nil {
		return id.Id{}, err
	}
	defer releaseFD()
	return r.collectOutput(ctx, opId, outputDir, t.Checksum)
}

// acquireFD takes one slot of the instance-wide filesystem-pressure
// semaphore for the duration of a check-in or check-out span.
func (r *Runner) acquireFD(ctx context.Context) (func(), error) {
	if r.cfg.FDSem == nil {
		return func() {}, nil
	}
	if err := r.cfg.FDSem.Acquire(ctx, 1); err != nil {
		return nil, tgerror.WrapKind(tgerror.KindCancellation, err, "task: acquire fd slot")
	}
	return func() { r.cfg.FDSem.Release(1) }, nil
}

// run executes the rendered command inside sb, with an overall timeout if
// the runner is configured with one, and funnels stdio through the log
// sink. Kill-on-drop: cancelling ctx (including the deferred cancel here)
// tears down the child, since exec.CommandContext kills on context done.
func (r *Runner) run(ctx context.Context, opId id.Id, sb sandbox.Sandbox, rendered renderedTask) error {
	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	cmd, err := sb.Exec(runCtx, rendered.executable, rendered.args, rendered.env)
	if err != nil {
		return tgerror.WrapKind(tgerror.KindSandbox, err, "task: %s: exec", opId)
	}
	cmd.Stdin = nil
	cmd.Stdout = r.stdout(opId)
	cmd.Stderr = r.stderr(opId)

	if err := cmd.Start(); err != nil {
		return tgerror.WrapKind(tgerror.KindSandbox, err, "task: %s: start", opId)
	}
	if err := sb.PostStart(cmd.Process.Pid); err != nil {
		_ = cmd.Process.Kill()
		return tgerror.WrapKind(tgerror.KindSandbox, err, "task: %s: post-start", opId)
	}

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(interface{ ExitCode() int }); ok && exitErr.ExitCode() >= 0 {
			return tgerror.New(tgerror.KindProcessExit, "task: %s: exited with code %d", opId, exitErr.ExitCode())
		}
		return tgerror.WrapKind(tgerror.KindProcessExit, err, "task: %s: process error", opId)
	}
	return nil
}

func (r *Runner) stdout(opId id.Id) io.Writer {
	if r.logs == nil {
		return io.Discard
	}
	if w := r.logs.TaskStdout(opId); w != nil {
		return w
	}
	return io.Discard
}

func (r *Runner) stderr(opId id.Id) io.Writer {
	if r.logs == nil {
		return io.Discard
	}
	if w := r.logs.TaskStderr(opId); w != nil {
		return w
	}
	return io.Discard
}

// collectOutput checks output in if it exists, applies checksum
// verification when requested, and returns the resulting value's id. A
// missing output directory is success with a Null result, not an error.
func (r *Runner) collectOutput(ctx context.Context, opId id.Id, outputDir string, checksum *value.Checksum) (id.Id, error) {
	if _, err := os.Stat(outputDir); err != nil {
		if os.IsNotExist(err) {
			return r.putNull(ctx)
		}
		return id.Id{}, tgerror.WrapKind(tgerror.KindIO, err, "task: %s: stat output", opId)
	}

	a, outId, err := artifact.CheckIn(ctx, r.store, outputDir)
	if err != nil {
		return id.Id{}, tgerror.Wrap(err, "task: %s: check_in output", opId)
	}
	if checksum != nil {
		if err := artifact.VerifyChecksum(ctx, r.store, *checksum, a); err != nil {
			return id.Id{}, err
		}
	}
	return outId, nil
}

func (r *Runner) putNull(ctx context.Context) (id.Id, error) {
	nullId := value.Id(value.Null{})
	if err := r.store.Put(ctx, nullId, value.Serialize(value.Null{})); err != nil {
		return id.Id{}, err
	}
	return nullId, nil
}
