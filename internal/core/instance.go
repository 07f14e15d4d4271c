// Package core wires the object store, evaluator, sandboxed task runner,
// resource fetcher, JS host, and package resolver into the single handle a
// CLI subcommand drives — the assembly cmd/tangram itself stays too thin to
// contain.
package core

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ehrlich-b/tangram-go/internal/build"
	"github.com/ehrlich-b/tangram-go/internal/evaluator"
	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/jshost"
	"github.com/ehrlich-b/tangram-go/internal/registryclient"
	"github.com/ehrlich-b/tangram-go/internal/resolver"
	"github.com/ehrlich-b/tangram-go/internal/resource"
	"github.com/ehrlich-b/tangram-go/internal/sandbox"
	"github.com/ehrlich-b/tangram-go/internal/store"
	"github.com/ehrlich-b/tangram-go/internal/task"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"golang.org/x/sync/semaphore"
)

// Config configures one tangram instance: its on-disk state, sandbox
// backend, and the concurrency knobs the evaluator, task runner, and JS
// host apply to everything they run.
type Config struct {
	DataDir         string
	SandboxBackend  sandbox.Backend
	TaskConcurrency int64 // <1 defaults to 4
	FDConcurrency   int64 // <1 defaults to 64
	JSPoolSize      int32 // <1 defaults to 4
	CPULimit        time.Duration
	MemLimit        uint64
	MaxFDs          uint32
	TaskTimeout     time.Duration
	RegistryURL     string
	RegistrySecret  []byte
}

// Instance is the assembled engine: every field is safe for a CLI
// subcommand to call directly once New has returned.
type Instance struct {
	cfg Config

	Store     *store.Store
	Evaluator *evaluator.Evaluator
	JSHost    *jshost.Host
	Tasks     *task.Runner
	Resources *resource.Runner
	Resolver  *resolver.Resolver
	Registry  *registryclient.Client

	lockFile *os.File

	mu          sync.Mutex
	activeBuild *build.Build
}

// New opens (creating if absent) the instance rooted at cfg.DataDir and
// wires every collaborator together.
func New(cfg Config) (*Instance, error) {
	if cfg.DataDir == "" {
		return nil, tgerror.New(tgerror.KindInvalid, "core: DataDir is required")
	}
	if cfg.TaskConcurrency < 1 {
		cfg.TaskConcurrency = 4
	}
	if cfg.FDConcurrency < 1 {
		cfg.FDConcurrency = 64
	}
	if cfg.JSPoolSize < 1 {
		cfg.JSPoolSize = 4
	}
	for _, dir := range []string{"artifacts", "tmp", "logs"} {
		if err := os.MkdirAll(filepath.Join(cfg.DataDir, dir), 0o755); err != nil {
			return nil, tgerror.WrapKind(tgerror.KindIO, err, "core: create %s dir", dir)
		}
	}

	lockFile, err := acquireInstanceLock(filepath.Join(cfg.DataDir, "lock"))
	if err != nil {
		return nil, err
	}

	s, err := store.Open(filepath.Join(cfg.DataDir, "objects.db"))
	if err != nil {
		lockFile.Close()
		return nil, err
	}

	inst := &Instance{cfg: cfg, Store: s, lockFile: lockFile}

	edges := &buildEdgeRecorder{store: s, active: inst.activeBuildRef}
	logs := &buildLogSink{active: inst.activeBuildRef}
	fdSem := semaphore.NewWeighted(cfg.FDConcurrency)

	inst.Tasks = task.NewRunner(s, task.Config{
		DataDir:  cfg.DataDir,
		Backend:  cfg.SandboxBackend,
		CPULimit: cfg.CPULimit,
		MemLimit: cfg.MemLimit,
		MaxFDs:   cfg.MaxFDs,
		Timeout:  cfg.TaskTimeout,
		FDSem:    fdSem,
	}, logs)

	inst.Resources = resource.NewRunner(s, resource.Config{DataDir: cfg.DataDir, FDSem: fdSem})

	// evRef breaks the construction cycle: the JS host needs an Evaluator
	// now, the evaluator needs the JS host as its Targets reducer now.
	evRef := &evaluatorRef{}
	jsHost, err := jshost.New(newStoreModuleLoader(s), evRef, s, cfg.JSPoolSize)
	if err != nil {
		s.Close()
		lockFile.Close()
		return nil, err
	}
	jsHost.LogLine = func(opId id.Id, line string) {
		if b := inst.activeBuildRef(); b != nil {
			_ = b.AddLog(append([]byte(line), '\n'))
		}
	}
	inst.JSHost = jsHost

	ev := evaluator.New(s, edges, evaluator.Reducers{
		Tasks:     inst.Tasks,
		Targets:   jsHost,
		Resources: inst.Resources,
	}, cfg.TaskConcurrency)
	evRef.bind(ev)
	inst.Evaluator = ev

	if cfg.RegistryURL != "" {
		inst.Registry = registryclient.New(registryclient.Config{BaseURL: cfg.RegistryURL, Secret: cfg.RegistrySecret})
	}
	var registry resolver.Registry
	if inst.Registry != nil {
		registry = inst.Registry
	}
	inst.Resolver = resolver.New(s, resolver.ManifestDependencySource{}, registry)

	return inst, nil
}

// Close releases every collaborator holding a live resource — the isolate
// pool, the database handle, and the instance lock. It does not wait on any
// in-flight build.
func (inst *Instance) Close() error {
	inst.JSHost.Close()
	err := inst.Store.Close()
	inst.lockFile.Close()
	return err
}

func (inst *Instance) activeBuildRef() *build.Build {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.activeBuild
}

// StartBuild opens a fresh build and installs it as the instance's active
// build: every task log and operation edge recorded from this point until
// the next StartBuild call is attributed to it. One build is active per
// instance at a time, matching the CLI's one-root-evaluation-per-invocation
// usage — a future multi-tenant driver would key builds by request instead.
func (inst *Instance) StartBuild() (*build.Build, error) {
	b, err := build.New(filepath.Join(inst.cfg.DataDir, "logs"))
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	inst.activeBuild = b
	inst.mu.Unlock()
	return b, nil
}

// Evaluate submits opId as a root operation (no parent) to the evaluator
// and records the outcome on b once it settles.
func (inst *Instance) Evaluate(ctx context.Context, b *build.Build, opId id.Id) (id.Id, error) {
	valueId, err := inst.Evaluator.Evaluate(ctx, opId, id.Id{})
	b.SetResult(valueId, err)
	return valueId, err
}
