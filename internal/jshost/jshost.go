// Package jshost runs target functions in a pool of goja isolates and
// exposes a closed syscall surface to the JS they execute. One isolate
// services one evaluation at a time — single-threaded cooperative per
// isolate, no isolate shared between evaluations — implemented here as a
// puddle-backed pool instead of a hand-rolled free list.
package jshost

import (
	"context"

	"github.com/dop251/goja"
	"github.com/jackc/puddle/v2"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

// ModuleLoader supplies module text and import resolution to the host,
// backed in production by internal/resolver's module graph.
type ModuleLoader interface {
	LoadModule(ctx context.Context, moduleId string) (string, error)
	ResolveModule(ctx context.Context, referrer, specifier string) (string, error)
	ModuleVersion(ctx context.Context, moduleId string) (int64, error)
	ListDocuments(ctx context.Context) ([]string, error)
}

// Evaluator is the subset of internal/evaluator.Evaluator the `evaluate`
// syscall needs.
type Evaluator interface {
	Evaluate(ctx context.Context, opId, parentOpId id.Id) (id.Id, error)
}

// ObjectStore is the subset of the store the `add_object` syscall needs.
type ObjectStore interface {
	value.Resolver
	Put(ctx context.Context, i id.Id, bytes []byte) error
}

// Host owns the isolate pool and the collaborators every isolate's syscall
// bridge dispatches to.
type Host struct {
	modules   ModuleLoader
	evaluator Evaluator
	store     ObjectStore
	pool      *puddle.Pool[*isolate]

	// LogLine, if set, receives each line the `log` syscall emits during
	// a target reduction, tagged with the reducing operation's id. Set it
	// before the first ReduceTarget call; nil discards.
	LogLine func(opId id.Id, line string)
}

// New builds a Host with an isolate pool of at most poolSize isolates. The
// size is taken as given: internal/core passes its configured JSPoolSize,
// which defaults to 4 rather than the host's CPU count.
func New(modules ModuleLoader, evaluator Evaluator, store ObjectStore, poolSize int32) (*Host, error) {
	h := &Host{modules: modules, evaluator: evaluator, store: store}
	pool, err := puddle.NewPool(&puddle.Config[*isolate]{
		Constructor: func(ctx context.Context) (*isolate, error) {
			return h.newIsolate()
		},
		Destructor: func(res *isolate) {
			res.vm.ClearInterrupt()
		},
		MaxSize: poolSize,
	})
	if err != nil {
		return nil, tgerror.Wrap(err, "jshost: build isolate pool")
	}
	h.pool = pool
	return h, nil
}

// Close releases every idle isolate. In-flight evaluations already holding
// an isolate are unaffected until they release it.
func (h *Host) Close() {
	h.pool.Close()
}

// callContext binds the per-evaluation state a pooled isolate's syscalls
// read while a reduction is in progress. It is cleared the moment the
// reduction returns the isolate to the pool, since puddle guarantees
// exclusive access between acquire and release.
type callContext struct {
	ctx  context.Context
	opId id.Id
	log  func(line string)
}

type isolate struct {
	vm   *goja.Runtime
	host *Host
	call *callContext
}

// newIsolate builds a fresh runtime and registers the closed syscall
// surface as a global `Tangram` object. No snapshot is restored and no
// global.js environment is loaded: every isolate starts from the bare
// registration below.
func (h *Host) newIsolate() (*isolate, error) {
	vm := goja.New()
	iso := &isolate{vm: vm, host: h}

	tangram := vm.NewObject()
	bindings := map[string]interface{}{
		"log":            iso.syscallLog,
		"load_module":    iso.syscallLoadModule,
		"resolve_module": iso.syscallResolveModule,
		"module_version": iso.syscallModuleVersion,
		"list_documents": iso.syscallListDocuments,
		"evaluate":       iso.syscallEvaluate,
		"add_object":     iso.syscallAddObject,
	}
	for name, fn := range bindings {
		if err := tangram.Set(name, fn); err != nil {
			return nil, tgerror.Wrap(err, "jshost: bind syscall %s", name)
		}
	}
	if err := vm.Set("Tangram", tangram); err != nil {
		return nil, tgerror.Wrap(err, "jshost: bind Tangram global")
	}
	return iso, nil
}
