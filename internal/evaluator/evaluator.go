// Package evaluator implements the memoized reduce of an operation id to a
// value id: outputs are cached by construction, and two concurrent callers
// evaluating the same operation observe the work run exactly once.
package evaluator

import (
	"context"
	"sync"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
	"golang.org/x/sync/semaphore"
)

// ObjectStore is the subset of the store an evaluator needs: value
// resolution plus the memoization table.
type ObjectStore interface {
	value.Resolver
	GetOutput(ctx context.Context, op id.Id) (id.Id, bool, error)
	PutOutput(ctx context.Context, op, value id.Id) error
}

// EdgeRecorder records the parent -> child relationship between two
// operation evaluations, so a build's live child graph can be
// reconstructed. A recording error aborts the Evaluate call that attempted
// it, before any memoized output is consulted.
type EdgeRecorder interface {
	RecordOperationEdge(ctx context.Context, parent, child id.Id) error
}

// TaskReducer reduces a rendered task to its output value.
type TaskReducer interface {
	ReduceTask(ctx context.Context, opId id.Id, task value.Task) (id.Id, error)
}

// TargetReducer reduces a target invocation by running its JS function.
type TargetReducer interface {
	ReduceTarget(ctx context.Context, opId id.Id, target value.Target) (id.Id, error)
}

// ResourceReducer fetches and checks in a remote resource.
type ResourceReducer interface {
	ReduceResource(ctx context.Context, opId id.Id, resource value.Resource) (id.Id, error)
}

// Reducers wires the three operation kinds an Evaluator dispatches to. Any
// field may be nil if that operation kind is never evaluated by the calling
// process (e.g. a worker that only runs tasks); dispatching to a nil
// reducer is a typed error, not a panic.
type Reducers struct {
	Tasks     TaskReducer
	Targets   TargetReducer
	Resources ResourceReducer
}

type inFlightEntry struct {
	done  chan struct{}
	value id.Id
	err   error
}

// Evaluator is the process-wide in-flight map and concurrency ceiling
// for operation reduction.
type Evaluator struct {
	store    ObjectStore
	edges    EdgeRecorder
	reducers Reducers
	sem      *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[id.Id]*inFlightEntry
}

// New builds an Evaluator. maxConcurrency bounds the number of simultaneous
// task/resource reductions in flight at once; target reductions (which hold
// a JS isolate, not an OS process or network connection) are not counted
// against it. edges may be nil if the caller does not need a build's child
// graph recorded.
func New(store ObjectStore, edges EdgeRecorder, reducers Reducers, maxConcurrency int64) *Evaluator {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Evaluator{
		store:    store,
		edges:    edges,
		reducers: reducers,
		sem:      semaphore.NewWeighted(maxConcurrency),
		inFlight: map[id.Id]*inFlightEntry{},
	}
}

// Evaluate reduces opId to a value id, memoizing the result and collapsing
// concurrent callers onto a single in-flight reduction. parentOpId, if
// non-zero, is recorded as the edge that caused opId to be evaluated.
func (e *Evaluator) Evaluate(ctx context.Context, opId, parentOpId id.Id) (id.Id, error) {
	if !parentOpId.IsZero() && e.edges != nil {
		if err := e.edges.RecordOperationEdge(ctx, parentOpId, opId); err != nil {
			return id.Id{}, err
		}
	}

	if valueId, ok, err := e.store.GetOutput(ctx, opId); err != nil {
		return id.Id{}, err
	} else if ok {
		return valueId, nil
	}

	e.mu.Lock()
	if entry, ok := e.inFlight[opId]; ok {
		e.mu.Unlock()
		return awaitEntry(ctx, entry)
	}
	entry := &inFlightEntry{done: make(chan struct{})}
	e.inFlight[opId] = entry
	e.mu.Unlock()

	// The producer runs on its own goroutine, detached from the caller's
	// cancellation: dropping any caller — the one that installed the entry
	// included — abandons only that caller's wait, never the reduction
	// itself. The producer is the sole owner of entry until it closes
	// entry.done and the only one permitted to delete the map entry.
	go e.produce(context.WithoutCancel(ctx), opId, entry)
	return awaitEntry(ctx, entry)
}

func (e *Evaluator) produce(ctx context.Context, opId id.Id, entry *inFlightEntry) {
	valueId, err := e.reduce(ctx, opId)
	if err == nil {
		// Persist before the in-flight entry is released: a caller that
		// misses the entry must always find the memoized output instead.
		err = e.store.PutOutput(ctx, opId, valueId)
	}

	// Broadcast and map removal happen under one lock acquisition so
	// there is no window in which a second caller sees neither an
	// in-flight entry nor a recorded result.
	e.mu.Lock()
	if err != nil {
		entry.err = err
	} else {
		entry.value = valueId
	}
	close(entry.done)
	delete(e.inFlight, opId)
	e.mu.Unlock()
}

// awaitEntry waits for either the producer to finish or ctx to cancel. A
// cancelled subscriber simply stops waiting; it never touches entry or the
// in-flight map, which remain the producer's responsibility.
func awaitEntry(ctx context.Context, entry *inFlightEntry) (id.Id, error) {
	select {
	case <-entry.done:
		return entry.value, entry.err
	case <-ctx.Done():
		return id.Id{}, tgerror.WrapKind(tgerror.KindCancellation, ctx.Err(), "evaluator: wait for in-flight evaluation")
	}
}

func (e *Evaluator) reduce(ctx context.Context, opId id.Id) (id.Id, error) {
	v, err := e.store.GetValue(ctx, opId)
	if err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindInvalid, err, "evaluator: load operation %s", opId)
	}

	switch op := v.(type) {
	case value.Resource:
		if e.reducers.Resources == nil {
			return id.Id{}, tgerror.New(tgerror.KindInvalid, "evaluator: %s: no resource reducer configured", opId)
		}
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return id.Id{}, tgerror.WrapKind(tgerror.KindCancellation, err, "evaluator: acquire concurrency slot for %s", opId)
		}
		defer e.sem.Release(1)
		valueId, err := e.reducers.Resources.ReduceResource(ctx, opId, op)
		if err != nil {
			return id.Id{}, wrapReductionError(tgerror.KindIO, err, opId)
		}
		return valueId, nil

	case value.Task:
		if e.reducers.Tasks == nil {
			return id.Id{}, tgerror.New(tgerror.KindInvalid, "evaluator: %s: no task reducer configured", opId)
		}
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return id.Id{}, tgerror.WrapKind(tgerror.KindCancellation, err, "evaluator: acquire concurrency slot for %s", opId)
		}
		defer e.sem.Release(1)
		valueId, err := e.reducers.Tasks.ReduceTask(ctx, opId, op)
		if err != nil {
			return id.Id{}, wrapReductionError(tgerror.KindSandbox, err, opId)
		}
		return valueId, nil

	case value.Target:
		if e.reducers.Targets == nil {
			return id.Id{}, tgerror.New(tgerror.KindInvalid, "evaluator: %s: no target reducer configured", opId)
		}
		valueId, err := e.reducers.Targets.ReduceTarget(ctx, opId, op)
		if err != nil {
			return id.Id{}, wrapReductionError(tgerror.KindJSRuntime, err, opId)
		}
		return valueId, nil

	default:
		return id.Id{}, tgerror.New(tgerror.KindInvalid, "evaluator: %s is not an operation", opId)
	}
}

// wrapReductionError pins the failure's Kind to the reducer that produced
// it unless the reducer already returned a more specific tgerror.Error
// (e.g. a sandbox reducer distinguishing KindChecksumMismatch from
// KindProcessExit).
func wrapReductionError(fallback tgerror.Kind, err error, opId id.Id) error {
	if tgerror.Is(err, fallback) {
		return err
	}
	var existing *tgerror.Error
	if e, ok := err.(*tgerror.Error); ok {
		existing = e
	}
	if existing != nil && existing.Kind != tgerror.KindUnknown {
		return err
	}
	return tgerror.WrapKind(fallback, err, "evaluator: reduce %s", opId)
}
