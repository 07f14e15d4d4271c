package evaluator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/system"
	"github.com/ehrlich-b/tangram-go/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory ObjectStore for evaluator tests: just
// enough of the real store's contract (value lookup, output memoization)
// without pulling in sqlite.
type memStore struct {
	mu      sync.Mutex
	objects map[id.Id]value.Value
	outputs map[id.Id]id.Id
}

func newMemStore() *memStore {
	return &memStore{objects: map[id.Id]value.Value{}, outputs: map[id.Id]id.Id{}}
}

func (s *memStore) put(v value.Value) id.Id {
	i := value.Id(v)
	s.mu.Lock()
	s.objects[i] = v
	s.mu.Unlock()
	return i
}

func (s *memStore) GetValue(ctx context.Context, i id.Id) (value.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.objects[i]
	if !ok {
		return nil, assert.AnError
	}
	return v, nil
}

func (s *memStore) GetOutput(ctx context.Context, op id.Id) (id.Id, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.outputs[op]
	return v, ok, nil
}

func (s *memStore) PutOutput(ctx context.Context, op, v id.Id) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[op] = v
	return nil
}

type memEdges struct {
	mu    sync.Mutex
	edges map[[2]id.Id]bool
}

func newMemEdges() *memEdges { return &memEdges{edges: map[[2]id.Id]bool{}} }

func (e *memEdges) RecordOperationEdge(ctx context.Context, parent, child id.Id) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edges[[2]id.Id{parent, child}] = true
	return nil
}

// countingTaskReducer counts every invocation and returns a fixed output
// (or error) after an optional artificial delay, so tests can assert how
// many times Evaluate actually reduced an op.
type countingTaskReducer struct {
	calls  int32
	delay  time.Duration
	output id.Id
	err    error
}

func (r *countingTaskReducer) ReduceTask(ctx context.Context, opId id.Id, task value.Task) (id.Id, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return id.Id{}, r.err
	}
	return r.output, nil
}

func sampleTask(name string) value.Task {
	return value.Task{
		Host:       system.AMD64Linux,
		Executable: value.Template{Components: []value.Component{value.StringComponent("/bin/" + name)}},
		Args:       []value.Template{{Components: []value.Component{value.StringComponent(name)}}},
	}
}

func sampleOutputBlob(contents string) (id.Id, value.Value) {
	leaf := value.LeafBlob{Data: []byte(contents)}
	return value.Id(leaf), leaf
}

func TestEvaluateMemoizesOutput(t *testing.T) {
	store := newMemStore()
	outId, outVal := sampleOutputBlob("result")
	store.objects[outId] = outVal

	task := sampleTask("echo")
	opId := store.put(task)

	reducer := &countingTaskReducer{output: outId}
	ev := New(store, newMemEdges(), Reducers{Tasks: reducer}, 4)

	ctx := context.Background()
	got1, err := ev.Evaluate(ctx, opId, id.Id{})
	require.NoError(t, err)
	assert.Equal(t, outId, got1)

	got2, err := ev.Evaluate(ctx, opId, id.Id{})
	require.NoError(t, err)
	assert.Equal(t, outId, got2)

	assert.Equal(t, int32(1), atomic.LoadInt32(&reducer.calls), "a memoized op must not be reduced twice")
}

func TestEvaluateConcurrentCallersRunReductionOnce(t *testing.T) {
	store := newMemStore()
	outId, outVal := sampleOutputBlob("concurrent-result")
	store.objects[outId] = outVal

	opId := store.put(sampleTask("build"))
	reducer := &countingTaskReducer{output: outId, delay: 50 * time.Millisecond}
	ev := New(store, newMemEdges(), Reducers{Tasks: reducer}, 8)

	ctx := context.Background()
	const callers = 100
	results := make([]id.Id, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i], errs[i] = ev.Evaluate(ctx, opId, id.Id{})
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, outId, results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&reducer.calls), "concurrent evaluations of the same op must run the body exactly once")
}

func TestEvaluateFailureIsNotMemoized(t *testing.T) {
	store := newMemStore()
	opId := store.put(sampleTask("fails"))
	reducer := &countingTaskReducer{err: assert.AnError}
	ev := New(store, newMemEdges(), Reducers{Tasks: reducer}, 4)

	ctx := context.Background()
	_, err := ev.Evaluate(ctx, opId, id.Id{})
	assert.Error(t, err)

	_, err = ev.Evaluate(ctx, opId, id.Id{})
	assert.Error(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&reducer.calls), "a failed evaluation must be retried, not memoized")
}

func TestEvaluateRecordsParentEdge(t *testing.T) {
	store := newMemStore()
	outId, outVal := sampleOutputBlob("child-output")
	store.objects[outId] = outVal

	opId := store.put(sampleTask("child"))
	parentId := id.HashBlake3(id.KindTask, []byte("parent"))

	edges := newMemEdges()
	reducer := &countingTaskReducer{output: outId}
	ev := New(store, edges, Reducers{Tasks: reducer}, 4)

	_, err := ev.Evaluate(context.Background(), opId, parentId)
	require.NoError(t, err)

	edges.mu.Lock()
	defer edges.mu.Unlock()
	assert.True(t, edges.edges[[2]id.Id{parentId, opId}])
}

func TestEvaluateUnconfiguredReducerErrors(t *testing.T) {
	store := newMemStore()
	opId := store.put(sampleTask("unreachable"))
	ev := New(store, newMemEdges(), Reducers{}, 4)

	_, err := ev.Evaluate(context.Background(), opId, id.Id{})
	assert.Error(t, err)
}

func TestEvaluateConcurrencyCeilingSerializesTaskReductions(t *testing.T) {
	store := newMemStore()
	const tasks = 6
	opIds := make([]id.Id, tasks)
	for i := range opIds {
		outId, outVal := sampleOutputBlob("distinct-output")
		store.objects[outId] = outVal
		opIds[i] = store.put(sampleTask("task" + string(rune('a'+i))))
	}

	var inFlight int32
	var maxInFlight int32
	reducer := &trackingTaskReducer{
		inFlight:    &inFlight,
		maxInFlight: &maxInFlight,
		delay:       30 * time.Millisecond,
	}
	ev := New(store, newMemEdges(), Reducers{Tasks: reducer}, 2)

	var wg sync.WaitGroup
	wg.Add(len(opIds))
	for _, op := range opIds {
		op := op
		go func() {
			defer wg.Done()
			_, err := ev.Evaluate(context.Background(), op, id.Id{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2), "concurrency ceiling must bound simultaneous task reductions")
}

type trackingTaskReducer struct {
	inFlight    *int32
	maxInFlight *int32
	delay       time.Duration
}

func (r *trackingTaskReducer) ReduceTask(ctx context.Context, opId id.Id, task value.Task) (id.Id, error) {
	cur := atomic.AddInt32(r.inFlight, 1)
	defer atomic.AddInt32(r.inFlight, -1)
	for {
		prev := atomic.LoadInt32(r.maxInFlight)
		if cur <= prev || atomic.CompareAndSwapInt32(r.maxInFlight, prev, cur) {
			break
		}
	}
	time.Sleep(r.delay)
	return value.Id(value.LeafBlob{Data: []byte(opId.String())}), nil
}
