package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ehrlich-b/tangram-go/internal/sandbox"
	"github.com/ehrlich-b/tangram-go/internal/store"
	"github.com/ehrlich-b/tangram-go/internal/system"
	"github.com/ehrlich-b/tangram-go/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRunner(t *testing.T, s *store.Store) *Runner {
	t.Helper()
	dataDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "tmp"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "artifacts"), 0o755))
	cfg := Config{DataDir: dataDir, Backend: sandbox.Basic}
	return NewRunner(s, cfg, nil)
}

func hostTask(args ...string) value.Task {
	host, _ := system.Host()
	argTpls := make([]value.Template, 0, len(args))
	for _, a := range args {
		argTpls = append(argTpls, value.Template{Components: []value.Component{value.StringComponent(a)}})
	}
	return value.Task{
		Host:       host,
		Executable: value.Template{Components: []value.Component{value.StringComponent(args[0])}},
		Args:       argTpls[1:],
	}
}

func TestReduceTaskRunsCommandAndChecksInOutput(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	t0 := hostTask("sh", "-c", "echo -n hi > \"$TANGRAM_PLACEHOLDER_OUTPUT\"")
	outId, err := r.ReduceTask(ctx, value.Id(t0), t0)
	require.NoError(t, err)

	v, err := s.GetValue(ctx, outId)
	require.NoError(t, err)
	file, ok := v.(value.File)
	require.True(t, ok, "expected a File result, got %T", v)
	assert.False(t, file.Executable)
}

func TestReduceTaskMissingOutputYieldsNull(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	t0 := hostTask("true")
	outId, err := r.ReduceTask(ctx, value.Id(t0), t0)
	require.NoError(t, err)
	assert.Equal(t, value.Id(value.Null{}), outId)
}

func TestReduceTaskNonZeroExitIsProcessExitError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	t0 := hostTask("sh", "-c", "exit 3")
	_, err := r.ReduceTask(ctx, value.Id(t0), t0)
	require.Error(t, err)
}

func TestReduceTaskNetworkWithoutUnsafeOrChecksumIsRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	t0 := hostTask("true")
	t0.Network = true
	_, err := r.ReduceTask(ctx, value.Id(t0), t0)
	require.Error(t, err)
}

func TestReduceTaskNetworkAllowedWithUnsafe(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	t0 := hostTask("true")
	t0.Network = true
	t0.Unsafe = true
	_, err := r.ReduceTask(ctx, value.Id(t0), t0)
	require.NoError(t, err)
}

func TestReduceTaskRejectsMismatchedHost(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	t0 := hostTask("true")
	host, _ := system.Host()
	if host == system.AMD64Linux {
		t0.Host = system.ARM64Macos
	} else {
		t0.Host = system.AMD64Linux
	}
	_, err := r.ReduceTask(ctx, value.Id(t0), t0)
	require.Error(t, err)
}

func TestReduceTaskChecksumMismatchFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := newRunner(t, s)

	t0 := hostTask("sh", "-c", "echo -n hi > \"$TANGRAM_PLACEHOLDER_OUTPUT\"")
	t0.Checksum = &value.Checksum{Algorithm: value.ChecksumSHA256, Value: "not-the-real-hash"}
	_, err := r.ReduceTask(ctx, value.Id(t0), t0)
	require.Error(t, err)
}
