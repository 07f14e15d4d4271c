package build

import (
	"context"
	"testing"
	"time"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuild(t *testing.T) *Build {
	t.Helper()
	b, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestAddChildAppendsInCallOrder(t *testing.T) {
	b := newTestBuild(t)
	c1 := id.NewRandom(id.KindTask)
	c2 := id.NewRandom(id.KindTask)

	b.AddChild(c1)
	b.AddChild(c2)

	existing, _, cancel := b.ChildrenStream()
	defer cancel()
	assert.Equal(t, []id.Id{c1, c2}, existing)
}

func TestChildrenStreamSeesExistingThenLive(t *testing.T) {
	b := newTestBuild(t)
	c1 := id.NewRandom(id.KindTask)
	b.AddChild(c1)

	existing, ch, cancel := b.ChildrenStream()
	defer cancel()
	require.Equal(t, []id.Id{c1}, existing)

	c2 := id.NewRandom(id.KindTask)
	b.AddChild(c2)

	select {
	case got := <-ch:
		assert.Equal(t, c2, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for child notification")
	}
}

func TestAddLogThenLogStreamReplaysTail(t *testing.T) {
	b := newTestBuild(t)
	require.NoError(t, b.AddLog([]byte("hello ")))
	require.NoError(t, b.AddLog([]byte("world")))

	tail, ch, cancel, err := b.LogStream(context.Background())
	require.NoError(t, err)
	defer cancel()
	assert.Equal(t, "hello world", string(tail))

	require.NoError(t, b.AddLog([]byte("!")))
	select {
	case chunk := <-ch:
		assert.Equal(t, "!", string(chunk))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log notification")
	}
}

func TestSetResultUnblocksAwaitResult(t *testing.T) {
	b := newTestBuild(t)
	want := id.NewRandom(id.KindTask)

	done := make(chan Result, 1)
	go func() {
		r, err := b.AwaitResult(context.Background())
		require.NoError(t, err)
		done <- r
	}()

	b.SetResult(want, nil)

	select {
	case r := <-done:
		assert.Equal(t, want, r.Value)
		assert.NoError(t, r.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for AwaitResult")
	}
}

func TestSetResultIsIdempotent(t *testing.T) {
	b := newTestBuild(t)
	first := id.NewRandom(id.KindTask)
	second := id.NewRandom(id.KindTask)

	b.SetResult(first, nil)
	b.SetResult(second, nil)

	r, err := b.AwaitResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, r.Value)
}

func TestAwaitResultRespectsContextCancellation(t *testing.T) {
	b := newTestBuild(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.AwaitResult(ctx)
	require.Error(t, err)
}
