package value

import (
	"context"
	"testing"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	calls int
	data  map[id.Id]Value
}

func (f *fakeResolver) GetValue(_ context.Context, i id.Id) (Value, error) {
	f.calls++
	return f.data[i], nil
}

func TestHandleFromValueIdIsIdempotent(t *testing.T) {
	s := String("x")
	h := FromValue[String](s)
	a := h.Id()
	b := h.Id()
	assert.Equal(t, a, b)
	assert.True(t, h.HasValue())
}

func TestHandleFromIdResolvesOnce(t *testing.T) {
	s := String("resolved")
	i := Id(s)
	r := &fakeResolver{data: map[id.Id]Value{i: s}}
	h := FromId[String](i)
	assert.False(t, h.HasValue())

	v1, err := h.Value(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, s, v1)
	assert.Equal(t, 1, r.calls)

	v2, err := h.Value(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, s, v2)
	assert.Equal(t, 1, r.calls, "second Value() call must not re-resolve")
}
