package tgerror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesKind(t *testing.T) {
	base := New(KindNotFound, "object %s missing", "blb_abc")
	wrapped := Wrap(base, "evaluate resource")
	assert.True(t, Is(wrapped, KindNotFound))
}

func TestWrapKindOverrides(t *testing.T) {
	base := New(KindIO, "read failed")
	wrapped := WrapKind(KindSandbox, base, "sandbox setup")
	assert.True(t, Is(wrapped, KindSandbox))
	assert.False(t, Is(wrapped, KindIO))
}

func TestUnwrapChain(t *testing.T) {
	base := New(KindChecksumMismatch, "mismatch")
	mid := Wrap(base, "verify output")
	top := Wrap(mid, "evaluate task")
	assert.True(t, errors.Is(top, top))
	lines := Chain(top)
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "evaluate task")
	assert.Contains(t, lines[2], "mismatch")
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindIO))
}
