package system

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStringRoundTrip(t *testing.T) {
	for _, s := range []System{AMD64Linux, ARM64Linux, AMD64Macos, ARM64Macos, JS} {
		parsed, ok := Parse(s.String())
		assert.True(t, ok)
		assert.Equal(t, s, parsed)
	}
}

func TestParseUnknown(t *testing.T) {
	_, ok := Parse("riscv64_plan9")
	assert.False(t, ok)
}

func TestIsMacosIsLinux(t *testing.T) {
	assert.True(t, AMD64Macos.IsMacos())
	assert.True(t, ARM64Macos.IsMacos())
	assert.False(t, AMD64Linux.IsMacos())
	assert.True(t, AMD64Linux.IsLinux())
	assert.True(t, ARM64Linux.IsLinux())
	assert.False(t, JS.IsLinux())
	assert.False(t, JS.IsMacos())
}

func TestHostMatchesRuntime(t *testing.T) {
	s, ok := Host()
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		assert.False(t, ok)
		return
	}
	assert.True(t, ok)
	if runtime.GOOS == "linux" {
		assert.True(t, s.IsLinux())
	} else {
		assert.True(t, s.IsMacos())
	}
}
