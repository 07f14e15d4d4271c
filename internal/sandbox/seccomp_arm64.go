//go:build linux && arm64

package sandbox

// x86-only syscalls (iopl, ioperm, modify_ldt) don't exist on arm64.
var deniedSyscallsArch = []uint32{}
