package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Sandbox executes a single rendered task inside whatever isolation the
// active backend provides.
type Sandbox interface {
	// Exec builds the command for name/args, already rendered against this
	// backend's Paths(). env is the task's own declared environment,
	// layered on top of the sandbox contract vars (HOME, TANGRAM_PATH,
	// TANGRAM_PLACEHOLDER_OUTPUT, TANGRAM_SOCKET) and PATH.
	Exec(ctx context.Context, name string, args []string, env map[string]string) (*exec.Cmd, error)
	PostStart(pid int) error // apply rlimits etc. after process starts
	Destroy() error

	// Paths reports the sandbox-visible locations a caller must render
	// Artifact and Placeholder("output") template components against. They
	// diverge from Config's host paths exactly when the backend remounts
	// the world under a chroot (Linux); backends that run directly against
	// the host filesystem report the Config paths back unchanged.
	Paths() Paths
}

// Paths are the sandbox-visible mount roles a task's rendered command line
// must be built from, plus the reserved socket path the sandbox runtime
// contract promises via TANGRAM_SOCKET.
type Paths struct {
	Artifacts string
	Output    string
	Work      string
	Socket    string
}

// Backend selects which isolation mechanism New builds. Zero value (Auto)
// picks the platform-appropriate backend; Basic is the explicit opt-out an
// instance can set to run tasks unsandboxed.
type Backend int

const (
	Auto Backend = iota
	Basic
)

func (b Backend) String() string {
	if b == Basic {
		return "basic"
	}
	return "auto"
}

// ParseBackend parses an instance-configured backend name, defaulting to
// Auto for anything unrecognized.
func ParseBackend(s string) Backend {
	if strings.EqualFold(s, "basic") {
		return Basic
	}
	return Auto
}

// Config holds everything a task runner must supply to materialize a
// sandbox for one rendered task. ArtifactDir, OutputDir, and WorkDir are
// the three bind-mount roles a task sees: artifacts read-only, the
// declared output path read-write, and the working directory read-write.
type Config struct {
	Backend     Backend
	ArtifactDir string
	OutputDir   string
	WorkDir     string
	Network     bool
	Timeout     time.Duration
	CPULimit    time.Duration // RLIMIT_CPU (0 = no limit)
	MemLimit    uint64        // RLIMIT_AS / cgroup memory.max in bytes (0 = no limit)
	MaxFDs      uint32        // RLIMIT_NOFILE (0 = no limit)
}

// EnforcementError is returned when the host cannot enforce the requested
// isolation. There is no silent fallback to an unsandboxed run: a caller
// that wants that must set Config.Backend to Basic explicitly.
type EnforcementError struct {
	Gaps     []string
	Platform string
}

func (e *EnforcementError) Error() string {
	msg := "system incapable of enforcing sandbox: " + strings.Join(e.Gaps, ", ")
	if e.Platform != "" {
		msg += ". " + e.Platform
	}
	return msg
}

// New creates a sandbox for cfg. With Backend Basic it always succeeds; with
// Auto it tries the platform backend and reports an EnforcementError if that
// backend's preconditions (namespaces, Apple sandbox-exec, ...) aren't met.
func New(cfg Config) (Sandbox, error) {
	if cfg.Backend == Basic {
		return newBasic(cfg)
	}
	s, err := newPlatform(cfg)
	if err == nil {
		return s, nil
	}
	return nil, newEnforcementError(cfg, err)
}

func newEnforcementError(cfg Config, platformErr error) *EnforcementError {
	gaps := []string{"filesystem isolation", "process namespace isolation"}
	if !cfg.Network {
		gaps = append(gaps, "network isolation")
	}
	if cfg.CPULimit > 0 || cfg.MemLimit > 0 || cfg.MaxFDs > 0 {
		gaps = append(gaps, "resource limits")
	}
	return &EnforcementError{
		Gaps:     gaps,
		Platform: platformHelp() + fmt.Sprintf(" (%v)", platformErr),
	}
}

func platformHelp() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS: requires the sandbox-exec binary"
	case "linux":
		return "Linux: requires root or CAP_SYS_ADMIN for user namespaces"
	default:
		return fmt.Sprintf("platform %s: no sandbox backend available, select the basic backend", runtime.GOOS)
	}
}
