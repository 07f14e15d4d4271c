package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/ehrlich-b/tangram-go/internal/logger"
)

// basicSandbox runs the task directly against its real artifact/output/work
// directories with no namespace or profile isolation. It still enforces the
// same mount-role layout and env contract as the platform backends, and the
// safety gates (network requires unsafe-or-checksum) are applied by the
// caller before Exec is ever reached — this backend is an explicit opt-out
// of isolation, not an opt-out of those gates.
type basicSandbox struct {
	cfg    Config
	tmpDir string
}

func newBasic(cfg Config) (Sandbox, error) {
	dir, err := os.MkdirTemp("", "tangram-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox tmpdir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "home"), 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox home: %w", err)
	}
	logger.Info("sandbox: basic backend selected, running unisolated", "work", cfg.WorkDir)
	return &basicSandbox{cfg: cfg, tmpDir: dir}, nil
}

func (s *basicSandbox) Exec(ctx context.Context, name string, args []string, env map[string]string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = s.buildEnv(env)
	cmd.SysProcAttr = &syscall.SysProcAttr{}
	return cmd, nil
}

// Paths reports the real host paths unchanged: this backend applies no
// isolation, so there is nothing to remount.
func (s *basicSandbox) Paths() Paths {
	return Paths{
		Artifacts: s.cfg.ArtifactDir,
		Output:    s.cfg.OutputDir,
		Work:      s.cfg.WorkDir,
		Socket:    filepath.Join(s.tmpDir, "socket"),
	}
}

func (s *basicSandbox) buildEnv(taskEnv map[string]string) []string {
	p := s.Paths()
	env := []string{
		"HOME=" + filepath.Join(s.tmpDir, "home"),
		"PATH=/usr/bin:/bin",
		"TANGRAM_PATH=" + filepath.Dir(p.Artifacts),
		"TANGRAM_PLACEHOLDER_OUTPUT=" + p.Output,
		"TANGRAM_SOCKET=" + p.Socket,
	}
	for k, v := range taskEnv {
		env = append(env, k+"="+v)
	}
	return env
}

func (s *basicSandbox) PostStart(pid int) error { return nil }

func (s *basicSandbox) Destroy() error {
	return os.RemoveAll(s.tmpDir)
}
