package sandbox

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseBackendRoundTrip(t *testing.T) {
	if got := ParseBackend("basic"); got != Basic {
		t.Errorf("ParseBackend(basic) = %v, want Basic", got)
	}
	if got := ParseBackend("BASIC"); got != Basic {
		t.Errorf("ParseBackend(BASIC) = %v, want Basic (case-insensitive)", got)
	}
	if got := ParseBackend("bogus"); got != Auto {
		t.Errorf("ParseBackend(bogus) = %v, want Auto", got)
	}
}

func newBasicDirs(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		Backend:     Basic,
		ArtifactDir: filepath.Join(root, "artifacts"),
		OutputDir:   filepath.Join(root, "output"),
		WorkDir:     filepath.Join(root, "work"),
	}
	for _, d := range []string{cfg.ArtifactDir, cfg.OutputDir, cfg.WorkDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	return cfg
}

func TestBasicBackendExecEcho(t *testing.T) {
	cfg := newBasicDirs(t)
	sb, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Destroy()

	cmd, err := sb.Exec(context.Background(), "echo", []string{"hello"}, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := out.String(); got != "hello\n" {
		t.Errorf("output = %q, want %q", got, "hello\n")
	}
}

func TestBasicBackendWorkingDir(t *testing.T) {
	cfg := newBasicDirs(t)
	sb, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Destroy()

	cmd, err := sb.Exec(context.Background(), "pwd", nil, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantDir, _ := filepath.EvalSymlinks(cfg.WorkDir)
	gotDir, _ := filepath.EvalSymlinks(string(bytes.TrimSpace(out.Bytes())))
	if gotDir != wantDir {
		t.Errorf("pwd = %q, want %q", gotDir, wantDir)
	}
}

func TestBasicBackendEnv(t *testing.T) {
	cfg := newBasicDirs(t)
	sb, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Destroy()
	bs := sb.(*basicSandbox)
	env := bs.buildEnv(map[string]string{"CC": "gcc"})
	want := map[string]bool{
		"CC=gcc": false,
		"TANGRAM_PLACEHOLDER_OUTPUT=" + cfg.OutputDir: false,
		"TANGRAM_PATH=" + filepath.Dir(cfg.ArtifactDir): false,
	}
	for _, e := range env {
		if _, ok := want[e]; ok {
			want[e] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("buildEnv() = %v, missing %q", env, k)
		}
	}
}

func TestBasicBackendPathsMatchHostDirs(t *testing.T) {
	cfg := newBasicDirs(t)
	sb, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Destroy()
	p := sb.Paths()
	if p.Artifacts != cfg.ArtifactDir || p.Output != cfg.OutputDir || p.Work != cfg.WorkDir {
		t.Errorf("Paths() = %+v, want host dirs from %+v", p, cfg)
	}
}

func TestBasicBackendDestroyRemovesTmpDir(t *testing.T) {
	cfg := newBasicDirs(t)
	sb, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bs := sb.(*basicSandbox)
	dir := bs.tmpDir
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("tmpdir should exist: %v", err)
	}
	if err := sb.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("tmpdir should be removed after Destroy, got err: %v", err)
	}
}

func TestEnforcementErrorMessageListsGaps(t *testing.T) {
	err := newEnforcementError(Config{}, os.ErrPermission)
	if len(err.Gaps) == 0 {
		t.Fatal("expected at least one gap")
	}
	if err.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}
