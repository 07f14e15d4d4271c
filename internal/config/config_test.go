package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenNoFilesExist(t *testing.T) {
	dataDir := t.TempDir()
	m := NewManager()
	require.NoError(t, m.Load(filepath.Join(dataDir, "missing.json"), dataDir))

	cfg := m.Get()
	assert.Equal(t, "auto", cfg.SandboxBackend)
	assert.EqualValues(t, 4, cfg.TaskConcurrency)
	assert.EqualValues(t, 64, cfg.FDConcurrency)
	assert.EqualValues(t, 4, cfg.JSPoolSize)
}

func TestLoadInstanceConfigOverridesUserConfig(t *testing.T) {
	dataDir := t.TempDir()
	userPath := filepath.Join(dataDir, "user.json")
	require.NoError(t, os.WriteFile(userPath, []byte(`{"sandbox_backend":"linux","task_concurrency":8}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "tangram.json"), []byte(`{"sandbox_backend":"basic"}`), 0644))

	m := NewManager()
	require.NoError(t, m.Load(userPath, dataDir))

	cfg := m.Get()
	assert.Equal(t, "basic", cfg.SandboxBackend)
	assert.EqualValues(t, 8, cfg.TaskConcurrency)
}

func TestSaveInstanceConfigRoundTrips(t *testing.T) {
	dataDir := t.TempDir()
	m := NewManager()
	require.NoError(t, m.Load("", dataDir))
	m.instanceConfig.RegistryURL = "https://registry.example.com"
	require.NoError(t, m.SaveInstanceConfig(dataDir))

	m2 := NewManager()
	require.NoError(t, m2.Load("", dataDir))
	assert.Equal(t, "https://registry.example.com", m2.Get().RegistryURL)
}
