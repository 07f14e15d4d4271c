package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config is the merged view every layer contributes to: built-in defaults,
// then $TANGRAM_CONFIG (or ~/.config/tangram/config.json), then an
// instance-local tangram.json at the data directory root.
type Config struct {
	DataDir string `json:"data_dir,omitempty"`

	// SandboxBackend is one of "auto", "linux", "macos", "basic".
	SandboxBackend string `json:"sandbox_backend,omitempty"`

	TaskConcurrency int64 `json:"task_concurrency,omitempty"`
	FDConcurrency   int64 `json:"fd_concurrency,omitempty"`
	JSPoolSize      int32 `json:"js_pool_size,omitempty"`

	RegistryURL string `json:"registry_url,omitempty"`

	LogLevel string `json:"log_level,omitempty"`
	LogFile  string `json:"log_file,omitempty"`
}

type Manager struct {
	userConfig     *Config
	instanceConfig *Config
	merged         *Config
}

func NewManager() *Manager {
	return &Manager{
		userConfig:     &Config{},
		instanceConfig: &Config{},
		merged:         &Config{},
	}
}

// Load reads the user-level config (userConfigPath, typically
// $TANGRAM_CONFIG or ~/.config/tangram/config.json) and the instance-local
// tangram.json under dataDir, then merges them with built-in defaults.
func (m *Manager) Load(userConfigPath, dataDir string) error {
	if err := m.loadConfig(userConfigPath, m.userConfig); err != nil {
		return err
	}

	if dataDir != "" {
		instanceConfigPath := filepath.Join(dataDir, "tangram.json")
		if err := m.loadConfig(instanceConfigPath, m.instanceConfig); err != nil {
			return err
		}
	}

	m.mergeConfigs()

	return nil
}

func (m *Manager) loadConfig(path string, config *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	return json.Unmarshal(data, config)
}

func (m *Manager) mergeConfigs() {
	m.merged = &Config{
		DataDir:         m.getStringValue(m.userConfig.DataDir, m.instanceConfig.DataDir, defaultDataDir()),
		SandboxBackend:  m.getStringValue(m.userConfig.SandboxBackend, m.instanceConfig.SandboxBackend, "auto"),
		TaskConcurrency: m.getIntValue(m.userConfig.TaskConcurrency, m.instanceConfig.TaskConcurrency, 4),
		FDConcurrency:   m.getIntValue(m.userConfig.FDConcurrency, m.instanceConfig.FDConcurrency, 64),
		JSPoolSize:      int32(m.getIntValue(int64(m.userConfig.JSPoolSize), int64(m.instanceConfig.JSPoolSize), 4)),
		RegistryURL:     m.getStringValue(m.userConfig.RegistryURL, m.instanceConfig.RegistryURL, ""),
		LogLevel:        m.getStringValue(m.userConfig.LogLevel, m.instanceConfig.LogLevel, "info"),
		LogFile:         m.getStringValue(m.userConfig.LogFile, m.instanceConfig.LogFile, ""),
	}
}

func (m *Manager) getStringValue(user, instance, defaultValue string) string {
	if instance != "" {
		return instance
	}
	if user != "" {
		return user
	}
	return defaultValue
}

func (m *Manager) getIntValue(user, instance, defaultValue int64) int64 {
	if instance != 0 {
		return instance
	}
	if user != 0 {
		return user
	}
	return defaultValue
}

func (m *Manager) Get() *Config {
	return m.merged
}

// SaveUserConfig writes the currently loaded user-level layer back to path,
// creating its parent directory if needed.
func (m *Manager) SaveUserConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m.userConfig, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SaveInstanceConfig writes the currently loaded instance-level layer to
// tangram.json under dataDir.
func (m *Manager) SaveInstanceConfig(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m.instanceConfig, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dataDir, "tangram.json"), data, 0644)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tangram"
	}
	return filepath.Join(home, ".tangram")
}
