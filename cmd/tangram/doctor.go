package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/tangram-go/internal/sandbox"
	"github.com/ehrlich-b/tangram-go/internal/system"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check sandbox capability, instance paths, and registry reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Println("tangram doctor")
			fmt.Println()

			fmt.Println("Host:")
			if host, ok := system.Host(); ok {
				fmt.Printf("  system:           %s\n", host)
			} else {
				fmt.Println("  system:           unsupported (pass --host to build)")
			}
			fmt.Println()

			fmt.Println("Sandbox:")
			fmt.Printf("  configured:       %s\n", cfg.SandboxBackend)
			if gaps := probeSandbox(); gaps == "" {
				fmt.Println("  platform backend: available")
			} else {
				fmt.Printf("  platform backend: unavailable — %s\n", gaps)
				fmt.Println("  fallback:         set sandbox_backend to \"basic\" to run tasks unsandboxed")
			}
			fmt.Println()

			fmt.Println("Instance:")
			fmt.Printf("  data_dir:         %s\n", cfg.DataDir)
			dbPath := filepath.Join(cfg.DataDir, "objects.db")
			if _, err := os.Stat(dbPath); err == nil {
				fmt.Printf("  objects.db:       %s\n", dbPath)
			} else {
				fmt.Printf("  objects.db:       not created yet (%s)\n", dbPath)
			}
			fmt.Printf("  task_concurrency: %d\n", cfg.TaskConcurrency)
			fmt.Printf("  js_pool_size:     %d\n", cfg.JSPoolSize)
			fmt.Println()

			if cfg.RegistryURL != "" {
				fmt.Println("Registry:")
				if registryReachable(cfg.RegistryURL) {
					fmt.Printf("  %s reachable\n", cfg.RegistryURL)
				} else {
					fmt.Printf("  %s not reachable\n", cfg.RegistryURL)
				}
			}

			return nil
		},
	}
}

// probeSandbox attempts to construct the platform backend against throwaway
// directories. An empty return means the backend is usable.
func probeSandbox() string {
	tmp, err := os.MkdirTemp("", "tangram-doctor-")
	if err != nil {
		return err.Error()
	}
	defer os.RemoveAll(tmp)
	cfg := sandbox.Config{
		ArtifactDir: filepath.Join(tmp, "artifacts"),
		OutputDir:   filepath.Join(tmp, "output"),
		WorkDir:     filepath.Join(tmp, "work"),
	}
	for _, dir := range []string{cfg.ArtifactDir, cfg.OutputDir, cfg.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err.Error()
		}
	}
	sb, err := sandbox.New(cfg)
	if err != nil {
		return err.Error()
	}
	sb.Destroy()
	return ""
}

func registryReachable(baseURL string) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
