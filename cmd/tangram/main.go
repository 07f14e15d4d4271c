package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/tangram-go/internal/config"
	"github.com/ehrlich-b/tangram-go/internal/core"
	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/logger"
	"github.com/ehrlich-b/tangram-go/internal/registryclient"
	"github.com/ehrlich-b/tangram-go/internal/resolver"
	"github.com/ehrlich-b/tangram-go/internal/sandbox"
	"github.com/ehrlich-b/tangram-go/internal/store"
	"github.com/ehrlich-b/tangram-go/internal/system"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

var dataDirFlag string

func main() {
	// Re-exec entry for the Linux sandbox wrapper: the task runner spawns
	// this same binary as "_sandbox_init" to build the mount namespace the
	// task runs inside. Never returns.
	if len(os.Args) > 1 && os.Args[1] == "_sandbox_init" {
		sandbox.SandboxInit(os.Args[2:])
		return
	}

	root := &cobra.Command{
		Use:          "tangram",
		Short:        "tangram — hermetic, content-addressed build engine",
		Long:         "Reduces build graphs described in JavaScript into deterministic artifacts by executing sandboxed processes whose inputs and outputs live in a content-addressed object store.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Instance data directory (default $TANGRAM_PATH or ~/.tangram)")

	root.AddCommand(
		buildCmd(),
		lockCmd(),
		gcCmd(),
		doctorCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the user layer, then reloads with the instance layer
// once the data directory is known. Precedence for the data directory:
// --data-dir flag, $TANGRAM_PATH, user config, built-in default.
func loadConfig() (*config.Config, error) {
	userPath, err := config.UserConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	dataDir := dataDirFlag
	if dataDir == "" {
		dataDir = os.Getenv("TANGRAM_PATH")
	}

	m := config.NewManager()
	if err := m.Load(userPath, dataDir); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dataDir == "" {
		dataDir = m.Get().DataDir
		if err := m.Load(userPath, dataDir); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	cfg := m.Get()
	cfg.DataDir = dataDir
	return cfg, nil
}

func initLogger(cfg *config.Config) error {
	return logger.Init(cfg.LogLevel, cfg.LogFile)
}

func openInstance(cfg *config.Config) (*core.Instance, error) {
	return core.New(core.Config{
		DataDir:         cfg.DataDir,
		SandboxBackend:  sandbox.ParseBackend(cfg.SandboxBackend),
		TaskConcurrency: cfg.TaskConcurrency,
		FDConcurrency:   cfg.FDConcurrency,
		JSPoolSize:      cfg.JSPoolSize,
		RegistryURL:     cfg.RegistryURL,
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printErrorChain renders the error chain top-down, one line per frame,
// before the command's non-zero exit.
func printErrorChain(err error) {
	for _, line := range tgerror.Chain(err) {
		fmt.Fprintf(os.Stderr, "error: %s\n", line)
	}
}

func buildCmd() *cobra.Command {
	var targetFlag string
	var moduleFlag string
	var hostFlag string

	cmd := &cobra.Command{
		Use:   "build [package-path]",
		Short: "Resolve a package and evaluate one of its targets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgPath := "."
			if len(args) > 0 {
				pkgPath = args[0]
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return err
			}

			host, ok := system.Host()
			if hostFlag != "" {
				host, ok = system.Parse(hostFlag)
				if !ok {
					return fmt.Errorf("unknown host system %q", hostFlag)
				}
			} else if !ok {
				return fmt.Errorf("unsupported host platform; pass --host explicitly")
			}

			executable, err := value.NewSubpath(strings.Split(moduleFlag, "/")...)
			if err != nil {
				return fmt.Errorf("invalid --module %q: %w", moduleFlag, err)
			}

			inst, err := openInstance(cfg)
			if err != nil {
				return err
			}
			defer inst.Close()

			ctx, stop := signalContext()
			defer stop()

			pkgId, lf, err := inst.Resolver.Resolve(ctx, pkgPath, ".")
			if err != nil {
				cmd.SilenceErrors = true
				printErrorChain(err)
				return err
			}
			if err := lf.Save(pkgPath); err != nil {
				return err
			}

			target := value.Target{
				Package:    pkgId,
				Name:       targetFlag,
				Host:       host,
				Executable: executable,
			}
			opId := value.Id(target)
			if err := inst.Store.Put(ctx, opId, value.Serialize(target)); err != nil {
				return err
			}

			b, err := inst.StartBuild()
			if err != nil {
				return err
			}
			defer b.Close()
			fmt.Printf("build %s: evaluating %s\n", b.Id(), opId)

			tail, logs, cancelLogs, err := b.LogStream(ctx)
			if err != nil {
				return err
			}
			os.Stdout.Write(tail)
			logsDone := make(chan struct{})
			logsQuit := make(chan struct{})
			go func() {
				defer close(logsDone)
				for {
					select {
					case chunk := <-logs:
						os.Stdout.Write(chunk)
					case <-logsQuit:
						// Drain whatever was buffered before the quit.
						for {
							select {
							case chunk := <-logs:
								os.Stdout.Write(chunk)
							default:
								return
							}
						}
					}
				}
			}()

			valueId, evalErr := inst.Evaluate(ctx, b, opId)
			cancelLogs()
			close(logsQuit)
			<-logsDone
			if evalErr != nil {
				cmd.SilenceErrors = true
				printErrorChain(evalErr)
				return evalErr
			}

			if err := inst.Store.PutAssignment(ctx, opId, b.Id()); err != nil {
				return err
			}
			fmt.Printf("built: %s\n", valueId)
			return nil
		},
	}
	cmd.Flags().StringVar(&targetFlag, "target", "default", "Exported target function to evaluate")
	cmd.Flags().StringVar(&moduleFlag, "module", "main.js", "Root module subpath within the package")
	cmd.Flags().StringVar(&hostFlag, "host", "", "Host system override (amd64_linux, arm64_linux, amd64_macos, arm64_macos, js)")
	return cmd
}

func lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock [package-path]",
		Short: "Resolve a package's dependency closure and write its lockfile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgPath := "."
			if len(args) > 0 {
				pkgPath = args[0]
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return err
			}
			if err := config.EnsureDataDir(cfg.DataDir); err != nil {
				return err
			}

			s, err := store.Open(filepath.Join(cfg.DataDir, "objects.db"))
			if err != nil {
				return err
			}
			defer s.Close()

			var registry resolver.Registry
			if cfg.RegistryURL != "" {
				registry = registryclient.New(registryclient.Config{BaseURL: cfg.RegistryURL})
			}
			r := resolver.New(s, resolver.ManifestDependencySource{}, registry)

			ctx, stop := signalContext()
			defer stop()

			pkgId, lf, err := r.Resolve(ctx, pkgPath, ".")
			if err != nil {
				cmd.SilenceErrors = true
				printErrorChain(err)
				return err
			}
			if err := lf.Save(pkgPath); err != nil {
				return err
			}
			fmt.Printf("locked: %s (%s)\n", pkgId, filepath.Join(pkgPath, resolver.LockfileName))
			return nil
		},
	}
}

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc [root-id...]",
		Short: "Sweep objects unreachable from memoized outputs and the given roots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return err
			}
			if err := config.EnsureDataDir(cfg.DataDir); err != nil {
				return err
			}

			s, err := store.Open(filepath.Join(cfg.DataDir, "objects.db"))
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signalContext()
			defer stop()

			roots, err := s.OutputRoots(ctx)
			if err != nil {
				return err
			}
			for _, arg := range args {
				i, err := id.ParseString(arg)
				if err != nil {
					return fmt.Errorf("invalid root id %q: %w", arg, err)
				}
				roots = append(roots, i)
			}

			res, err := s.GC(ctx, roots)
			if err != nil {
				cmd.SilenceErrors = true
				printErrorChain(err)
				return err
			}
			fmt.Printf("removed %d objects (%d roots)\n", res.ObjectsRemoved, len(roots))
			return nil
		},
	}
}
