package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/stackctl/internal/core/manifest"
	"github.com/artpar/stackctl/internal/core/stack"
	"github.com/artpar/stackctl/internal/shell/backup"
	"github.com/artpar/stackctl/internal/shell/deploy"
	"github.com/artpar/stackctl/internal/shell/poller"
	"github.com/artpar/stackctl/internal/shell/preflight"
	"github.com/artpar/stackctl/internal/shell/runtime"
	"github.com/artpar/stackctl/internal/shell/validate"
)

// =============================================================================
// Application Wiring
// =============================================================================

// app holds one invocation's wired collaborators.
type app struct {
	cfg      *Config
	pipeline *deploy.Pipeline
	compose  *runtime.Compose
	closer   io.Closer
}

// Close flushes the invocation log file.
func (a *app) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// buildApp loads config, parses the manifest, and wires the pipeline.
func buildApp(configPath string) (*app, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, closer, err := SetupLogger(cfg, time.Now())
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(cfg.Project.Manifest)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("manifest not found: %s: %w", cfg.Project.Manifest, err)
	}
	stk, err := manifest.Parse(string(raw))
	if err != nil {
		closer.Close()
		return nil, err
	}

	registry := stack.BuildRegistry(stk, cfg.Project.Name, cfg.Poll.Defaults())

	compose := runtime.NewCompose(cfg.Project.Name, cfg.Project.Manifest, logger)
	client, err := runtime.NewClient(logger)
	if err != nil {
		closer.Close()
		return nil, err
	}

	validator := validate.New(validate.Config{
		PrimaryURL:     cfg.Checks.PrimaryURL,
		ModulesURL:     cfg.Checks.ModulesURL,
		APIService:     cfg.Checks.APIService,
		APIContainer:   stack.ContainerName(cfg.Project.Name, cfg.Checks.APIService),
		DatastoreProbe: cfg.Checks.DatastoreProbe,
		SchemaInit:     cfg.Checks.SchemaInit,
		TestSuite:      cfg.Checks.TestSuite,
	}, nil, compose, client, logger)

	pipeline := deploy.NewPipeline(deploy.Pipeline{
		Project:      cfg.Project.Name,
		ManifestPath: cfg.Project.Manifest,
		Registry:     registry,
		Endpoints:    cfg.Endpoints,
		LogDir:       cfg.Log.Dir,
		Pre:          preflight.NewChecker(cfg.Preflight.Tools, cfg.Project.Manifest, cfg.Preflight.MinFreeBytes(), logger),
		Backups:      backup.NewManager(cfg.Project.DataDir, cfg.Backup.Dir, cfg.Backup.Prefix, logger),
		Compose:      compose,
		Poller:       poller.New(client, logger),
		Checks:       validator,
		Runtime:      client,
		Logger:       logger,
	})

	return &app{cfg: cfg, pipeline: pipeline, compose: compose, closer: closer}, nil
}

// =============================================================================
// Commands
// =============================================================================

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "stackctl",
		Short: "Deploy and operate the service stack",
		Long: `stackctl drives the full lifecycle of a multi-service container
stack: deploy with pre-deploy backup and health gating, validate,
roll back, and clean up.`,
		// SilenceUsage keeps runtime failures from dumping usage text;
		// unknown verbs still print it.
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	// withApp wires the pipeline before the verb runs and flushes the
	// invocation log after.
	withApp := func(fn func(*cobra.Command, *app, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(cmd, a, args)
		}
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "deploy",
		Short: "Run the full deployment pipeline",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			_, err := a.pipeline.Deploy(cmd.Context())
			return err
		}),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Run the post-deploy validation checks against the running stack",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.pipeline.Health(cmd.Context())
		}),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show container states and service endpoints",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.pipeline.Status(cmd.Context())
		}),
	})

	logsCmd := &cobra.Command{
		Use:   "logs [service...]",
		Short: "Show service logs",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			follow, _ := cmd.Flags().GetBool("follow")
			tail, _ := cmd.Flags().GetInt("tail")
			return a.compose.Logs(cmd.Context(), args, follow, tail)
		}),
	}
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	logsCmd.Flags().Int("tail", 100, "Number of lines to show from the end of the logs")
	rootCmd.AddCommand(logsCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Restart the stack and re-run health gating",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.pipeline.RestartStack(cmd.Context())
		}),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the stack, keeping containers and volumes",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.pipeline.StopStack(cmd.Context())
		}),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "update",
		Short: "Pull newest images, rebuild, restart, and re-run health gating",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.pipeline.Update(cmd.Context())
		}),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Tear down the stack including volumes and prune runtime resources",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.pipeline.Cleanup(cmd.Context())
		}),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "rollback",
		Short: "Restore the data directory from the latest backup archive",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.pipeline.Rollback(cmd.Context())
		}),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stackctl %s (built %s)\n", Version, BuildTime)
		},
	})

	return rootCmd
}
