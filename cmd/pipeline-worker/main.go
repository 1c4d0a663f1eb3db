// Command pipeline-worker runs one worker instance of the job
// execution backbone described in spec.md: polling, atomic claiming,
// parallel pipeline invocation, heartbeats, stuck-job recovery,
// graceful shutdown, and deferred config reload. Configuration is
// entirely environment-variable driven (internal/config); the cobra
// `run` command exists for a conventional CLI surface, grounded on
// ChuLiYu-raft-recovery/internal/cli/cli.go's BuildCLI/buildRunCommand
// shape, adapted from a YAML-config multi-mode CLI down to a single
// `run` command with no flags of its own.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowforge/pipeline-worker/internal/app"
	"github.com/flowforge/pipeline-worker/internal/config"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
)

func main() {
	root := buildCLI()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "pipeline-worker",
		Short:   "Distributed job-processing worker for the analysis pipeline",
		Version: "1.0.0",
	}
	rootCmd.AddCommand(buildRunCommand())
	return rootCmd
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start polling, claiming, and executing jobs until a shutdown signal is received",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func run() error {
	bootstrapLog, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer bootstrapLog.Sync()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("configuration invalid, refusing to start", "error", err)
		return err
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log = log.With("worker_id", cfg.WorkerID(), "project_id", cfg.ProjectID)

	a, err := app.New(cfg, os.Exit, log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		log.Sync()
		return err
	}
	defer a.Close()

	log.Info("pipeline-worker starting", "poll_interval", cfg.PollInterval, "max_concurrent_jobs", cfg.MaxConcurrentJobs)
	code := a.Run(context.Background())
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
