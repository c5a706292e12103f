package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/importoor/pkg/api"
	"github.com/ethpandaops/importoor/pkg/artifact"
	"github.com/ethpandaops/importoor/pkg/changes"
	"github.com/ethpandaops/importoor/pkg/config"
	"github.com/ethpandaops/importoor/pkg/gateway"
	"github.com/ethpandaops/importoor/pkg/importer"
	"github.com/ethpandaops/importoor/pkg/metrics"
	"github.com/ethpandaops/importoor/pkg/report"
	"github.com/ethpandaops/importoor/pkg/spec"
	"github.com/ethpandaops/importoor/pkg/versionset"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRunCmd(log *logrus.Logger) *cobra.Command {
	var (
		configPath   string
		envFile      string
		outputPath   string
		failDegraded bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one import cycle",
		Long:  `Discover spec files, import them into the gateway and emit the run report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), log, configPath, envFile, outputPath, failDegraded)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to configuration file")
	cmd.Flags().StringVar(&envFile, "env-file", "",
		"Optional .env file loaded before the config is parsed")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "",
		"Write the run report JSON to this file in addition to stdout")
	cmd.Flags().BoolVar(&failDegraded, "fail-degraded", false,
		"Exit non-zero when any item finished with a non-200 status")

	return cmd
}

func runImport(
	ctx context.Context,
	log *logrus.Logger,
	configPath, envFile, outputPath string,
	failDegraded bool,
) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load environment before the config is parsed so ${VAR} expansion
	// sees the values.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
	}

	log.WithField("path", configPath).Info("Loading configuration")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Info("Configuration loaded:\n" + cfg.String())

	// Create metrics.
	m := metrics.New()
	m.SetBuildInfo(Version, GitCommit, BuildDate)

	// Start the ops endpoint if configured.
	if cfg.Server.MetricsListen != "" {
		srv := api.NewServer(log, cfg.Server.MetricsListen)

		if err := srv.Start(ctx); err != nil {
			return err
		}

		defer srv.Stop()
	}

	// Create and start the gateway client. Bad credentials fail the run
	// before any item is dispatched.
	gw := gateway.NewAzureClient(log, cfg.Gateway, m)

	if err := gw.Start(ctx); err != nil {
		return err
	}

	defer gw.Stop()

	// Discover candidate files.
	files, err := discoverFiles(ctx, log, cfg)
	if err != nil {
		return err
	}

	// Create the artifact uploader if enabled.
	var uploader artifact.Uploader

	if cfg.Artifacts.Enabled {
		uploader, err = artifact.NewS3Uploader(log, cfg.Artifacts)
		if err != nil {
			return err
		}
	}

	// Wire the import pipeline.
	sets := versionset.NewManager(log, gw, m)

	exec := importer.NewExecutor(log, gw, sets, importer.RetryPolicy{
		MaxAttempts: cfg.Import.MaxRetries,
		Backoff:     cfg.Import.Backoff,
	}, m)

	orch := importer.NewOrchestrator(log, exec, uploader, m,
		cfg.Import.Concurrency, cfg.Import.ItemTimeout)

	// Execute the run and render the report.
	run := orch.Run(ctx, files)

	return emitReport(log, run, outputPath, failDegraded)
}

// discoverFiles builds the candidate set for the configured mode. An empty
// set is a valid terminal state, not an error.
func discoverFiles(ctx context.Context, log *logrus.Logger, cfg *config.Config) ([]string, error) {
	disc := spec.NewDiscovery(log, cfg.Import.SpecsDir, cfg.Import.Extensions)

	if cfg.Import.Mode == config.ModeAll {
		return disc.DiscoverAll()
	}

	var detector changes.Detector

	switch cfg.Changes.Source {
	case config.ChangeSourceGit:
		detector = changes.NewGitDetector(log, cfg.Changes.RepoPath)
	case config.ChangeSourceGitHub:
		detector = changes.NewGitHubDetector(log,
			cfg.Changes.GitHub.Token,
			cfg.Changes.GitHub.Owner,
			cfg.Changes.GitHub.Repo,
			cfg.Changes.GitHub.SHA)
	default:
		return nil, fmt.Errorf("unsupported change source: %s", cfg.Changes.Source)
	}

	return disc.DiscoverChanged(ctx, detector)
}

// emitReport renders the summary to stdout and optionally to a file.
func emitReport(log *logrus.Logger, run *report.Run, outputPath string, failDegraded bool) error {
	summary := run.Summarize()

	data, err := summary.JSON()
	if err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}

	fmt.Println(string(data))

	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("writing report file: %w", err)
		}

		log.WithField("path", outputPath).Info("Run report written")
	}

	if summary.Degraded {
		log.WithFields(logrus.Fields{
			"imported": summary.Imported,
			"failed":   summary.Failed,
		}).Warn("Run finished degraded")

		if failDegraded {
			return fmt.Errorf("%d of %d items failed", summary.Failed, summary.Total)
		}

		return nil
	}

	log.WithField("imported", summary.Imported).Info("Run finished")

	return nil
}
