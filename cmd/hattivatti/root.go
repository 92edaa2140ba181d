package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hattivatti/config"
	"hattivatti/core/executor"
	"hattivatti/core/monitoring"
	"hattivatti/core/pipeline"
	"hattivatti/core/render"
	"hattivatti/core/repository"
	"hattivatti/core/schema"
	"hattivatti/providers/aws"
	"hattivatti/storage"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// errLogged marks failures already written to the configured logger
var errLogged = errors.New("logged")

type flags struct {
	configFile string
	schemaDir  string
	workDir    string
	namespace  string
	metrics    string
	dryRun     bool
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "hattivatti",
		Short: "Submit queued INTERVENE pipeline requests to SLURM",
		Long: `hattivatti reads job request messages from the INTERVENE object store queue,
validates them against the job request JSON schema and records them in a local
SQLite database. Every valid job that was not submitted yet is rendered into a
job bundle in the working directory and submitted with sbatch.

With --dry-run all database changes are rolled back, no queue messages are
deleted and nothing is submitted. Job bundles are still rendered.

Environment:
  AWS_ACCESS_KEY_ID       object store access key (required)
  AWS_SECRET_ACCESS_KEY   object store secret key (required)
  HATTIVATTI_LOG          log level: trace, debug, info, warn, error (default info)`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			logger := config.NewWriterLogger(cfg.LogLevel, cmd.ErrOrStderr())
			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error().Err(err).Msg("hattivatti failed")
				return fmt.Errorf("%w: %w", errLogged, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.configFile, "config", "", "optional YAML configuration file")
	cmd.Flags().StringVar(&f.schemaDir, "schema-dir", "", "directory containing api.json and the schemas it references")
	cmd.Flags().StringVar(&f.workDir, "work-dir", "", "working directory for the database and job bundles")
	cmd.Flags().StringVar(&f.namespace, "namespace", "", "platform namespace selecting the queue bucket (dev, test, prod)")
	cmd.Flags().StringVar(&f.metrics, "metrics-file", "", "write run metrics to this file in the Prometheus textfile format")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "roll back database changes and do not delete or submit anything")
	cmd.MarkFlagRequired("schema-dir")
	cmd.MarkFlagRequired("work-dir")

	return cmd
}

// loadConfig layers CLI flags over the config file and environment
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}

	cfg.SchemaDir = f.schemaDir
	cfg.WorkDir = f.workDir
	cfg.DryRun = f.dryRun
	if cmd.Flags().Changed("namespace") {
		cfg.Namespace = f.namespace
	}
	if cmd.Flags().Changed("metrics-file") {
		cfg.MetricsFile = f.metrics
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	logger.Info().Str("version", version).Bool("dry_run", cfg.DryRun).Msg("Starting hattivatti")

	wd, err := storage.NewWorkingDirectory(cfg.WorkDir)
	if err != nil {
		return err
	}

	db, err := repository.Open(ctx, wd.File(config.DatabaseFile), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	validator, err := schema.Load(cfg.SchemaDir)
	if err != nil {
		return err
	}

	source, err := aws.NewClient(ctx, aws.Options{
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		Bucket:          cfg.Bucket(),
		Prefix:          cfg.Prefix,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	}, logger)
	if err != nil {
		return err
	}

	renderer, err := render.New(render.Options{
		WorkDir:     wd.Path(),
		JobTime:     cfg.JobTime,
		PgscCalcDir: cfg.PgscCalcDir,
		GlobusPath:  cfg.GlobusPath,
	})
	if err != nil {
		return fmt.Errorf("failed to load job templates: %w", err)
	}

	jobs := repository.NewJobRepository(db)
	p := pipeline.New(pipeline.Config{
		Source:    source,
		Jobs:      jobs,
		Store:     db,
		Validator: validator,
		Renderer:  renderer,
		Submitter: executor.NewSbatch(cfg.SbatchPath),
		WorkDir:   wd,
		DryRun:    cfg.DryRun,
		Logger:    logger,
	})

	summary, err := p.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info().
		Str("run_id", summary.RunID).
		Int("listed", summary.Listed).
		Int("ingested", summary.Ingested).
		Int("invalid", summary.Invalid).
		Int("duplicates", summary.Duplicates).
		Int("rendered", summary.Rendered).
		Int("submitted", summary.Submitted).
		Int("failed", summary.Failed).
		Msg("Finished")

	if cfg.MetricsFile != "" {
		writeMetrics(ctx, cfg, summary, jobs, logger)
	}
	return nil
}

// writeMetrics exports the run summary and store totals. Failures are logged only.
func writeMetrics(ctx context.Context, cfg *config.Config, summary *pipeline.Summary, jobs *repository.JobRepository, logger *log.Logger) {
	stored, err := jobs.ListJobs(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Can't read store for metrics")
		return
	}

	exporter := monitoring.NewMetricsExporter()
	exporter.Record(summary, stored, cfg.DryRun, time.Now())
	if err := exporter.WriteFile(cfg.MetricsFile); err != nil {
		logger.Warn().Err(err).Msg("Can't write metrics")
		return
	}
	logger.Debug().Str("path", cfg.MetricsFile).Msg("Wrote metrics")
}
