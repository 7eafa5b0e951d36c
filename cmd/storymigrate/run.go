package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/attachment"
	"github.com/David-Botos/story-ingress/pkg/config"
	"github.com/David-Botos/story-ingress/pkg/connector"
	"github.com/David-Botos/story-ingress/pkg/identity"
	"github.com/David-Botos/story-ingress/pkg/source"
	"github.com/David-Botos/story-ingress/pkg/transfer"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the migration",
	Long: `Runs every stage in dependency order and writes the migration report.
Re-running is safe: records already migrated are skipped.`,
	Args: cobra.NoArgs,
	RunE: runMigration,
}

var (
	runDryRun       bool
	runLegacyLink   []string
	runReportFile   string
	runMappingFile  string
	runEnsureSchema bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Fetch and report without writing")
	runCmd.Flags().StringSliceVar(&runLegacyLink, "legacy-link", nil, "Entity types linked to legacy rows by name (e.g. storyteller)")
	runCmd.Flags().StringVar(&runReportFile, "report-file", "", "Write the JSON report here instead of stdout")
	runCmd.Flags().StringVar(&runMappingFile, "mapping-file", "", "Override MAPPING_FILE")
	runCmd.Flags().BoolVar(&runEnsureSchema, "ensure-schema", false, "Apply the destination schema before running")
}

func runMigration(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Step 1: Stage plan
	mappingFile := cfg.MappingFile
	if runMappingFile != "" {
		mappingFile = runMappingFile
	}
	plan, err := config.LoadPlan(mappingFile, append(cfg.LegacyLink, runLegacyLink...))
	if err != nil {
		return err
	}

	// Step 2: Destination
	conn, store, err := openDestination(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if runEnsureSchema && !runDryRun {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	// Step 3: Source
	client, err := source.NewClientFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create source client: %w", err)
	}
	merger := source.NewMerger(client, cfg.Source.MaxConcurrency, logger)

	// Step 4: Attachments
	objects, err := attachment.NewStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	downloader := attachment.NewDownloader(attachment.DownloaderOptions{
		MaxBytes:   cfg.AttachmentMaxBytes(),
		Timeout:    cfg.Source.Timeout,
		Retries:    cfg.RetryAttempts,
		RetryDelay: cfg.RetryDelay,
	}, logger)
	attachments := attachment.NewTransfer(downloader, objects, store, logger)

	// Step 5: Run
	errorHandler := transfer.NewErrorHandler(logger, cfg.FailureThreshold)
	orchestrator := transfer.NewOrchestrator(merger, store, attachments, transfer.Options{
		Plan:         plan,
		DryRun:       runDryRun,
		Matcher:      identity.NewMatcher(cfg.MatchMinSubstringLen),
		ErrorHandler: errorHandler,
	}, logger)

	report, runErr := orchestrator.Run(ctx)
	connector.LogConnectionStats(logger, conn.Driver(), conn.DB().DB)

	if report != nil {
		if err := writeReport(cmd, report); err != nil {
			return err
		}
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("migration interrupted: %w", runErr)
		}
		return fmt.Errorf("migration aborted: %w", runErr)
	}
	if errorHandler.IsErrorThresholdExceeded() {
		return fmt.Errorf("failure threshold exceeded: %d failures (threshold %d)",
			errorHandler.FailureCount(), cfg.FailureThreshold)
	}
	return nil
}

func writeReport(cmd *cobra.Command, report *transfer.MigrationReport) error {
	if runReportFile == "" {
		_, err := report.WriteTo(cmd.OutOrStdout())
		return err
	}
	if err := report.WriteFile(runReportFile); err != nil {
		return err
	}
	logger.Info("Report written", zap.String("path", runReportFile))
	return nil
}
