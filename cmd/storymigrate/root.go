package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/config"
	"github.com/David-Botos/story-ingress/pkg/connector"
	"github.com/David-Botos/story-ingress/pkg/destination"
)

var (
	envFiles []string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "storymigrate",
	Short: "Migrate a storytelling source base into the destination store",
	Long: `storymigrate reads every table of the source base, merges views and
partitions into complete record sets, links legacy rows by name, moves
attachments into object storage and writes entities idempotently.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Env file(s) to load (default .env when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadConfig(envFiles...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}

	l, err := config.NewLogger(loaded.LogLevel, loaded.LogFormat)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(l)

	cfg = loaded
	logger = l
	return nil
}

// openDestination connects to the configured destination database
func openDestination(ctx context.Context) (connector.DatabaseConnector, *destination.Store, error) {
	conn, err := connector.NewConnectorFactory(cfg, logger).CreateDestinationConnector(ctx)
	if err != nil {
		return nil, nil, err
	}
	return conn, destination.NewStore(conn.DB(), logger), nil
}
