package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/destination"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create destination tables if they do not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, store, err := openDestination(cmd.Context())
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := store.EnsureSchema(cmd.Context()); err != nil {
			return err
		}
		logger.Info("Schema applied",
			zap.String("driver", conn.Driver()),
			zap.Int("statements", len(destination.SchemaStatements())))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
