package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/David-Botos/story-ingress/pkg/source"
)

var viewsCmd = &cobra.Command{
	Use:   "views <table>",
	Short: "List the views of a source table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := source.NewClientFromConfig(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create source client: %w", err)
		}

		views, err := client.ListViews(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME")
		for _, v := range views {
			fmt.Fprintf(w, "%s\t%s\n", v.ID, v.Name)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(viewsCmd)
}
