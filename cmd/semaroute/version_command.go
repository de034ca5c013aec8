package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "semaroute version %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commitSHA)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			return nil
		},
	}
}
