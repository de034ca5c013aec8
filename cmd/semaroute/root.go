package main

import (
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags.
var (
	version   = "dev"
	commitSHA = "unknown"
	buildTime = "unknown"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var envFlag string
	var verbose bool

	ctx := newCommandContext(&configFlag, &envFlag, &verbose)

	rootCmd := &cobra.Command{
		Use:           "semaroute",
		Short:         "Route LLM completions across providers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&envFlag, "env-file", ".env", "Env file with provider keys")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stdout for one-shot commands")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newCompleteCommand(ctx))
	rootCmd.AddCommand(newProbeCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
