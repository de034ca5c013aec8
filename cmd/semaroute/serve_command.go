package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semantrix/semaroute-router/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP routing service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			srv, err := server.NewServer(cmd.Context(), cfg, version)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
			return srv.WaitForShutdown()
		},
	}
}
