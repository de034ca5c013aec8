package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/semantrix/semaroute-router/internal/models"
	"github.com/semantrix/semaroute-router/internal/providers"
	"github.com/semantrix/semaroute-router/internal/server"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe every enabled provider once and print their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *server.Runtime) error {
				probeCtx := cmd.Context()
				if timeout > 0 {
					var cancel context.CancelFunc
					probeCtx, cancel = context.WithTimeout(probeCtx, timeout)
					defer cancel()
				}
				rt.Manager.PerformHealthCheck(probeCtx)

				health := rt.Manager.Health()
				rows := make([][]string, 0, len(health))
				for _, p := range rt.Manager.Providers() {
					rows = append(rows, probeRow(p, health[p.Name()]))
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Provider", "Status", "Errors", "Latency", "Models"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				fmt.Fprintf(cmd.OutOrStdout(), "Spent: %s\n", formatCost(rt.Manager.SpentTotal()))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Probe round timeout")
	return cmd
}

func probeRow(p providers.Provider, h models.ProviderHealth) []string {
	status := "healthy"
	switch {
	case !p.IsAvailable():
		status = "unconfigured"
	case !h.Available:
		status = "unhealthy"
	}

	names := make([]string, 0, len(p.Models()))
	for _, spec := range p.Models() {
		names = append(names, spec.Name)
	}

	return []string{
		p.Name(),
		status,
		fmt.Sprint(h.ErrorCount),
		h.AverageLatency.Round(time.Millisecond).String(),
		strings.Join(names, ", "),
	}
}
