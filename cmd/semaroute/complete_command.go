package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/semantrix/semaroute-router/internal/models"
	"github.com/semantrix/semaroute-router/internal/server"
)

func newCompleteCommand(ctx *commandContext) *cobra.Command {
	var (
		provider     string
		model        string
		systemPrompt string
		maxTokens    int
		temperature  float64
		estimateOnly bool
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "complete <prompt>",
		Short: "Send a single completion through the router",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.CompletionRequest{
				Prompt:       strings.Join(args, " "),
				Provider:     provider,
				Model:        model,
				SystemPrompt: systemPrompt,
			}
			if cmd.Flags().Changed("max-tokens") {
				req.MaxTokens = &maxTokens
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}

			return ctx.withRuntime(cmd.Context(), func(rt *server.Runtime) error {
				out := cmd.OutOrStdout()

				if estimateOnly {
					estimate, err := rt.Manager.CostEstimate(req)
					if err != nil {
						return err
					}
					if jsonOutput {
						return writeJSON(cmd, estimate)
					}
					fmt.Fprintln(out, renderTable(
						[]string{"Provider", "Estimated cost", "Within budget"},
						[][]string{{estimate.Provider, formatCost(estimate.Cost), fmt.Sprint(estimate.WithinBudget)}},
						[]columnAlignment{alignLeft, alignRight, alignLeft},
					))
					return nil
				}

				result, err := rt.Manager.GenerateResponse(cmd.Context(), req)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, result)
				}
				fmt.Fprintln(out, result.Text)
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(
					[]string{"Provider", "Model", "Tokens", "Cost", "Latency", "Attempts", "Fallback"},
					[][]string{{
						result.Provider,
						result.Model,
						fmt.Sprint(result.TokensUsed),
						formatCost(result.Cost),
						result.Latency.Round(time.Millisecond).String(),
						fmt.Sprint(result.Attempts),
						fmt.Sprint(result.Fallback),
					}},
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Provider to use")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model to use")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "System prompt")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum completion tokens")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	cmd.Flags().BoolVar(&estimateOnly, "estimate", false, "Only estimate the cost")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")

	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatCost(cost float64) string {
	return fmt.Sprintf("$%.6f", cost)
}
