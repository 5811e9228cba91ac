package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/tokpulse/internal/cli"
	"github.com/theirongolddev/tokpulse/internal/pricing"
	"github.com/theirongolddev/tokpulse/internal/store"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Usage grouped by provider and model",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(_ *cobra.Command, _ []string) error {
	return withStore(func(ctx context.Context, st *store.Store, _ *pricing.Resolver) error {
		since, until := timeRange()
		groups, err := st.GroupedSummary(ctx, since, until)
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(groups)
		}
		if len(groups) == 0 {
			fmt.Println("\n  No model data in the selected time range.")
			return nil
		}

		fmt.Println()
		fmt.Println(cli.RenderTitle(fmt.Sprintf("MODEL USAGE  Last %dd", flagDays)))
		fmt.Println()

		rows := make([][]string, 0, len(groups))
		for _, g := range groups {
			rows = append(rows, []string{
				shortModel(g.Model),
				g.Provider,
				cli.FormatNumber(g.Requests),
				cli.FormatTokens(g.InputTokens),
				cli.FormatTokens(g.OutputTokens),
				cli.FormatTokens(g.CacheRead + g.CacheWrite),
				cli.FormatCost(g.CostUSD),
				cli.FormatPercent(g.SharePercent),
			})
		}

		fmt.Print(cli.RenderTable(cli.Table{
			Headers: []string{"Model", "Provider", "Calls", "Input", "Output", "Cache", "Cost", "Share"},
			Rows:    rows,
		}))
		return nil
	})
}
