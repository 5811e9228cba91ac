package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/tokpulse/internal/cli"
	"github.com/theirongolddev/tokpulse/internal/pricing"
	"github.com/theirongolddev/tokpulse/internal/store"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Detailed usage summary with costs",
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(_ *cobra.Command, _ []string) error {
	return withStore(func(ctx context.Context, st *store.Store, _ *pricing.Resolver) error {
		since, until := timeRange()
		stats, err := st.Summary(ctx, since, until)
		if err != nil {
			return err
		}

		// Compute previous period for comparison
		prevSince := since.Add(-until.Sub(since))
		prev, err := st.Summary(ctx, prevSince, since)
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(map[string]any{"current": stats, "previous": prev})
		}
		if stats.Requests == 0 {
			fmt.Println("\n  No usage found in the selected time range.")
			fmt.Println("  Use Claude Code or Codex first, then come back!")
			return nil
		}

		fmt.Println()
		fmt.Println(cli.RenderTitle(fmt.Sprintf("TOKEN USAGE  Last %dd", flagDays)))
		fmt.Println()

		days := float64(flagDays)
		rows := [][]string{
			{"Sessions", cli.FormatNumber(stats.Sessions)},
			{"Requests", cli.FormatNumber(stats.Requests)},
			{"---"},
			{"Input Tokens", cli.FormatTokens(stats.InputTokens)},
			{"Output Tokens", cli.FormatTokens(stats.OutputTokens)},
			{"Cache Read", cli.FormatTokens(stats.CacheRead)},
			{"Cache Write", cli.FormatTokens(stats.CacheWrite)},
			{"Total", cli.FormatTokens(stats.TotalTokens())},
			{"---"},
			{"Cost (est)", cli.FormatCost(stats.CostUSD)},
		}

		// Cost per day with delta
		costDay := stats.CostUSD / days
		costDayStr := cli.FormatCost(costDay) + "/day"
		if prevDay := prev.CostUSD / days; prevDay > 0 {
			costDayStr += fmt.Sprintf("  (%s vs prev %dd)", formatDelta(costDay, prevDay), flagDays)
		}
		rows = append(rows,
			[]string{"Cost/day", costDayStr},
			[]string{"Tokens/day", cli.FormatTokens(int64(float64(stats.TotalTokens()) / days))},
		)

		fmt.Print(cli.RenderTable(cli.Table{
			Headers: []string{"Metric", "Value"},
			Rows:    rows,
		}))
		return nil
	})
}

func formatDelta(current, previous float64) string {
	delta := current - previous
	if delta >= 0 {
		return "+" + cli.FormatCost(delta)
	}
	return "-" + cli.FormatCost(-delta)
}
