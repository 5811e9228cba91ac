package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/tokpulse/internal/cli"
	"github.com/theirongolddev/tokpulse/internal/pricing"
	"github.com/theirongolddev/tokpulse/internal/store"
)

var burnCmd = &cobra.Command{
	Use:   "burn",
	Short: "Burn rate over a trailing window with a monthly projection",
	RunE:  runBurn,
}

var burnWindow time.Duration

func init() {
	burnCmd.Flags().DurationVarP(&burnWindow, "window", "w", time.Hour, "Trailing window")
	rootCmd.AddCommand(burnCmd)
}

func runBurn(_ *cobra.Command, _ []string) error {
	return withStore(func(ctx context.Context, st *store.Store, _ *pricing.Resolver) error {
		br, err := st.BurnRate(ctx, burnWindow, time.Now())
		if err != nil {
			return err
		}
		budget := appCfg.Budget.MonthlyUSD

		if flagJSON {
			out := map[string]any{
				"burn":                 br,
				"projectedMonthlyCost": br.ProjectedMonthlyCost(),
			}
			if budget != nil {
				out["monthlyBudgetUsd"] = *budget
				out["budgetUsedPercent"] = br.BudgetUsedPercent(*budget)
			}
			return printJSON(out)
		}

		fmt.Println()
		fmt.Println(cli.RenderTitle(fmt.Sprintf("BURN RATE  Last %s", burnWindow)))
		fmt.Println()

		rows := [][]string{
			{"Requests", cli.FormatNumber(br.Requests)},
			{"Tokens", cli.FormatTokens(br.Tokens)},
			{"Cost", cli.FormatCost(br.CostUSD)},
			{"---"},
			{"Tokens/min", cli.FormatTokens(int64(br.TokensPerMinute))},
			{"Cost/hour", cli.FormatCost(br.CostPerHour)},
			{"Projected/day", cli.FormatCost(br.ProjectedDailyCost)},
			{"Projected/month", cli.FormatCost(br.ProjectedMonthlyCost())},
		}
		fmt.Print(cli.RenderTable(cli.Table{
			Headers: []string{"Metric", "Value"},
			Rows:    rows,
		}))

		if budget != nil && *budget > 0 {
			pct := br.BudgetUsedPercent(*budget)
			fmt.Printf("  Budget %s/month  %s  %s\n\n",
				cli.FormatCost(*budget), cli.RenderBar(pct, 30), cli.FormatPercent(pct))
		}
		return nil
	})
}
