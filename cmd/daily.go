package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/tokpulse/internal/cli"
	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/pricing"
	"github.com/theirongolddev/tokpulse/internal/store"
)

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Daily usage table from the rollups",
	RunE:  runDaily,
}

func init() {
	rootCmd.AddCommand(dailyCmd)
}

type dayTotal struct {
	Date     string  `json:"date"`
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	CostUSD  float64 `json:"costUsd"`
}

// sumDays folds per-model daily rollups into one row per date.
func sumDays(rollups []model.Rollup) []dayTotal {
	var out []dayTotal
	for _, r := range rollups {
		if len(out) == 0 || out[len(out)-1].Date != r.Bucket {
			out = append(out, dayTotal{Date: r.Bucket})
		}
		d := &out[len(out)-1]
		d.Requests += r.RequestCount
		d.Tokens += r.TotalInputTokens + r.TotalOutputTokens + r.TotalCacheRead + r.TotalCacheWrite
		d.CostUSD = pricing.SumUSD(d.CostUSD, r.TotalCostUSD)
	}
	return out
}

func runDaily(_ *cobra.Command, _ []string) error {
	return withStore(func(ctx context.Context, st *store.Store, _ *pricing.Resolver) error {
		since, until := timeRange()
		loc := st.Location()
		layout := model.Daily.Layout()
		rollups, err := st.Rollups(ctx, model.Daily, since.In(loc).Format(layout), until.In(loc).Format(layout))
		if err != nil {
			return err
		}
		days := sumDays(rollups)

		if flagJSON {
			return printJSON(days)
		}
		if len(days) == 0 {
			fmt.Println("\n  No data for the selected period.")
			return nil
		}

		fmt.Println()
		fmt.Println(cli.RenderTitle(fmt.Sprintf("DAILY USAGE  Last %dd", flagDays)))
		fmt.Println()

		rows := make([][]string, 0, len(days))
		for _, d := range days {
			weekday := "???"
			if t, err := time.ParseInLocation(layout, d.Date, loc); err == nil {
				weekday = cli.FormatDayOfWeek(int(t.Weekday()))
			}
			rows = append(rows, []string{
				d.Date,
				weekday,
				cli.FormatNumber(d.Requests),
				cli.FormatTokens(d.Tokens),
				cli.FormatCost(d.CostUSD),
			})
		}

		fmt.Print(cli.RenderTable(cli.Table{
			Headers: []string{"Date", "Day", "Requests", "Tokens", "Cost"},
			Rows:    rows,
		}))
		return nil
	})
}
