package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/tokpulse/internal/cli"
	"github.com/theirongolddev/tokpulse/internal/pricing"
	"github.com/theirongolddev/tokpulse/internal/store"
)

const maxSeriesBuckets = 500

var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Token usage over time in fixed-width buckets",
	RunE:  runSeries,
}

var (
	seriesHours  int
	seriesBucket int
)

func init() {
	seriesCmd.Flags().IntVar(&seriesHours, "hours", 24, "Window in hours")
	seriesCmd.Flags().IntVar(&seriesBucket, "bucket", 0, "Bucket width in minutes (default: general.rollup_bucket_minutes)")
	rootCmd.AddCommand(seriesCmd)
}

func runSeries(_ *cobra.Command, _ []string) error {
	bucket := seriesBucket
	if bucket <= 0 {
		bucket = appCfg.General.RollupBucketMinutes
	}
	if seriesHours <= 0 {
		return errors.New("--hours must be positive")
	}

	return withStore(func(ctx context.Context, st *store.Store, _ *pricing.Resolver) error {
		until := time.Now()
		since := until.Add(-time.Duration(seriesHours) * time.Hour)
		points, err := st.TimeSeries(ctx, since, until, bucket)
		if err != nil {
			return err
		}
		points = store.FillSeries(points, since, until, bucket, maxSeriesBuckets)

		if flagJSON {
			return printJSON(points)
		}

		fmt.Println()
		fmt.Println(cli.RenderTitle(fmt.Sprintf("USAGE OVER TIME  Last %dh, %dm buckets", seriesHours, bucket)))
		fmt.Println()

		// Find max for bar scaling
		var peak int64
		values := make([]float64, len(points))
		for i, p := range points {
			values[i] = float64(p.TotalTokens())
			peak = max(peak, p.TotalTokens())
		}

		maxBarWidth := 40
		layout := "15:04"
		if seriesHours > 24 {
			layout = "Jan 02 15:04"
		}
		for _, p := range points {
			barLen := 0
			if peak > 0 {
				barLen = int(p.TotalTokens() * int64(maxBarWidth) / peak)
			}
			fmt.Printf("  %s │ %7s │ %7s │ %s\n",
				p.BucketStart.Local().Format(layout),
				cli.FormatTokens(p.TotalTokens()),
				cli.FormatCost(p.CostUSD),
				strings.Repeat("█", barLen))
		}

		fmt.Printf("\n  %s\n\n", cli.RenderSparkline(values))
		return nil
	})
}
