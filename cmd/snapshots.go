package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/tokpulse/internal/cli"
	"github.com/theirongolddev/tokpulse/internal/pricing"
	"github.com/theirongolddev/tokpulse/internal/store"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Recent provider snapshots recorded by the daemon and status",
	RunE:  runSnapshots,
}

var (
	snapshotsProvider string
	snapshotsLimit    int
)

func init() {
	snapshotsCmd.Flags().StringVar(&snapshotsProvider, "provider", "", "Only this provider id")
	snapshotsCmd.Flags().IntVarP(&snapshotsLimit, "limit", "l", 20, "Number of snapshots to show")
	rootCmd.AddCommand(snapshotsCmd)
}

func runSnapshots(_ *cobra.Command, _ []string) error {
	flagNoSync = true
	return withStore(func(ctx context.Context, st *store.Store, _ *pricing.Resolver) error {
		snaps, err := st.RecentSnapshots(ctx, snapshotsProvider, snapshotsLimit)
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(snaps)
		}
		if len(snaps) == 0 {
			fmt.Println("\n  No provider snapshots recorded yet. Run `tokpulse status` or the daemon.")
			return nil
		}

		fmt.Println()
		fmt.Println(cli.RenderTitle("PROVIDER SNAPSHOTS"))
		fmt.Println()

		rows := make([][]string, 0, len(snaps))
		for _, s := range snaps {
			used := "-"
			if s.UsedPercent != nil {
				used = cli.FormatPercent(*s.UsedPercent)
			}
			state := cli.RenderStatus("ok", cli.LevelOK)
			switch {
			case s.Error != "":
				state = cli.RenderStatus(cli.Truncate(s.Error, 32), cli.LevelError)
			case s.LimitReached != nil && *s.LimitReached:
				state = cli.RenderStatus("limit reached", cli.LevelWarn)
			}
			rows = append(rows, []string{
				s.Timestamp.Local().Format("Jan 02 15:04:05"),
				s.Provider,
				s.PlanType,
				used,
				cli.FormatOptionalCost(s.CostUSD),
				state,
			})
		}

		fmt.Print(cli.RenderTable(cli.Table{
			Headers: []string{"Time", "Provider", "Plan", "Used", "Cost", "State"},
			Rows:    rows,
		}))
		return nil
	})
}
