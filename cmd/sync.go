package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theirongolddev/tokpulse/internal/cli"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ingest new session-file usage into the database once",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(_ *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	res, ar, err := syncData(context.Background(), st, newResolver())
	if err != nil {
		return err
	}
	if ar.RowErrors != nil {
		logger.Debug("rejected rows", zap.Error(ar.RowErrors))
	}

	if flagJSON {
		return printJSON(map[string]any{
			"files":       res.TotalFiles,
			"reparsed":    res.Reparsed,
			"events":      len(res.Events),
			"inserted":    ar.Inserted,
			"updated":     ar.Updated,
			"duplicates":  ar.Duplicates,
			"rejected":    ar.Rejected,
			"parseErrors": res.ParseErrors,
			"fileErrors":  res.FileErrors,
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Sync",
		Headers: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Session files", cli.FormatNumber(int64(res.TotalFiles))},
			{"Reparsed", cli.FormatNumber(int64(res.Reparsed))},
			{"Events read", cli.FormatNumber(int64(len(res.Events)))},
			{"---"},
			{"Inserted", cli.FormatNumber(int64(ar.Inserted))},
			{"Updated", cli.FormatNumber(int64(ar.Updated))},
			{"Duplicates", cli.FormatNumber(int64(ar.Duplicates))},
			{"Rejected", cli.FormatNumber(int64(ar.Rejected))},
			{"Unparseable lines", cli.FormatNumber(int64(res.ParseErrors))},
		},
	}))
	return nil
}
