package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theirongolddev/tokpulse/internal/cli"
	"github.com/theirongolddev/tokpulse/internal/config"
	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/provider"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Poll every configured provider once and show plan usage and limits",
	RunE:  runStatus,
}

var statusNoRecord bool

func init() {
	statusCmd.Flags().BoolVar(&statusNoRecord, "no-record", false, "Do not store the results as provider snapshots")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	p, err := newPoller()
	if err != nil {
		return err
	}
	if len(p.IDs()) == 0 {
		fmt.Println("\n  No providers enabled. Enable [providers.claudeai] or [providers.openrouter] in")
		fmt.Printf("  %s\n\n", config.ConfigPath())
		return nil
	}

	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "  Fetching provider data...\n")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	results := p.PollAll(ctx)

	if !statusNoRecord {
		recordSnapshots(ctx, results)
	}

	if flagJSON {
		return printJSON(results)
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("PROVIDER STATUS"))
	fmt.Println()
	for _, r := range results {
		renderProviderResult(r)
	}
	return nil
}

// recordSnapshots stores results; failures only cost history, so they are
// logged rather than returned.
func recordSnapshots(ctx context.Context, results []provider.Result) {
	st, err := openStore()
	if err != nil {
		logger.Warn("open store", zap.Error(err))
		return
	}
	defer func() { _ = st.Close() }()
	for _, r := range results {
		if _, err := st.RecordSnapshot(ctx, r.Snapshot()); err != nil {
			logger.Warn("record snapshot", zap.String("provider", r.Provider), zap.Error(err))
		}
	}
}

func renderProviderResult(r provider.Result) {
	header := r.Provider
	if r.PlanType != "" {
		header += " (" + r.PlanType + ")"
	}
	fmt.Printf("  %s\n", cli.RenderStatus(header, providerLevel(r)))

	rows := make([][]string, 0, len(r.Limits)+2)
	for _, w := range r.Limits {
		rows = append(rows, limitRow(w))
	}
	if r.CostUSD != nil {
		rows = append(rows, []string{"Spend", cli.FormatCost(*r.CostUSD), "", ""})
	}
	if len(rows) > 0 {
		fmt.Print(cli.RenderTable(cli.Table{
			Headers: []string{"Window", "Used", "Bar", "Resets"},
			Rows:    rows,
		}))
	}

	if r.Error != "" {
		// Partial data is still shown above.
		fmt.Printf("  %s\n", cli.RenderStatus(r.Error, cli.LevelError))
	}
	fmt.Printf("  %s\n\n", cli.RenderMuted("Fetched at "+r.FetchedAt.Local().Format("3:04:05 PM")))
}

func providerLevel(r provider.Result) cli.Level {
	switch {
	case r.Error != "":
		return cli.LevelError
	case r.LimitReached != nil && *r.LimitReached:
		return cli.LevelWarn
	}
	return cli.LevelOK
}

func limitRow(w model.LimitWindow) []string {
	resets := ""
	if w.ResetsAt != nil {
		resets = cli.FormatCountdown(time.Until(*w.ResetsAt))
	}
	return []string{w.Name, fmt.Sprintf("%.0f%%", w.UsedPercent), cli.RenderBar(w.UsedPercent, 20), resets}
}
