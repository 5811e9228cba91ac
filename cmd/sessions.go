package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/tokpulse/internal/cli"
	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/pipeline"
	"github.com/theirongolddev/tokpulse/internal/pricing"
	"github.com/theirongolddev/tokpulse/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Session list with details",
	Long: "Rebuild per-session aggregates from stored events and list them. " +
		"With --no-sync the sessions last persisted by the daemon are shown instead.",
	RunE: runSessions,
}

var (
	sessionsLimit  int
	sessionsAgent  string
	sessionsActive bool
)

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "l", 20, "Number of sessions to show")
	sessionsCmd.Flags().StringVar(&sessionsAgent, "agent", "", "Only sessions of this agent (claude-code, codex)")
	sessionsCmd.Flags().BoolVar(&sessionsActive, "active", false, "Only active sessions")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(_ *cobra.Command, _ []string) error {
	return withStore(func(ctx context.Context, st *store.Store, resolver *pricing.Resolver) error {
		since, now := timeRange()
		sessions, err := loadSessions(ctx, st, resolver, since, now)
		if err != nil {
			return err
		}

		filtered := sessions[:0]
		for _, s := range sessions {
			if sessionsAgent != "" && s.AgentID != sessionsAgent {
				continue
			}
			if sessionsActive && s.Status != model.StatusActive {
				continue
			}
			filtered = append(filtered, s)
		}
		sessions = filtered
		if sessionsLimit > 0 && len(sessions) > sessionsLimit {
			sessions = sessions[:sessionsLimit]
		}

		if flagJSON {
			return printJSON(sessions)
		}
		if len(sessions) == 0 {
			fmt.Println("\n  No sessions in the selected time range.")
			return nil
		}

		fmt.Println()
		fmt.Println(cli.RenderTitle(fmt.Sprintf("SESSIONS  Last %dd (showing %d)", flagDays, len(sessions))))
		fmt.Println()

		rows := make([][]string, 0, len(sessions))
		for _, s := range sessions {
			status := cli.RenderMuted(string(s.Status))
			if s.Status == model.StatusActive {
				status = cli.RenderStatus(string(s.Status), cli.LevelOK)
			}
			rows = append(rows, []string{
				s.LastActivityAt.Local().Format("Jan 02 15:04"),
				s.AgentID,
				cli.Truncate(projectName(s.ProjectPath), 16),
				cli.FormatDuration(s.Duration()),
				cli.FormatNumber(int64(s.RequestCount)),
				cli.FormatTokens(s.Totals.Total()),
				cli.FormatOptionalCost(s.CostUSD),
				status,
			})
		}

		fmt.Print(cli.RenderTable(cli.Table{
			Headers: []string{"Last Active", "Agent", "Project", "Duration", "Requests", "Tokens", "Cost", "Status"},
			Rows:    rows,
		}))
		return nil
	})
}

// loadSessions rebuilds aggregates from the event log and persists them, or
// reads the persisted ones when syncing is disabled.
func loadSessions(ctx context.Context, st *store.Store, resolver *pricing.Resolver, since, now time.Time) ([]model.SessionAggregate, error) {
	if flagNoSync {
		return st.LoadSessions(ctx, since)
	}

	rows, err := st.ListEvents(ctx, store.EventFilter{ActiveSince: since, End: now})
	if err != nil {
		return nil, err
	}
	aggs := pipeline.AggregateSessions(rows, now, pipeline.Options{
		ActiveThreshold: appCfg.ActiveThreshold(),
		Prices:          resolver.Table(ctx),
	})
	if err := st.SaveSessions(ctx, aggs, now); err != nil {
		return nil, err
	}
	return aggs, nil
}

func projectName(path string) string {
	if path == "" {
		return "-"
	}
	return filepath.Base(path)
}
