// Package cmd implements the tokpulse CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theirongolddev/tokpulse/internal/cli"
	"github.com/theirongolddev/tokpulse/internal/config"
	"github.com/theirongolddev/tokpulse/internal/logging"
	"github.com/theirongolddev/tokpulse/internal/pipeline"
	"github.com/theirongolddev/tokpulse/internal/poller"
	"github.com/theirongolddev/tokpulse/internal/pricing"
	"github.com/theirongolddev/tokpulse/internal/provider"
	"github.com/theirongolddev/tokpulse/internal/provider/claudeai"
	"github.com/theirongolddev/tokpulse/internal/provider/openrouter"
	"github.com/theirongolddev/tokpulse/internal/source"
	"github.com/theirongolddev/tokpulse/internal/store"
)

var (
	flagDays        int
	flagConfigPath  string
	flagDBPath      string
	flagQuiet       bool
	flagJSON        bool
	flagNoSync      bool
	flagNoSubagents bool
	flagVerbose     bool
)

// Set by PersistentPreRunE.
var (
	appCfg config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "tokpulse",
	Short: "Token usage and spend monitor for coding agents",
	Long: "Track tokens, costs and live activity across Claude Code, Codex and " +
		"provider subscription limits.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runSummary,
}

// Execute is the main entry point called from main.go.
func Execute() {
	defer func() { _ = logger.Sync() }()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&flagDays, "days", "n", 30, "Time window in days")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Config file (default "+config.ConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Database path (overrides config and "+config.EnvDB+")")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print JSON instead of tables")
	rootCmd.PersistentFlags().BoolVar(&flagNoSync, "no-sync", false, "Query the database without ingesting new session files first")
	rootCmd.PersistentFlags().BoolVar(&flagNoSubagents, "no-subagents", false, "Exclude subagent session files")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")
}

func setup(_ *cobra.Command, _ []string) error {
	var err error
	if flagConfigPath != "" {
		if err = config.LoadEnvFile(".env"); err == nil {
			appCfg, err = config.LoadFrom(flagConfigPath)
		}
	} else {
		appCfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if flagDBPath != "" {
		appCfg.Store.Path = flagDBPath
	}
	if flagNoSubagents {
		appCfg.General.IncludeSubagents = false
	}
	if flagVerbose {
		appCfg.Logging.Level = "debug"
	} else if flagQuiet {
		appCfg.Logging.Level = "error"
	}
	if err := appCfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err = logging.New(appCfg.Logging)
	return err
}

func openStore() (*store.Store, error) {
	loc, err := appCfg.Location()
	if err != nil {
		return nil, err
	}
	return store.Open(appCfg.StorePath(), store.WithLocation(loc))
}

func newResolver() *pricing.Resolver {
	fallback := pricing.NewFallback(appCfg.PricingOverrides()...)
	var cache *pricing.Cache
	if !appCfg.Pricing.Offline {
		cache = pricing.NewCache(pricing.NewModelsDev(appCfg.Pricing.LiveURL), appCfg.PricingTTL(),
			pricing.WithLogger(logger))
	}
	return pricing.NewResolver(cache, fallback, logger)
}

func newLoader(st *store.Store) *source.Loader {
	return &source.Loader{
		ClaudeDir:        appCfg.ClaudeDir(),
		CodexDir:         appCfg.CodexDir(),
		IncludeSubagents: appCfg.General.IncludeSubagents,
		Tracker:          st,
		Logger:           logger,
	}
}

// newPoller registers every enabled provider. Providers without credentials
// are still polled and report ErrMissingCredentials as data.
func newPoller() (*poller.Poller, error) {
	var ps []provider.Provider
	creds := make(map[string]provider.Credentials)

	if c := appCfg.Providers.ClaudeAI; c.Enabled {
		p := claudeai.New(appCfg.ClaudeDir())
		p.BaseURL = c.BaseURL
		ps = append(ps, p)
		creds[claudeai.ID] = provider.Credentials{SessionKey: c.SessionKey}
	}
	if c := appCfg.Providers.OpenRouter; c.Enabled {
		p := openrouter.New()
		p.BaseURL = c.BaseURL
		ps = append(ps, p)
		creds[openrouter.ID] = provider.Credentials{APIKey: c.APIKey}
	}

	reg, err := provider.NewRegistry(ps...)
	if err != nil {
		return nil, err
	}

	cfg := poller.DefaultConfig()
	cfg.Timeout = appCfg.ProviderTimeout()
	cfg.MaxRetries = appCfg.Providers.MaxRetries
	cfg.MinInterval = appCfg.MinPollInterval()
	return poller.New(reg, creds, cfg, logger), nil
}

// syncData ingests changed session files into st, pricing events on the way
// in. It is the shared load path for every query command.
func syncData(ctx context.Context, st *store.Store, resolver *pricing.Resolver) (*source.LoadResult, store.AppendResult, error) {
	var ar store.AppendResult
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "  Scanning sessions...\n")
	}

	loader := newLoader(st)
	res, err := loader.Load(ctx)
	if err != nil {
		return nil, ar, err
	}
	if len(res.Events) > 0 {
		pipeline.PriceEvents(res.Events, resolver.Table(ctx))
		ar, err = st.AppendEvents(ctx, res.Events)
		if err != nil {
			return res, ar, err
		}
	}
	if err := loader.Commit(ctx, res); err != nil {
		return res, ar, err
	}

	if !flagQuiet && res.TotalFiles > 0 {
		if res.Reparsed == 0 {
			fmt.Fprintf(os.Stderr, "  %s files unchanged (%d projects)\n",
				cli.FormatNumber(int64(res.CacheHits)), res.ProjectCount)
		} else {
			fmt.Fprintf(os.Stderr, "  %s cached + %d reparsed, %s new events (%d projects)\n",
				cli.FormatNumber(int64(res.CacheHits)), res.Reparsed,
				cli.FormatNumber(int64(ar.Inserted)), res.ProjectCount)
		}
	}
	return res, ar, nil
}

// withStore opens the store, syncs unless --no-sync, and runs fn.
func withStore(fn func(ctx context.Context, st *store.Store, resolver *pricing.Resolver) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	resolver := newResolver()
	if !flagNoSync {
		res, _, err := syncData(ctx, st, resolver)
		if err != nil {
			return err
		}
		if res.FileErrors > 0 {
			fmt.Fprintf(os.Stderr, "  %d files could not be parsed\n", res.FileErrors)
		}
	}
	return fn(ctx, st, resolver)
}

// timeRange returns the --days window ending now.
func timeRange() (time.Time, time.Time) {
	now := time.Now()
	return now.AddDate(0, 0, -flagDays), now
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortModel(name string) string {
	// "claude-opus-4-6" -> "opus-4-6"
	if len(name) > 7 && name[:7] == "claude-" {
		return name[7:]
	}
	return name
}
