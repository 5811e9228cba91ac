package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/tokpulse/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE:  runConfigInit,
}

var configInitForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func configFile() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}
	return config.ConfigPath()
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg := appCfg
	if flagJSON {
		cfg.Providers.ClaudeAI.SessionKey = maskAPIKey(cfg.Providers.ClaudeAI.SessionKey)
		cfg.Providers.OpenRouter.APIKey = maskAPIKey(cfg.Providers.OpenRouter.APIKey)
		return printJSON(cfg)
	}

	fmt.Printf("  Config file: %s\n", configFile())
	if flagConfigPath != "" || config.Exists() {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [General]")
	fmt.Printf("    Claude directory:  %s\n", cfg.ClaudeDir())
	fmt.Printf("    Codex directory:   %s\n", cfg.CodexDir())
	fmt.Printf("    Include subagents: %v\n", cfg.General.IncludeSubagents)
	fmt.Printf("    Refresh interval:  %s\n", cfg.RefreshInterval())
	fmt.Printf("    Active threshold:  %s\n", cfg.ActiveThreshold())
	fmt.Printf("    Bucket width:      %dm\n", cfg.General.RollupBucketMinutes)
	fmt.Println()

	fmt.Println("  [Store]")
	fmt.Printf("    Database: %s\n", cfg.StorePath())
	fmt.Println()

	fmt.Println("  [Daemon]")
	fmt.Printf("    Address: %s\n", cfg.Daemon.Addr)
	fmt.Println()

	fmt.Println("  [Providers]")
	fmt.Printf("    claudeai:   %s\n", providerState(cfg.Providers.ClaudeAI.Enabled, cfg.Providers.ClaudeAI.SessionKey))
	fmt.Printf("    openrouter: %s\n", providerState(cfg.Providers.OpenRouter.Enabled, cfg.Providers.OpenRouter.APIKey))
	fmt.Println()

	fmt.Println("  [Pricing]")
	if cfg.Pricing.Offline {
		fmt.Println("    Live catalog: offline")
	} else {
		fmt.Printf("    Live catalog: %s (ttl %s)\n", cfg.Pricing.LiveURL, cfg.PricingTTL())
	}
	fmt.Printf("    Overrides:    %d\n", len(cfg.Pricing.Overrides))
	fmt.Println()

	fmt.Println("  [Budget]")
	if cfg.Budget.MonthlyUSD != nil {
		fmt.Printf("    Monthly budget: $%.0f\n", *cfg.Budget.MonthlyUSD)
	} else {
		fmt.Println("    Monthly budget: not set")
	}
	fmt.Println()

	fmt.Println("  Run `tokpulse config init` to write a config file.")
	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path := configFile()
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return errors.New("config file already exists (use --force to overwrite)")
	}
	if err := config.SaveTo(path, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("  Wrote %s\n", path)
	return nil
}

func providerState(enabled bool, key string) string {
	switch {
	case !enabled:
		return "disabled"
	case key == "":
		return "enabled, no credentials"
	}
	return "enabled, key " + maskAPIKey(key)
}

func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) > 16 {
		return key[:8] + "..." + key[len(key)-4:]
	}
	if len(key) > 4 {
		return key[:4] + "..."
	}
	return "****"
}
