package main

import (
	"context"
	"fmt"
	"os"

	"github.com/malwarebo/pulse/config"
	"github.com/malwarebo/pulse/db"
	"github.com/malwarebo/pulse/utils"
	"github.com/spf13/cobra"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "pulse",
	Short:         "Pulse - per-tenant CRM insights",
	Long:          `Pulse generates, caches and serves per-tenant insights such as a prioritized lead list.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reapCmd)
	rootCmd.AddCommand(tenantCmd)
}

func main() {
	err := rootCmd.Execute()
	utils.SyncLogging()
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Printf("%s%s", colorCyan, colorBold)
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Pulse Insight Service                                       ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Prioritized leads, generated once and served from cache     ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Printf("%s", colorReset)
}

func printStep(step, message string) {
	fmt.Printf("%s[%s]%s %s%s%s\n", colorBlue, step, colorReset, colorBold, message, colorReset)
}

func printSuccess(message string) {
	fmt.Printf("%s✓%s %s\n", colorGreen, colorReset, message)
}

func printWarning(message string) {
	fmt.Printf("%s⚠%s %s\n", colorYellow, colorReset, message)
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "%s✗%s %s\n", colorRed, colorReset, message)
}

func printInfo(message string) {
	fmt.Printf("%sℹ%s %s\n", colorCyan, colorReset, message)
}

// loadConfig loads, validates and applies the logging settings. Every
// command starts here.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := utils.ConfigureLogging(cfg.Monitoring.LogLevel, cfg.Monitoring.LogFormat); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	database, err := db.CreateDB(ctx, db.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.GetDatabaseURL(),
		ReplicaDSNs:  cfg.Database.ReplicaDSNs,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxLifetime:  cfg.Database.MaxLifetime,
		MaxIdleTime:  cfg.Database.MaxIdleTime,
		LogLevel:     cfg.Database.LogLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}
