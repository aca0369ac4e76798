package main

import (
	"fmt"
	"time"

	"github.com/malwarebo/pulse/db"
	"github.com/malwarebo/pulse/models"
	"github.com/malwarebo/pulse/services"
	"github.com/malwarebo/pulse/stores"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := db.CreateSchemaMigrator(database.DB).Up(); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		printSuccess("Migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down <version>",
	Short: "Roll back every migration newer than version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := db.CreateSchemaMigrator(database.DB).Down(args[0]); err != nil {
			return fmt.Errorf("failed to roll back %s: %w", args[0], err)
		}
		printSuccess(fmt.Sprintf("Rolled back migrations newer than %s", args[0]))
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		statuses, err := db.CreateSchemaMigrator(database.DB).Status()
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}
		for _, status := range statuses {
			mark := colorYellow + "pending" + colorReset
			if status.Applied {
				mark = colorGreen + "applied" + colorReset
			}
			fmt.Printf("%s  %-40s %s\n", status.Version, status.Name, mark)
		}
		return nil
	},
}

var reapRetention time.Duration

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Delete cache entries past the retention window once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		retention := cfg.Insights.Retention
		if reapRetention > 0 {
			retention = reapRetention
		}
		store := stores.CreateInsightCacheStore(database.DB, nil, cfg.Insights.LockTTL)
		deleted, err := services.CreateReaper(store, cfg.Insights.ReaperInterval, retention).RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Deleted %d cache entries older than %s", deleted, retention))
		return nil
	},
}

var (
	tenantTier   string
	tenantLocale string
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a tenant and print its API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		tenant, err := services.CreateTenantService(stores.CreateTenantStore(database.DB)).Create(cmd.Context(), &models.CreateTenantRequest{
			Name:   args[0],
			Tier:   models.Tier(tenantTier),
			Locale: tenantLocale,
		})
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Created tenant %s (%s)", tenant.ID, tenant.Tier))
		printInfo("API key: " + tenant.APIKey)
		return nil
	},
}

var tenantShowCmd = &cobra.Command{
	Use:   "show <tenant-id>",
	Short: "Print a tenant's plan, locale and status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		tenant, err := services.CreateTenantService(stores.CreateTenantStore(database.DB)).GetByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		status := colorGreen + "active" + colorReset
		if !tenant.IsActive {
			status = colorRed + "inactive" + colorReset
		}
		locale := tenant.Locale
		if locale == "" {
			locale = cfg.Insights.DefaultLocale
		}
		fmt.Printf("%s  %s\n", tenant.ID, tenant.Name)
		fmt.Printf("  tier:     %s (insights: %t)\n", tenant.Tier, models.CanAccessInsights(tenant.Tier))
		fmt.Printf("  locale:   %s\n", locale)
		fmt.Printf("  status:   %s\n", status)
		fmt.Printf("  created:  %s\n", tenant.CreatedAt.Format(time.RFC3339))
		return nil
	},
}

var tenantTierCmd = &cobra.Command{
	Use:   "set-tier <tenant-id> <tier>",
	Short: "Change a tenant's subscription tier",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := services.CreateTenantService(stores.CreateTenantStore(database.DB)).UpdateTier(cmd.Context(), args[0], models.Tier(args[1])); err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Tenant %s is now on %s", args[0], args[1]))
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)

	reapCmd.Flags().DurationVar(&reapRetention, "retention", 0, "override the configured retention window")

	tenantCreateCmd.Flags().StringVar(&tenantTier, "tier", string(models.TierFree), "subscription tier")
	tenantCreateCmd.Flags().StringVar(&tenantLocale, "locale", "", "default insight locale")
	tenantCmd.AddCommand(tenantCreateCmd, tenantShowCmd, tenantTierCmd)
}
