package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/shopfloor/internal/config"
	"github.com/zulandar/shopfloor/internal/db"
	"github.com/zulandar/shopfloor/internal/events"
	"github.com/zulandar/shopfloor/internal/lifecycle"
	"gorm.io/gorm"
)

const defaultConfigPath = "shopfloor.yaml"

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Shopfloor database",
		Long:  "Migrates all tables and seeds production cells from configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Loaded config for shop %q from %s\n", cfg.Shop, configPath)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedCells(gormDB, cfg.Cells); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d cells:", len(cfg.Cells))
	for _, cell := range cfg.Cells {
		fmt.Fprintf(out, " %s", cell.Name)
	}
	fmt.Fprintln(out)
	return nil
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	return cmd
}

// newEngine builds the lifecycle engine for one-shot commands. The
// emitter writes an outbox row per committed transition; the process
// exits before dispatch, so the serve-time redeliver sweep delivers it.
func newEngine(gormDB *gorm.DB) *lifecycle.Engine {
	return lifecycle.New(gormDB, nil, events.NewEmitter(gormDB, 16))
}

// connectFromConfig loads configuration and opens the configured database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}
