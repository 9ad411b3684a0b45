package main

import (
	"context"
	"fmt"
	"time"

	"github.com/malwarebo/paygate/db"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	var (
		sqlDir     string
		statusOnly bool
		downTo     string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			database, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			migrator := db.CreateSchemaMigrator(database.GetDB())
			if sqlDir != "" {
				if err := migrator.LoadMigrationsFromDir(sqlDir); err != nil {
					return fmt.Errorf("failed to load migrations from %s: %v", sqlDir, err)
				}
			}

			switch {
			case statusOnly:
			case downTo != "":
				if err := migrator.Down(downTo); err != nil {
					return fmt.Errorf("rollback failed: %v", err)
				}
				printSuccess(fmt.Sprintf("Rolled back to %s", downTo))
			default:
				if err := migrator.Up(); err != nil {
					return fmt.Errorf("migration failed: %v", err)
				}
				printSuccess("Schema is up to date")
			}

			statuses, err := migrator.Status()
			if err != nil {
				return err
			}
			for _, s := range statuses {
				if s.Applied {
					printSuccess(fmt.Sprintf("%s %s", s.Version, s.Name))
				} else {
					printWarning(fmt.Sprintf("%s %s (pending)", s.Version, s.Name))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sqlDir, "sql-dir", "", "directory of NNNN_name.sql files applied after the built-in schema")
	cmd.Flags().BoolVar(&statusOnly, "status", false, "only report which migrations are applied")
	cmd.Flags().StringVar(&downTo, "down", "", "roll back every migration newer than this version")
	return cmd
}

func newAlertsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Alert engine maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate every active alert rule once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(ctx context.Context, app *application) error {
				created, err := app.alerts.Evaluate(ctx)
				if err != nil {
					return err
				}
				for _, alert := range created {
					printWarning(fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Title, alert.Message))
				}
				printSuccess(fmt.Sprintf("%d alert(s) raised", len(created)))
				return nil
			})
		},
	})
	return cmd
}

func newSecurityCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "security",
		Short: "Security guard maintenance",
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete rate limit windows older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(ctx context.Context, app *application) error {
				age := olderThan
				if age == 0 {
					age = app.cfg.Security.StaleWindowMaxAge
				}
				purged, err := app.guard.PurgeStaleWindows(ctx, age)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Purged %d rate limit window(s) older than %s", purged, age))
				return nil
			})
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 0, "retention period (defaults to security.stale_window_max_age)")

	cmd.AddCommand(purge)
	return cmd
}

func withApplication(run func(ctx context.Context, app *application) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := buildApplication(cfg, nil)
	if err != nil {
		return err
	}
	defer app.close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return run(ctx, app)
}
