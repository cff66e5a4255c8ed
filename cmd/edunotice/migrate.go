package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/noah-isme/edunotice/pkg/database"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
		Long:  `Apply, roll back or inspect the embedded database migrations.`,
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, "migrate down", func(ctx context.Context, db *sqlx.DB) error {
				return database.MigrateDown(ctx, db, steps)
			})
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(cmd, "migrate up", database.MigrateUp)
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(cmd, "migrate status", func(ctx context.Context, db *sqlx.DB) error {
					if err := database.MigrationStatus(ctx, db); err != nil {
						return err
					}
					version, err := database.SchemaVersion(ctx, db)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", version)
					return nil
				})
			},
		},
	)
	return cmd
}

func withDatabase(cmd *cobra.Command, command string, fn func(ctx context.Context, db *sqlx.DB) error) error {
	env, err := loadEnvironment(command)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := cmd.Context()
	db, err := database.NewPostgres(ctx, env.cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if err := fn(ctx, db); err != nil {
		return err
	}
	env.log.Info("migration command finished")
	return nil
}
