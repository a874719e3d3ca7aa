package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"polibrief/internal/config"
	"polibrief/internal/logger"
	"polibrief/internal/persistence"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Manage database schema migrations.

Applied versions are tracked in the schema_migrations table. The same
migrations serve SQLite and PostgreSQL.

Examples:
  polibrief migrate up
  polibrief migrate status`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd)
		},
	})

	return cmd
}

// openStore opens the store without migrating it.
func openStore(ctx context.Context) (*persistence.SQLStore, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return persistence.Open(ctx, storeOptions(cfg), *logger.Get())
}

func runMigrateUp(ctx context.Context) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Get().Info().Str("dialect", string(store.Dialect())).Msg("all migrations applied")
	return nil
}

func runMigrateStatus(cmd *cobra.Command) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	status, err := store.MigrationStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(status) == 0 {
		fmt.Fprintln(out, "No migrations found")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-10s %s\n", "Version", "Status", "Description")
	pending := 0
	for _, m := range status {
		state := "applied"
		if !m.Applied {
			state = "pending"
			pending++
		}
		fmt.Fprintf(out, "%-10d %-10s %s\n", m.Version, state, m.Description)
	}
	fmt.Fprintf(out, "\nApplied: %d | Pending: %d | Total: %d\n", len(status)-pending, pending, len(status))
	return nil
}
