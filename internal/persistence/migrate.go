package persistence

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
}

// Migrate runs all pending migrations
func (s *SQLStore) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	available, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	var pending []Migration
	for _, m := range available {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		s.log.Debug().Msg("no pending migrations")
		return nil
	}

	for _, m := range pending {
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
	}

	s.log.Info().Int("applied", len(pending)).Msg("migration completed")
	return nil
}

// MigrationStatus lists every known migration and whether it is applied.
func (s *SQLStore) MigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	available, err := loadMigrations()
	if err != nil {
		return nil, err
	}

	status := make([]MigrationStatus, 0, len(available))
	for _, m := range available {
		status = append(status, MigrationStatus{Version: m.Version, Description: m.Description, Applied: applied[m.Version]})
	}
	return status, nil
}

func (s *SQLStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at BIGINT NOT NULL
		)
	`)
	return err
}

func (s *SQLStore) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := s.query(ctx, s.sb.Select("version").From("schema_migrations").OrderBy("version"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// loadMigrations reads migrations named like 001_initial_schema.sql, sorted by version.
func loadMigrations() ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			return nil, fmt.Errorf("migration file %s has no version prefix", entry.Name())
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("migration file %s has an invalid version: %w", entry.Name(), err)
		}

		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{
			Version:     version,
			Description: strings.ReplaceAll(strings.TrimSuffix(parts[1], ".sql"), "_", " "),
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// applyMigration applies a single migration in a transaction
func (s *SQLStore) applyMigration(ctx context.Context, m Migration) error {
	s.log.Info().Int("version", m.Version).Str("description", m.Description).Msg("applying migration")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
	}

	query, args, err := s.sb.Insert("schema_migrations").
		Columns("version", "description", "applied_at").
		Values(m.Version, m.Description, toMillis(s.now())).
		Suffix("ON CONFLICT (version) DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// splitStatements splits a migration file on semicolons. Migration files must
// not contain semicolons inside literals.
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
