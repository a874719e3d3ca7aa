package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"polibrief/internal/core"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Options selects and configures the backend
type Options struct {
	Driver       string // postgres or sqlite
	DSN          string // Postgres connection string
	Path         string // SQLite database file
	MaxOpenConns int
}

// Open connects to the backend named by opts.Driver.
func Open(ctx context.Context, opts Options, log zerolog.Logger) (*SQLStore, error) {
	switch Dialect(strings.ToLower(opts.Driver)) {
	case DialectPostgres:
		return NewPostgresStore(ctx, opts.DSN, opts.MaxOpenConns, log)
	case DialectSQLite, "":
		return NewSQLiteStore(ctx, opts.Path, log)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

// SQLStore implements Store on database/sql. Postgres and SQLite share every
// query; only the placeholder format differs.
type SQLStore struct {
	db      *sql.DB
	sb      sq.StatementBuilderType
	dialect Dialect
	log     zerolog.Logger
	now     func() time.Time
}

func newSQLStore(db *sql.DB, dialect Dialect, log zerolog.Logger) *SQLStore {
	placeholder := sq.PlaceholderFormat(sq.Question)
	if dialect == DialectPostgres {
		placeholder = sq.Dollar
	}
	return &SQLStore{
		db:      db,
		sb:      sq.StatementBuilder.PlaceholderFormat(placeholder),
		dialect: dialect,
		log:     log.With().Str("component", "store").Str("dialect", string(dialect)).Logger(),
		now:     time.Now,
	}
}

// Dialect reports the backend in use.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// runner is satisfied by *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	return execOn(ctx, s.db, b)
}

func execOn(ctx context.Context, r runner, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.ExecContext(ctx, query, args...)
}

func (s *SQLStore) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	return queryRowOn(ctx, s.db, b)
}

func queryRowOn(ctx context.Context, r runner, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.QueryRowContext(ctx, query, args...), nil
}

func (s *SQLStore) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryContext(ctx, query, args...)
}

// inTx runs fn in a transaction. fn must not use s.db: SQLite holds a single
// connection.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// isUniqueViolation recognizes unique constraint failures from both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// versionedList is the JSON column format for typed lists.
type versionedList[T any] struct {
	SchemaVersion int `json:"schema_version"`
	Items         []T `json:"items"`
}

func encodeList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(versionedList[T]{SchemaVersion: core.SchemaVersion, Items: items})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList[T any](raw string) ([]T, error) {
	if raw == "" {
		return nil, nil
	}
	var v versionedList[T]
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	if v.SchemaVersion > core.SchemaVersion {
		return nil, fmt.Errorf("list schema version %d is newer than supported %d", v.SchemaVersion, core.SchemaVersion)
	}
	return v.Items, nil
}

func statusStrings(statuses []core.ItemStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

// excludedSet builds the SET clause of an upsert that copies every column
// from the proposed row.
func excludedSet(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return strings.Join(parts, ", ")
}
