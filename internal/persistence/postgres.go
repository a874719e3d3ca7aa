package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver
	"github.com/rs/zerolog"
)

// NewPostgresStore opens a Postgres connection pool and verifies it.
func NewPostgresStore(ctx context.Context, connectionString string, maxOpenConns int, log zerolog.Logger) (*SQLStore, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("postgres connection string is empty")
	}
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newSQLStore(db, DialectPostgres, log), nil
}
