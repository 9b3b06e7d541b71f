// Package postgres persists finalized stream sessions.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"vidstream/internal/config"
)

var schemaName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// dsn pins search_path per connection; lib/pq forwards unknown keys as
// run-time parameters.
func dsn(cfg config.PostgresConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s search_path=%s,public",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.DB,
		cfg.SSLMode,
		cfg.Schema,
	)
}

// Connect opens the database, prepares the schema and runs migrations.
func Connect(ctx context.Context, cfg config.PostgresConfig, logger zerolog.Logger) (*sql.DB, error) {
	if !schemaName.MatchString(cfg.Schema) {
		return nil, fmt.Errorf("invalid schema name %q", cfg.Schema)
	}

	db, err := sql.Open("postgres", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+cfg.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	logger.Info().Str("database", cfg.DB).Str("schema", cfg.Schema).Msg("postgres connection established")
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS stream_sessions (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		format_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		start_time TIMESTAMP WITH TIME ZONE NOT NULL,
		end_time TIMESTAMP WITH TIME ZONE,
		bytes_streamed BIGINT NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL,
		error_reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_sessions_start_time ON stream_sessions(start_time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_sessions_platform ON stream_sessions(platform)`,
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	for i, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
