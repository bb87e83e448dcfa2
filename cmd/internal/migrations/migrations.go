// Package migrations holds mereb's Postgres schema, applied with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"
)

// SQL is the embedded migration set.
//
//go:embed sql/*.sql
var SQL embed.FS

const dir = "sql"

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Up applies every pending migration using the given database URL.
func Up(ctx context.Context, databaseURL string) error {
	if databaseURL == "" {
		return errors.New("migrations: empty database url")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("migrations: open: %w", err)
	}
	defer func() { _ = db.Close() }()

	return Run(ctx, db)
}

// Run applies every pending migration on db.
func Run(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(SQL)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("migrations: dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}
