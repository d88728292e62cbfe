package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"toonify/internal/infra"
	"toonify/internal/migrations"
)

const createLedger = `create table if not exists schema_migrations (
    name text primary key,
    applied_at timestamptz not null default now()
)`

func main() {
	_ = godotenv.Load()

	var dryRun bool
	flag.BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	flag.Parse()

	logger := infra.NewLogger(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL")).With().Str("cmd", "migrate").Logger()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	if _, err := db.ExecContext(ctx, createLedger); err != nil {
		logger.Fatal().Err(err).Msg("create migration ledger")
	}

	all, err := migrations.All()
	if err != nil {
		logger.Fatal().Err(err).Msg("load migrations")
	}

	applied := 0
	for _, m := range all {
		var exists bool
		if err := db.QueryRowContext(ctx, `select exists(select 1 from schema_migrations where name = $1)`, m.Name).Scan(&exists); err != nil {
			logger.Fatal().Err(err).Str("migration", m.Name).Msg("check migration")
		}
		if exists {
			continue
		}
		if dryRun {
			logger.Info().Str("migration", m.Name).Msg("pending")
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			logger.Fatal().Err(err).Str("migration", m.Name).Msg("apply migration")
		}
		logger.Info().Str("migration", m.Name).Msg("applied")
		applied++
	}
	logger.Info().Int("applied", applied).Int("total", len(all)).Msg("migrations done")
}

func apply(ctx context.Context, db *sql.DB, m migrations.Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `insert into schema_migrations (name) values ($1)`, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}
