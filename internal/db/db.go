// Package db keeps the run index: a SQLite database with one row per
// harness run (runs), one per driven turn (turns) and an append-only
// event log per run (events). The index is advisory. Run directories
// with their transcripts and verdict files stay the source of truth,
// so a lost index only loses listing and retention history.
//
// The schema lives in embedded goose migrations under migrations/ and is
// brought up to date every time the index is opened.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Open opens the run index at path. Missing parent directories and the
// database file are created and pending migrations are applied. The pool
// holds a single connection.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("open db: empty run index path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// applyPragmas enables foreign keys for turn and event cascades. WAL is
// best effort: some filesystems reject it.
func applyPragmas(db *sql.DB) error {
	stmts := []string{
		"PRAGMA foreign_keys=ON;",
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			if stmt == "PRAGMA journal_mode=WAL;" {
				log.Warn().Err(err).Msg("sqlite: WAL mode not enabled")
				continue
			}
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	return nil
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	log.Debug().Int64("version", version).Msg("run index schema ready")
	return nil
}
