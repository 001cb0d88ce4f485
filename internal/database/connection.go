package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by single-row lookups that match nothing
var ErrNotFound = errors.New("not found")

// Connect opens the store for the given DB_TYPE and makes sure the schema exists.
// For sqlite dsn is a file path or a file: URI, for postgres a connection URL.
func Connect(dbType, dsn string) (*sqlx.DB, error) {
	var db *sqlx.DB
	var err error

	switch dbType {
	case "postgres":
		db, err = sqlx.Connect("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	case "sqlite", "":
		// Create data directory if it doesn't exist
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		db, err = openSQLite(dsn + sep + "_foreign_keys=on&_busy_timeout=5000")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	if err := InitializeSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openSQLite(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// SQLite doesn't support multiple writers; one connection also serializes
	// every transaction, which the streak and job claim paths rely on.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// isPostgres reports whether q talks to postgres
func isPostgres(q interface{ DriverName() string }) bool {
	return q.DriverName() == "postgres"
}

// pick returns the transaction when one is given, the pool otherwise
func pick(db *sqlx.DB, tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return db
}

// WithTx runs fn inside a transaction, committing when fn returns nil
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InitializeSchema creates the tables if they don't exist
func InitializeSchema(ctx context.Context, db *sqlx.DB) error {
	r := dialectReplacer(db)
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("failed to initialize schema: %w\n%s", err, stmt)
		}
	}
	return nil
}

func dialectReplacer(db *sqlx.DB) *strings.Replacer {
	if isPostgres(db) {
		return strings.NewReplacer(
			"{{pk}}", "id BIGSERIAL PRIMARY KEY",
			"{{ts}}", "TIMESTAMPTZ",
		)
	}
	return strings.NewReplacer(
		"{{pk}}", "id INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ts}}", "TIMESTAMP",
	)
}

var schema = []string{
	// Item store, written by the sync worker
	`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		lang TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'sense',
		lemma TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL DEFAULT '',
		frequency_rank INTEGER,
		register TEXT NOT NULL DEFAULT '',
		transcription TEXT NOT NULL DEFAULT '',
		has_irregular BOOLEAN NOT NULL DEFAULT FALSE,
		payload TEXT NOT NULL DEFAULT '{}',
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_lang_rank ON items (lang, frequency_rank)`,
	`CREATE TABLE IF NOT EXISTS item_forms (
		item_id TEXT NOT NULL,
		form TEXT NOT NULL,
		irregular BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (item_id, form)
	)`,
	`CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		lang TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS collection_items (
		collection_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		PRIMARY KEY (collection_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS content_versions (
		lang TEXT PRIMARY KEY,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at {{ts}} NOT NULL
	)`,

	// Personal state
	`CREATE TABLE IF NOT EXISTS saved_items (
		{{pk}},
		username TEXT NOT NULL,
		sense_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queue',
		source TEXT NOT NULL DEFAULT 'manual',
		added_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL,
		UNIQUE (username, sense_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_saved_items_user_status ON saved_items (username, status)`,
	`CREATE TABLE IF NOT EXISTS item_progress (
		username TEXT NOT NULL,
		sense_id TEXT NOT NULL,
		beginner INTEGER NOT NULL DEFAULT 0,
		experienced INTEGER NOT NULL DEFAULT 0,
		expert INTEGER NOT NULL DEFAULT 0,
		updated_at {{ts}} NOT NULL,
		PRIMARY KEY (username, sense_id)
	)`,
	`CREATE TABLE IF NOT EXISTS phrase_progress (
		{{pk}},
		username TEXT NOT NULL,
		item_type TEXT NOT NULL,
		item_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queue',
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL,
		UNIQUE (username, item_type, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS collection_enrollments (
		username TEXT NOT NULL,
		collection_id TEXT NOT NULL,
		started_at {{ts}} NOT NULL,
		completed_at {{ts}},
		PRIMARY KEY (username, collection_id)
	)`,
	`CREATE TABLE IF NOT EXISTS legacy_user_lists (
		username TEXT PRIMARY KEY,
		saved_ids TEXT NOT NULL DEFAULT '[]',
		progress TEXT NOT NULL DEFAULT '{}'
	)`,

	// Daily selection
	`CREATE TABLE IF NOT EXISTS daily_highlights (
		{{pk}},
		username TEXT NOT NULL,
		lang TEXT NOT NULL,
		day_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		sense_id TEXT NOT NULL,
		meta TEXT NOT NULL DEFAULT '{}',
		created_at {{ts}} NOT NULL,
		UNIQUE (username, lang, day_key, kind)
	)`,

	// Streaks and rewards
	`CREATE TABLE IF NOT EXISTS active_days (
		username TEXT PRIMARY KEY,
		last_active_date TEXT NOT NULL,
		streak_days INTEGER NOT NULL DEFAULT 0,
		max_streak INTEGER NOT NULL DEFAULT 0,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reward_rules (
		event TEXT PRIMARY KEY,
		amount INTEGER NOT NULL
	)`,
	`INSERT INTO reward_rules (event, amount) VALUES ('active_day', 10) ON CONFLICT (event) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS xp_events (
		{{pk}},
		username TEXT NOT NULL,
		event TEXT NOT NULL,
		amount INTEGER NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_xp_events_user ON xp_events (username)`,

	// Sync ingestion queue
	`CREATE TABLE IF NOT EXISTS sync_jobs (
		{{pk}},
		request_id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		lang TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		result TEXT,
		error_message TEXT,
		created_at {{ts}} NOT NULL,
		started_at {{ts}},
		finished_at {{ts}},
		lease_expires_at {{ts}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs (status, created_at)`,

	// Telegram delivery channel
	`CREATE TABLE IF NOT EXISTS chat_links (
		username TEXT PRIMARY KEY,
		chat_id BIGINT NOT NULL,
		notification_hour INTEGER NOT NULL DEFAULT 9,
		notification_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
}
