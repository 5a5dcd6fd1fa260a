package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite3 driver
)

const (
	dialectSQLite   = "sqlite3"
	dialectPostgres = "postgres"
)

// DB is the archive's revision store. It runs on SQLite or Postgres depending
// on the DSN it was opened with.
type DB struct {
	conn    *sql.DB
	dialect string
	logger  *slog.Logger
}

// Open connects to the store named by dsn and makes sure the schema exists.
//
//	sqlite://data/archive.db   SQLite file (a bare path works too)
//	postgres://user@host/db    Postgres
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, source, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{conn: conn, dialect: driver, logger: logger.With("module", "database")}
	if err := db.createTables(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	db.logger.Info("database.open", "dialect", driver)
	return db, nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func parseDSN(dsn string) (driver, source string, err error) {
	dsn = strings.TrimSpace(dsn)
	var path string
	switch {
	case dsn == "":
		return "", "", fmt.Errorf("database dsn is empty")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return dialectPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path = strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "sqlite3://"):
		path = strings.TrimPrefix(dsn, "sqlite3://")
	case strings.Contains(dsn, "://"):
		return "", "", fmt.Errorf("unsupported database dsn scheme: %s", dsn)
	default:
		path = dsn
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", "", fmt.Errorf("failed to create database directory: %w", err)
	}
	// Immediate transactions serialize writers, which is what keeps a revision
	// group's current flag consistent.
	return dialectSQLite, "file:" + path + "?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", nil
}

// rebind turns ? placeholders into $n for Postgres.
func (db *DB) rebind(query string) string {
	if db.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns "?, ?, ?" for n values.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (db *DB) createTables(ctx context.Context) error {
	tables, indexes := sqliteSchema, sqliteIndexes
	if db.dialect == dialectPostgres {
		tables, indexes = postgresSchema, postgresIndexes
	}

	for _, stmt := range tables {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, stmt := range indexes {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			db.logger.Warn("database.index_failed", "statement", stmt, "error", err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		discord_channel_id INTEGER NOT NULL UNIQUE,
		guild_id INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL DEFAULT '',
		archiving_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		backfill_complete BOOLEAN NOT NULL DEFAULT FALSE,
		last_backfilled_message_id INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		discord_message_id INTEGER NOT NULL,
		channel_id INTEGER NOT NULL REFERENCES channels(id),
		author_id INTEGER NOT NULL DEFAULT 0,
		author_username TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		revision_created_at TIMESTAMP NOT NULL,
		is_current_revision BOOLEAN NOT NULL DEFAULT FALSE,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		edit_group_id INTEGER,
		content_markdown TEXT NOT NULL DEFAULT '',
		raw_content TEXT,
		attachment_summary TEXT NOT NULL DEFAULT '[]',
		attachment_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stored_attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		discord_attachment_id TEXT NOT NULL,
		message_id INTEGER NOT NULL REFERENCES messages(id),
		filename TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		blob_data BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (discord_attachment_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS attachment_skips (
		discord_attachment_id TEXT NOT NULL,
		message_id INTEGER NOT NULL REFERENCES messages(id),
		reason TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (discord_attachment_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS attachment_failures (
		discord_attachment_id TEXT NOT NULL,
		message_id INTEGER NOT NULL REFERENCES messages(id),
		attempts INTEGER NOT NULL,
		last_failed_at BIGINT NOT NULL,
		PRIMARY KEY (discord_attachment_id, message_id)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		id BIGSERIAL PRIMARY KEY,
		discord_channel_id BIGINT NOT NULL UNIQUE,
		guild_id BIGINT NOT NULL DEFAULT 0,
		name TEXT NOT NULL DEFAULT '',
		archiving_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		backfill_complete BOOLEAN NOT NULL DEFAULT FALSE,
		last_backfilled_message_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		discord_message_id BIGINT NOT NULL,
		channel_id BIGINT NOT NULL REFERENCES channels(id),
		author_id BIGINT NOT NULL DEFAULT 0,
		author_username TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		revision_created_at TIMESTAMPTZ NOT NULL,
		is_current_revision BOOLEAN NOT NULL DEFAULT FALSE,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		edit_group_id BIGINT,
		content_markdown TEXT NOT NULL DEFAULT '',
		raw_content TEXT,
		attachment_summary TEXT NOT NULL DEFAULT '[]',
		attachment_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stored_attachments (
		id BIGSERIAL PRIMARY KEY,
		discord_attachment_id TEXT NOT NULL,
		message_id BIGINT NOT NULL REFERENCES messages(id),
		filename TEXT NOT NULL,
		size_bytes BIGINT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		blob_data BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (discord_attachment_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS attachment_skips (
		discord_attachment_id TEXT NOT NULL,
		message_id BIGINT NOT NULL REFERENCES messages(id),
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (discord_attachment_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS attachment_failures (
		discord_attachment_id TEXT NOT NULL,
		message_id BIGINT NOT NULL REFERENCES messages(id),
		attempts INTEGER NOT NULL,
		last_failed_at BIGINT NOT NULL,
		PRIMARY KEY (discord_attachment_id, message_id)
	)`,
}

var sqliteIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_messages_discord_id ON messages(discord_message_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_edit_group ON messages(edit_group_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_channel_current ON messages(channel_id, is_current_revision, discord_message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_attachment_count ON messages(attachment_count)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_guild ON channels(guild_id)`,
	`CREATE INDEX IF NOT EXISTS idx_attachment_failures_message ON attachment_failures(message_id, last_failed_at)`,
}

var postgresIndexes = sqliteIndexes
