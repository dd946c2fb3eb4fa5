// Package storage persists songs, jobs and the karaoke queue in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates and initializes the database at dbPath.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for cross-process readers, long busy timeout for writer
	// contention, FULL sync so a committed job row survives power loss.
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA synchronous = FULL",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	db := &DB{conn: conn, path: dbPath}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection for advanced queries.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// checkpoint flushes the WAL so other processes observe the commit
// within bounded time.
func (db *DB) checkpoint() {
	db.conn.Exec("PRAGMA wal_checkpoint(PASSIVE)")
}

// migrate runs database migrations.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS songs (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		artist TEXT NOT NULL DEFAULT 'Unknown Artist',
		album TEXT,
		genre TEXT,
		release_date TEXT,
		duration_ms INTEGER DEFAULT 0,
		source TEXT,
		video_id TEXT,
		uploader TEXT,
		channel_id TEXT,
		upload_date TEXT,
		itunes_track_id INTEGER DEFAULT 0,
		itunes_artist_id INTEGER DEFAULT 0,
		original_path TEXT,
		vocals_path TEXT,
		instrumental_path TEXT,
		thumbnail_path TEXT,
		cover_art_path TEXT,
		plain_lyrics TEXT,
		synced_lyrics TEXT,
		raw_metadata TEXT,
		has_audio_files BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		filename TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		status_message TEXT,
		task_id TEXT,
		song_id TEXT,
		title TEXT,
		artist TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		error TEXT,
		notes TEXT,
		dismissed BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);

	CREATE TABLE IF NOT EXISTS karaoke_queue (
		id TEXT PRIMARY KEY,
		song_id TEXT NOT NULL REFERENCES songs(id) ON DELETE CASCADE,
		singer TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_position ON karaoke_queue(position);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}
