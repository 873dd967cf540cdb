package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Performance tuning
	_, err = db.Exec("PRAGMA journal_mode=WAL;")
	if err != nil {
		return nil, fmt.Errorf("setting wal mode: %w", err)
	}
	_, err = db.Exec("PRAGMA foreign_keys=ON;")
	if err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &DB{conn: db}, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Init() error {
	// reservation_allocations.gpu_id deliberately carries no foreign key:
	// a catalog reload may remove a GPU that historical reservations still
	// reference, and those rows survive as read-only history.
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS gpus (
		id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id TEXT NOT NULL,
		start_utc TEXT NOT NULL,
		end_utc TEXT NOT NULL,
		user_label TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'medium',
		status TEXT NOT NULL DEFAULT 'active',
		created_utc TEXT NOT NULL,
		updated_utc TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reservation_allocations (
		reservation_id INTEGER NOT NULL,
		gpu_id TEXT NOT NULL,
		PRIMARY KEY (reservation_id, gpu_id),
		FOREIGN KEY (reservation_id) REFERENCES reservations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_node_window
		ON reservations(node_id, start_utc, end_utc);
	`

	_, err := d.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}

	return nil
}

func (d *DB) Exec(query string, args ...any) (sql.Result, error) {
	return d.conn.Exec(query, args...)
}

func (d *DB) QueryRow(query string, args ...any) *sql.Row {
	return d.conn.QueryRow(query, args...)
}

func (d *DB) Query(query string, args ...any) (*sql.Rows, error) {
	return d.conn.Query(query, args...)
}

func (d *DB) Begin() (*sql.Tx, error) {
	return d.conn.Begin()
}
