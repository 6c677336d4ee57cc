package storage

import (
	"context"
	"database/sql"
	"fmt"
	"icarus/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// DB keeps the usage counters in a SQLite database.
type DB struct {
	conn *sql.DB
}

func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS global_usage (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			date TEXT NOT NULL,
			count INTEGER NOT NULL CHECK (count >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS user_usage (
			session_id TEXT PRIMARY KEY,
			date TEXT NOT NULL,
			count INTEGER NOT NULL CHECK (count >= 0)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// LoadGlobal returns nil when no global record has been saved yet.
func (db *DB) LoadGlobal(ctx context.Context) (*models.CounterRecord, error) {
	query := `SELECT date, count FROM global_usage WHERE id = 1`
	row := db.conn.QueryRowContext(ctx, query)

	var rec models.CounterRecord
	err := row.Scan(&rec.Date, &rec.Count)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get global usage: %w", err)
	}

	return &rec, nil
}

func (db *DB) SaveGlobal(ctx context.Context, rec models.CounterRecord) error {
	query := `INSERT INTO global_usage (id, date, count) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET date = excluded.date, count = excluded.count`
	_, err := db.conn.ExecContext(ctx, query, rec.Date, rec.Count)
	if err != nil {
		return fmt.Errorf("failed to save global usage: %w", err)
	}
	return nil
}

// LoadUser returns nil when the session has no stored record.
func (db *DB) LoadUser(ctx context.Context, sessionID string) (*models.CounterRecord, error) {
	query := `SELECT date, count FROM user_usage WHERE session_id = ?`
	row := db.conn.QueryRowContext(ctx, query, sessionID)

	var rec models.CounterRecord
	err := row.Scan(&rec.Date, &rec.Count)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user usage: %w", err)
	}

	return &rec, nil
}

// SaveUser upserts the session's record and deletes rows dated differently
// from rec, so the table only ever holds the current day's sessions.
func (db *DB) SaveUser(ctx context.Context, sessionID string, rec models.CounterRecord) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `INSERT INTO user_usage (session_id, date, count) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET date = excluded.date, count = excluded.count`
	if _, err := tx.ExecContext(ctx, upsert, sessionID, rec.Date, rec.Count); err != nil {
		return fmt.Errorf("failed to save user usage: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_usage WHERE date <> ?`, rec.Date); err != nil {
		return fmt.Errorf("failed to prune user usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user usage: %w", err)
	}
	return nil
}
