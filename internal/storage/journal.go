package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// SQLiteJournal stores anomaly events in a SQLite database
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (and migrates) the journal at dbPath
func NewSQLiteJournal(ctx context.Context, dbPath string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	// WAL plus busy timeout so readers never block the writing loops
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	j := &SQLiteJournal{db: db}
	if err := j.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		ts INTEGER NOT NULL,
		status TEXT NOT NULL,
		streak INTEGER NOT NULL,
		message TEXT NOT NULL
	);
	`
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	indexSQL := `CREATE INDEX IF NOT EXISTS idx_events_target_ts ON events(target, ts DESC);`
	if _, err := j.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("failed to create journal index: %w", err)
	}
	return nil
}

// Append stores one event
func (j *SQLiteJournal) Append(rec EventRecord) error {
	_, err := j.db.Exec(
		`INSERT INTO events (target, ts, status, streak, message) VALUES (?, ?, ?, ?, ?)`,
		rec.Target, rec.Timestamp.UnixMilli(), rec.Status.String(), rec.Streak, rec.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest events for target, oldest first
func (j *SQLiteJournal) Recent(target string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = DefaultEventCapacity
	}

	rows, err := j.db.Query(
		`SELECT id, target, ts, status, streak, message FROM events
		 WHERE target = ? ORDER BY ts DESC, id DESC LIMIT ?`,
		target, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var (
			rec    EventRecord
			tsMs   int64
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.Target, &tsMs, &status, &rec.Streak, &rec.Message); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Timestamp = time.UnixMilli(tsMs)
		if rec.Status, err = ParseStatus(status); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	// Newest-first from the query; callers expect chronological order
	for i, k := 0, len(records)-1; i < k; i, k = i+1, k-1 {
		records[i], records[k] = records[k], records[i]
	}
	return records, nil
}

// Close closes the database
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
