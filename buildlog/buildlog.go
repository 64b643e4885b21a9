// Package buildlog persists one row of build history per OAT write, backed
// by SQLite the way lib/runtime/persistence.go backs instance storage: a
// single table, a busy-timeout pragma for concurrent CLI invocations, and
// CREATE TABLE IF NOT EXISTS rather than a migration framework.
package buildlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one completed (or failed) build.
type Record struct {
	BuildID       string
	InstructionSet string
	DexFileCount  int
	OutputSize    int64
	Checksum      uint32
	Duration      time.Duration
	Success       bool
	Error         string
}

// Log wraps a SQLite-backed build history table.
type Log struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the build log database at dbPath.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("buildlog: opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("buildlog: setting busy timeout: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS builds (
		build_id        TEXT PRIMARY KEY,
		instruction_set TEXT NOT NULL,
		dex_file_count  INTEGER NOT NULL,
		output_size     INTEGER NOT NULL,
		checksum        INTEGER NOT NULL,
		duration_ms     INTEGER NOT NULL,
		success         INTEGER NOT NULL,
		error           TEXT NOT NULL,
		created_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("buildlog: creating table: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }

// Insert records one build's outcome.
func (l *Log) Insert(r Record) error {
	_, err := l.db.Exec(
		`INSERT OR REPLACE INTO builds
			(build_id, instruction_set, dex_file_count, output_size, checksum, duration_ms, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.BuildID, r.InstructionSet, r.DexFileCount, r.OutputSize, r.Checksum,
		r.Duration.Milliseconds(), boolToInt(r.Success), r.Error,
	)
	if err != nil {
		return fmt.Errorf("buildlog: inserting record: %w", err)
	}
	return nil
}

// Recent returns the most recent limit build records, newest first.
func (l *Log) Recent(limit int) ([]Record, error) {
	rows, err := l.db.Query(
		`SELECT build_id, instruction_set, dex_file_count, output_size, checksum, duration_ms, success, error
		 FROM builds ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("buildlog: querying recent builds: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var durationMs int64
		var success int
		if err := rows.Scan(&r.BuildID, &r.InstructionSet, &r.DexFileCount, &r.OutputSize,
			&r.Checksum, &durationMs, &success, &r.Error); err != nil {
			return nil, fmt.Errorf("buildlog: scanning record: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Success = success != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
