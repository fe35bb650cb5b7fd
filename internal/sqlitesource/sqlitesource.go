// Package sqlitesource persists a record source to a SQLite database.
//
// Records are stored one row per id as protobuf-encoded blobs. Resolver
// records are derived state and are never written.
package sqlitesource

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hanpama/graphcache/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// DB is a SQLite database holding a saved record source.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path.
//
// The database runs in WAL mode with a single connection.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &DB{db: db, now: time.Now}, nil
}

func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Save replaces the saved records with the contents of src and returns the
// number of rows written.
func (d *DB) Save(ctx context.Context, src record.Source) (n int, err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return 0, fmt.Errorf("failed to clear records: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO records (id, status, data, saved_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	savedAt := d.now().UnixMilli()
	for _, id := range src.IDs() {
		var data []byte
		status := src.Status(id)
		switch status {
		case record.Existent:
			r := src.Get(id)
			if r.IsResolver() {
				continue
			}
			if data, err = record.MarshalProto(r); err != nil {
				return 0, err
			}
		case record.Nonexistent:
		default:
			continue
		}
		if _, err = stmt.ExecContext(ctx, id, int(status), data, savedAt); err != nil {
			return 0, fmt.Errorf("failed to save record %s: %w", id, err)
		}
		n++
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO snapshots (id, records, saved_at) VALUES (1, ?, ?) ON CONFLICT(id) DO UPDATE SET records = excluded.records, saved_at = excluded.saved_at",
		n, savedAt); err != nil {
		return 0, fmt.Errorf("failed to record snapshot: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	glog.V(1).Infof("saved %d records", n)
	return n, nil
}

// Load writes every saved record into dst and returns the number of rows
// read. Records already in dst with the same id are replaced.
func (d *DB) Load(ctx context.Context, dst record.Source) (int, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id, status, data FROM records ORDER BY id")
	if err != nil {
		return 0, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			id     string
			status int
			data   []byte
		)
		if err := rows.Scan(&id, &status, &data); err != nil {
			return n, fmt.Errorf("failed to scan record: %w", err)
		}
		switch record.Status(status) {
		case record.Existent:
			r, err := record.UnmarshalProto(data)
			if err != nil {
				return n, fmt.Errorf("record %s: %w", id, err)
			}
			dst.Set(id, r)
		case record.Nonexistent:
			dst.Delete(id)
		default:
			return n, fmt.Errorf("record %s: unknown status %d", id, status)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("failed to read records: %w", err)
	}
	return n, nil
}

// SavedAt reports when Save last completed. ok is false if nothing has been
// saved.
func (d *DB) SavedAt(ctx context.Context) (t time.Time, ok bool, err error) {
	var ms int64
	err = d.db.QueryRowContext(ctx, "SELECT saved_at FROM snapshots WHERE id = 1").Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}
