// Package sqlite keeps table metadata pointers in a SQL table, in the
// manner of a JDBC catalog: the pointer swap is a conditional UPDATE and
// the number of affected rows decides who won.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gear6io/stratum/pkg/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Type is the catalog name used in configuration
const Type = "sqlite"

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS table_pointers (
		table_root TEXT NOT NULL PRIMARY KEY,
		metadata_location TEXT NOT NULL,
		previous_metadata_location TEXT,
		updated_at INTEGER NOT NULL
	)`

// PointerStore implements storage.PointerStore on SQLite
type PointerStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database file at path
func Open(path string, logger zerolog.Logger) (*PointerStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.New(ErrCatalogDirectoryCreateFailed, "failed to create catalog directory", err).AddContext("path", path)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.New(ErrDatabaseOpenFailed, "failed to open SQLite database", err).AddContext("path", path)
	}
	store, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open database and creates the pointer table
func New(db *sql.DB, logger zerolog.Logger) (*PointerStore, error) {
	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, errors.New(ErrDatabaseInitFailed, "failed to create table_pointers table", err)
	}
	return &PointerStore{db: db, logger: logger.With().Str("component", "sqlite_catalog").Logger()}, nil
}

func (s *PointerStore) Current(ctx context.Context, tableRoot string) (string, error) {
	var loc string
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata_location FROM table_pointers WHERE table_root = ?`, tableRoot).Scan(&loc)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", errors.New(errors.StorageNotFound, "table has no metadata pointer", nil).AddContext("table_root", tableRoot)
	}
	if err != nil {
		return "", errors.New(errors.StorageUnavailable, "failed to query metadata pointer", err).AddContext("table_root", tableRoot)
	}
	return loc, nil
}

func (s *PointerStore) Swap(ctx context.Context, tableRoot, expected, next string) (bool, error) {
	now := time.Now().UnixMilli()

	var (
		result sql.Result
		err    error
	)
	if expected == "" {
		result, err = s.db.ExecContext(ctx,
			`INSERT INTO table_pointers (table_root, metadata_location, previous_metadata_location, updated_at)
			VALUES (?, ?, NULL, ?) ON CONFLICT (table_root) DO NOTHING`,
			tableRoot, next, now)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE table_pointers SET metadata_location = ?, previous_metadata_location = ?, updated_at = ?
			WHERE table_root = ? AND metadata_location = ?`,
			next, expected, now, tableRoot, expected)
	}
	if err != nil {
		return false, errors.New(errors.StorageUnavailable, "failed to swap metadata pointer", err).AddContext("table_root", tableRoot)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.New(errors.StorageUnavailable, "failed to read affected rows", err).AddContext("table_root", tableRoot)
	}
	if rowsAffected != 1 {
		s.logger.Debug().Str("table_root", tableRoot).Str("expected", expected).Msg("Pointer moved before swap")
		return false, nil
	}
	return true, nil
}

// Previous returns the metadata location replaced by the last swap
func (s *PointerStore) Previous(ctx context.Context, tableRoot string) (string, error) {
	var prev sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT previous_metadata_location FROM table_pointers WHERE table_root = ?`, tableRoot).Scan(&prev)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", errors.New(errors.StorageNotFound, "table has no metadata pointer", nil).AddContext("table_root", tableRoot)
	}
	if err != nil {
		return "", errors.New(errors.StorageUnavailable, "failed to query metadata pointer", err).AddContext("table_root", tableRoot)
	}
	return prev.String, nil
}

// Tables lists every table root with a pointer
func (s *PointerStore) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT table_root FROM table_pointers ORDER BY table_root`)
	if err != nil {
		return nil, errors.New(errors.StorageUnavailable, "failed to list tables", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var root string
		if err := rows.Scan(&root); err != nil {
			return nil, errors.New(errors.StorageUnavailable, "failed to scan table root", err)
		}
		out = append(out, root)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.StorageUnavailable, "failed to iterate tables", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *PointerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.New(ErrDatabaseCloseFailed, "failed to close SQLite catalog", err)
	}
	return nil
}
