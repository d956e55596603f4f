package idmap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/blacktop/xrelay/internal/xpost"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS crosspost_mappings (
	source_network      TEXT NOT NULL,
	source_id           TEXT NOT NULL,
	destination_network TEXT NOT NULL,
	destination_id      TEXT NOT NULL,
	position            INTEGER NOT NULL,
	PRIMARY KEY (source_network, source_id, destination_network)
)`

// SQLiteStorage keeps the snapshot in a SQLite table.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (and if needed creates) the database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// ReadAll implements Storage.
func (s *SQLiteStorage) ReadAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_network, source_id, destination_network, destination_id
		FROM crosspost_mappings
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var src, srcID, dst, dstID string
		if err := rows.Scan(&src, &srcID, &dst, &dstID); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		entries = append(entries, Entry{
			Key: Key{
				Source:      xpost.PostRef{Network: xpost.Network(src), ID: srcID},
				Destination: xpost.Network(dst),
			},
			DestinationID: dstID,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return entries, nil
}

// WriteAll implements Storage.
func (s *SQLiteStorage) WriteAll(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM crosspost_mappings`); err != nil {
		return fmt.Errorf("clear mappings: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO crosspost_mappings
			(source_network, source_id, destination_network, destination_id, position)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			string(e.Key.Source.Network),
			e.Key.Source.ID,
			string(e.Key.Destination),
			e.DestinationID,
			i,
		); err != nil {
			return fmt.Errorf("insert mapping %s: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close implements Storage.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
