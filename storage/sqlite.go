package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fubhy/jazz/ids"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable Store backed by modernc.org/sqlite — a
// storage-role peer's typical configuration (spec §4.8), grounded on the
// teacher's storage-adapter layering (massifs/storage) but addressed by
// covalue ID and session ID rather than tenant/massif-index path
// segments.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) a SQLite-backed store at
// dataSourceName, e.g. "file:jazz.db?_pragma=busy_timeout(5000)".
func OpenSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS headers (
			covalue_id TEXT PRIMARY KEY,
			header     BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS entries (
			covalue_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			idx        INTEGER NOT NULL,
			tx         BLOB NOT NULL,
			after_hash BLOB NOT NULL,
			signature  TEXT NOT NULL,
			PRIMARY KEY (covalue_id, session_id, idx)
		);
	`)
	if err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveHeader(ctx context.Context, id ids.CoID, header []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO headers (covalue_id, header) VALUES (?, ?)
		 ON CONFLICT (covalue_id) DO UPDATE SET header = excluded.header`,
		string(id), header,
	)
	return err
}

func (s *SQLiteStore) LoadHeader(ctx context.Context, id ids.CoID) ([]byte, error) {
	var header []byte
	err := s.db.QueryRowContext(ctx, `SELECT header FROM headers WHERE covalue_id = ?`, string(id)).Scan(&header)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return header, nil
}

func (s *SQLiteStore) AppendSession(ctx context.Context, id ids.CoID, session ids.SessionID, fromIndex int, entries []SessionEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE covalue_id = ? AND session_id = ?`,
		string(id), string(session)).Scan(&count); err != nil {
		return err
	}
	if count != fromIndex {
		return fmt.Errorf("storage: append at %d, session has %d entries", fromIndex, count)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (covalue_id, session_id, idx, tx, after_hash, signature) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, entry := range entries {
		if _, err := stmt.ExecContext(ctx, string(id), string(session), fromIndex+i, entry.Tx, entry.AfterHash[:], string(entry.Signature)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadSession(ctx context.Context, id ids.CoID, session ids.SessionID, fromIndex int) ([]SessionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tx, after_hash, signature FROM entries
		 WHERE covalue_id = ? AND session_id = ? AND idx >= ? ORDER BY idx ASC`,
		string(id), string(session), fromIndex,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionEntry
	for rows.Next() {
		var entry SessionEntry
		var afterHash []byte
		var sig string
		if err := rows.Scan(&entry.Tx, &afterHash, &sig); err != nil {
			return nil, err
		}
		copy(entry.AfterHash[:], afterHash)
		entry.Signature = ids.SignatureID(sig)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SessionLength(ctx context.Context, id ids.CoID, session ids.SessionID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE covalue_id = ? AND session_id = ?`,
		string(id), string(session)).Scan(&count)
	return count, err
}

func (s *SQLiteStore) KnownState(ctx context.Context, id ids.CoID) (map[ids.SessionID]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*) FROM entries WHERE covalue_id = ? GROUP BY session_id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[ids.SessionID]int{}
	for rows.Next() {
		var session string
		var length int
		if err := rows.Scan(&session, &length); err != nil {
			return nil, err
		}
		out[ids.SessionID(session)] = length
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
