package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a persistent Store so the last good collections survive
// restarts. Use ":memory:" for an in-memory database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the cache database at dbPath.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		stored_at INTEGER NOT NULL,
		seq INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the entry for key. Database errors are logged and reported
// as a miss.
func (s *SQLiteStore) Get(key string) (Entry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		e        Entry
		storedAt int64
		seq      int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT key, value, stored_at, seq FROM cache_entries WHERE key = ?", key,
	).Scan(&e.Key, &e.Value, &storedAt, &seq)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		}
		return Entry{}, false
	}
	if e.Value == nil {
		e.Value = []byte{}
	}
	e.StoredAt = time.Unix(0, storedAt)
	e.Seq = uint64(seq)
	return e, true
}

// Set upserts the entry unless the stored seq is higher.
func (s *SQLiteStore) Set(entry Entry) bool {
	if entry.Value == nil {
		entry.Value = []byte{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, stored_at, seq) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			stored_at = excluded.stored_at,
			seq = excluded.seq
		WHERE excluded.seq >= cache_entries.seq`,
		entry.Key, entry.Value, entry.StoredAt.UnixNano(), int64(entry.Seq),
	)
	if err != nil {
		s.logger.Warn("cache write failed", "key", entry.Key, "error", err)
		return false
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false
	}
	return n > 0
}

// Delete removes the entry for key.
func (s *SQLiteStore) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		s.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}

// Vacuum compacts the database file.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)
