package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskmate/internal/db"
	"taskmate/internal/migrate"
)

// SQLite persists client state in the workspace database.
type SQLite struct {
	DB  *sql.DB
	Now func() time.Time
}

// OpenSQLite opens (and migrates) the client state database.
func OpenSQLite(ctx context.Context, cfg db.Config) (*SQLite, error) {
	conn, err := db.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return &SQLite{DB: conn, Now: time.Now}, nil
}

func (s *SQLite) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SQLite) Get(key string) (string, bool, error) {
	var v string
	err := s.DB.QueryRowContext(context.Background(), `SELECT value FROM client_state WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLite) Set(key, value string) error {
	_, err := s.DB.ExecContext(context.Background(), `
INSERT INTO client_state(key, value, updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(key string) error {
	if _, err := s.DB.ExecContext(context.Background(), `DELETE FROM client_state WHERE key=?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.DB.Close()
}
