// Package mysqlstore keeps durable session records in MySQL or MariaDB
// through database/sql. Register a driver, such as
// github.com/go-sql-driver/mysql, before opening the *sql.DB.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bluescreen10/sugary/logctx"
	"github.com/bluescreen10/sugary/session"
)

var _ session.Backend = (*MySQLStore)(nil)

type MySQLStore struct {
	db *sql.DB
}

// New creates the store and the durable_sessions table if missing.
func New(ctx context.Context, db *sql.DB) (*MySQLStore, error) {
	err := createTable(ctx, db)
	return &MySQLStore{db: db}, err
}

// Get returns the record data for id, unless it expired.
func (s *MySQLStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	stmt := "SELECT data FROM durable_sessions WHERE id = ? AND UTC_TIMESTAMP(6) < expires_at"
	row := s.db.QueryRowContext(ctx, stmt, id)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set stores data under id until expiresAt, overwriting any previous record.
func (s *MySQLStore) Set(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	stmt := "INSERT INTO durable_sessions(id, data, expires_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE data = VALUES(data), expires_at = VALUES(expires_at)"
	_, err := s.db.ExecContext(ctx, stmt, id, data, expiresAt.UTC())
	return err
}

// Delete removes the record. Deleting a missing id is a no-op.
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM durable_sessions WHERE id = ?", id)
	return err
}

// Sweep deletes expired records every interval until ctx is done.
func (s *MySQLStore) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.deleteExpired(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *MySQLStore) deleteExpired(ctx context.Context) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM durable_sessions WHERE UTC_TIMESTAMP(6) > expires_at")
	if err != nil {
		if ctx.Err() == nil {
			logctx.From(ctx).Error("sessions_sweep_failed", "backend", "mysql", "err", err.Error())
		}
		return
	}

	if n, _ := res.RowsAffected(); n > 0 {
		logctx.From(ctx).Debug("sessions_swept", "backend", "mysql", "count", n)
	}
}

func createTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS durable_sessions (
			id CHAR(36) COLLATE utf8mb4_bin PRIMARY KEY,
			data BLOB NOT NULL,
			expires_at TIMESTAMP(6) NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS durable_sessions_expires_at_idx ON durable_sessions (expires_at)`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}
