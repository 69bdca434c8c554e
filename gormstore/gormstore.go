// Package gormstore keeps durable session records in any database GORM
// supports. The dashboard uses it with SQLite.
package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/bluescreen10/sugary/logctx"
	"github.com/bluescreen10/sugary/session"
)

var _ session.Backend = (*GORMStore)(nil)

type GORMStore struct {
	db *gorm.DB
}

// durableRecord is one row of the durable_sessions table.
type durableRecord struct {
	ID        string `gorm:"primaryKey;type:char(36)"`
	Data      []byte
	ExpiresAt time.Time `gorm:"index"`
}

func (durableRecord) TableName() string {
	return "durable_sessions"
}

// New creates the store and migrates the durable_sessions table.
func New(db *gorm.DB) (*GORMStore, error) {
	s := &GORMStore{db: db}
	return s, db.AutoMigrate(&durableRecord{})
}

// Get returns the record data for id, unless it expired.
func (s *GORMStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	rec := &durableRecord{}
	tx := s.db.WithContext(ctx).Where("id = ? AND expires_at >= ?", id, time.Now()).Limit(1).Find(rec)
	if tx.Error != nil || tx.RowsAffected == 0 {
		return nil, false, tx.Error
	}

	return rec.Data, true, nil
}

// Set stores data under id until expiresAt, overwriting any previous record.
func (s *GORMStore) Set(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	rec := &durableRecord{}
	tx := s.db.WithContext(ctx).
		Where(durableRecord{ID: id}).
		Assign(durableRecord{Data: data, ExpiresAt: expiresAt}).
		FirstOrCreate(rec)
	return tx.Error
}

// Delete removes the record. Deleting a missing id is a no-op.
func (s *GORMStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&durableRecord{}, "id = ?", id).Error
}

// Sweep deletes expired records every interval until ctx is done.
func (s *GORMStore) Sweep(ctx context.Context, interval time.Duration) {
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

func (s *GORMStore) deleteExpired(ctx context.Context) {
	tx := s.db.WithContext(ctx).Delete(&durableRecord{}, "expires_at < ?", time.Now())
	if tx.Error != nil {
		logctx.From(ctx).Error("sessions_sweep_failed", "backend", "gorm", "err", tx.Error.Error())
		return
	}
	if tx.RowsAffected > 0 {
		logctx.From(ctx).Debug("sessions_swept", "backend", "gorm", "count", tx.RowsAffected)
	}
}
