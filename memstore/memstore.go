// Package memstore keeps durable session records in process memory.
//
// It suits a single process and tests. Records are lost on restart and are
// not shared across processes.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/bluescreen10/sugary/logctx"
	"github.com/bluescreen10/sugary/session"
)

var _ session.Backend = (*Memstore)(nil)

// Memstore is safe for concurrent use by multiple goroutines.
type Memstore struct {
	records sync.Map
}

type record struct {
	expiresAt time.Time
	data      []byte
}

func New() *Memstore {
	return &Memstore{}
}

// Get returns the record data for id. An expired record is removed and
// reported as not found.
func (m *Memstore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	r, ok := m.records.Load(id)
	if !ok {
		return nil, false, nil
	}

	rec := r.(record)
	if time.Now().After(rec.expiresAt) {
		m.records.Delete(id)
		return nil, false, nil
	}

	return rec.data, true, nil
}

// Set stores data under id until expiresAt, overwriting any previous record.
func (m *Memstore) Set(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	m.records.Store(id, record{expiresAt: expiresAt, data: data})
	return nil
}

// Delete removes the record. Deleting a missing id is a no-op.
func (m *Memstore) Delete(ctx context.Context, id string) error {
	m.records.Delete(id)
	return nil
}

// Count returns the number of records held, expired ones included.
func (m *Memstore) Count() int {
	n := 0
	m.records.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sweep deletes expired records every interval until ctx is done.
//
//	ctx, cancel := context.WithCancel(context.Background())
//	go store.Sweep(ctx, time.Minute)
//	...
//	cancel()
func (m *Memstore) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.deleteExpired(); n > 0 {
				logctx.From(ctx).Debug("sessions_swept", "backend", "memory", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Memstore) deleteExpired() int {
	now := time.Now()
	n := 0
	m.records.Range(func(key, value any) bool {
		if now.After(value.(record).expiresAt) {
			m.records.Delete(key)
			n++
		}
		return true
	})
	return n
}
