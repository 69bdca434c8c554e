package web

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bluescreen10/sugary/catalog"
	"github.com/bluescreen10/sugary/logctx"
	"github.com/bluescreen10/sugary/metrics"
)

// view is one rendered dashboard. Its feed belongs to the durable session
// that opened it.
type view struct {
	sid      string
	feed     *catalog.Feed
	lastUsed time.Time
}

// Views registers the dashboard views currently open. A view unused for
// longer than the idle timeout is dropped by Sweep; fetches still running
// for it finish and their result is discarded with it.
type Views struct {
	newFeed func() *catalog.Feed
	idle    time.Duration
	metrics *metrics.Metrics

	mu    sync.Mutex
	views map[string]*view
}

func NewViews(newFeed func() *catalog.Feed, idle time.Duration, m *metrics.Metrics) *Views {
	if idle <= 0 {
		idle = 30 * time.Minute
	}

	return &Views{
		newFeed: newFeed,
		idle:    idle,
		metrics: m,
		views:   make(map[string]*view),
	}
}

// Open creates a view for the durable session sid and returns its id.
func (v *Views) Open(sid string) (string, *catalog.Feed) {
	id := uuid.NewString()
	feed := v.newFeed()

	v.mu.Lock()
	defer v.mu.Unlock()

	v.views[id] = &view{sid: sid, feed: feed, lastUsed: time.Now()}
	v.metrics.Views(len(v.views))
	return id, feed
}

// Get returns the feed of view id when it was opened by sid.
func (v *Views) Get(id, sid string) (*catalog.Feed, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	vw, ok := v.views[id]
	if !ok || vw.sid != sid {
		return nil, false
	}

	vw.lastUsed = time.Now()
	return vw.feed, true
}

// Close drops every view of the durable session sid.
func (v *Views) Close(sid string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for id, vw := range v.views {
		if vw.sid == sid {
			delete(v.views, id)
		}
	}
	v.metrics.Views(len(v.views))
}

func (v *Views) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.views)
}

// Sweep drops idle views every interval until ctx is done.
func (v *Views) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := v.expire(time.Now()); n > 0 {
				logctx.From(ctx).Debug("views_expired", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (v *Views) expire(now time.Time) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := 0
	for id, vw := range v.views {
		if now.Sub(vw.lastUsed) > v.idle {
			delete(v.views, id)
			n++
		}
	}
	v.metrics.Views(len(v.views))
	return n
}
