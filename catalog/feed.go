package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/bluescreen10/sugary/session"
)

var (
	// ErrInFlight is returned by Next when a fetch of the same feed is
	// still running.
	ErrInFlight = errors.New("catalog: fetch already in flight")

	// ErrExhausted is returned by Next once the last page was received.
	ErrExhausted = errors.New("catalog: no more pages")
)

// Snapshot is a copy of the feed state.
type Snapshot struct {
	Items      []Item
	HasMore    bool
	Loading    bool
	Skip       int
	TotalCount int
	Err        error
}

// Feed accumulates the pages of one dashboard view. At most one fetch runs
// at a time. It is safe for concurrent use.
type Feed struct {
	fetcher *Fetcher

	mu         sync.Mutex
	items      []Item
	cursor     Cursor
	hasMore    bool
	loading    bool
	totalCount int
	err        error
}

// NewFeed creates a feed paging by limit items.
func NewFeed(fetcher *Fetcher, limit int) *Feed {
	if limit <= 0 {
		limit = 12
	}

	return &Feed{
		fetcher: fetcher,
		cursor:  Cursor{Skip: 0, Limit: limit},
		hasMore: true,
	}
}

// Next fetches the page at the current cursor and returns the items it
// added. On error the items and the cursor are left as they were.
func (f *Feed) Next(ctx context.Context, store session.Store) ([]Item, error) {
	f.mu.Lock()
	if f.loading {
		f.mu.Unlock()
		return nil, ErrInFlight
	}
	if !f.hasMore {
		f.mu.Unlock()
		return nil, ErrExhausted
	}
	f.loading = true
	cursor := f.cursor
	f.mu.Unlock()

	page, err := f.fetcher.FetchPage(ctx, cursor, store)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.loading = false

	if err != nil {
		f.err = err
		return nil, err
	}

	if cursor.Skip == 0 {
		f.items = append([]Item(nil), page.Items...)
	} else {
		f.items = append(f.items, page.Items...)
	}

	f.err = nil
	f.hasMore = page.HasMore()
	f.totalCount = page.TotalCount
	f.cursor = cursor.Next()

	return page.Items, nil
}

// Reload drops every accumulated item and fetches again from the first
// page. It fails with ErrInFlight while another fetch is running.
func (f *Feed) Reload(ctx context.Context, store session.Store) ([]Item, error) {
	f.mu.Lock()
	if f.loading {
		f.mu.Unlock()
		return nil, ErrInFlight
	}
	f.items = nil
	f.cursor.Skip = 0
	f.hasMore = true
	f.err = nil
	f.mu.Unlock()

	return f.Next(ctx, store)
}

func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	return Snapshot{
		Items:      append([]Item(nil), f.items...),
		HasMore:    f.hasMore,
		Loading:    f.loading,
		Skip:       f.cursor.Skip,
		TotalCount: f.totalCount,
		Err:        f.err,
	}
}
