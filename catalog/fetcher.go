package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/bluescreen10/sugary/logctx"
	"github.com/bluescreen10/sugary/metrics"
	"github.com/bluescreen10/sugary/refresh"
	"github.com/bluescreen10/sugary/session"
)

// State is a step of one page fetch.
type State int

const (
	Sending State = iota
	AwaitingRefresh
	Retrying
	Failed
	Succeeded
)

func (s State) String() string {
	switch s {
	case Sending:
		return "sending"
	case AwaitingRefresh:
		return "awaiting_refresh"
	case Retrying:
		return "retrying"
	case Failed:
		return "failed"
	case Succeeded:
		return "succeeded"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Kind classifies a failed fetch.
type Kind int

const (
	// KindBackend is a non-auth failure. The session is untouched.
	KindBackend Kind = iota + 1

	// KindAuthExpired means the session cannot be recovered. Both session
	// tiers have been cleared.
	KindAuthExpired
)

var (
	ErrAuthExpired = errors.New("catalog: session expired")
	ErrBackend     = errors.New("catalog: backend error")
)

// FetchError is returned by FetchPage. Use errors.Is with ErrAuthExpired or
// ErrBackend to classify it.
type FetchError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	return e.Message
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrAuthExpired:
		return e.Kind == KindAuthExpired
	case ErrBackend:
		return e.Kind == KindBackend
	}
	return false
}

// Pager fetches one page. *Client implements it.
type Pager interface {
	GetAll(ctx context.Context, cursor Cursor, accessToken string) (*Page, error)
}

// Refresher renews the access token held by a store. *refresh.Refresher
// implements it.
type Refresher interface {
	Refresh(ctx context.Context, store session.Store) (refresh.Result, error)
}

// Observer receives every state a fetch enters.
type Observer func(cursor Cursor, state State)

// Fetcher runs the fetch protocol: on a 401 the token is refreshed exactly
// once and the request retried exactly once.
type Fetcher struct {
	pager     Pager
	refresher Refresher
	observer  Observer
	metrics   *metrics.Metrics
}

type fetcherConfig func(*Fetcher)

// WithObserver sets the Observer of every fetch.
func WithObserver(o Observer) fetcherConfig {
	return fetcherConfig(func(f *Fetcher) {
		f.observer = o
	})
}

// WithMetrics records the final state of every fetch in m.
func WithMetrics(m *metrics.Metrics) fetcherConfig {
	return fetcherConfig(func(f *Fetcher) {
		f.metrics = m
	})
}

func NewFetcher(pager Pager, refresher Refresher, cfgs ...fetcherConfig) *Fetcher {
	f := &Fetcher{pager: pager, refresher: refresher}
	for _, cfg := range cfgs {
		cfg(f)
	}
	return f
}

// FetchPage fetches the page at cursor using the tokens held by store.
// An AuthExpired failure clears store before returning.
func (f *Fetcher) FetchPage(ctx context.Context, cursor Cursor, store session.Store) (*Page, error) {
	log := logctx.From(ctx).With("skip", cursor.Skip, "limit", cursor.Limit)

	state := Sending
	f.enter(cursor, state)

	token, _ := store.ReadVolatile(ctx)

	var page *Page
	var err error
	if token == "" {
		// no access token behaves like an expired one
		err = ErrUnauthorized
	} else {
		page, err = f.pager.GetAll(ctx, cursor, token)
	}

	for {
		switch state {
		case Sending, Retrying:
			switch {
			case err == nil:
				state = Succeeded

			case errors.Is(err, ErrUnauthorized) && state == Sending:
				state = AwaitingRefresh

			case errors.Is(err, ErrUnauthorized):
				return nil, f.expire(ctx, cursor, store, "Session expired", err)

			default:
				f.enter(cursor, Failed)
				f.metrics.Fetch("backend")
				log.Warn("fetch_failed", "err", err.Error())
				return nil, &FetchError{Kind: KindBackend, Message: err.Error(), Err: err}
			}

		case AwaitingRefresh:
			f.enter(cursor, state)
			res, rerr := f.refresher.Refresh(ctx, store)
			if rerr != nil {
				return nil, f.expire(ctx, cursor, store, "Authentication failed", rerr)
			}

			state = Retrying
			f.enter(cursor, state)
			page, err = f.pager.GetAll(ctx, cursor, res.AccessToken)

		case Succeeded:
			f.enter(cursor, state)
			f.metrics.Fetch("succeeded")
			log.Debug("fetch_ok", "items", len(page.Items), "remaining", page.RemainingCount)
			return page, nil
		}
	}
}

func (f *Fetcher) expire(ctx context.Context, cursor Cursor, store session.Store, msg string, cause error) error {
	f.enter(cursor, Failed)
	f.metrics.Fetch("auth_expired")

	log := logctx.From(ctx)
	log.Info("session_expired", "skip", cursor.Skip, "err", cause.Error())

	if err := store.Clear(ctx); err != nil {
		log.Error("session_clear_failed", "err", err.Error())
	}

	return &FetchError{Kind: KindAuthExpired, Message: msg, Err: cause}
}

func (f *Fetcher) enter(cursor Cursor, s State) {
	if f.observer != nil {
		f.observer(cursor, s)
	}
}
