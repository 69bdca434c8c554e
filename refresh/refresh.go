// Package refresh exchanges the stored refresh token for a new token pair
// and persists the result.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bluescreen10/sugary/account"
	"github.com/bluescreen10/sugary/logctx"
	"github.com/bluescreen10/sugary/metrics"
	"github.com/bluescreen10/sugary/session"
)

var (
	// ErrNoRefreshToken is returned when the durable tier holds no usable
	// session. No network call is made.
	ErrNoRefreshToken = errors.New("refresh: no refresh token stored")

	// ErrFailed wraps every failed exchange. The session cannot be
	// recovered by retrying.
	ErrFailed = errors.New("refresh: token refresh failed")
)

// Exchanger performs the wire call. *account.Client implements it.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*account.Grant, error)
}

// Result is what a successful refresh yields to the caller.
type Result struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type Refresher struct {
	exchanger Exchanger
	metrics   *metrics.Metrics
	group     singleflight.Group
}

type config func(*Refresher)

// WithMetrics records every outcome in m.
func WithMetrics(m *metrics.Metrics) config {
	return config(func(r *Refresher) {
		r.metrics = m
	})
}

func New(exchanger Exchanger, cfgs ...config) *Refresher {
	r := &Refresher{exchanger: exchanger}
	for _, cfg := range cfgs {
		cfg(r)
	}
	return r
}

// Refresh exchanges the refresh token held by store and writes the new pair
// back to it. Concurrent calls carrying the same refresh token share one
// exchange; each caller still writes to its own store.
func (r *Refresher) Refresh(ctx context.Context, store session.Store) (Result, error) {
	log := logctx.From(ctx)

	durable, err := store.ReadDurable(ctx)
	if err != nil {
		log.Debug("refresh_skipped", "err", err.Error())
		r.metrics.Refresh("no_token")
		return Result{}, fmt.Errorf("%w: %w", ErrNoRefreshToken, err)
	}

	v, err, shared := r.exchange(ctx, durable.RefreshToken)
	if err != nil {
		// an overlapping request may have rotated the token since it was read
		if current, cerr := store.ReadDurable(ctx); cerr == nil && current.RefreshToken != durable.RefreshToken {
			log.Debug("refresh_token_rotated_elsewhere")
			durable = current
			v, err, shared = r.exchange(ctx, durable.RefreshToken)
		}
	}
	if err != nil {
		log.Warn("refresh_failed", "err", err.Error())
		r.metrics.Refresh("failed")
		return Result{}, fmt.Errorf("%w: %w", ErrFailed, err)
	}

	grant := v.(*account.Grant)

	pair := grant.TokenPair
	if pair.RefreshToken == "" {
		// not rotated
		pair.RefreshToken = durable.RefreshToken
	}

	profile := grant.Profile
	if profile.IsZero() {
		profile = durable.Profile
	}

	if err := store.Write(ctx, pair, profile); err != nil {
		log.Error("refresh_store_failed", "err", err.Error())
		r.metrics.Refresh("failed")
		return Result{}, fmt.Errorf("%w: %w", ErrFailed, err)
	}

	log.Info("refresh_ok",
		"shared", shared,
		"access_len", len(pair.AccessToken),
		"rotated", pair.RefreshToken != durable.RefreshToken,
	)
	r.metrics.Refresh("ok")

	return Result{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

func (r *Refresher) exchange(ctx context.Context, refreshToken string) (any, error, bool) {
	return r.group.Do(refreshToken, func() (any, error) {
		return r.exchanger.Refresh(context.WithoutCancel(ctx), refreshToken)
	})
}
