package session

import (
	"context"
	"errors"
	"time"

	"github.com/bluescreen10/sugary/account"
)

var (
	// ErrNoSession is returned by ReadDurable when the refresh token or the
	// profile entry is missing.
	ErrNoSession = errors.New("session: no durable session")

	// ErrCorruptProfile is returned by ReadDurable when the profile entry
	// cannot be decoded.
	ErrCorruptProfile = errors.New("session: profile entry is corrupt")
)

// Names of the two durable entries and of the volatile cookie.
const (
	EntryRefreshToken = "refreshToken"
	EntryUser         = "user"
	AccessCookie      = "accessToken"
)

// Durable is the content of the durable tier.
type Durable struct {
	RefreshToken string
	Profile      account.Profile
}

// Store persists a session across two tiers. The durable tier holds the
// refresh token and the profile and is never reachable by page scripts.
// The volatile tier holds only the access token.
//
// Clear must empty both tiers. Leaving one tier populated while the other
// is gone is a bug.
type Store interface {
	// Write stores the pair and the profile in both tiers. A later
	// ReadDurable observes the new refresh token.
	Write(ctx context.Context, pair account.TokenPair, profile account.Profile) error

	// ReadDurable returns ErrNoSession or ErrCorruptProfile when the durable
	// tier does not hold a usable session.
	ReadDurable(ctx context.Context) (Durable, error)

	// ReadVolatile returns the access token, if any.
	ReadVolatile(ctx context.Context) (string, bool)

	// Clear removes every entry from both tiers. It is idempotent.
	Clear(ctx context.Context) error
}

// Backend persists durable records by id. memstore, redisstore, gormstore
// and mysqlstore implement it.
type Backend interface {
	// Get retrieves the record data for id. found is false when the record
	// does not exist or has expired.
	Get(ctx context.Context, id string) (data []byte, found bool, err error)

	// Set stores data under id until expiresAt, overwriting any previous
	// record.
	Set(ctx context.Context, id string, data []byte, expiresAt time.Time) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
}

// RequireSession reports whether store holds a usable durable session and
// returns its profile. It never calls the backend service; validity of the
// refresh token is established on the first protected API call.
func RequireSession(ctx context.Context, store Store) (account.Profile, bool) {
	d, err := store.ReadDurable(ctx)
	if err != nil {
		return account.Profile{}, false
	}
	return d.Profile, true
}
