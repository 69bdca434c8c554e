// Package session implements the two-tier session store of the dashboard.
//
// The durable tier is a server-side record addressed by an HttpOnly cookie.
// It holds two named entries, the refresh token and the JSON encoded
// profile, and lives for seven days. The volatile tier is a session-scoped
// cookie readable by page scripts that holds only the access token.
//
// Usage:
//
//	mgr := session.NewManager(memstore.New(), session.WithSecure(true))
//
//	mux := httpx.NewServeMux()
//	mux.Use(mgr)
//
//	dash := mux.Group("/dashboard", mgr.Guard("/"))
//	dash.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
//	    profile, _ := session.ProfileFrom(r.Context())
//	    store := mgr.Store(w, r)
//	    token, _ := store.ReadVolatile(r.Context())
//	    ...
//	})
//
// designed heavily inspired by: https://github.com/alexedwards/scs
package session

import (
	"time"

	"github.com/google/uuid"
)

// record is the durable tier of one browser session.
type record struct {
	// empty until the record is first written
	id string

	createdAt time.Time

	entries map[string]string

	isDestroyed bool
}

func newRecord() *record {
	return &record{
		createdAt: time.Now(),
		entries:   make(map[string]string),
	}
}

func (r *record) ensureID() {
	if r.id == "" {
		r.id = uuid.NewString()
	}
}

// reset drops every entry and forgets the id so the next write starts a
// new record.
func (r *record) reset() {
	r.id = ""
	r.createdAt = time.Now()
	r.entries = make(map[string]string)
	r.isDestroyed = true
}
