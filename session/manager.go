package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bluescreen10/sugary/account"
	"github.com/bluescreen10/sugary/logctx"
)

// Manager owns the durable and volatile tiers for HTTP requests. It is an
// httpx.Middleware: Handler loads the durable record once per request and
// emits the pending cookies before the first byte of the response.
type Manager struct {
	backend          Backend
	codec            Codec
	lifetime         time.Duration
	cookieName       string
	cookiePath       string
	cookieDomain     string
	cookieSecure     bool
	cookieSameSite   http.SameSite
	accessCookieName string
	key              *struct{}
}

type config func(*Manager)

// WithLifetime sets the lifetime of the durable tier. (default 7 days)
func WithLifetime(lifetime time.Duration) config {
	return config(func(m *Manager) {
		m.lifetime = lifetime
	})
}

// WithName sets the durable cookie name. (default "sid")
func WithName(name string) config {
	return config(func(m *Manager) {
		m.cookieName = name
	})
}

// WithAccessName sets the volatile cookie name. (default "accessToken")
func WithAccessName(name string) config {
	return config(func(m *Manager) {
		m.accessCookieName = name
	})
}

// WithPath sets the path of both cookies. (default "/")
func WithPath(path string) config {
	return config(func(m *Manager) {
		m.cookiePath = path
	})
}

// WithDomain sets the domain of both cookies. (default "")
func WithDomain(domain string) config {
	return config(func(m *Manager) {
		m.cookieDomain = domain
	})
}

// WithSecure sets the Secure flag of both cookies. (default false)
func WithSecure(secure bool) config {
	return config(func(m *Manager) {
		m.cookieSecure = secure
	})
}

// WithSameSite sets the SameSite policy of both cookies. (default Lax)
func WithSameSite(sameSite http.SameSite) config {
	return config(func(m *Manager) {
		m.cookieSameSite = sameSite
	})
}

// WithCodec replaces the record codec. (default GobCodec)
func WithCodec(codec Codec) config {
	return config(func(m *Manager) {
		m.codec = codec
	})
}

// NewManager creates a Manager persisting durable records in backend.
func NewManager(backend Backend, cfgs ...config) *Manager {
	m := &Manager{
		backend:          backend,
		codec:            GobCodec{},
		lifetime:         7 * 24 * time.Hour,
		cookieName:       "sid",
		cookiePath:       "/",
		cookieSameSite:   http.SameSiteLaxMode,
		accessCookieName: AccessCookie,
		key:              &struct{}{},
	}

	for _, cfg := range cfgs {
		cfg(m)
	}

	return m
}

// responseWriter flushes the pending cookies of a request before any
// header or body is written.
type responseWriter struct {
	http.ResponseWriter
	rs        *requestStore
	isWritten bool
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.isWritten {
		w.isWritten = true
		w.rs.flush(w.ResponseWriter)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteHeader(statusCode int) {
	if !w.isWritten {
		w.isWritten = true
		w.rs.flush(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Handler loads the durable record of the request and makes it available
// through Store and Guard.
func (m *Manager) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Cookie")

		rs, err := m.load(r)
		if err != nil {
			logctx.From(r.Context()).Error("session_load_failed", "err", err.Error())
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}

		sr := r.WithContext(context.WithValue(r.Context(), m.key, rs))
		sw := &responseWriter{ResponseWriter: w, rs: rs}
		next.ServeHTTP(sw, sr)

		if !sw.isWritten {
			rs.flush(w)
		}
	})
}

// Store returns the Store bound to the request. Outside of Handler the
// record is loaded on demand and cookies are written to w immediately.
func (m *Manager) Store(w http.ResponseWriter, r *http.Request) Store {
	if rs, ok := r.Context().Value(m.key).(*requestStore); ok {
		return rs
	}

	rs, err := m.load(r)
	if err != nil {
		logctx.From(r.Context()).Error("session_load_failed", "err", err.Error())
		rs = m.newRequestStore(r, newRecord())
	}
	rs.direct = w
	return rs
}

// ID returns the durable record id of the request, or "" when the request
// has no durable session.
func (m *Manager) ID(r *http.Request) string {
	if rs, ok := r.Context().Value(m.key).(*requestStore); ok {
		return rs.rec.id
	}
	return ""
}

func (m *Manager) load(r *http.Request) (*requestStore, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return m.newRequestStore(r, newRecord()), nil
	}

	data, found, err := m.backend.Get(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}

	if !found {
		rs := m.newRequestStore(r, newRecord())
		// stale cookie pointing at nothing
		rs.durableDirty = true
		rs.rec.isDestroyed = true
		return rs, nil
	}

	createdAt, entries, err := m.codec.Decode(data)
	if err != nil {
		// undecodable record behaves like a corrupt session: entries are
		// empty and the guard redirects
		logctx.From(r.Context()).Warn("session_decode_failed", "err", err.Error())
		entries = make(map[string]string)
	}

	rec := &record{id: cookie.Value, createdAt: createdAt, entries: entries}
	return m.newRequestStore(r, rec), nil
}

func (m *Manager) newRequestStore(r *http.Request, rec *record) *requestStore {
	rs := &requestStore{mngr: m, rec: rec}
	if c, err := r.Cookie(m.accessCookieName); err == nil && c.Value != "" {
		rs.access = c.Value
	}
	return rs
}

// requestStore is the Store of one HTTP request.
type requestStore struct {
	mngr *Manager
	rec  *record

	access string

	durableDirty   bool
	durableExpires time.Time
	accessDirty    bool

	// set when used outside of Handler
	direct http.ResponseWriter
}

var _ Store = (*requestStore)(nil)

func (s *requestStore) Write(ctx context.Context, pair account.TokenPair, profile account.Profile) error {
	user, err := json.Marshal(profile)
	if err != nil {
		return err
	}

	rec := s.rec
	if rec.isDestroyed {
		rec.isDestroyed = false
		rec.createdAt = time.Now()
	}
	rec.ensureID()
	rec.entries[EntryRefreshToken] = pair.RefreshToken
	rec.entries[EntryUser] = string(user)

	expiresAt := time.Now().Add(s.mngr.lifetime)
	if !pair.RefreshExpiresAt.IsZero() && pair.RefreshExpiresAt.Before(expiresAt) {
		expiresAt = pair.RefreshExpiresAt
	}

	data, err := s.mngr.codec.Encode(rec.createdAt, rec.entries)
	if err != nil {
		return err
	}

	if err := s.mngr.backend.Set(ctx, rec.id, data, expiresAt); err != nil {
		return err
	}

	s.durableDirty = true
	s.durableExpires = expiresAt

	if pair.AccessToken != "" {
		s.access = pair.AccessToken
		s.accessDirty = true
	}

	s.flushDirect()
	return nil
}

// ReadDurable reads the current record from the backend, so a token
// rotated by an overlapping request of the same session is visible. When
// the backend is unreachable the record loaded with the request is used.
func (s *requestStore) ReadDurable(ctx context.Context) (Durable, error) {
	s.reload(ctx)

	refresh := s.rec.entries[EntryRefreshToken]
	user := s.rec.entries[EntryUser]
	if refresh == "" || user == "" {
		return Durable{}, ErrNoSession
	}

	var profile account.Profile
	if err := json.Unmarshal([]byte(user), &profile); err != nil {
		return Durable{}, errors.Join(ErrCorruptProfile, err)
	}

	return Durable{RefreshToken: refresh, Profile: profile}, nil
}

func (s *requestStore) reload(ctx context.Context) {
	rec := s.rec
	if rec.id == "" || rec.isDestroyed {
		return
	}

	data, found, err := s.mngr.backend.Get(ctx, rec.id)
	if err != nil {
		logctx.From(ctx).Warn("session_reload_failed", "err", err.Error())
		return
	}

	if !found {
		// cleared by another request
		rec.entries = make(map[string]string)
		return
	}

	createdAt, entries, err := s.mngr.codec.Decode(data)
	if err != nil {
		logctx.From(ctx).Warn("session_decode_failed", "err", err.Error())
		entries = make(map[string]string)
	}
	rec.createdAt = createdAt
	rec.entries = entries
}

func (s *requestStore) ReadVolatile(ctx context.Context) (string, bool) {
	return s.access, s.access != ""
}

func (s *requestStore) Clear(ctx context.Context) error {
	var err error
	if s.rec.id != "" {
		err = s.mngr.backend.Delete(ctx, s.rec.id)
	}

	s.rec.reset()
	s.durableDirty = true
	s.access = ""
	s.accessDirty = true

	s.flushDirect()
	return err
}

func (s *requestStore) flushDirect() {
	if s.direct != nil {
		s.flush(s.direct)
	}
}

// flush writes the pending cookies. Calling it twice is harmless.
func (s *requestStore) flush(w http.ResponseWriter) {
	m := s.mngr

	if s.durableDirty {
		s.durableDirty = false
		if s.rec.isDestroyed || s.rec.id == "" {
			http.SetCookie(w, m.cookie(m.cookieName, "", true))
		} else {
			c := m.cookie(m.cookieName, s.rec.id, true)
			c.Expires = time.Unix(s.durableExpires.Unix()+1, 0)
			c.MaxAge = int(time.Until(s.durableExpires).Seconds() + 1)
			http.SetCookie(w, c)
		}
	}

	if s.accessDirty {
		s.accessDirty = false
		// session scoped: no Expires and no MaxAge unless deleting
		http.SetCookie(w, m.cookie(m.accessCookieName, s.access, false))
	}
}

func (m *Manager) cookie(name, value string, httpOnly bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     m.cookiePath,
		Domain:   m.cookieDomain,
		Secure:   m.cookieSecure,
		HttpOnly: httpOnly,
		SameSite: m.cookieSameSite,
	}

	if value == "" {
		c.Expires = time.Unix(1, 0)
		c.MaxAge = -1
	}
	return c
}
