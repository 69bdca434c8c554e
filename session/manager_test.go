package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bluescreen10/sugary/account"
	"github.com/bluescreen10/sugary/session"
)

type mockbackend struct {
	get    func(string) ([]byte, bool, error)
	set    func(string, []byte, time.Time) error
	delete func(string) error
}

func (b *mockbackend) Get(_ context.Context, id string) ([]byte, bool, error) {
	return b.get(id)
}

func (b *mockbackend) Set(_ context.Context, id string, data []byte, expiresAt time.Time) error {
	return b.set(id, data, expiresAt)
}

func (b *mockbackend) Delete(_ context.Context, id string) error {
	return b.delete(id)
}

var _ session.Backend = &mockbackend{}

// mapbackend keeps records in a plain map.
func mapbackend() (*mockbackend, map[string][]byte) {
	records := make(map[string][]byte)
	return &mockbackend{
		get: func(id string) ([]byte, bool, error) {
			d, ok := records[id]
			return d, ok, nil
		},
		set: func(id string, data []byte, _ time.Time) error {
			records[id] = data
			return nil
		},
		delete: func(id string) error {
			delete(records, id)
			return nil
		},
	}, records
}

var (
	testPair = account.TokenPair{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}
	testProfile = account.Profile{ID: "u-1", Username: "react@test.com", FullName: "React Tester"}
)

func cookieNamed(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestWriteThenRead(t *testing.T) {
	backend, records := mapbackend()
	sm := session.NewManager(backend)

	h1 := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := sm.Store(w, r).Write(r.Context(), testPair, testProfile); err != nil {
			t.Fatal(err)
		}
	})

	w1 := httptest.NewRecorder()
	sm.Handler(h1).ServeHTTP(w1, httptest.NewRequest("POST", "/login", nil))

	if len(records) != 1 {
		t.Fatalf("expected 1 record got '%d'", len(records))
	}

	sid := cookieNamed(t, w1, "sid")
	if sid == nil || !sid.HttpOnly {
		t.Fatalf("expected HttpOnly sid cookie got '%v'", sid)
	}

	access := cookieNamed(t, w1, session.AccessCookie)
	if access == nil || access.HttpOnly || access.Value != "access-1" {
		t.Fatalf("expected script readable access cookie got '%v'", access)
	}

	if access.MaxAge != 0 || !access.Expires.IsZero() {
		t.Fatalf("expected session scoped access cookie got '%v'", access)
	}

	h2 := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store := sm.Store(w, r)
		d, err := store.ReadDurable(r.Context())
		if err != nil {
			t.Fatal(err)
		}

		if d.RefreshToken != "refresh-1" {
			t.Fatalf("expected 'refresh-1' got '%s'", d.RefreshToken)
		}

		if d.Profile.FullName != testProfile.FullName {
			t.Fatalf("expected '%s' got '%s'", testProfile.FullName, d.Profile.FullName)
		}

		token, ok := store.ReadVolatile(r.Context())
		if !ok || token != "access-1" {
			t.Fatalf("expected 'access-1' got '%s'", token)
		}
	})

	r2 := httptest.NewRequest("GET", "/dashboard", nil)
	r2.AddCookie(sid)
	r2.AddCookie(access)
	sm.Handler(h2).ServeHTTP(httptest.NewRecorder(), r2)
}

func TestWriteCapsExpiryAtRefreshExpiry(t *testing.T) {
	var gotExpiry time.Time
	backend := &mockbackend{
		set: func(_ string, _ []byte, expiresAt time.Time) error {
			gotExpiry = expiresAt
			return nil
		},
	}
	sm := session.NewManager(backend)

	pair := testPair
	pair.RefreshExpiresAt = time.Now().Add(time.Hour)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := sm.Store(w, r).Write(r.Context(), pair, testProfile); err != nil {
			t.Fatal(err)
		}
	})
	sm.Handler(h).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", nil))

	if !gotExpiry.Equal(pair.RefreshExpiresAt) {
		t.Fatalf("expected '%v' got '%v'", pair.RefreshExpiresAt, gotExpiry)
	}
}

func TestWriteDefaultLifetime(t *testing.T) {
	var gotExpiry time.Time
	backend := &mockbackend{
		set: func(_ string, _ []byte, expiresAt time.Time) error {
			gotExpiry = expiresAt
			return nil
		},
	}
	sm := session.NewManager(backend)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sm.Store(w, r).Write(r.Context(), testPair, testProfile)
	})
	w := httptest.NewRecorder()
	sm.Handler(h).ServeHTTP(w, httptest.NewRequest("POST", "/", nil))

	want := time.Now().Add(7 * 24 * time.Hour)
	if d := want.Sub(gotExpiry); d < 0 || d > time.Minute {
		t.Fatalf("expected expiry near '%v' got '%v'", want, gotExpiry)
	}

	sid := cookieNamed(t, w, "sid")
	if sid.MaxAge < int((7*24*time.Hour - time.Minute).Seconds()) {
		t.Fatalf("expected 7 day max age got '%d'", sid.MaxAge)
	}
}

func TestClearEmptiesBothTiers(t *testing.T) {
	backend, records := mapbackend()
	sm := session.NewManager(backend)

	w1 := httptest.NewRecorder()
	sm.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sm.Store(w, r).Write(r.Context(), testPair, testProfile)
	})).ServeHTTP(w1, httptest.NewRequest("POST", "/", nil))

	r2 := httptest.NewRequest("POST", "/logout", nil)
	r2.AddCookie(cookieNamed(t, w1, "sid"))
	r2.AddCookie(cookieNamed(t, w1, session.AccessCookie))
	w2 := httptest.NewRecorder()

	sm.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store := sm.Store(w, r)
		if err := store.Clear(r.Context()); err != nil {
			t.Fatal(err)
		}

		// idempotent
		if err := store.Clear(r.Context()); err != nil {
			t.Fatal(err)
		}

		if _, err := store.ReadDurable(r.Context()); !errors.Is(err, session.ErrNoSession) {
			t.Fatalf("expected ErrNoSession got '%v'", err)
		}

		if _, ok := store.ReadVolatile(r.Context()); ok {
			t.Fatal("expected empty volatile tier")
		}
	})).ServeHTTP(w2, r2)

	if len(records) != 0 {
		t.Fatalf("expected no records got '%d'", len(records))
	}

	for _, name := range []string{"sid", session.AccessCookie} {
		c := cookieNamed(t, w2, name)
		if c == nil || c.MaxAge >= 0 {
			t.Fatalf("expected expired '%s' cookie got '%v'", name, c)
		}
	}
}

func TestReadDurableRequiresBothEntries(t *testing.T) {
	tcs := []struct {
		name    string
		refresh string
		user    string
		want    error
	}{
		{"both", "r", `{"id":"u-1"}`, nil},
		{"no_refresh", "", `{"id":"u-1"}`, session.ErrNoSession},
		{"no_user", "r", "", session.ErrNoSession},
		{"corrupt_user", "r", `{not json`, session.ErrCorruptProfile},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			entries := map[string]string{}
			if tc.refresh != "" {
				entries[session.EntryRefreshToken] = tc.refresh
			}
			if tc.user != "" {
				entries[session.EntryUser] = tc.user
			}

			data, err := session.GobCodec{}.Encode(time.Now(), entries)
			if err != nil {
				t.Fatal(err)
			}

			backend := &mockbackend{get: func(string) ([]byte, bool, error) { return data, true, nil }}
			sm := session.NewManager(backend)

			r := httptest.NewRequest("GET", "/", nil)
			r.AddCookie(&http.Cookie{Name: "sid", Value: "abc123"})

			sm.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, err := sm.Store(w, r).ReadDurable(r.Context())
				if !errors.Is(err, tc.want) {
					t.Fatalf("expected '%v' got '%v'", tc.want, err)
				}
			})).ServeHTTP(httptest.NewRecorder(), r)
		})
	}
}

func TestErrorLoadingSession(t *testing.T) {
	backend := &mockbackend{
		get: func(string) ([]byte, bool, error) {
			return nil, false, errors.New("test")
		},
	}
	sm := session.NewManager(backend)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	})

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: "sid", Value: "abc123"})
	w := httptest.NewRecorder()

	sm.Handler(h).ServeHTTP(w, r)

	if status := w.Result().StatusCode; status != http.StatusInternalServerError {
		t.Fatalf("expected status '%d' got '%d'", http.StatusInternalServerError, status)
	}
}

func TestStaleCookieIsExpired(t *testing.T) {
	backend, _ := mapbackend()
	sm := session.NewManager(backend)

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: "sid", Value: "gone"})
	w := httptest.NewRecorder()

	sm.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})).ServeHTTP(w, r)

	if c := cookieNamed(t, w, "sid"); c == nil || c.MaxAge >= 0 {
		t.Fatalf("expected expired sid cookie got '%v'", c)
	}
}

func TestStoreWithoutHandler(t *testing.T) {
	backend, records := mapbackend()
	sm := session.NewManager(backend, session.WithName("custom"), session.WithSecure(true))

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/", nil)

	if err := sm.Store(w, r).Write(r.Context(), testPair, testProfile); err != nil {
		t.Fatal(err)
	}

	if len(records) != 1 {
		t.Fatalf("expected 1 record got '%d'", len(records))
	}

	c := cookieNamed(t, w, "custom")
	if c == nil || !c.Secure {
		t.Fatalf("expected secure 'custom' cookie got '%v'", c)
	}
}

func TestGuard(t *testing.T) {
	backend, _ := mapbackend()
	sm := session.NewManager(backend)

	protected := sm.Handler(sm.Guard("/")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := session.ProfileFrom(r.Context())
		if !ok {
			t.Fatal("expected profile in context")
		}
		w.Write([]byte(p.FullName))
	})))

	t.Run("redirect", func(t *testing.T) {
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, httptest.NewRequest("GET", "/dashboard", nil))

		if status := w.Result().StatusCode; status != http.StatusSeeOther {
			t.Fatalf("expected status '%d' got '%d'", http.StatusSeeOther, status)
		}

		if loc := w.Header().Get("Location"); loc != "/" {
			t.Fatalf("expected location '/' got '%s'", loc)
		}
	})

	t.Run("script_request", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/dashboard/feed/x", nil)
		r.Header.Set("X-Requested-With", "fetch")
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, r)

		if status := w.Result().StatusCode; status != http.StatusUnauthorized {
			t.Fatalf("expected status '%d' got '%d'", http.StatusUnauthorized, status)
		}

		if target := w.Header().Get("X-Redirect"); target != "/" {
			t.Fatalf("expected X-Redirect '/' got '%s'", target)
		}
	})

	t.Run("authorized", func(t *testing.T) {
		w1 := httptest.NewRecorder()
		sm.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sm.Store(w, r).Write(r.Context(), testPair, testProfile)
		})).ServeHTTP(w1, httptest.NewRequest("POST", "/", nil))

		r := httptest.NewRequest("GET", "/dashboard", nil)
		r.AddCookie(cookieNamed(t, w1, "sid"))
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, r)

		if body := w.Body.String(); !strings.Contains(body, "React Tester") {
			t.Fatalf("expected profile name in body got '%s'", body)
		}
	})
}

func TestReadDurableSeesOverlappingWrite(t *testing.T) {
	backend, _ := mapbackend()
	sm := session.NewManager(backend)

	w1 := httptest.NewRecorder()
	sm.Store(w1, httptest.NewRequest("POST", "/login", nil)).Write(context.Background(), testPair, testProfile)

	request := func() *http.Request {
		r := httptest.NewRequest("GET", "/dashboard", nil)
		r.AddCookie(cookieNamed(t, w1, "sid"))
		return r
	}

	stale := sm.Store(httptest.NewRecorder(), request())

	rotated := testPair
	rotated.RefreshToken = "refresh-2"
	if err := sm.Store(httptest.NewRecorder(), request()).Write(context.Background(), rotated, testProfile); err != nil {
		t.Fatal(err)
	}

	d, err := stale.ReadDurable(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if d.RefreshToken != "refresh-2" {
		t.Fatalf("expected 'refresh-2' got '%s'", d.RefreshToken)
	}
}

func TestReadDurableAfterOverlappingClear(t *testing.T) {
	backend, _ := mapbackend()
	sm := session.NewManager(backend)

	w1 := httptest.NewRecorder()
	sm.Store(w1, httptest.NewRequest("POST", "/login", nil)).Write(context.Background(), testPair, testProfile)

	r := httptest.NewRequest("GET", "/dashboard", nil)
	r.AddCookie(cookieNamed(t, w1, "sid"))
	stale := sm.Store(httptest.NewRecorder(), r)

	r2 := httptest.NewRequest("POST", "/logout", nil)
	r2.AddCookie(cookieNamed(t, w1, "sid"))
	sm.Store(httptest.NewRecorder(), r2).Clear(context.Background())

	if _, err := stale.ReadDurable(context.Background()); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("expected ErrNoSession got '%v'", err)
	}
}
