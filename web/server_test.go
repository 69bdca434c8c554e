package web_test

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/bluescreen10/sugary/account"
	"github.com/bluescreen10/sugary/catalog"
	"github.com/bluescreen10/sugary/memstore"
	"github.com/bluescreen10/sugary/metrics"
	"github.com/bluescreen10/sugary/refresh"
	"github.com/bluescreen10/sugary/session"
	"github.com/bluescreen10/sugary/web"
)

const loginOK = `{
  "Success": true,
  "Token": "access-1",
  "RefreshToken": "refresh-1",
  "User": {"Id": "u-1", "Email": "react@test.com", "FullName": "React Tester", "Avatar": "avatars/u-1.png"}
}`

// remote fakes the account and catalog API.
type remote struct {
	mu sync.Mutex

	total     int
	loginBody string
	// status forces every catalog call to fail with it
	status int
	// revoked makes every token and refresh attempt fail
	revoked bool
	// hold, when set, parks catalog calls: each one sends on it once
	// entered and waits for a receive before answering
	hold chan struct{}
}

func (b *remote) set(f func(b *remote)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f(b)
}

func newRemote(t *testing.T, b *remote) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Materials/GetAll" {
			b.mu.Lock()
			hold := b.hold
			b.mu.Unlock()
			if hold != nil {
				hold <- struct{}{}
				<-hold
			}
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		switch r.URL.Path {
		case "/AdminAccount/Login":
			fmt.Fprint(w, b.loginBody)

		case "/Account/RefreshToken":
			if b.revoked {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"Success": true, "Token": "access-2"}`)

		case "/Materials/GetAll":
			if b.status != 0 {
				w.WriteHeader(b.status)
				fmt.Fprint(w, "catalog down")
				return
			}
			if b.revoked || r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			raw, _ := base64.StdEncoding.DecodeString(r.URL.Query().Get("filter"))
			var f struct{ Skip, Limit int }
			json.Unmarshal(raw, &f)

			materials := []map[string]any{}
			for i := f.Skip; i < f.Skip+f.Limit && i < b.total; i++ {
				materials = append(materials, map[string]any{
					"Id":              i,
					"Title":           fmt.Sprintf("material %d", i),
					"BrandName":       "Brand",
					"CoverPhoto":      fmt.Sprintf("covers/%d.jpg", i),
					"SalesPrice":      100.5,
					"SalesPriceInUsd": 1.2,
				})
			}

			json.NewEncoder(w).Encode(map[string]any{
				"TotalCount":     b.total,
				"RemainingCount": max(b.total-f.Skip-len(materials), 0),
				"Materials":      materials,
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	remote  *remote
	store   *memstore.Memstore
	app     *httptest.Server
	client  *http.Client
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, b *remote) *fixture {
	t.Helper()
	if b.loginBody == "" {
		b.loginBody = loginOK
	}

	api := newRemote(t, b)
	store := memstore.New()
	m := metrics.New(prometheus.NewRegistry())

	accounts := account.New(api.URL)
	fetcher := catalog.NewFetcher(catalog.NewClient(api.URL), refresh.New(accounts, refresh.WithMetrics(m)), catalog.WithMetrics(m))

	srv := web.New(web.Options{
		Accounts:   accounts,
		Sessions:   session.NewManager(store),
		Fetcher:    fetcher,
		Metrics:    m,
		PageSize:   4,
		CDNBaseURL: "https://cdn.example.com/",
	})

	app := httptest.NewServer(srv)
	t.Cleanup(app.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &fixture{remote: b, store: store, app: app, client: client, metrics: m}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.app.URL+path, body)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	form := url.Values{"username": {"react@test.com"}, "password": {"playful009"}}
	resp, _ := f.do(t, http.MethodPost, "/login", strings.NewReader(form.Encode()), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

var viewRe = regexp.MustCompile(`data-view="([^"]+)"`)

func (f *fixture) openDashboard(t *testing.T) (string, string) {
	t.Helper()
	resp, body := f.do(t, http.MethodGet, "/dashboard", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	m := viewRe.FindStringSubmatch(body)
	require.Len(t, m, 2, "dashboard has no feed view")
	return m[1], body
}

var script = map[string]string{"X-Requested-With": "fetch"}

func TestLoginPage(t *testing.T) {
	f := newFixture(t, &remote{})

	resp, body := f.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `action="/login"`)
	require.Contains(t, body, "Sign in to access your dashboard")
}

func TestLogin_InvalidCredentialsJSON(t *testing.T) {
	f := newFixture(t, &remote{loginBody: `{"Success": false}`})

	resp, body := f.do(t, http.MethodPost, "/login", strings.NewReader(`{"username":"a@b.com","password":"nope"}`), map[string]string{
		"Content-Type": "application/json",
	})

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.JSONEq(t, `{"success":false,"error":"Invalid credentials"}`, body)
	require.Empty(t, resp.Cookies())
	require.Zero(t, f.store.Count())
}

func TestLogin_SuccessJSON(t *testing.T) {
	f := newFixture(t, &remote{})

	resp, body := f.do(t, http.MethodPost, "/login", strings.NewReader(`{"username":"react@test.com","password":"playful009"}`), map[string]string{
		"Content-Type": "application/json",
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"success":true,"token":"access-1"}`, body)
	require.Equal(t, 1, f.store.Count())

	names := map[string]bool{}
	for _, c := range resp.Cookies() {
		names[c.Name] = true
	}
	require.True(t, names["sid"])
	require.True(t, names[session.AccessCookie])
}

func TestLogin_FormValidation(t *testing.T) {
	f := newFixture(t, &remote{})

	resp, body := f.do(t, http.MethodPost, "/login", strings.NewReader("username=&password="), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})

	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Contains(t, body, "Username is required")
	require.Contains(t, body, "Password is required")
	require.Zero(t, f.store.Count())
}

func TestLogin_FormSuccess(t *testing.T) {
	f := newFixture(t, &remote{total: 2})

	form := url.Values{"username": {"react@test.com"}, "password": {"playful009"}}
	resp, body := f.do(t, http.MethodPost, "/login", strings.NewReader(form.Encode()), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "Login successful")
	require.Contains(t, body, `data-redirect="/dashboard" data-delay="500"`)

	_, dash := f.openDashboard(t)
	require.Contains(t, dash, "React Tester")
	require.Contains(t, dash, "https://cdn.example.com/avatars/u-1.png")
	require.Contains(t, dash, "material 1")
	require.Contains(t, dash, "$1.20")
	require.Contains(t, dash, "100.50 local")
	require.Contains(t, dash, "You've reached the end of the list")
}

func TestDashboard_RedirectsWithoutSession(t *testing.T) {
	f := newFixture(t, &remote{})

	resp, _ := f.do(t, http.MethodGet, "/dashboard", nil, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))
}

func TestFeed_ScriptWithoutSession(t *testing.T) {
	f := newFixture(t, &remote{})

	resp, _ := f.do(t, http.MethodGet, "/dashboard/feed/whatever", nil, script)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("X-Redirect"))
}

func TestFeed_PagesUntilExhausted(t *testing.T) {
	f := newFixture(t, &remote{total: 10})
	f.login(t)
	view, dash := f.openDashboard(t)
	require.Equal(t, 4, strings.Count(dash, `class="card item"`))

	var cards int
	for range 2 {
		resp, body := f.do(t, http.MethodGet, "/dashboard/feed/"+view, nil, script)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		cards += strings.Count(body, `class="card item"`)
	}
	require.Equal(t, 6, cards)

	resp, _ := f.do(t, http.MethodGet, "/dashboard/feed/"+view, nil, script)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "false", resp.Header.Get("X-Has-More"))
}

func TestFeed_HasMoreHeader(t *testing.T) {
	f := newFixture(t, &remote{total: 9})
	f.login(t)
	view, _ := f.openDashboard(t)

	resp, body := f.do(t, http.MethodGet, "/dashboard/feed/"+view, nil, script)
	require.Equal(t, "true", resp.Header.Get("X-Has-More"))
	require.Contains(t, body, "material 4")
	require.NotContains(t, body, "material 3")

	resp, body = f.do(t, http.MethodGet, "/dashboard/feed/"+view, nil, script)
	require.Equal(t, "false", resp.Header.Get("X-Has-More"))
	require.Contains(t, body, "material 8")
}

func TestFeed_SessionExpired(t *testing.T) {
	f := newFixture(t, &remote{total: 10})
	f.login(t)
	view, _ := f.openDashboard(t)
	require.Equal(t, 1, f.store.Count())

	f.remote.set(func(b *remote) { b.revoked = true })

	resp, body := f.do(t, http.MethodGet, "/dashboard/feed/"+view, nil, script)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("X-Redirect"))
	require.Equal(t, "1500", resp.Header.Get("X-Redirect-After"))
	require.Contains(t, body, "Your session has expired")
	require.Zero(t, f.store.Count())

	resp, _ = f.do(t, http.MethodGet, "/dashboard", nil, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestFeed_BackendErrorKeepsSession(t *testing.T) {
	f := newFixture(t, &remote{total: 10})
	f.login(t)
	view, _ := f.openDashboard(t)

	f.remote.set(func(b *remote) { b.status = http.StatusInternalServerError })

	resp, body := f.do(t, http.MethodGet, "/dashboard/feed/"+view, nil, script)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Contains(t, body, `<p class="error">Failed to load materials: API error: 500 - catalog down</p>`)
	require.Contains(t, body, "Try Again")
	require.Equal(t, 1, f.store.Count())

	f.remote.set(func(b *remote) { b.status = 0 })

	resp, body = f.do(t, http.MethodPost, "/dashboard/feed/"+view+"/reload", nil, script)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "material 0")
}

func TestFeed_ConflictLeavesFeedUntouched(t *testing.T) {
	f := newFixture(t, &remote{total: 10})
	f.login(t)
	view, _ := f.openDashboard(t)

	hold := make(chan struct{})
	f.remote.set(func(b *remote) { b.hold = hold })

	type result struct {
		status int
		body   string
		err    error
	}
	first := make(chan result, 1)
	go func() {
		req, err := http.NewRequest(http.MethodGet, f.app.URL+"/dashboard/feed/"+view, nil)
		if err != nil {
			first <- result{err: err}
			return
		}
		req.Header.Set("X-Requested-With", "fetch")
		resp, err := f.client.Do(req)
		if err != nil {
			first <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		first <- result{status: resp.StatusCode, body: string(b), err: err}
	}()

	<-hold

	resp, body := f.do(t, http.MethodPost, "/dashboard/feed/"+view+"/reload", nil, script)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotContains(t, body, "feed-status")

	resp, _ = f.do(t, http.MethodGet, "/dashboard/feed/"+view, nil, script)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	f.remote.set(func(b *remote) { b.hold = nil })
	hold <- struct{}{}

	res := <-first
	require.NoError(t, res.err)
	require.Equal(t, http.StatusOK, res.status)
	require.Contains(t, res.body, "material 4")
	require.Contains(t, res.body, `class="sentinel"`)

	resp, body = f.do(t, http.MethodGet, "/dashboard/feed/"+view, nil, script)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "material 8")
}

func TestFeed_UnknownView(t *testing.T) {
	f := newFixture(t, &remote{total: 1})
	f.login(t)

	resp, _ := f.do(t, http.MethodGet, "/dashboard/feed/nope", nil, script)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, &remote{total: 1})
	f.login(t)
	view, _ := f.openDashboard(t)

	resp, body := f.do(t, http.MethodPost, "/logout", nil, map[string]string{"Accept": "application/json"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"clearLocalStorage":true}`, body)
	require.Zero(t, f.store.Count())

	resp, _ = f.do(t, http.MethodGet, "/dashboard/feed/"+view, nil, script)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/logout", nil, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t, &remote{})

	resp, body := f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body)

	f.do(t, http.MethodPost, "/login", strings.NewReader(`{"username":"a","password":"b"}`), map[string]string{
		"Content-Type": "application/json",
	})

	resp, body = f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `sugary_logins_total{outcome="succeeded"} 1`)
}

func TestStatic(t *testing.T) {
	f := newFixture(t, &remote{})

	resp, _ := f.do(t, http.MethodGet, "/static/app.js", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	resp, _ = f.do(t, http.MethodGet, "/static/app.js", nil, map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusNotModified, resp.StatusCode)
}
