// Package web serves the dashboard: the login screen, the paginated
// catalog view and their static assets.
//
//	srv := web.New(web.Options{
//	    Accounts: account.New(baseURL),
//	    Sessions: session.NewManager(memstore.New()),
//	    Fetcher:  fetcher,
//	})
//	http.ListenAndServe(":8080", srv)
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bluescreen10/sugary/account"
	"github.com/bluescreen10/sugary/catalog"
	"github.com/bluescreen10/sugary/httpx"
	"github.com/bluescreen10/sugary/logctx"
	"github.com/bluescreen10/sugary/metrics"
	"github.com/bluescreen10/sugary/session"
)

//go:embed templates
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

// Authenticator exchanges credentials for a grant. *account.Client
// implements it.
type Authenticator interface {
	Login(ctx context.Context, creds account.Credentials) (*account.Grant, error)
}

type Options struct {
	Accounts Authenticator
	Sessions *session.Manager
	Fetcher  *catalog.Fetcher
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// PageSize is the number of items per catalog page. (default 12)
	PageSize int

	// CDNBaseURL prefixes avatar and cover photo paths.
	CDNBaseURL string

	// LoginRedirectDelay lets the success notice render before the
	// dashboard opens. (default 500ms)
	LoginRedirectDelay time.Duration

	// ExpiredRedirectDelay lets the session expired notice render before
	// the login screen opens. (default 1500ms)
	ExpiredRedirectDelay time.Duration

	// ViewIdleTimeout drops dashboard views nobody paged for that long.
	ViewIdleTimeout time.Duration

	// Templates overrides the embedded templates, e.g. with os.DirFS
	// during development.
	Templates fs.FS

	// Ready reports whether dependencies are reachable for /healthz.
	Ready func(ctx context.Context) error
}

type Server struct {
	opts     Options
	mux      *httpx.ServeMux
	renderer *httpx.Renderer
	views    *Views
}

func New(opts Options) *Server {
	if opts.PageSize <= 0 {
		opts.PageSize = 12
	}
	if opts.LoginRedirectDelay <= 0 {
		opts.LoginRedirectDelay = 500 * time.Millisecond
	}
	if opts.ExpiredRedirectDelay <= 0 {
		opts.ExpiredRedirectDelay = 1500 * time.Millisecond
	}

	templates := opts.Templates
	if templates == nil {
		templates, _ = fs.Sub(templatesFS, "templates")
	}

	s := &Server{
		opts:     opts,
		mux:      httpx.NewServeMux(),
		renderer: httpx.NewRenderer(templates, ".html"),
	}

	s.views = NewViews(func() *catalog.Feed {
		return catalog.NewFeed(opts.Fetcher, opts.PageSize)
	}, opts.ViewIdleTimeout, opts.Metrics)

	s.renderer.Funcs(template.FuncMap{
		"cdn":   s.cdn,
		"price": func(v float64) string { return fmt.Sprintf("%.2f", v) },
		"ms":    func(d time.Duration) int64 { return d.Milliseconds() },
	})

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Use(
		httpx.Recover(),
		httpx.RequestID(),
		httpx.Logger(httpx.LoggerConfig{Logger: s.opts.Logger, Observe: s.opts.Metrics.Request}),
		s.opts.Sessions,
	)

	guard := s.opts.Sessions.Guard("/")

	s.mux.HandleFunc("GET /{$}", s.loginPage)
	s.mux.HandleFunc("POST /login", s.login)
	s.mux.HandleFunc("POST /logout", s.logout)
	s.mux.Handle("GET /dashboard", guard.Handler(http.HandlerFunc(s.dashboard)))

	dash := s.mux.Group("/dashboard", guard)
	dash.HandleFunc("GET /{$}", s.dashboard)
	dash.HandleFunc("GET /feed/{view}", s.nextPage)
	dash.HandleFunc("POST /feed/{view}/reload", s.reloadFeed)

	static, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static", httpx.Static(static)))

	s.mux.HandleFunc("GET /healthz", s.healthz)
	s.mux.Handle("GET /metrics", s.opts.Metrics.Handler())
}

// Use adds middlewares in front of every route.
func (s *Server) Use(mws ...httpx.Middleware) {
	s.mux.Use(mws...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Renderer returns the template renderer, e.g. to reload templates.
func (s *Server) Renderer() *httpx.Renderer {
	return s.renderer
}

func (s *Server) Views() *Views {
	return s.views
}

func (s *Server) cdn(p string) string {
	if p == "" || s.opts.CDNBaseURL == "" {
		return p
	}
	return strings.TrimSuffix(s.opts.CDNBaseURL, "/") + "/" + strings.TrimPrefix(p, "/")
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, vals httpx.Vals, layout ...string) {
	if err := s.renderer.HTML(w, status, name, vals, layout...); err != nil {
		logctx.From(r.Context()).Error("render_failed", "template", name, "err", err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			logctx.From(r.Context()).Warn("not_ready", "err", err.Error())
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
