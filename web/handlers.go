package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bluescreen10/sugary/account"
	"github.com/bluescreen10/sugary/catalog"
	"github.com/bluescreen10/sugary/httpx"
	"github.com/bluescreen10/sugary/logctx"
	"github.com/bluescreen10/sugary/session"
)

const unexpectedError = "An unexpected error occurred. Please try again."

type toast struct {
	Kind        string
	Title       string
	Description string
}

type redirect struct {
	URL   string
	Delay time.Duration
}

// loginResult is the JSON body of POST /login.
type loginResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Token   string `json:"token,omitempty"`
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login", httpx.Vals{"Title": "Sign in", "Username": ""}, "layout")
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var creds account.Credentials
	if err := httpx.Bind(r, &creds); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httpx.ErrUnsupportedMediaType) {
			status = http.StatusUnsupportedMediaType
		}
		s.loginFailed(w, r, status, creds, err.Error(), nil)
		return
	}

	grant, err := s.opts.Accounts.Login(ctx, creds)

	var verr *account.ValidationError
	var aerr *account.AuthError
	switch {
	case errors.As(err, &verr):
		s.opts.Metrics.Login("invalid")
		s.loginFailed(w, r, http.StatusUnprocessableEntity, creds, verr.Error(), verr.Fields)
		return
	case errors.As(err, &aerr):
		s.opts.Metrics.Login("rejected")
		s.loginFailed(w, r, http.StatusUnauthorized, creds, aerr.Reason, nil)
		return
	case err != nil:
		s.opts.Metrics.Login("error")
		logctx.From(ctx).Error("login_failed", "err", err.Error())
		s.loginFailed(w, r, http.StatusInternalServerError, creds, unexpectedError, nil)
		return
	}

	if err := s.opts.Sessions.Store(w, r).Write(ctx, grant.TokenPair, grant.Profile); err != nil {
		s.opts.Metrics.Login("error")
		logctx.From(ctx).Error("session_write_failed", "err", err.Error())
		s.loginFailed(w, r, http.StatusInternalServerError, creds, unexpectedError, nil)
		return
	}

	s.opts.Metrics.Login("succeeded")
	logctx.From(ctx).Info("login_succeeded", "user", grant.Profile.ID)

	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, loginResult{Success: true, Token: grant.AccessToken})
		return
	}

	s.render(w, r, http.StatusOK, "login", httpx.Vals{
		"Title":    "Sign in",
		"Username": creds.Username,
		"Toast":    toast{Kind: "success", Title: "Login successful", Description: "Redirecting to dashboard..."},
		"Redirect": redirect{URL: "/dashboard", Delay: s.opts.LoginRedirectDelay},
	}, "layout")
}

func (s *Server) loginFailed(w http.ResponseWriter, r *http.Request, status int, creds account.Credentials, msg string, fields map[string]string) {
	if httpx.WantsJSON(r) {
		httpx.JSON(w, status, loginResult{Success: false, Error: msg})
		return
	}

	vals := httpx.Vals{
		"Title":    "Sign in",
		"Username": creds.Username,
		"Errors":   fields,
	}
	if fields == nil {
		vals["Toast"] = toast{Kind: "error", Title: "Login failed", Description: msg}
	}

	s.render(w, r, status, "login", vals, "layout")
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := s.opts.Sessions.ID(r)

	if err := s.opts.Sessions.Store(w, r).Clear(ctx); err != nil {
		logctx.From(ctx).Error("session_clear_failed", "err", err.Error())
	}
	if sid != "" {
		s.views.Close(sid)
	}

	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]bool{"clearLocalStorage": true})
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// feedVals feeds the "feed" template.
type feedVals struct {
	View    string
	Items   []catalog.Item
	HasMore bool
	Error   string
	Expired bool
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, _ := session.ProfileFrom(ctx)
	sid := s.opts.Sessions.ID(r)

	id, feed := s.views.Open(sid)
	fv, _ := s.step(ctx, w, r, sid, id, feed, (*catalog.Feed).Next)

	vals := httpx.Vals{
		"Title":   "Materials Dashboard",
		"Profile": profile,
		"Feed":    fv,
	}

	if fv.Expired {
		vals["Toast"] = toast{Kind: "error", Title: "Session expired", Description: "Please log in again to continue."}
		vals["Redirect"] = redirect{URL: "/", Delay: s.opts.ExpiredRedirectDelay}
	} else if fv.Error != "" {
		vals["Toast"] = toast{Kind: "error", Title: "Error loading materials", Description: fv.Error}
	}

	s.render(w, r, http.StatusOK, "dashboard", vals, "layout")
}

func (s *Server) nextPage(w http.ResponseWriter, r *http.Request) {
	s.serveFeed(w, r, (*catalog.Feed).Next)
}

func (s *Server) reloadFeed(w http.ResponseWriter, r *http.Request) {
	s.serveFeed(w, r, (*catalog.Feed).Reload)
}

type feedStep func(*catalog.Feed, context.Context, session.Store) ([]catalog.Item, error)

// serveFeed answers a page request of a dashboard view with an HTML
// fragment. X-Has-More tells the page whether to keep paging.
func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request, op feedStep) {
	sid := s.opts.Sessions.ID(r)
	id := r.PathValue("view")

	feed, ok := s.views.Get(id, sid)
	if !ok {
		http.Error(w, "view not found", http.StatusNotFound)
		return
	}

	fv, status := s.step(r.Context(), w, r, sid, id, feed, op)
	switch status {
	case http.StatusConflict:
		http.Error(w, "fetch in progress", status)
		return
	case http.StatusNoContent:
		w.Header().Set("X-Has-More", "false")
		w.WriteHeader(status)
		return
	case http.StatusUnauthorized:
		w.Header().Set("X-Redirect", "/")
		w.Header().Set("X-Redirect-After", strconv.FormatInt(s.opts.ExpiredRedirectDelay.Milliseconds(), 10))
	}

	w.Header().Set("X-Has-More", strconv.FormatBool(fv.HasMore))
	s.render(w, r, status, "feed", httpx.Vals{"Feed": fv})
}

// step runs one feed operation and maps its outcome to the fragment state
// and a status code.
func (s *Server) step(ctx context.Context, w http.ResponseWriter, r *http.Request, sid, id string, feed *catalog.Feed, op feedStep) (feedVals, int) {
	items, err := op(feed, ctx, s.opts.Sessions.Store(w, r))

	fv := feedVals{View: id, Items: items, HasMore: feed.Snapshot().HasMore}

	var ferr *catalog.FetchError
	switch {
	case err == nil:
		return fv, http.StatusOK

	case errors.Is(err, catalog.ErrInFlight):
		return fv, http.StatusConflict

	case errors.Is(err, catalog.ErrExhausted):
		return fv, http.StatusNoContent

	case errors.Is(err, catalog.ErrAuthExpired):
		s.views.Close(sid)
		fv.Expired = true
		fv.HasMore = false
		return fv, http.StatusUnauthorized

	case errors.As(err, &ferr):
		fv.Error = "Failed to load materials: " + ferr.Message
		return fv, http.StatusBadGateway

	default:
		logctx.From(ctx).Error("feed_failed", "view", id, "err", err.Error())
		fv.Error = unexpectedError
		return fv, http.StatusInternalServerError
	}
}
