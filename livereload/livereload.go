// Package livereload reloads dashboard pages during development.
//
// Server injects a small script into HTML pages. The script listens on a
// Server-Sent Events endpoint and reloads the page when the server
// announces a new version, either because the process restarted or
// because Watch saw a template change.
//
//	lr := livereload.New(livereload.WithReloader(renderer))
//	go lr.Watch(ctx, "web/templates", time.Second)
//	mux.Use(lr)
package livereload

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluescreen10/sugary/logctx"
)

// Reloader drops cached templates. *httpx.Renderer implements it.
type Reloader interface {
	Reload()
}

//go:embed reload.js
var script []byte

// Server is an httpx.Middleware.
type Server struct {
	path     string
	reloader Reloader

	mu      sync.Mutex
	version int64
	clients map[chan int64]struct{}
}

type config func(*Server)

// WithPath sets the SSE endpoint path. (default "/_livereload")
func WithPath(path string) config {
	return config(func(s *Server) {
		s.path = path
	})
}

// WithReloader sets what Touch invalidates before notifying browsers.
func WithReloader(r Reloader) config {
	return config(func(s *Server) {
		s.reloader = r
	})
}

func New(cfgs ...config) *Server {
	s := &Server{
		path:    "/_livereload",
		version: time.Now().UnixNano(),
		clients: make(map[chan int64]struct{}),
	}

	for _, cfg := range cfgs {
		cfg(s)
	}

	return s
}

// Touch publishes a new version. Connected pages reload.
func (s *Server) Touch() {
	if s.reloader != nil {
		s.reloader.Reload()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.version = time.Now().UnixNano()
	for c := range s.clients {
		select {
		case c <- s.version:
		default:
		}
	}
}

// responseWriter holds the response back so the script can be injected.
type responseWriter struct {
	w          http.ResponseWriter
	body       bytes.Buffer
	statusCode int
}

func (r *responseWriter) Header() http.Header {
	return r.w.Header()
}

func (r *responseWriter) Write(data []byte) (int, error) {
	return r.body.Write(data)
}

func (r *responseWriter) WriteHeader(statusCode int) {
	r.statusCode = statusCode
}

// Handler serves the SSE endpoint and injects the script before the
// closing </body> of full HTML pages. Fragments and other content types
// pass through unchanged.
func (s *Server) Handler(next http.Handler) http.Handler {
	js := bytes.ReplaceAll(script, []byte("/_livereload"), []byte(s.path))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == s.path {
			s.serveEvents(w, r)
			return
		}

		rw := &responseWriter{w: w}
		next.ServeHTTP(rw, r)

		status := rw.statusCode
		if status == 0 {
			status = http.StatusOK
		}

		body := rw.body.Bytes()
		closingBodyAt := bytes.LastIndex(body, []byte("</body>"))

		if strings.Contains(rw.Header().Get("Content-Type"), "text/html") && closingBodyAt != -1 {
			rw.Header().Set("Content-Length", strconv.Itoa(len(body)+len(js)))
			w.WriteHeader(status)
			w.Write(body[:closingBodyAt])
			w.Write(js)
			w.Write(body[closingBodyAt:])
			return
		}

		w.WriteHeader(status)
		w.Write(body)
	})
}

func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	send := func(version int64) {
		fmt.Fprintf(w, "data: ts=%d\n\n", version)
		rc.Flush()
	}

	c := make(chan int64, 1)

	s.mu.Lock()
	version := s.version
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	send(version)

	for {
		select {
		case v := <-c:
			send(v)
		case <-r.Context().Done():
			return
		}
	}
}

// Watch polls the files under dir every interval and calls Touch when any
// of them changed, until ctx is done.
func (s *Server) Watch(ctx context.Context, dir string, interval time.Duration) {
	fsys := os.DirFS(dir)
	last := latestChange(fsys)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if t := latestChange(fsys); t.After(last) {
				last = t
				logctx.From(ctx).Debug("templates_changed", "dir", dir)
				s.Touch()
			}
		case <-ctx.Done():
			return
		}
	}
}

func latestChange(fsys fs.FS) time.Time {
	var latest time.Time
	fs.WalkDir(fsys, ".", func(_ string, e fs.DirEntry, err error) error {
		if err != nil || e.IsDir() {
			return nil
		}
		if info, err := e.Info(); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest
}
