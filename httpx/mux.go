package httpx

import (
	"net/http"
	"strings"
	"sync"
)

// ServeMux is a wrapper around http.ServeMux that adds route groups and
// middlewares.
//
// Usage:
//
//	mux := httpx.NewServeMux()
//	mux.Use(httpx.RequestID(), httpx.Logger(httpx.DefaultLoggerConfig))
//
//	dash := mux.Group("/dashboard", sessions.Guard("/"))
//	dash.HandleFunc("GET /{$}", dashboardHandler)
//	dash.HandleFunc("GET /feed/{view}", feedHandler)
//
//	http.ListenAndServe(":8080", mux)
type ServeMux struct {
	*http.ServeMux

	mu          sync.Mutex
	middlewares []Middleware
	handler     http.Handler
}

// NewServeMux creates a new ServeMux instance.
func NewServeMux() *ServeMux {
	return &ServeMux{
		ServeMux: http.NewServeMux(),
	}
}

// Group creates a sub-router mounted under prefix. Requests reaching it go
// through the parent middlewares first, then through middlewares.
// Handlers registered on the group see paths with the prefix stripped.
func (mux *ServeMux) Group(prefix string, middlewares ...Middleware) *ServeMux {
	prefix = strings.TrimSuffix(prefix, "/")
	sub := NewServeMux()
	sub.middlewares = middlewares

	mux.Handle(prefix+"/", http.StripPrefix(prefix, sub))
	return sub
}

// Use appends global middlewares. They apply to every route of this mux,
// in the order they were added.
func (mux *ServeMux) Use(mws ...Middleware) {
	mux.mu.Lock()
	defer mux.mu.Unlock()

	mux.middlewares = append(mux.middlewares, mws...)
	mux.handler = nil
}

// ServeHTTP applies the middlewares before dispatching to the underlying
// http.ServeMux.
func (mux *ServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.mu.Lock()
	if mux.handler == nil {
		mux.handler = Chain(mux.ServeMux, mux.middlewares...)
	}
	h := mux.handler
	mux.mu.Unlock()

	h.ServeHTTP(w, r)
}
