package httpx

import "net/http"

// Middleware defines the interface for HTTP middleware compatible with ServeMux.
type Middleware interface {
	Handler(http.Handler) http.Handler
}

// MiddlewareFunc adapts a plain func(http.Handler) http.Handler to Middleware.
type MiddlewareFunc func(http.Handler) http.Handler

func (f MiddlewareFunc) Handler(next http.Handler) http.Handler {
	return f(next)
}

// Chain wraps h with mws so that the first middleware is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i].Handler(h)
	}
	return h
}
