package httpx

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bluescreen10/sugary/logctx"
)

// LoggerConfig configures the Logger middleware.
type LoggerConfig struct {
	// Logger receives one record per request. (default slog.Default())
	Logger *slog.Logger

	// Observe, when set, is called after every request. It feeds request
	// metrics.
	Observe func(method string, status int, elapsed time.Duration)
}

var DefaultLoggerConfig = LoggerConfig{}

// Logger returns a middleware that logs one record per request with the
// method, path, status, latency, client ip and body size. It also places a
// request scoped logger, tagged with the request id, in the context where
// logctx.From finds it.
func Logger(cfg LoggerConfig) Middleware {
	base := cfg.Logger
	if base == nil {
		base = slog.Default()
	}

	return MiddlewareFunc(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := base
			if id := RequestIDFrom(r.Context()); id != "" {
				l = l.With(slog.String("request_id", id))
			}
			r = r.WithContext(logctx.Into(r.Context(), l))

			start := time.Now()
			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)
			latency := time.Since(start)

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			l.LogAttrs(r.Context(), slog.LevelInfo, "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.Status()),
				slog.Duration("latency", latency),
				slog.String("ip", ip),
				slog.Int("bytes", sw.count),
			)

			if cfg.Observe != nil {
				cfg.Observe(r.Method, sw.Status(), latency)
			}
		})
	})
}
