package httpx

import (
	"bytes"
	"fmt"
	"hash/crc64"
	"io/fs"
	"net/http"
	"sync"
)

// ETagConfig configures the behavior of the ETag middleware.
type ETagConfig struct {
	// Weak indicates whether to generate weak ETags (prefixed with W/).
	Weak bool

	// Cache keeps generated ETags in memory by request URI so a matching
	// If-None-Match is answered without running the handler.
	Cache bool
}

// DefaultETagConfig provides strong ETags and caching enabled.
var DefaultETagConfig = ETagConfig{
	Weak:  false,
	Cache: true,
}

var crcTable = crc64.MakeTable(crc64.ECMA)

// etagResponseWriter buffers the body and computes its CRC64 checksum.
type etagResponseWriter struct {
	http.ResponseWriter
	buffer     bytes.Buffer
	checksum   uint64
	statusCode int
}

func (w *etagResponseWriter) Write(b []byte) (int, error) {
	w.checksum = crc64.Update(w.checksum, crcTable, b)
	return w.buffer.Write(b)
}

func (w *etagResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
}

// ETag returns a middleware that sets an ETag header, the CRC64 of the
// body, on successful GET responses. A request whose If-None-Match matches
// gets 304 Not Modified with no body. Handlers that set their own ETag are
// left alone.
func ETag(config ETagConfig) Middleware {
	return MiddlewareFunc(func(next http.Handler) http.Handler {
		var cache sync.Map

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			uri := r.URL.RequestURI()
			clientEtag := r.Header.Get("If-None-Match")

			if config.Cache && clientEtag != "" {
				if cached, ok := cache.Load(uri); ok && cached == clientEtag {
					w.WriteHeader(http.StatusNotModified)
					return
				}
			}

			rw := &etagResponseWriter{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			etag := fmt.Sprintf(`"%x"`, rw.checksum)
			if config.Weak {
				etag = "W/" + etag
			}

			ok := rw.statusCode == 0 || rw.statusCode == http.StatusOK
			if ok && w.Header().Get("Etag") == "" {
				if config.Cache {
					cache.Store(uri, etag)
				}

				w.Header().Set("Etag", etag)

				if clientEtag == etag {
					w.WriteHeader(http.StatusNotModified)
					return
				}
			}

			if rw.statusCode != 0 {
				w.WriteHeader(rw.statusCode)
			}

			w.Write(rw.buffer.Bytes())
		})
	})
}

// Static serves the files of fsys with ETags and a revalidation
// Cache-Control policy.
//
//	//go:embed static
//	var assets embed.FS
//
//	sub, _ := fs.Sub(assets, "static")
//	mux.Handle("GET /static/", http.StripPrefix("/static", httpx.Static(sub)))
func Static(fsys fs.FS) http.Handler {
	files := http.FileServerFS(fsys)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		files.ServeHTTP(w, r)
	})

	return ETag(DefaultETagConfig).Handler(h)
}
