package session

import (
	"context"
	"net/http"

	"github.com/bluescreen10/sugary/account"
	"github.com/bluescreen10/sugary/httpx"
	"github.com/bluescreen10/sugary/logctx"
)

type profileKey struct{}

// ProfileFrom returns the profile placed in ctx by Guard.
func ProfileFrom(ctx context.Context) (account.Profile, bool) {
	p, ok := ctx.Value(profileKey{}).(account.Profile)
	return p, ok
}

// Guard protects the wrapped routes: requests without a usable durable
// session are sent to entry. Script requests (X-Requested-With) get a 401
// carrying the target in X-Redirect instead of a 303.
func (m *Manager) Guard(entry string) httpx.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profile, ok := RequireSession(r.Context(), m.Store(w, r))
			if !ok {
				logctx.From(r.Context()).Debug("session_required", "path", r.URL.Path)
				if httpx.IsScript(r) {
					w.Header().Set("X-Redirect", entry)
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				http.Redirect(w, r, entry, http.StatusSeeOther)
				return
			}

			ctx := context.WithValue(r.Context(), profileKey{}, profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
