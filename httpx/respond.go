package httpx

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"
)

// JSON writes v as a JSON response with status.
func JSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WantsJSON reports whether the client sent or asked for JSON.
func WantsJSON(r *http.Request) bool {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mt == "application/json" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// IsScript reports whether the request was sent by page script rather than
// by a navigation.
func IsScript(r *http.Request) bool {
	return r.Header.Get("X-Requested-With") != ""
}
