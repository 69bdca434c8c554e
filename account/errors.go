package account

import (
	"errors"
	"sort"
	"strings"
)

// ErrRefreshRejected is wrapped by every failed refresh exchange.
var ErrRefreshRejected = errors.New("refresh rejected")

// ValidationError reports empty credential fields. Fields maps the form
// field name to a human readable message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, m := range e.Fields {
		msgs = append(msgs, m)
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

// AuthError is returned when the backend refuses a login or cannot be
// reached. Reason is safe to show to the user.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	return e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
