// Package account talks to the remote account service. It turns a
// username/password pair into a token pair plus a profile snapshot, and
// exchanges a refresh token for a fresh access token.
//
// The package never stores anything. Callers persist the returned Grant
// through the session package right after a successful exchange.
//
// Usage:
//
//	client := account.New("https://api.example.com", account.WithTimeout(10*time.Second))
//
//	grant, err := client.Login(ctx, account.Credentials{Username: "a@b.com", Password: "secret"})
//	if err != nil {
//	    var verr *account.ValidationError
//	    if errors.As(err, &verr) {
//	        // show verr.Fields next to the form inputs
//	    }
//	    return err
//	}
//
//	store.Write(ctx, grant.TokenPair, grant.Profile)
package account

import (
	"strings"
	"time"
)

// Credentials is the username/password pair of one login attempt. It is
// never persisted.
type Credentials struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Validate checks that both fields are present before any network call.
func (c Credentials) Validate() error {
	fields := map[string]string{}

	if strings.TrimSpace(c.Username) == "" {
		fields["username"] = "Username is required"
	}

	if strings.TrimSpace(c.Password) == "" {
		fields["password"] = "Password is required"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// TokenPair holds the short-lived access token and the long-lived refresh
// token issued by the backend together with their expiry times. A zero
// expiry means the backend did not send a usable timestamp.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Grant is the outcome of a successful login or refresh.
type Grant struct {
	TokenPair
	Profile Profile
}

// Profile is a denormalized snapshot of the authenticated identity. It may
// go stale between refreshes.
type Profile struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	FullName  string   `json:"fullName"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Avatar    string   `json:"avatar,omitempty"`
	Role      Role     `json:"role"`
	Currency  Currency `json:"currency"`
	Country   Country  `json:"country"`
}

type Role struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

type Currency struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	ConversionRate float64 `json:"conversionRate"`
}

type Country struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CurrencyID string `json:"currencyId"`
}

// IsZero reports whether the profile carries no identity at all.
func (p Profile) IsZero() bool {
	return p.ID == "" && p.Username == "" && p.Email == "" && p.FullName == ""
}

// Initial returns the first letter of the full name, used as avatar
// fallback.
func (p Profile) Initial() string {
	for _, r := range p.FullName {
		return strings.ToUpper(string(r))
	}
	return "?"
}
