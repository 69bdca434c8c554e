package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bluescreen10/sugary/logctx"
)

const (
	loginPath   = "/AdminAccount/Login"
	refreshPath = "/Account/RefreshToken"

	// maxBodySize caps how much of a response body is read.
	maxBodySize = 1 << 20
)

// Client calls the remote account service.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
}

type config func(*Client)

// WithHTTPClient sets the http.Client used for every call. (default
// http.Client with a 15s timeout)
func WithHTTPClient(hc *http.Client) config {
	return config(func(c *Client) {
		c.http = hc
	})
}

// WithTimeout sets the per call timeout of the default http.Client.
func WithTimeout(timeout time.Duration) config {
	return config(func(c *Client) {
		c.http = &http.Client{Timeout: timeout}
	})
}

// WithUserAgent sets the User-Agent header. (default "sugary")
func WithUserAgent(ua string) config {
	return config(func(c *Client) {
		c.userAgent = ua
	})
}

// New creates a Client for the account service rooted at baseURL.
func New(baseURL string, cfgs ...config) *Client {
	c := &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		http:      &http.Client{Timeout: 15 * time.Second},
		userAgent: "sugary",
	}

	for _, cfg := range cfgs {
		cfg(c)
	}

	return c
}

type loginRequest struct {
	UserName string `json:"UserName"`
	Password string `json:"Password"`
}

type refreshRequest struct {
	AccessToken  string `json:"AccessToken"`
	RefreshToken string `json:"RefreshToken"`
}

// authResponse is the body shared by login and refresh.
type authResponse struct {
	Success               bool      `json:"Success"`
	Token                 string    `json:"Token"`
	RefreshToken          string    `json:"RefreshToken"`
	AccessTokenExpiresAt  string    `json:"AccessTokenExpiresAt"`
	RefreshTokenExpiresAt string    `json:"RefreshTokenExpiresAt"`
	User                  *wireUser `json:"User"`
}

func (r *authResponse) grant() *Grant {
	g := &Grant{
		TokenPair: TokenPair{
			AccessToken:      r.Token,
			RefreshToken:     r.RefreshToken,
			AccessExpiresAt:  parseTimestamp(r.AccessTokenExpiresAt),
			RefreshExpiresAt: parseTimestamp(r.RefreshTokenExpiresAt),
		},
	}

	if r.User != nil {
		g.Profile = r.User.profile()
	}
	return g
}

// Login exchanges credentials for a Grant. Empty fields fail with
// *ValidationError before any request is made; every other failure is an
// *AuthError.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Grant, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	log := logctx.From(ctx)
	log.Debug("login_attempt", "username", creds.Username)

	status, body, err := c.post(ctx, loginPath, loginRequest{UserName: creds.Username, Password: creds.Password})
	if err != nil {
		log.Warn("login_transport_failed", "err", err.Error())
		return nil, &AuthError{Reason: err.Error(), Err: err}
	}

	if status < 200 || status > 299 {
		reason := errorReason(status, body)
		log.Warn("login_rejected", "status", status)
		return nil, &AuthError{Reason: reason}
	}

	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Warn("login_parse_failed", "err", err.Error(), "bytes", len(body))
		return nil, &AuthError{Reason: "Failed to parse server response", Err: err}
	}

	if !resp.Success {
		return nil, &AuthError{Reason: "Invalid credentials"}
	}

	if resp.Token == "" {
		return nil, &AuthError{Reason: "Authentication token missing in response"}
	}

	log.Debug("login_succeeded", "token_len", len(resp.Token))
	return resp.grant(), nil
}

// Refresh exchanges a refresh token for a new Grant. The access token field
// is sent empty; the backend keys off the refresh token alone. Every
// failure wraps ErrRefreshRejected.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	status, body, err := c.post(ctx, refreshPath, refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshRejected, err)
	}

	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrRefreshRejected, status)
	}

	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %w", ErrRefreshRejected, err)
	}

	if !resp.Success {
		return nil, fmt.Errorf("%w: success is false", ErrRefreshRejected)
	}

	if resp.Token == "" {
		return nil, fmt.Errorf("%w: token missing in response", ErrRefreshRejected)
	}

	return resp.grant(), nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return res.StatusCode, nil, err
	}

	return res.StatusCode, body, nil
}

// errorReason picks the most useful message out of a non-2xx response.
func errorReason(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("Server error: %d %s", status, http.StatusText(status))
	}

	if strings.HasPrefix(text, "{") {
		var e struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
			return e.Message
		}
	}

	return text
}
