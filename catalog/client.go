package catalog

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bluescreen10/sugary/logctx"
)

const (
	getAllPath = "/Materials/GetAll"

	maxBodySize = 4 << 20
)

var (
	// ErrUnauthorized is returned by GetAll when the backend answers 401.
	ErrUnauthorized = errors.New("catalog: unauthorized")

	// ErrParse marks a response body that is not the expected JSON.
	ErrParse = errors.New("catalog: failed to parse server response")
)

// BackendError is a non-auth failure of the catalog backend.
type BackendError struct {
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	return e.Message
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Client calls the catalog endpoint of the backend.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
}

type config func(*Client)

// WithHTTPClient sets the http.Client used for every call.
func WithHTTPClient(hc *http.Client) config {
	return config(func(c *Client) {
		c.http = hc
	})
}

// WithTimeout sets the per call timeout of the default http.Client.
// (default 15s)
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

func NewClient(baseURL string, cfgs ...config) *Client {
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

type filter struct {
	Skip  int   `json:"Skip"`
	Limit int   `json:"Limit"`
	Types []int `json:"Types"`
}

// encodeFilter returns the base64 JSON filter for cursor.
func encodeFilter(cursor Cursor) string {
	buf, _ := json.Marshal(filter{Skip: cursor.Skip, Limit: cursor.Limit, Types: []int{1}})
	return base64.StdEncoding.EncodeToString(buf)
}

// GetAll fetches the page addressed by cursor with accessToken as bearer.
func (c *Client) GetAll(ctx context.Context, cursor Cursor, accessToken string) (*Page, error) {
	u := c.baseURL + getAllPath + "?filter=" + url.QueryEscape(encodeFilter(cursor))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &BackendError{Message: err.Error(), Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, &BackendError{Status: res.StatusCode, Message: err.Error(), Err: err}
	}

	if res.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		text := strings.TrimSpace(string(body))
		if text == "" {
			text = http.StatusText(res.StatusCode)
		}
		logctx.From(ctx).Warn("catalog_error_status", "status", res.StatusCode, "skip", cursor.Skip)
		return nil, &BackendError{
			Status:  res.StatusCode,
			Message: fmt.Sprintf("API error: %d - %s", res.StatusCode, text),
		}
	}

	var w wirePage
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &BackendError{Status: res.StatusCode, Message: "Failed to parse server response", Err: errors.Join(ErrParse, err)}
	}

	return toPage(&w), nil
}
