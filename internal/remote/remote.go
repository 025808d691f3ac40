// Package remote is the client of the central business system that owns the
// face templates and receives attendance exports.
package remote

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/constants"
)

// ErrNotConfigured is returned when no remote URL is set.
var ErrNotConfigured = errors.New("remote URL not configured")

// Client talks to the remote authority API.
type Client struct {
	parsedURL  *url.URL
	token      string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. The /api/v1 prefix is appended.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrNotConfigured
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote URL scheme %q", parsed.Scheme)
	}
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}
	return &Client{
		parsedURL:  parsed.JoinPath("api", "v1"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// NewFromConfig creates a client from the remote section of the configuration.
func NewFromConfig(cfg *config.RemoteConfig) (*Client, error) {
	return NewClient(cfg.URL, cfg.Token, cfg.Timeout)
}

// URL returns the API base URL.
func (c *Client) URL() string {
	return c.parsedURL.String()
}

// resolveURL joins path segments onto the API base URL.
func (c *Client) resolveURL(pathSegments ...string) string {
	return c.parsedURL.JoinPath(pathSegments...).String()
}

// StatusError is returned when the remote answers with an unexpected status.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 answer from the remote.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
