// Package httpclient is the outbound HTTP transport for ingestion
// adapters. It classifies failures into the transient / non-transient
// split the retry policy keys on: network errors, HTTP 429 and 5xx are
// transient; other non-2xx statuses and malformed bodies are not.
package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidemark/conflux/errors"
)

const (
	maxRedirects    = 10
	maxResponseSize = 10 << 20 // 10 MiB
)

// Client wraps http.Client with URL validation, redirect capping, and
// response size limits.
type Client struct {
	*http.Client
	allowedSchemes []string
}

// New creates a client with the given total-request timeout.
func New(timeout time.Duration) *Client {
	c := &Client{
		Client:         &http.Client{Timeout: timeout},
		allowedSchemes: []string{"http", "https"},
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errors.Newf("stopped after %d redirects", maxRedirects)
		}
		return c.validateURL(req.URL)
	}
	return c
}

// Wrap adapts an existing http.Client, typically an httptest server's
// client in tests.
func Wrap(client *http.Client) *Client {
	return &Client{Client: client, allowedSchemes: []string{"http", "https"}}
}

// GetJSON fetches a URL and decodes its JSON body into target.
// Headers are applied to the request; pass nil for none.
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, target interface{}) error {
	body, err := c.get(ctx, rawURL, headers, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return errors.NewValidationError("malformed JSON response from %s: %v", rawURL, err)
	}
	return nil
}

// GetBody fetches a URL and returns its raw body, for non-JSON
// payloads such as syndication feeds.
func (c *Client) GetBody(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, rawURL, nil, "")
}

func (c *Client) get(ctx context.Context, rawURL string, headers map[string]string, accept string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid URL %q", rawURL)
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.Do(req)
	if err != nil {
		// Connection refused, DNS failure, timeout: all worth retrying
		return nil, errors.WrapTransient(err, "fetch "+rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, errors.NewTransientError("GET %s returned %d", rawURL, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Newf("GET %s returned %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.WrapTransient(err, "read response from "+rawURL)
	}
	return body, nil
}

func (c *Client) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	for _, allowed := range c.allowedSchemes {
		if scheme == allowed {
			if u.Hostname() == "" {
				return errors.New("URL missing hostname")
			}
			return nil
		}
	}
	return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
}
