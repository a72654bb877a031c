// Package httpclient is the single configured transport every resource
// service talks through. It owns the base address, the JSON codec, token
// injection and the normalisation of failures into apperror values.
//
// The bearer token is not stored here. The client is given a token
// provider (an oauth2.TokenSource, usually the session store) and asks it
// on every request, so login, logout and refresh take effect immediately.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/nutrition-client/internal/apperror"
	"github.com/sakif/nutrition-client/internal/middleware"
)

const (
	DefaultTimeout   = 15 * time.Second
	defaultUserAgent = "nutrition-client/1.0"
	contentTypeJSON  = "application/json"

	// maxErrorBody bounds how much of a failed response is read for its message.
	maxErrorBody = 64 << 10
)

// Client issues JSON requests against a fixed base URL.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	tokens    oauth2.TokenSource
	logger    *slog.Logger
	userAgent string
	headers   http.Header
}

// Option configures a Client.
type Option func(*Client)

// WithTokenSource sets the token provider consulted on every request.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithTokenFunc is WithTokenSource for a plain "current token" function.
func WithTokenFunc(f func() string) Option {
	return func(c *Client) { c.tokens = middleware.TokenFunc(f) }
}

// WithHTTPClient supplies the underlying client (timeouts, base transport).
// Its Transport is wrapped, not replaced.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithHeader adds a header sent on every request, e.g. an API key.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// New creates a Client for baseURL, e.g. "http://localhost:8000/api".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("httpclient: parsing base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httpclient: base URL %q must be http or https", baseURL)
	}

	c := &Client{
		baseURL:   u,
		http:      &http.Client{Timeout: DefaultTimeout},
		tokens:    middleware.TokenFunc(func() string { return "" }),
		logger:    slog.New(slog.DiscardHandler),
		userAgent: defaultUserAgent,
		headers:   http.Header{},
	}
	for _, opt := range opts {
		opt(c)
	}

	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	// Copy so the caller's *http.Client is left untouched.
	wrapped := *c.http
	wrapped.Transport = middleware.RequestID(
		middleware.BearerToken(c.tokens,
			middleware.LogRoundTrips(c.logger, base)))
	c.http = &wrapped

	return c, nil
}

// BaseURL returns the configured base address.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Do sends one request and decodes a 2xx JSON body into out (if non-nil).
//
// path is relative to the base URL and keeps its trailing slash, since the
// API distinguishes "/foods/" from "/foods". Empty query values are dropped
// so unset filters never reach the wire. Non-2xx responses and transport
// failures come back as *apperror.AppError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	reqURL := c.resolve(path, query)

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("httpclient: encoding %s %s body: %w", method, path, err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("httpclient: building %s %s: %w", method, path, err)
	}
	for k, vs := range c.headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperror.Transport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return apperror.FromResponse(resp.StatusCode, errBody)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperror.Transport(ctxErr)
		}
		return &apperror.AppError{
			Err:     apperror.ErrUnknownServer,
			Status:  resp.StatusCode,
			Code:    "decode_error",
			Message: "the server returned a response that could not be read",
			Cause:   err,
		}
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(path, "/")

	clean := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			if v != "" {
				clean.Add(k, v)
			}
		}
	}
	u.RawQuery = clean.Encode()
	return u.String()
}
