// Package apiclient talks to the moderation server. Every failure it returns
// is an *Error carrying a Kind that decides whether the call may be retried.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibeckermayer/modsync/internal/prefs"
)

// DefaultTimeout bounds each call unless Options.Timeout says otherwise
const DefaultTimeout = 10 * time.Second

// BaseURLSource supplies the server base URL at call time
type BaseURLSource interface {
	BaseURL() string
}

// StaticBaseURL is a fixed BaseURLSource
type StaticBaseURL string

func (s StaticBaseURL) BaseURL() string { return string(s) }

// Client issues authenticated requests against the moderation API
type Client struct {
	http    *http.Client
	base    BaseURLSource
	tokens  prefs.Adapter
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the default per-call timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client reading the base URL from base and the bearer token from tokens
func New(base BaseURLSource, tokens prefs.Adapter, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		base:    base,
		tokens:  tokens,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Options are per-call settings
type Options struct {
	Query   url.Values
	Body    any
	Timeout time.Duration
	// NoAuth skips the bearer token (login only).
	NoAuth bool
	// Operation is the message used for unclassified failures, e.g. "Failed to fetch posts".
	Operation string
}

// Response is a fully read successful response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do performs the call and reads the whole body
func (c *Client) Do(ctx context.Context, method, path string, opts Options) (*Response, error) {
	resp, cancel, err := c.send(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err, ctx)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// DoJSON performs the call and decodes the JSON body into out (if non-nil)
func (c *Client) DoJSON(ctx context.Context, method, path string, opts Options, out any) error {
	resp, err := c.Do(ctx, method, path, opts)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &Error{Kind: KindUnknown, StatusCode: resp.StatusCode, Message: "Unexpected response from server", Err: err}
	}
	return nil
}

// send issues the request. On success the caller owns resp.Body and must call cancel
// once done reading it.
func (c *Client) send(ctx context.Context, method, path string, opts Options) (*http.Response, context.CancelFunc, error) {
	fallback := opts.Operation
	if fallback == "" {
		fallback = "Request failed"
	}

	base := strings.TrimRight(strings.TrimSpace(c.base.BaseURL()), "/")
	if base == "" {
		return nil, nil, Validation("No server URL configured")
	}
	target := base + path
	if len(opts.Query) > 0 {
		target += "?" + opts.Query.Encode()
	}

	var token string
	if !opts.NoAuth {
		v, ok, err := c.tokens.Get(prefs.KeyToken)
		if err != nil {
			return nil, nil, &Error{Kind: KindUnknown, Message: "Failed to read auth token", Err: err}
		}
		if !ok || v == "" {
			return nil, nil, &Error{Kind: KindUnauthorized, Message: msgNoToken}
		}
		token = v
	}

	var body io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, nil, &Error{Kind: KindValidation, Message: "Failed to encode request", Err: err}
		}
		body = bytes.NewReader(data)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(callCtx, method, target, body)
	if err != nil {
		cancel()
		return nil, nil, Validation("Invalid server URL %q", base)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		classified := classifyTransport(err, ctx)
		c.logger.Debug("request failed",
			zap.String("request_id", requestID),
			zap.String("method", method),
			zap.String("path", path),
			zap.Stringer("kind", classified.Kind),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, nil, classified
	}

	c.logger.Debug("request completed",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		cancel()
		return nil, nil, classifyStatus(resp.StatusCode, data, fallback)
	}
	return resp, cancel, nil
}

// cancelOnClose releases the call context when the body is closed
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
