package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/declaro/internal/client/events"
	"github.com/dmitrijs2005/declaro/internal/logging"
)

const DefaultTimeout = 10 * time.Second

// TokenStore provides the bearer token. Token returns "" when none is set.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	ClearToken(ctx context.Context) error
}

type Publisher interface {
	Publish(ctx context.Context, e events.Event)
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
	bus     Publisher
	timeout time.Duration
	log     logging.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l logging.Logger) Option { return func(c *Client) { c.log = l } }

func NewClient(baseURL string, tokens TokenStore, bus Publisher, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		tokens:  tokens,
		bus:     bus,
		timeout: DefaultTimeout,
		log:     logging.NopLogger{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RequestOption adjusts a single outgoing request.
type RequestOption func(*http.Request)

func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// WithIdempotencyKey lets the server deduplicate replays of the same write.
func WithIdempotencyKey(key string) RequestOption {
	return WithHeader("Idempotency-Key", key)
}

func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodGet, path, nil, out, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPost, path, body, out, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPut, path, body, out, opts...)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPatch, path, body, out, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out, opts...)
}

// Do performs one request. body may be nil, a *Multipart, or any value that
// encodes to JSON. out, when non-nil, receives the decoded 2xx body.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...RequestOption) error {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reader, contentType, err := encodeBody(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(rctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	for _, o := range opts {
		o(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, rctx, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportError(ctx, rctx, method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.forceLogout(ctx)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload := parsePayload(raw)
		return &Error{Status: resp.StatusCode, Payload: payload, Message: detailMessage(payload, resp.StatusCode)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalidResponse, method, path, err)
	}
	return nil
}

func (c *Client) forceLogout(ctx context.Context) {
	if c.tokens != nil {
		if err := c.tokens.ClearToken(ctx); err != nil {
			c.log.Error(ctx, "failed to clear rejected token", "error", err)
		}
	}
	if c.bus != nil {
		c.bus.Publish(ctx, events.Event{Topic: events.TopicAuthLogout, Reason: "token rejected"})
	}
}

func (c *Client) transportError(parent, rctx context.Context, method, path string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(rctx.Err(), context.DeadlineExceeded) {
		c.log.Debug(parent, "request timed out", "method", method, "path", path, "timeout", c.timeout)
		return fmt.Errorf("%w after %s: %s %s", ErrTimeout, c.timeout, method, path)
	}
	return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case *Multipart:
		return b.encode()
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return bytes.NewReader(raw), "application/json", nil
	}
}

func parsePayload(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
