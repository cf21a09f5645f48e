// Package httpx wraps outbound Kroger API calls with timeout, retry with
// exponential backoff and jitter, and the two targeted recovery paths:
// a single sanitized retry for 400s on catalog searches, and a single
// force-refresh retry for 401s on authenticated requests.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kroger-cart/internal/model"
	"kroger-cart/internal/transport"
)

// TokenSource supplies bearer credentials for authenticated requests.
// ForceRefresh is invoked at most once per request, on the first 401.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Request describes one outbound call. Body is a byte slice rather than a
// reader so the request can be replayed across retry attempts.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	Body   []byte

	// Authenticated requests carry a bearer token and get the single
	// 401 force-refresh retry.
	Authenticated bool

	// SanitizeParam names a query parameter to strip of disallowed
	// characters if the upstream rejects the request with a 400.
	// Catalog searches set this to the term parameter; the sanitized
	// retry happens exactly once.
	SanitizeParam string
}

// Response is the decoded outcome of a successful (2xx) call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Config holds request layer construction options. Zero values get defaults.
type Config struct {
	Tokens      TokenSource
	Logger      *slog.Logger
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// HTTPClient overrides the default Chrome-fingerprint client (tests).
	HTTPClient *http.Client
}

// Client executes requests against the Kroger API with the retry policy
// from Config. Safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	tokens      TokenSource
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	// sleep is swappable so tests can observe delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a request layer client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 8 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport.NewChromeTransport(cfg.Timeout),
		}
	}

	return &Client{
		httpClient:  httpClient,
		tokens:      cfg.Tokens,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		sleep:       sleepCtx,
	}
}

// Do executes the request with the retry policy. 2xx responses are returned
// as-is; everything else surfaces as a *model.APIError once recovery paths
// are exhausted. The caller decides whether the error is fatal.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	var (
		refreshed  bool
		sanitized  bool
		lastErr    error
		lastHeader http.Header
	)

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoffDelay(attempt - 1)
			delay += jitter(delay)
			if advised := ServerDelay(lastHeader); advised > delay {
				delay = min(advised, c.maxDelay)
			}
			c.logger.Debug("retrying request",
				slog.String("url", req.URL),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := c.send(ctx, req)
		if err != nil {
			// Auth and context errors are never retried here.
			if errors.Is(err, model.ErrAuth) || ctx.Err() != nil {
				return nil, err
			}
			// Transport-level failure: retry.
			lastErr = model.NewUpstreamError(err)
			lastHeader = nil
			continue
		}

		if resp.StatusCode < 300 {
			return resp, nil
		}

		switch {
		case resp.StatusCode == 401 && req.Authenticated && !refreshed:
			// First 401: force a token refresh and replay once.
			refreshed = true
			if _, err := c.tokens.ForceRefresh(ctx); err != nil {
				return nil, err
			}
			attempt-- // replay does not consume a retry attempt
			continue

		case resp.StatusCode == 401 && req.Authenticated:
			return nil, model.NewAuthError("request rejected again after token refresh")

		case resp.StatusCode == 400 && req.SanitizeParam != "" && !sanitized:
			// Kroger's search endpoint rejects certain characters with a
			// 400. Strip them and retry exactly once.
			sanitized = true
			term := req.Query.Get(req.SanitizeParam)
			clean := SanitizeTerm(term)
			if clean == term {
				return nil, statusError(resp)
			}
			c.logger.Debug("sanitizing rejected search term",
				slog.String("term", term),
				slog.String("sanitized", clean),
			)
			req.Query.Set(req.SanitizeParam, clean)
			attempt--
			continue

		case resp.StatusCode == 429 || resp.StatusCode >= 500:
			lastErr = statusError(resp)
			lastHeader = resp.Header
			continue

		default:
			// Remaining 4xx: not retryable.
			return nil, statusError(resp)
		}
	}

	return nil, lastErr
}

// send performs a single request/response cycle.
func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	u := req.URL
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	if req.Authenticated {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

// userAgent identifies this client to upstream servers.
// Akamai rate-limits requests without a User-Agent.
const userAgent = "kroger-cart/1.0"

// backoffDelay returns the base delay before retry k (k >= 1), before jitter:
// min(base * 2^(k-1), cap). The sequence is non-decreasing and capped.
func (c *Client) backoffDelay(k int) time.Duration {
	d := c.baseDelay << (k - 1)
	if d > c.maxDelay || d <= 0 {
		return c.maxDelay
	}
	return d
}

// jitter returns a random duration in [0, d) to avoid synchronized retry
// storms against a shared upstream.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)))
}

// statusError maps a non-2xx response to the error taxonomy.
func statusError(resp *Response) *model.APIError {
	if resp.StatusCode == 429 {
		err := model.NewRateLimitError()
		err.Body = string(resp.Body)
		return err
	}
	return model.NewStatusError(resp.StatusCode, resp.Body)
}

// sanitizeCutset is the fixed set of characters Kroger's search endpoint
// rejects with a 400.
const sanitizeCutset = `&#@%'"!?();`

// SanitizeTerm strips disallowed characters from a search term and collapses
// the resulting whitespace ("Ben & Jerry's" becomes "Ben Jerrys").
func SanitizeTerm(term string) string {
	var b strings.Builder
	for _, r := range term {
		if !strings.ContainsRune(sanitizeCutset, r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
