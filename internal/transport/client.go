// Package transport is the single HTTP client every provider adapter talks
// through. It injects auth and locale headers, retries retriable failures with
// linear backoff and normalizes every outcome into the apperr taxonomy.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aq2208/gcheckout/internal/apperr"
	"github.com/aq2208/gcheckout/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second

	maxBodyBytes   = 1 << 20
	maxErrBodySize = 2048
)

type Config struct {
	Name            string
	BaseURL         string
	Locale          string
	Timeout         time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	RateLimit       float64
	Burst           int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// RetryBudget is the worst-case wall time of one Do call.
func (c Config) RetryBudget() time.Duration {
	c = c.withDefaults()
	n := time.Duration(c.MaxAttempts)
	return n*(n-1)/2*c.RetryDelay + n*c.Timeout
}

// TokenSource supplies the bearer token. Invalidate is called after a 401 so
// the next attempt fetches a fresh one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// StaticToken is a TokenSource for API-key style providers.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }
func (StaticToken) Invalidate()                             {}

// AttemptObserver receives one call per attempt with its outcome kind ("ok" or an apperr kind).
type AttemptObserver interface {
	ObserveAttempt(provider, outcome string)
}

type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Headers map[string]string
	// IdempotencyKey is sent as Idempotency-Key. Mutating requests are only
	// retried when one is present.
	IdempotencyKey string
	// MovesMoney marks requests that create or capture a charge; they are
	// refused without an idempotency key.
	MovesMoney bool
	// NoRetry sends the request once even if it is keyed, for single-use
	// tokens the provider will not accept twice.
	NoRetry bool
	Locale  string
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSON decodes the body. A malformed body is a provider protocol error.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return apperr.Protocol("malformed provider response", err)
	}
	return nil
}

type Client struct {
	cfg      Config
	http     *http.Client
	tokens   TokenSource
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[*Response]
	observer AttemptObserver
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithTokenSource(ts TokenSource) Option { return func(c *Client) { c.tokens = ts } }
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }
func WithObserver(o AttemptObserver) Option { return func(c *Client) { c.observer = o } }
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		sleep: sleepCtx,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	if cfg.BreakerFailures > 0 {
		failures := cfg.BreakerFailures
		c.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// Only upstream trouble trips the breaker, not the caller's 4xx.
			IsSuccessful: func(err error) bool {
				return err == nil || !apperr.Retriable(err)
			},
		})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Config() Config { return c.cfg }

// Do sends req and returns the response for 2xx/3xx. Everything else comes
// back as an *apperr.Error of kind transport_network, transport_http or
// transport_unknown.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.MovesMoney && req.IdempotencyKey == "" {
		return nil, apperr.Validation("idempotencyKey", "money movement requires an idempotency key")
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, apperr.Unknown(err)
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	req.Method = method
	safe := !req.NoRetry && (method == http.MethodGet || method == http.MethodHead || req.IdempotencyKey != "")

	log := logging.FromCtx(ctx)
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		resp, err := c.attempt(ctx, req, body)
		if err == nil {
			c.observe("ok")
			return resp, nil
		}
		lastErr = err
		c.observe(string(apperr.KindOf(err)))

		if !safe || !apperr.Retriable(err) || attempt == c.cfg.MaxAttempts {
			break
		}
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Status == http.StatusUnauthorized && c.tokens != nil {
			c.tokens.Invalidate()
		}
		delay := time.Duration(attempt) * c.cfg.RetryDelay
		log.Warn("transport retry",
			"provider", c.cfg.Name,
			"method", method,
			"path", req.Path,
			"attempt", attempt,
			"kind", apperr.KindOf(err),
			"delay", delay.String(),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, apperr.Network(err)
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, req Request, body []byte) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.Network(err)
		}
	}
	if c.breaker == nil {
		return c.send(ctx, req, body)
	}
	resp, err := c.breaker.Execute(func() (*Response, error) { return c.send(ctx, req, body) })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &apperr.Error{Kind: apperr.KindNetwork, Message: "circuit open for " + c.cfg.Name, Err: err}
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, req Request, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.url(req.Path, req.Query), rd)
	if err != nil {
		return nil, apperr.Unknown(err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	locale := req.Locale
	if locale == "" {
		locale = c.cfg.Locale
	}
	if locale != "" {
		httpReq.Header.Set("Accept-Language", locale)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			if apperr.KindOf(err) != "" {
				return nil, err
			}
			return nil, apperr.Unknown(fmt.Errorf("token: %w", err))
		}
		if tok != "" {
			httpReq.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperr.Network(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.Network(err)
	}
	if resp.StatusCode >= 400 {
		if len(data) > maxErrBodySize {
			data = data[:maxErrBodySize]
		}
		return nil, apperr.HTTP(resp.StatusCode, string(data))
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) url(path string, q url.Values) string {
	u := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		u = strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) observe(outcome string) {
	if c.observer != nil {
		c.observer.ObserveAttempt(c.cfg.Name, outcome)
	}
}

func encodeBody(b any) ([]byte, error) {
	switch v := b.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

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
