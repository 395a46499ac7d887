package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"cryptogate/internal/market"
	"cryptogate/internal/ratelimit"
	"cryptogate/internal/retry"
	"cryptogate/logger"
)

// Signer attaches venue-specific authentication to an outbound request. It
// may mutate query (Binance appends a timestamp there) and returns the
// headers to set. A non-empty rawQuery is sent verbatim so the signed bytes
// and the transmitted query are identical; empty means encode query as
// usual. Unsigned endpoints never reach the signer.
type Signer interface {
	Sign(method, path string, query url.Values, body []byte) (header http.Header, rawQuery string, err error)
}

// RESTOptions tunes one venue's REST transport.
type RESTOptions struct {
	BaseURL           string
	Timeout           time.Duration
	Budget            int
	Window            time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
}

func (o *RESTOptions) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Budget <= 0 {
		o.Budget = 600
	}
	if o.Window <= 0 {
		o.Window = time.Minute
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 5 * time.Second
	}
}

// APIError is a non-2xx REST response from a venue.
type APIError struct {
	Venue  string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: status %d: %s", e.Venue, e.Status, e.Body)
}

// RESTClient issues rate-limited, retried, optionally signed REST calls
// against one venue.
type RESTClient struct {
	venue    string
	base     string
	http     *http.Client
	limiter  *ratelimit.Limiter
	smoother *rate.Limiter
	retrier  *retry.Executor
	signer   Signer
	opts     RESTOptions
	log      *logger.Entry
	requests int64
}

// NewRESTClient builds the transport for one venue. signer may be nil for
// venues used in market-data-only mode.
func NewRESTClient(venueName string, opts RESTOptions, emitter *market.Emitter, signer Signer) *RESTClient {
	opts.applyDefaults()
	transport := &http.Transport{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &RESTClient{
		venue:   venueName,
		base:    strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Transport: transport, Timeout: opts.Timeout},
		limiter: ratelimit.New(venueName, opts.Budget, opts.Window, emitter),
		retrier: retry.New(venueName, emitter),
		signer:  signer,
		opts:    opts,
		log:     logger.GetLogger().WithComponent(venueName + "_rest"),
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.smoother = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Requests returns the number of requests issued so far.
func (c *RESTClient) Requests() int64 { return atomic.LoadInt64(&c.requests) }

// Limiter exposes the fixed-window budget for statistics snapshots.
func (c *RESTClient) Limiter() *ratelimit.Limiter { return c.limiter }

// Do issues the request with rate limiting and bounded retries. out, when
// non-nil, receives the decoded JSON response body.
func (c *RESTClient) Do(ctx context.Context, method, path string, query url.Values, body interface{}, signed bool, out interface{}) error {
	return c.retrier.Execute(ctx, func(ctx context.Context) error {
		return c.once(ctx, method, path, query, body, signed, out)
	}, c.opts.MaxRetries, c.opts.RetryBaseDelay, c.opts.RetryMaxDelay)
}

// Once issues the request exactly once, bypassing the retry executor. Used
// by health probes.
func (c *RESTClient) Once(ctx context.Context, method, path string, query url.Values, body interface{}, signed bool, out interface{}) error {
	return c.once(ctx, method, path, query, body, signed, out)
}

func (c *RESTClient) once(ctx context.Context, method, path string, query url.Values, body interface{}, signed bool, out interface{}) error {
	if c.smoother != nil {
		if err := c.smoother.Wait(ctx); err != nil {
			return err
		}
	}
	if err := c.limiter.Acquire(ctx); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("encode request body: %w", err))
		}
	}

	// The signer may extend the query, so resolve it before building the URL.
	if query == nil {
		query = url.Values{}
	}
	header := http.Header{}
	rawQuery := ""
	if signed {
		if c.signer == nil {
			return retry.Permanent(fmt.Errorf("%s: %w", c.venue, ErrMissingCredentials))
		}
		signedHeader, signedQuery, err := c.signer.Sign(method, path, query, payload)
		if err != nil {
			return retry.Permanent(fmt.Errorf("sign request: %w", err))
		}
		header = signedHeader
		rawQuery = signedQuery
	}
	if rawQuery == "" {
		rawQuery = query.Encode()
	}

	u := c.base + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	atomic.AddInt64(&c.requests, 1)
	logger.IncrementRESTRequest(c.venue)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.venue, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s read response: %w", c.venue, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Venue: c.venue, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return retry.Permanent(fmt.Errorf("%w: %v", ErrAuthentication, apiErr))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
			c.log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("venue reported rate limit pressure")
			return apiErr
		case resp.StatusCode >= 500:
			return apiErr
		default:
			return retry.Permanent(apiErr)
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s decode response: %w", c.venue, err)
		}
	}
	return nil
}
