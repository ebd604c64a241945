// Package shein is the API client for the upstream retail site. It wraps
// product discovery, variant lookup, delivery checks, and the OTP login
// endpoints behind bounded retries with proxy rotation.
package shein

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/SinzaXh/Shein-suto-verse/internal/proxy"
)

const (
	defaultBaseURL = "https://www.sheinindia.in"
	userAgent      = "Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Mobile Safari/537.36"
	tenantID       = "SHEIN"
	maxBodySize    = 5 * 1024 * 1024
)

// Doer performs one HTTP exchange through the given egress endpoint.
type Doer interface {
	Do(req *http.Request, via *proxy.Endpoint) (*http.Response, error)
}

// HTTPDoer is the production Doer. It keeps one transport per proxy
// endpoint so connections are reused across attempts.
type HTTPDoer struct {
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewHTTPDoer creates a Doer with the given per-call timeout.
func NewHTTPDoer(timeout time.Duration) *HTTPDoer {
	return &HTTPDoer{
		timeout: timeout,
		clients: make(map[string]*http.Client),
	}
}

// Do sends the request through the endpoint's proxy, or directly.
func (d *HTTPDoer) Do(req *http.Request, via *proxy.Endpoint) (*http.Response, error) {
	d.mu.Lock()
	client, ok := d.clients[via.Addr()]
	if !ok {
		transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
		if u := via.URL(); u != nil {
			transport.Proxy = http.ProxyURL(u)
		}
		client = &http.Client{Transport: transport, Timeout: d.timeout}
		d.clients[via.Addr()] = client
	}
	d.mu.Unlock()
	return client.Do(req)
}

// Options tunes the client. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	MaxProducts       int
	Attempts          uint
	RetryDelay        time.Duration
	RetryMaxJitter    time.Duration
	WaitMin           time.Duration // politeness delay between product-level calls
	WaitMax           time.Duration
	RequestsPerSecond float64
}

// Client calls the upstream retail API.
type Client struct {
	doer        Doer
	pool        *proxy.Pool
	limiter     *rate.Limiter
	log         *slog.Logger
	baseURL     string
	baseCookies string
	maxProducts int
	attempts    uint
	retryDelay  time.Duration
	retryJitter time.Duration
	waitMin     time.Duration
	waitMax     time.Duration
}

// New creates a Client. The pool decides which egress endpoint each
// attempt goes through.
func New(doer Doer, pool *proxy.Pool, opts Options, log *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.MaxProducts <= 0 {
		opts.MaxProducts = 90
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.RetryMaxJitter <= 0 {
		opts.RetryMaxJitter = 2 * time.Second
	}
	if opts.WaitMin <= 0 {
		opts.WaitMin = 1500 * time.Millisecond
	}
	if opts.WaitMax < opts.WaitMin {
		opts.WaitMax = opts.WaitMin * 2
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}

	deviceID := uuid.NewString()
	return &Client{
		doer:    doer,
		pool:    pool,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		log:     log,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		baseCookies: fmt.Sprintf(
			"V=1; deviceId=%s; LS=LOGGED_IN; customerType=Existing; bookingType=SHEIN; storeTypes=shein",
			deviceID),
		maxProducts: opts.MaxProducts,
		attempts:    opts.Attempts,
		retryDelay:  opts.RetryDelay,
		retryJitter: opts.RetryMaxJitter,
		waitMin:     opts.WaitMin,
		waitMax:     opts.WaitMax,
	}
}

// Pause sleeps a randomized politeness delay between product-level
// operations, returning early if ctx is cancelled.
func (c *Client) Pause(ctx context.Context) {
	span := int64(c.waitMax - c.waitMin)
	d := c.waitMin
	if span > 0 {
		d += time.Duration(rand.Int64N(span + 1))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// do performs one JSON exchange with bounded retries, rotating to a fresh
// proxy endpoint on every attempt. Authentication rejections stop the
// retry loop immediately.
func (c *Client) do(ctx context.Context, method, rawURL, referer, cookies string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}
	if cookies == "" {
		cookies = c.baseCookies
	}

	return retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			endpoint, err := c.pool.Acquire()
			if err != nil {
				return fmt.Errorf("acquire proxy: %w", err)
			}

			req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Accept", "application/json")
			req.Header.Set("User-Agent", userAgent)
			req.Header.Set("X-Tenant-Id", tenantID)
			req.Header.Set("Cookie", cookies)
			if referer != "" {
				req.Header.Set("Referer", referer)
			}
			if method != http.MethodGet {
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Origin", c.baseURL)
			}

			resp, err := c.doer.Do(req, endpoint)
			if err != nil {
				c.pool.ReportOutcome(endpoint, false)
				return fmt.Errorf("http %s via %s: %w", method, endpoint.Addr(), err)
			}
			defer func() { _ = resp.Body.Close() }()

			data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
			if err != nil {
				c.pool.ReportOutcome(endpoint, false)
				return fmt.Errorf("read body: %w", err)
			}

			// A block page means this egress point is burned, not that
			// the request itself was bad. Rotate and retry.
			if resp.StatusCode == http.StatusForbidden || bytes.Contains(data, []byte("Access Denied")) {
				c.pool.ReportOutcome(endpoint, false)
				return fmt.Errorf("egress blocked via %s (status %d)", endpoint.Addr(), resp.StatusCode)
			}
			c.pool.ReportOutcome(endpoint, true)

			if resp.StatusCode == http.StatusUnauthorized {
				return retry.Unrecoverable(&AuthRejectedError{URL: rawURL, StatusCode: resp.StatusCode})
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}

			if out != nil {
				if err := json.Unmarshal(data, out); err != nil {
					return retry.Unrecoverable(fmt.Errorf("parse response: %w", err))
				}
			}
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.MaxJitter(c.retryJitter),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("retrying upstream call", "url", rawURL, "attempt", n+1, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsAuthRejected(err)
		}),
	)
}

func (c *Client) getJSON(ctx context.Context, rawURL, referer, cookies string, out any) error {
	return c.do(ctx, http.MethodGet, rawURL, referer, cookies, nil, out)
}

func (c *Client) postJSON(ctx context.Context, rawURL, referer, cookies string, payload, out any) error {
	return c.do(ctx, http.MethodPost, rawURL, referer, cookies, payload, out)
}
