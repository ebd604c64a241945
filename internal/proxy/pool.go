// Package proxy manages the pool of outbound egress endpoints used for
// upstream API calls.
package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// ErrNoProxyAvailable is returned when every endpoint is cooling down.
var ErrNoProxyAvailable = errors.New("no proxy available")

// Endpoint is a single egress point. The zero failure counter means the
// endpoint is healthy; once failures cross the pool threshold the endpoint
// is excluded until its cooldown expires.
type Endpoint struct {
	addr          string
	url           *url.URL
	direct        bool
	failures      int
	cooldownUntil time.Time
}

// URL returns the proxy URL to dial through, or nil for a direct connection.
func (e *Endpoint) URL() *url.URL {
	return e.url
}

// Direct reports whether this endpoint bypasses the proxy pool.
func (e *Endpoint) Direct() bool {
	return e.direct
}

// Addr returns a loggable address for the endpoint.
func (e *Endpoint) Addr() string {
	if e.direct {
		return "direct"
	}
	return e.addr
}

// Pool selects endpoints round-robin, skipping those in cooldown.
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	next      int

	failureThreshold int
	baseCooldown     time.Duration
	maxCooldown      time.Duration

	now func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithFailureThreshold sets how many consecutive failures exclude an endpoint.
func WithFailureThreshold(n int) Option {
	return func(p *Pool) { p.failureThreshold = n }
}

// WithCooldown sets the base and maximum cooldown window.
func WithCooldown(base, max time.Duration) Option {
	return func(p *Pool) { p.baseCooldown = base; p.maxCooldown = max }
}

// WithClock overrides the pool's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New builds a pool from proxy addresses in host:port form. Credentials,
// when given, apply to every endpoint.
func New(addrs []string, username, password string, opts ...Option) (*Pool, error) {
	p := &Pool{
		failureThreshold: 3,
		baseCooldown:     30 * time.Second,
		maxCooldown:      15 * time.Minute,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, addr := range addrs {
		raw := "http://" + addr
		if username != "" {
			raw = fmt.Sprintf("http://%s:%s@%s", url.QueryEscape(username), url.QueryEscape(password), addr)
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", addr, err)
		}
		p.endpoints = append(p.endpoints, &Endpoint{addr: addr, url: u})
	}
	if len(p.endpoints) == 0 {
		return nil, errors.New("proxy pool is empty")
	}
	return p, nil
}

// NewDirect returns a disabled pool whose Acquire always yields a direct
// connection endpoint.
func NewDirect() *Pool {
	return &Pool{
		endpoints: []*Endpoint{{direct: true}},
		now:       time.Now,
	}
}

// Acquire selects the next eligible endpoint round-robin. It fails with
// ErrNoProxyAvailable when every endpoint is excluded.
func (p *Pool) Acquire() (*Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for i := 0; i < len(p.endpoints); i++ {
		e := p.endpoints[p.next%len(p.endpoints)]
		p.next++
		if e.direct || p.eligible(e, now) {
			return e, nil
		}
	}
	return nil, ErrNoProxyAvailable
}

func (p *Pool) eligible(e *Endpoint, now time.Time) bool {
	if e.failures < p.failureThreshold {
		return true
	}
	return !now.Before(e.cooldownUntil)
}

// ReportOutcome records the result of a call through the endpoint. A
// success clears the failure counter; a failure increments it and, once
// the threshold is crossed, starts an exponentially growing cooldown.
func (p *Pool) ReportOutcome(e *Endpoint, success bool) {
	if e == nil || e.direct {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if success {
		e.failures = 0
		e.cooldownUntil = time.Time{}
		return
	}

	e.failures++
	if e.failures >= p.failureThreshold {
		over := e.failures - p.failureThreshold
		cooldown := p.baseCooldown << over
		if cooldown > p.maxCooldown || cooldown <= 0 {
			cooldown = p.maxCooldown
		}
		e.cooldownUntil = p.now().Add(cooldown)
	}
}

// Size returns the number of configured endpoints.
func (p *Pool) Size() int {
	return len(p.endpoints)
}
