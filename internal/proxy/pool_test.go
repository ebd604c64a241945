package proxy

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPool(t *testing.T, addrs []string, clock *fakeClock) *Pool {
	t.Helper()
	p, err := New(addrs, "user", "pass",
		WithFailureThreshold(3),
		WithCooldown(30*time.Second, 15*time.Minute),
		WithClock(clock.now),
	)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return p
}

func TestNewRejectsEmptyPool(t *testing.T) {
	if _, err := New(nil, "", ""); err == nil {
		t.Fatal("expected error for empty pool")
	}
}

func TestAcquireRoundRobin(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	p := newTestPool(t, []string{"10.0.0.1:8800", "10.0.0.2:8800", "10.0.0.3:8800"}, clock)

	var got []string
	for i := 0; i < 6; i++ {
		e, err := p.Acquire()
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		got = append(got, e.Addr())
	}

	want := []string{
		"10.0.0.1:8800", "10.0.0.2:8800", "10.0.0.3:8800",
		"10.0.0.1:8800", "10.0.0.2:8800", "10.0.0.3:8800",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rotation mismatch (-want +got):\n%s", diff)
	}
}

func TestEndpointCarriesCredentials(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	p := newTestPool(t, []string{"10.0.0.1:8800"}, clock)

	e, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	u := e.URL()
	if u == nil {
		t.Fatal("expected proxy URL")
	}
	if u.User == nil || u.User.Username() != "user" {
		t.Errorf("expected credentials in proxy URL, got %v", u)
	}
}

func TestFailedEndpointExcludedUntilCooldownExpires(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	p := newTestPool(t, []string{"10.0.0.1:8800", "10.0.0.2:8800"}, clock)

	first, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	for i := 0; i < 3; i++ {
		p.ReportOutcome(first, false)
	}

	// The failed endpoint must be skipped while cooling down.
	for i := 0; i < 4; i++ {
		e, err := p.Acquire()
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if e.Addr() == first.Addr() {
			t.Fatalf("cooled-down endpoint %s was selected", e.Addr())
		}
	}

	// Eligible again exactly at expiry.
	clock.advance(30 * time.Second)
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		e, err := p.Acquire()
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		seen[e.Addr()] = true
	}
	if !seen[first.Addr()] {
		t.Errorf("endpoint %s not eligible after cooldown expiry", first.Addr())
	}
}

func TestCooldownGrowsExponentiallyAndCaps(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	p := newTestPool(t, []string{"10.0.0.1:8800"}, clock)

	e, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// 3rd failure: 30s, 4th: 60s, 5th: 120s.
	for i, want := range []time.Duration{0, 0, 30 * time.Second, 60 * time.Second, 120 * time.Second} {
		p.ReportOutcome(e, false)
		if want == 0 {
			continue
		}
		got := e.cooldownUntil.Sub(clock.t)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("cooldown after failure %d mismatch (-want +got):\n%s", i+1, diff)
		}
	}

	// Far past the cap the window stays at the maximum.
	for i := 0; i < 30; i++ {
		p.ReportOutcome(e, false)
	}
	if got := e.cooldownUntil.Sub(clock.t); got > 15*time.Minute {
		t.Errorf("cooldown %v exceeds cap", got)
	}
}

func TestNoProxyAvailable(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	p := newTestPool(t, []string{"10.0.0.1:8800"}, clock)

	e, _ := p.Acquire()
	for i := 0; i < 3; i++ {
		p.ReportOutcome(e, false)
	}

	if _, err := p.Acquire(); !errors.Is(err, ErrNoProxyAvailable) {
		t.Fatalf("expected ErrNoProxyAvailable, got %v", err)
	}
}

func TestSuccessClearsFailures(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	p := newTestPool(t, []string{"10.0.0.1:8800"}, clock)

	e, _ := p.Acquire()
	p.ReportOutcome(e, false)
	p.ReportOutcome(e, false)
	p.ReportOutcome(e, true)
	p.ReportOutcome(e, false)

	// Two failures then success then one failure: still below threshold.
	if _, err := p.Acquire(); err != nil {
		t.Fatalf("endpoint should be eligible, got %v", err)
	}
}

func TestDirectPool(t *testing.T) {
	p := NewDirect()

	e, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !e.Direct() {
		t.Error("expected direct endpoint")
	}
	if e.URL() != nil {
		t.Error("direct endpoint must have no proxy URL")
	}
	if diff := cmp.Diff("direct", e.Addr()); diff != "" {
		t.Errorf("addr mismatch (-want +got):\n%s", diff)
	}

	// Outcomes on the direct endpoint are ignored.
	for i := 0; i < 10; i++ {
		p.ReportOutcome(e, false)
	}
	if _, err := p.Acquire(); err != nil {
		t.Fatalf("direct endpoint must always be available, got %v", err)
	}
}