package flood

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeClock is advanced by hand so window tests never sleep.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestFloodgate_AllowUpToLimit(t *testing.T) {
	fg := New(3)
	defer fg.Stop()

	for i := 0; i < 3; i++ {
		if ok, _ := fg.Allow("127.0.0.1"); !ok {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	if ok, _ := fg.Allow("127.0.0.1"); ok {
		t.Error("4th request should be blocked")
	}
}

func TestFloodgate_SlidingWindowAndRetryAfter(t *testing.T) {
	clock := newFakeClock()
	fg := New(2, WithClock(clock.Now))
	defer fg.Stop()

	fg.Allow("10.0.0.1")
	clock.Advance(20 * time.Second)
	fg.Allow("10.0.0.1")

	ok, wait := fg.Allow("10.0.0.1")
	if ok {
		t.Fatal("Third request should be blocked")
	}
	if wait != 40*time.Second {
		t.Errorf("retry after = %v, want 40s", wait)
	}

	clock.Advance(40 * time.Second)
	if ok, _ := fg.Allow("10.0.0.1"); !ok {
		t.Error("Request should be allowed once the oldest one left the window")
	}

	ok, wait = fg.Allow("10.0.0.1")
	if ok {
		t.Error("Window should be full again")
	}
	if wait != 20*time.Second {
		t.Errorf("retry after = %v, want 20s", wait)
	}
}

func TestFloodgate_CustomWindow(t *testing.T) {
	clock := newFakeClock()
	fg := New(1, WithClock(clock.Now), WithWindow(5*time.Second))
	defer fg.Stop()

	fg.Allow("client")
	if ok, wait := fg.Allow("client"); ok || wait != 5*time.Second {
		t.Errorf("Allow() = %v, %v; want false, 5s", ok, wait)
	}

	clock.Advance(5 * time.Second)
	if ok, _ := fg.Allow("client"); !ok {
		t.Error("Request should be allowed after the window passed")
	}
}

func TestFloodgate_PerClient(t *testing.T) {
	fg := New(1)
	defer fg.Stop()

	if ok, _ := fg.Allow("10.0.0.1"); !ok {
		t.Error("First client should be allowed")
	}
	if ok, _ := fg.Allow("10.0.0.2"); !ok {
		t.Error("Second client has its own limit")
	}
	if ok, _ := fg.Allow("10.0.0.1"); ok {
		t.Error("First client should now be blocked")
	}
}

func TestFloodgate_RejectedRequestsAreNotCounted(t *testing.T) {
	clock := newFakeClock()
	fg := New(1, WithClock(clock.Now))
	defer fg.Stop()

	fg.Allow("client")
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		fg.Allow("client")
	}

	// Only the first request was admitted, so the window frees 60s after it.
	clock.Advance(55 * time.Second)
	if ok, _ := fg.Allow("client"); !ok {
		t.Error("Rejected requests must not extend the window")
	}
}

func TestFloodgate_AllowRequestUsesClientIP(t *testing.T) {
	fg := New(1)
	defer fg.Stop()

	first := httptest.NewRequest(http.MethodPost, "/api/resolve", nil)
	first.RemoteAddr = "192.0.2.7:50001"
	second := httptest.NewRequest(http.MethodPost, "/api/resolve", nil)
	second.RemoteAddr = "192.0.2.7:50002"

	if ok, _ := fg.AllowRequest(first); !ok {
		t.Fatal("First request should be allowed")
	}
	if ok, _ := fg.AllowRequest(second); ok {
		t.Error("Same host on another port should share the bucket")
	}
	if got := fg.Key(second); got != "192.0.2.7" {
		t.Errorf("Key() = %q, want 192.0.2.7", got)
	}
}

func TestFloodgate_WithKeyFunc(t *testing.T) {
	fg := New(1, WithKeyFunc(func(r *http.Request) string {
		return r.Header.Get("X-Session")
	}))
	defer fg.Stop()

	req := func(session string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/convert", nil)
		r.RemoteAddr = "192.0.2.7:50001"
		r.Header.Set("X-Session", session)
		return r
	}

	if ok, _ := fg.AllowRequest(req("a")); !ok {
		t.Error("Session a should be allowed")
	}
	if ok, _ := fg.AllowRequest(req("b")); !ok {
		t.Error("Session b is counted separately despite the shared address")
	}
	if ok, _ := fg.AllowRequest(req("a")); ok {
		t.Error("Session a should now be blocked")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"203.0.113.5:443", "203.0.113.5"},
		{"[2001:db8::1]:8080", "2001:db8::1"},
		{"unix-socket", "unix-socket"},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remote
		if got := ClientIP(r); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestFloodgate_Sweep(t *testing.T) {
	clock := newFakeClock()
	fg := New(5, WithClock(clock.Now))
	defer fg.Stop()

	fg.Allow("idle")
	clock.Advance(50 * time.Second)
	fg.Allow("active")
	clock.Advance(15 * time.Second)

	fg.sweep()

	if got := fg.Clients(); got != 1 {
		t.Errorf("Clients() after sweep = %d, want 1", got)
	}
	fg.mu.Lock()
	_, kept := fg.buckets["active"]
	fg.mu.Unlock()
	if !kept {
		t.Error("Bucket with a request inside the window must survive the sweep")
	}
}

func TestFloodgate_EdgeCases(t *testing.T) {
	t.Run("Zero limit", func(t *testing.T) {
		fg := New(0)
		defer fg.Stop()

		if ok, wait := fg.Allow("client"); ok || wait != time.Minute {
			t.Errorf("Allow() = %v, %v; want false, 1m", ok, wait)
		}
	})

	t.Run("Empty key", func(t *testing.T) {
		fg := New(1)
		defer fg.Stop()

		if ok, _ := fg.Allow(""); !ok {
			t.Error("Should allow request with empty key")
		}
		if ok, _ := fg.Allow(""); ok {
			t.Error("Second request with empty key should be blocked")
		}
	})

	t.Run("Stop twice", func(t *testing.T) {
		fg := New(1)
		fg.Stop()
		fg.Stop()
	})
}

func TestFloodgate_ConcurrentAccess(t *testing.T) {
	fg := New(50)
	defer fg.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if ok, _ := fg.Allow("shared"); ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("Expected exactly 50 allowed requests, got %d", allowed)
	}
}
