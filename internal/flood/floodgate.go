// Package flood caps how often one client may hit the conversion API.
package flood

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	defaultWindow = time.Minute
	sweepInterval = 10 * time.Minute
)

// KeyFunc maps a request to the bucket it is counted against.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by the host part of RemoteAddr. The service is meant
// to run on a trusted host, so forwarding headers are not consulted.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Option configures a Floodgate.
type Option func(*Floodgate)

// WithKeyFunc replaces ClientIP as the bucket key.
func WithKeyFunc(key KeyFunc) Option {
	return func(fg *Floodgate) { fg.key = key }
}

// WithWindow sets the sliding window length. Buckets idle for a whole window
// are swept.
func WithWindow(window time.Duration) Option {
	return func(fg *Floodgate) { fg.window = window }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(fg *Floodgate) { fg.now = now }
}

// Floodgate admits at most limit requests per key within any window.
type Floodgate struct {
	limit  int
	window time.Duration
	key    KeyFunc
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string][]time.Time // admitted request times, oldest first

	done     chan struct{}
	stopOnce sync.Once
}

// New starts a Floodgate admitting limit requests per window (one minute
// unless WithWindow says otherwise). Call Stop to end the background sweep.
func New(limit int, opts ...Option) *Floodgate {
	fg := &Floodgate{
		limit:   limit,
		window:  defaultWindow,
		key:     ClientIP,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(fg)
	}

	go fg.sweepLoop()
	return fg
}

// Stop ends the sweep goroutine. Safe to call more than once.
func (fg *Floodgate) Stop() {
	fg.stopOnce.Do(func() { close(fg.done) })
}

// Key returns the bucket a request is counted against.
func (fg *Floodgate) Key(r *http.Request) string {
	return fg.key(r)
}

// AllowRequest is Allow keyed by the configured KeyFunc.
func (fg *Floodgate) AllowRequest(r *http.Request) (bool, time.Duration) {
	return fg.Allow(fg.key(r))
}

// Allow admits one request for key. When the bucket is full it returns false
// and how long until the oldest admitted request leaves the window. Rejected
// requests do not count against the limit.
func (fg *Floodgate) Allow(key string) (bool, time.Duration) {
	if fg.limit <= 0 {
		return false, fg.window
	}

	now := fg.now()
	cutoff := now.Add(-fg.window)

	fg.mu.Lock()
	defer fg.mu.Unlock()

	times := fg.buckets[key]
	expired := 0
	for expired < len(times) && !times[expired].After(cutoff) {
		expired++
	}
	times = times[expired:]

	if len(times) >= fg.limit {
		fg.buckets[key] = times
		return false, times[0].Sub(cutoff)
	}

	fg.buckets[key] = append(times, now)
	return true, 0
}

// Clients reports how many keys currently hold a bucket.
func (fg *Floodgate) Clients() int {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	return len(fg.buckets)
}

func (fg *Floodgate) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fg.sweep()
		case <-fg.done:
			return
		}
	}
}

// sweep drops buckets whose newest request has left the window.
func (fg *Floodgate) sweep() {
	cutoff := fg.now().Add(-fg.window)

	fg.mu.Lock()
	defer fg.mu.Unlock()

	for key, times := range fg.buckets {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(fg.buckets, key)
		}
	}
}
