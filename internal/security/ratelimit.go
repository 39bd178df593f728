package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a caller exceeds its request budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig holds the per-client request budgets of the gateway.
// A zero value selects the default; a negative value disables the bucket.
type RateLimitConfig struct {
	WritesPerMin int `yaml:"writes_per_min"`
	ReadsPerMin  int `yaml:"reads_per_min"`
}

// Request kinds understood by Allow.
const (
	KindWrite = "write"
	KindRead  = "read"
)

func (c *RateLimitConfig) defaults() {
	if c.WritesPerMin == 0 {
		c.WritesPerMin = 120
	}
	if c.ReadsPerMin == 0 {
		c.ReadsPerMin = 600
	}
}

// RateLimiter implements sliding-window rate limiting keyed by client and
// request kind.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]int
	window  time.Duration
	clients map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	events []time.Time
}

// NewRateLimiter creates a limiter with one-minute windows.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg.defaults()
	return &RateLimiter{
		limits: map[string]int{
			KindWrite: cfg.WritesPerMin,
			KindRead:  cfg.ReadsPerMin,
		},
		window:  time.Minute,
		clients: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow records one event of kind for client. It returns ErrRateLimited when
// the client already used its budget within the window.
func (rl *RateLimiter) Allow(client, kind string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.limits[kind]
	if !ok || limit < 0 {
		return nil
	}

	key := kind + "|" + client
	b, ok := rl.clients[key]
	if !ok {
		b = &bucket{}
		rl.clients[key] = b
	}

	now := rl.now()
	b.evict(now.Add(-rl.window))
	if len(b.events) >= limit {
		return ErrRateLimited
	}
	b.events = append(b.events, now)
	return nil
}

// Prune drops clients with no events inside the window. Returns the number
// of buckets removed.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	removed := 0
	for key, b := range rl.clients {
		b.evict(cutoff)
		if len(b.events) == 0 {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// evict removes events older than cutoff. Events are chronological.
func (b *bucket) evict(cutoff time.Time) {
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
