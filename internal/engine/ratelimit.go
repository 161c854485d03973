package engine

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// rateShardCount sets the locking granularity of the rate-limit store.
// Power of two so the shard index is a cheap mask.
const rateShardCount = 64

// AdmitResult reports one admit call's outcome plus the counter fields
// the rate-limit stage surfaces as response headers.
type AdmitResult struct {
	Allowed    bool
	Limit      int // steady per-window budget
	Remaining  int // steady budget left, not counting burst
	RetryAfter int // whole seconds until the window resets; 0 when allowed
}

// rateWindow is the fixed-window counter state for one key.
type rateWindow struct {
	windowStart time.Time
	count       int
	burstUsed   int
}

type rateShard struct {
	mu      sync.Mutex
	entries map[string]*rateWindow
}

// RateLimiter enforces fixed-window budgets with a one-time-per-window
// burst allowance. Keys are hashed across independently locked shards,
// so admits for different keys rarely contend while admits for the same
// key serialize on one shard lock, keeping the count exact under
// concurrency. Stale windows are reset lazily on access; a background
// sweep drops keys that stop sending.
type RateLimiter struct {
	limit  int
	window time.Duration
	burst  int

	shards      [rateShardCount]rateShard
	stopCleanup chan struct{}
}

// NewRateLimiter creates a rate limiter and starts its sweep goroutine.
func NewRateLimiter(limit int, window time.Duration, burst int) *RateLimiter {
	rl := &RateLimiter{
		limit:       limit,
		window:      window,
		burst:       burst,
		stopCleanup: make(chan struct{}),
	}
	for i := range rl.shards {
		rl.shards[i].entries = make(map[string]*rateWindow)
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) shard(key string) *rateShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &rl.shards[h.Sum32()&(rateShardCount-1)]
}

// Admit counts one request against key and reports whether it fits the
// budget. Check and record happen under a single shard lock so
// concurrent admits for the same key cannot lose updates.
func (rl *RateLimiter) Admit(key string) AdmitResult {
	return rl.admitAt(key, time.Now())
}

// admitAt is Admit with an injectable clock for tests.
func (rl *RateLimiter) admitAt(key string, now time.Time) AdmitResult {
	sh := rl.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w := sh.entries[key]
	if w == nil || !now.Before(w.windowStart.Add(rl.window)) {
		w = &rateWindow{windowStart: now}
		sh.entries[key] = w
	}
	w.count++

	res := AdmitResult{Limit: rl.limit}
	switch {
	case w.count <= rl.limit:
		res.Allowed = true
	case w.burstUsed < rl.burst:
		// Burst is a one-time overflow allowance within the window,
		// not an extra steady rate.
		w.burstUsed++
		res.Allowed = true
	}

	res.Remaining = rl.limit - w.count
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = retryAfterSeconds(w.windowStart.Add(rl.window).Sub(now))
	}
	return res
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Len reports the number of tracked keys across all shards.
func (rl *RateLimiter) Len() int {
	n := 0
	for i := range rl.shards {
		sh := &rl.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (rl *RateLimiter) Close() {
	select {
	case <-rl.stopCleanup:
		return
	default:
		close(rl.stopCleanup)
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops keys whose window has fully elapsed. Lazy reset in
// admitAt keeps counting correct without this; the sweep only bounds
// memory for keys that stop sending.
func (rl *RateLimiter) cleanup(now time.Time) {
	for i := range rl.shards {
		sh := &rl.shards[i]
		sh.mu.Lock()
		for key, w := range sh.entries {
			if !now.Before(w.windowStart.Add(rl.window)) {
				delete(sh.entries, key)
			}
		}
		sh.mu.Unlock()
	}
}

// checkRateLimit admits the request against each configured budget:
// per-IP, and per-user when an identity is known. Every enabled budget
// is counted; the tightest outcome is reported, so either budget can
// deny. Counter headers ride on passing verdicts too.
func (e *Engine) checkRateLimit(view *requestView, identity string) verdict {
	if e.limiter == nil {
		return verdict{}
	}
	rl := e.cfg.RateLimit

	keys := make([]string, 0, 2)
	if *rl.PerIP {
		keys = append(keys, "ip:"+view.clientIP)
	}
	if rl.PerUser && identity != "" {
		keys = append(keys, "user:"+view.clientIP+"|"+identity)
	}
	if len(keys) == 0 {
		return verdict{}
	}

	combined := e.limiter.Admit(keys[0])
	for _, key := range keys[1:] {
		if r := e.limiter.Admit(key); tighter(r, combined) {
			combined = r
		}
	}

	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(combined.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(combined.Remaining),
	}
	if combined.Allowed {
		return verdict{headers: h}
	}

	h["Retry-After"] = strconv.Itoa(combined.RetryAfter)
	v := blockVerdict("rate_limit", http.StatusTooManyRequests,
		fmt.Sprintf("rate limit exceeded for %s", view.clientIP))
	v.headers = h
	return v
}

// tighter reports whether a should replace b as the reported outcome.
func tighter(a, b AdmitResult) bool {
	if a.Allowed != b.Allowed {
		return !a.Allowed
	}
	return a.Remaining < b.Remaining
}
