package engine

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// csrfTokenTTL bounds how long an issued token stays valid. Active
// sessions get the same token re-issued on every safe request, which
// refreshes the expiry.
const csrfTokenTTL = 24 * time.Hour

// csrfSweepInterval is how often expired tokens are evicted.
const csrfSweepInterval = time.Hour

type csrfToken struct {
	value    string
	issuedAt time.Time
}

// CsrfGuard issues per-session tokens and verifies echoes in constant
// time. Sessions are keyed by whatever identity the host supplies; the
// gate server uses the client IP. Issued tokens are surfaced to clients
// through the configured response header on safe-method requests.
type CsrfGuard struct {
	mu        sync.Mutex
	tokens    map[string]csrfToken
	length    int // random bytes per token; hex encoding doubles the wire length
	stopSweep chan struct{}
}

// NewCsrfGuard creates a guard minting tokens of length random bytes
// and starts its expiry sweep goroutine.
func NewCsrfGuard(length int) *CsrfGuard {
	g := &CsrfGuard{
		tokens:    make(map[string]csrfToken),
		length:    length,
		stopSweep: make(chan struct{}),
	}

	go g.sweepLoop()

	return g
}

// Token returns the session's current token, minting a fresh one when
// none is outstanding or the old one expired.
func (g *CsrfGuard) Token(session string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if t, ok := g.tokens[session]; ok && now.Sub(t.issuedAt) < csrfTokenTTL {
		t.issuedAt = now
		g.tokens[session] = t
		return t.value
	}

	buf := make([]byte, g.length)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("BUG: crypto/rand failed: %v", err))
	}
	value := hex.EncodeToString(buf)
	g.tokens[session] = csrfToken{value: value, issuedAt: now}
	return value
}

// Verify reports whether presented matches the session's outstanding
// token. The comparison is constant-time so a mismatch reveals nothing
// about how much of the token was right.
func (g *CsrfGuard) Verify(session, presented string) bool {
	g.mu.Lock()
	t, ok := g.tokens[session]
	g.mu.Unlock()

	if !ok || time.Since(t.issuedAt) >= csrfTokenTTL {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t.value), []byte(presented)) == 1
}

// Len reports the number of outstanding tokens.
func (g *CsrfGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tokens)
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (g *CsrfGuard) Close() {
	select {
	case <-g.stopSweep:
		return
	default:
		close(g.stopSweep)
	}
}

func (g *CsrfGuard) sweepLoop() {
	ticker := time.NewTicker(csrfSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweep(time.Now())
		case <-g.stopSweep:
			return
		}
	}
}

func (g *CsrfGuard) sweep(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for session, t := range g.tokens {
		if now.Sub(t.issuedAt) >= csrfTokenTTL {
			delete(g.tokens, session)
		}
	}
}

// checkCsrf issues tokens on safe methods and demands a valid echo on
// state-changing ones. The token rides the configured header on the way
// out; clients echo it back via the same header or the form parameter.
func (e *Engine) checkCsrf(view *requestView) verdict {
	if e.csrf == nil {
		return verdict{}
	}
	cs := e.cfg.Csrf

	if !isStateChanging(view.method) {
		return verdict{headers: map[string]string{cs.HeaderName: e.csrf.Token(view.clientIP)}}
	}

	presented := view.headers.Get(cs.HeaderName)
	if presented == "" {
		presented = view.params[cs.ParamName]
	}
	if presented == "" {
		return blockVerdict("csrf", http.StatusForbidden, "csrf token missing")
	}
	if !e.csrf.Verify(view.clientIP, presented) {
		return blockVerdict("csrf", http.StatusForbidden, "csrf token invalid")
	}
	return verdict{}
}
