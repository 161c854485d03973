// Package engine implements the Gatelock request admission pipeline.
// An Engine is built once from a validated config and evaluates each
// request through a fixed stage order: rate limiting, input validation,
// CSRF, authentication, threat scoring, and response policy. The first
// stage that blocks ends evaluation; headers emitted by every stage that
// ran are carried on the final decision, later stages overriding earlier
// ones on key collision.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harborlight/gatelock/internal/config"
)

// Request is the host-supplied view of one HTTP request. Headers are a
// single-valued map (hosts pick the first value for repeated headers);
// lookup inside the engine is case-insensitive. Params carries any
// host-parsed form/query parameters; the engine additionally parses the
// query string itself, with host-supplied entries winning on collision.
type Request struct {
	Method     string
	Path       string // path plus optional query string
	Headers    map[string]string
	Body       []byte
	ClientAddr string // transport-level remote address, "ip" or "ip:port"
	TLS        bool   // transport was TLS-terminated at the host
	Params     map[string]string
}

// Decision is the outcome of evaluating one request. StatusCode is
// advisory for allowed requests (200); for blocked requests it is the
// HTTP status the host should return. Stage, ThreatScore, Flags, and
// Identity feed monitoring and are not part of the wire form.
type Decision struct {
	Allowed    bool
	StatusCode int
	Reason     string
	Headers    map[string]string

	Stage       string   // label of the blocking check, "" when allowed
	ThreatScore int      // accumulated suspicion score, 0-n
	Flags       []string // threat heuristics that fired without blocking
	Identity    string   // authenticated or best-effort extracted identity
}

// MarshalJSON emits the stable wire form consumed by host adapters:
// {allowed, status_code, error_message, headers}. The error message is
// null for allowed decisions.
func (d Decision) MarshalJSON() ([]byte, error) {
	var msg *string
	if d.Reason != "" {
		msg = &d.Reason
	}
	headers := d.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return json.Marshal(struct {
		Allowed      bool              `json:"allowed"`
		StatusCode   int               `json:"status_code"`
		ErrorMessage *string           `json:"error_message"`
		Headers      map[string]string `json:"headers"`
	}{d.Allowed, d.StatusCode, msg, headers})
}

// Stats reports live engine state sizes for metrics gauges.
type Stats struct {
	RateKeys   int // tracked rate-limit windows
	CsrfTokens int // outstanding CSRF tokens
}

// Engine evaluates requests against an immutable policy snapshot. All
// stages are pure functions of the request and config; the rate limiter
// and CSRF guard hold the only mutable state, each synchronized
// internally. Safe for unlimited concurrent Evaluate calls.
type Engine struct {
	cfg     *config.Config
	matcher *Matcher
	limiter *RateLimiter
	csrf    *CsrfGuard
	auth    *AuthGuard
}

// New creates an Engine from config. Defaults are applied and the config
// is validated; construction fails rather than running with a policy
// that cannot be enforced.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		matcher: NewMatcher(cfg.Validation.SanitizeInput),
		auth:    NewAuthGuard(cfg.Auth),
	}

	if *cfg.RateLimit.Enabled {
		window := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
		e.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerWindow, window, *cfg.RateLimit.BurstSize)
	}

	if cfg.Csrf.Enabled {
		e.csrf = NewCsrfGuard(cfg.Csrf.TokenLength)
	}

	return e, nil
}

// Config returns the policy snapshot the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Close releases engine state, stopping the rate limiter and CSRF guard
// sweep goroutines. Safe to call multiple times.
func (e *Engine) Close() {
	if e.limiter != nil {
		e.limiter.Close()
	}
	if e.csrf != nil {
		e.csrf.Close()
	}
}

// Stats returns current state sizes. Used by the gate server to feed
// the rate-key and CSRF-token gauges.
func (e *Engine) Stats() Stats {
	var st Stats
	if e.limiter != nil {
		st.RateKeys = e.limiter.Len()
	}
	if e.csrf != nil {
		st.CsrfTokens = e.csrf.Len()
	}
	return st
}

// Evaluate runs one request through the pipeline and returns a Decision.
// Blocked requests are normal returns, not errors; malformed or absent
// request fields are treated as empty and never abort evaluation.
func (e *Engine) Evaluate(req Request) Decision {
	view := newRequestView(&req)
	headers := map[string]string{}

	// Best-effort identity before the auth stage runs, so per-user rate
	// keys and audit fields exist even for requests blocked early.
	identity := e.auth.ExtractIdentity(view)

	// 1. Rate limiting — floods pay for the cheapest check only.
	v := e.checkRateLimit(view, identity)
	mergeHeaders(headers, v.headers)
	if v.blocked {
		return blockedDecision(v, headers, identity, 0, nil)
	}

	// 2. Input validation — size limits, then signature categories.
	v, findings := e.checkValidation(view)
	mergeHeaders(headers, v.headers)
	if v.blocked {
		return blockedDecision(v, headers, identity, 0, nil)
	}

	// 3. CSRF — state-changing methods must echo an issued token.
	v = e.checkCsrf(view)
	mergeHeaders(headers, v.headers)
	if v.blocked {
		return blockedDecision(v, headers, identity, 0, nil)
	}

	// 4. Authentication — a verified identity replaces the provisional one.
	v, verified := e.checkAuth(view)
	mergeHeaders(headers, v.headers)
	if v.blocked {
		return blockedDecision(v, headers, identity, 0, nil)
	}
	if verified != "" {
		identity = verified
	}

	// 5. Threat scoring over the validator's findings plus header shape.
	v, score, flags := e.checkThreat(view, findings)
	mergeHeaders(headers, v.headers)
	if v.blocked {
		return blockedDecision(v, headers, identity, score, flags)
	}

	// 6. Response policy — CORS, HTTPS/HSTS, content-type.
	v = e.checkPolicy(view)
	mergeHeaders(headers, v.headers)
	if v.blocked {
		return blockedDecision(v, headers, identity, score, flags)
	}

	return Decision{
		Allowed:     true,
		StatusCode:  http.StatusOK,
		Headers:     headers,
		ThreatScore: score,
		Flags:       flags,
		Identity:    identity,
	}
}

// verdict is the outcome of a single pipeline stage. A passing verdict
// may still carry headers (rate-limit counters, CSRF issuance, CORS).
type verdict struct {
	blocked bool
	stage   string
	status  int
	reason  string
	headers map[string]string
}

func blockVerdict(stage string, status int, reason string) verdict {
	return verdict{blocked: true, stage: stage, status: status, reason: reason}
}

func blockedDecision(v verdict, headers map[string]string, identity string, score int, flags []string) Decision {
	return Decision{
		Allowed:     false,
		StatusCode:  v.status,
		Reason:      v.reason,
		Stage:       v.stage,
		Headers:     headers,
		ThreatScore: score,
		Flags:       flags,
		Identity:    identity,
	}
}

func mergeHeaders(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

// requestView is the normalized form the stages operate on: canonical
// header keys, resolved client IP and scheme, query merged into params.
type requestView struct {
	method   string
	fullPath string // path plus query, as received
	headers  http.Header
	body     []byte
	clientIP string
	scheme   string
	params   map[string]string
}

func newRequestView(req *Request) *requestView {
	h := make(http.Header, len(req.Headers))
	for k, v := range req.Headers {
		h.Set(k, v)
	}

	params := map[string]string{}
	if _, query, ok := strings.Cut(req.Path, "?"); ok {
		if vals, err := url.ParseQuery(query); err == nil {
			for k, vs := range vals {
				if len(vs) > 0 {
					params[k] = vs[0]
				}
			}
		}
	}
	for k, v := range req.Params {
		params[k] = v
	}

	return &requestView{
		method:   strings.ToUpper(strings.TrimSpace(req.Method)),
		fullPath: req.Path,
		headers:  h,
		body:     req.Body,
		clientIP: resolveClientIP(h, req.ClientAddr),
		scheme:   resolveScheme(h, req.TLS),
		params:   params,
	}
}

// resolveClientIP picks the client address for rate keys and audit:
// first X-Forwarded-For element, then X-Real-IP, then the transport
// address with any port stripped. Hosts that do not trust proxy headers
// strip them before calling Evaluate.
func resolveClientIP(h http.Header, transport string) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if rip := strings.TrimSpace(h.Get("X-Real-IP")); rip != "" {
		return rip
	}
	if host, _, err := net.SplitHostPort(transport); err == nil {
		return host
	}
	return transport
}

// resolveScheme infers the request scheme from a forwarded-proto header
// when present, else from the transport TLS indicator.
func resolveScheme(h http.Header, tls bool) string {
	if proto := h.Get("X-Forwarded-Proto"); proto != "" {
		first, _, _ := strings.Cut(proto, ",")
		if p := strings.ToLower(strings.TrimSpace(first)); p != "" {
			return p
		}
	}
	if tls {
		return "https"
	}
	return "http"
}

// isStateChanging reports whether the method mutates server state for
// CSRF purposes. Unknown and empty methods are treated as safe.
func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
