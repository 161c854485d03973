package lockdown

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	apiRateLimitWindow = time.Minute
	apiRateLimitMax    = 10
)

// APIHandler serves the lockdown admin endpoint.
type APIHandler struct {
	ctrl *Controller

	mu          sync.Mutex
	reqCount    int
	windowStart time.Time
}

// NewAPIHandler creates an API handler for the given controller.
func NewAPIHandler(ctrl *Controller) *APIHandler {
	return &APIHandler{
		ctrl:        ctrl,
		windowStart: time.Now(),
	}
}

// Handle dispatches requests to the lockdown admin endpoint.
// GET returns the state of each activation source, POST toggles the API
// source. Both require Bearer token authentication matching the configured
// api_token.
func (h *APIHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleStatus(w, r)
	case http.MethodPost:
		h.handleToggle(w, r)
	default:
		w.Header().Set("Allow", http.MethodGet+", "+http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleToggle applies {"active": true|false} to the API activation source.
func (h *APIHandler) handleToggle(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if !h.checkRateLimit() {
		w.Header().Set("Retry-After", "60")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	// Strict body parsing: bounded size, no unknown fields, exactly one object.
	var req struct {
		Active *bool `json:"active"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if dec.More() {
		http.Error(w, "request body must contain exactly one JSON object", http.StatusBadRequest)
		return
	}
	if req.Active == nil {
		http.Error(w, `missing required field "active"`, http.StatusBadRequest)
		return
	}

	h.ctrl.SetAPI(*req.Active)

	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Active  bool   `json:"active"`
		Source  string `json:"source"`
		Message string `json:"message,omitempty"`
	}{
		Active: *req.Active,
		Source: "api",
	}
	if *req.Active {
		resp.Message = rt.message
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// handleStatus reports the current state of each activation source.
func (h *APIHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.authorize(w, r)
	if !ok {
		return
	}

	sources := h.ctrl.Sources()
	anyActive := false
	for _, v := range sources {
		if v {
			anyActive = true
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Active  bool            `json:"active"`
		Sources map[string]bool `json:"sources"`
		Message string          `json:"message,omitempty"`
	}{
		Active:  anyActive,
		Sources: sources,
	}
	if anyActive {
		resp.Message = rt.message
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// authorize checks the Bearer token against the configured api_token.
// Writes the error response and returns ok=false when the request must not
// proceed.
func (h *APIHandler) authorize(w http.ResponseWriter, r *http.Request) (*runtime, bool) {
	rt := h.ctrl.cfg.Load()
	if rt.apiToken == "" {
		http.Error(w, "lockdown API not configured (no api_token)", http.StatusServiceUnavailable)
		return nil, false
	}

	token := extractBearerToken(r)
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(rt.apiToken)) != 1 {
		w.Header().Set("WWW-Authenticate", `Bearer realm="gatelock"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	return rt, true
}

// checkRateLimit implements a simple fixed-window rate limiter.
func (h *APIHandler) checkRateLimit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if now.Sub(h.windowStart) > apiRateLimitWindow {
		h.reqCount = 0
		h.windowStart = now
	}
	h.reqCount++
	return h.reqCount <= apiRateLimitMax
}

// extractBearerToken extracts the token from an Authorization: Bearer header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
