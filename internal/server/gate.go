package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/harborlight/gatelock/internal/config"
	"github.com/harborlight/gatelock/internal/engine"
	"github.com/harborlight/gatelock/internal/store"
)

// handleGate evaluates one request through the admission pipeline and
// either answers with the decision (probe mode) or forwards the request
// upstream (gateway mode). Decision headers are applied to the response
// in both modes and on both outcomes, so clients receive CSRF tokens,
// rate-limit counters, and security headers even when blocked.
func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cfg := s.cfgPtr.Load()
	eng := s.enginePtr.Load()
	ip, requestID := requestMeta(r)

	req, err := s.buildRequest(r, cfg)
	if err != nil {
		s.logger.LogError(r.Method, r.URL.Path, ip, requestID, err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "unreadable_body",
			"message": "request body could not be read",
		})
		return
	}

	d := eng.Evaluate(req)
	duration := time.Since(start)

	st := eng.Stats()
	s.metrics.SetEngineStats(st.RateKeys, st.CsrfTokens)
	s.recordDecision(r, d, ip, requestID, len(req.Body), duration)

	for k, v := range d.Headers {
		w.Header().Set(k, v)
	}

	if !d.Allowed {
		writeJSON(w, d.StatusCode, d)
		return
	}

	if s.gateway == nil {
		writeJSON(w, http.StatusOK, d)
		return
	}

	r.Header.Set("X-Request-Id", requestID)
	s.gateway.ServeHTTP(w, r)
}

// buildRequest converts an incoming HTTP request into the engine's
// request shape. The body is read up to one byte past the configured
// payload cap so the validator can tell at-limit from over-limit, then
// restored for upstream forwarding. When trust_proxy_headers is off the
// proxy identity headers are dropped from both the engine's view and
// the forwarded request, so clients cannot spoof rate-limit keys or the
// https check.
func (s *Server) buildRequest(r *http.Request, cfg *config.Config) (engine.Request, error) {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	if cfg.Server.TrustProxyHeaders != nil && !*cfg.Server.TrustProxyHeaders {
		for _, h := range []string{"X-Forwarded-For", "X-Real-Ip", "X-Forwarded-Proto"} {
			delete(headers, h)
			r.Header.Del(h)
		}
	}

	var body []byte
	if r.Body != nil {
		limit := int64(cfg.Validation.MaxPayloadSize) + 1
		b, err := io.ReadAll(io.LimitReader(r.Body, limit))
		if err != nil {
			return engine.Request{}, fmt.Errorf("read body: %w", err)
		}
		body = b
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	return engine.Request{
		Method:     r.Method,
		Path:       path,
		Headers:    headers,
		Body:       body,
		ClientAddr: r.RemoteAddr,
		TLS:        r.TLS != nil,
	}, nil
}

// recordDecision fans one decision out to the audit log, metrics, the
// event emitter, and the event store. Rate-limit and threat blocks get
// their dedicated log shapes; threat flags on an allowed request are
// logged and emitted alongside the allow so near-misses stay visible.
func (s *Server) recordDecision(r *http.Request, d engine.Decision, ip, requestID string, bodyBytes int, duration time.Duration) {
	method, path := r.Method, r.URL.Path

	if d.Allowed {
		s.logger.LogAllowed(method, path, ip, requestID, d.Identity, d.StatusCode, bodyBytes, duration)
		if len(d.Flags) > 0 {
			s.logger.LogThreat(method, path, ip, requestID, d.ThreatScore, d.Flags, false)
		}
		s.metrics.RecordAllowed(d.ThreatScore, duration)
	} else {
		switch d.Stage {
		case "rate_limit":
			retryAfter := 0
			if v, err := strconv.Atoi(d.Headers["Retry-After"]); err == nil {
				retryAfter = v
			}
			s.logger.LogRateLimited(method, path, ip, requestID, d.Identity, retryAfter)
		case "threat":
			s.logger.LogThreat(method, path, ip, requestID, d.ThreatScore, d.Flags, true)
		default:
			s.logger.LogBlocked(method, path, ip, requestID, d.Stage, d.Reason, d.StatusCode)
		}
		s.metrics.RecordBlocked(d.Stage, path, d.ThreatScore, duration)
	}

	s.emitDecision(r, d, method, path, ip, requestID)

	if s.events != nil {
		typ := "allowed"
		switch {
		case d.Allowed:
		case d.Stage == "rate_limit":
			typ = "rate_limited"
		default:
			typ = "blocked"
		}
		// Queue-full drops are counted by the store itself.
		_ = s.events.Record(store.Event{
			RequestID:  requestID,
			ClientAddr: r.RemoteAddr,
			Method:     method,
			Path:       path,
			Type:       typ,
			Stage:      d.Stage,
			Reason:     d.Reason,
			StatusCode: d.StatusCode,
			Score:      d.ThreatScore,
			Identity:   d.Identity,
		})
	}
}

// emitDecision sends the decision to the configured sinks, following
// the audit shapes: one event per decision, plus a separate threat
// event when heuristics fired.
func (s *Server) emitDecision(r *http.Request, d engine.Decision, method, path, ip, requestID string) {
	if s.emitter == nil {
		return
	}

	fields := map[string]any{
		"method":     method,
		"path":       path,
		"client_ip":  ip,
		"request_id": requestID,
	}
	if d.Identity != "" {
		fields["identity"] = d.Identity
	}
	if d.ThreatScore > 0 {
		fields["score"] = d.ThreatScore
	}

	switch {
	case d.Allowed:
		s.emitter.Emit(r.Context(), "allowed", fields)
		if len(d.Flags) > 0 {
			tf := make(map[string]any, len(fields)+1)
			for k, v := range fields {
				tf[k] = v
			}
			tf["flags"] = d.Flags
			s.emitter.EmitThreat(r.Context(), false, tf)
		}
	case d.Stage == "rate_limit":
		s.emitter.Emit(r.Context(), "rate_limited", fields)
	case d.Stage == "threat":
		fields["flags"] = d.Flags
		s.emitter.EmitThreat(r.Context(), true, fields)
	default:
		fields["stage"] = d.Stage
		fields["reason"] = d.Reason
		fields["status"] = d.StatusCode
		s.emitter.Emit(r.Context(), "blocked", fields)
	}
}
