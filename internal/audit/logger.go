// Package audit provides structured JSON audit logging for Gatelock
// decisions and lifecycle events.
package audit

import (
	"io"
	"math"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// sanitizeString strips control characters and ANSI escape sequences from a
// string before logging. Prevents terminal escape injection via crafted
// request paths and headers (e.g., \x1b[2J to clear screen when tailing
// audit logs).
func sanitizeString(s string) string {
	// Fast path: most strings have no control characters.
	clean := true
	for _, r := range s {
		if r != '\t' && r != '\n' && (unicode.IsControl(r) || r == '\x1b') {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			// ANSI escape sequences end with a letter (A-Z, a-z).
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		// Allow tabs and newlines but strip other control chars.
		if r != '\t' && r != '\n' && unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EventType describes the kind of audit event.
type EventType string

// Event type constants for structured audit log entries.
const (
	EventAllowed      EventType = "allowed"
	EventBlocked      EventType = "blocked"
	EventRateLimited  EventType = "rate_limited"
	EventThreat       EventType = "threat"
	EventConfigReload EventType = "config_reload"
	EventLockdownDeny EventType = "lockdown_deny"
	EventShutdown     EventType = "shutdown"
	EventError        EventType = "error"
)

// Logger handles structured audit logging using zerolog. Allowed-request
// entries pass through a sampled sub-logger so high-volume deployments can
// trace a fraction of traffic while keeping every security event.
type Logger struct {
	zl             zerolog.Logger
	allowedZl      zerolog.Logger // sampled copy used only for allowed entries
	includeAllowed bool
	includeBlocked bool
	fileHandle     *os.File // non-nil if logging to file
}

// New creates a new audit logger. includeAllowed and includeBlocked gate
// the allowed/blocked entry families; sampleRate (0.0-1.0) further samples
// allowed entries, with 1.0 logging every one and 0 suppressing them all.
// The caller should call Close when done.
func New(format, output, filePath string, includeAllowed, includeBlocked bool, sampleRate float64) (*Logger, error) {
	var writers []io.Writer

	if output == "stdout" || output == "both" {
		if format == "text" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var fileHandle *os.File
	if output == "file" || output == "both" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path validated by config layer
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		fileHandle = f
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", "gatelock").
		Logger()

	allowedZl := zl
	switch {
	case sampleRate <= 0:
		includeAllowed = false
	case sampleRate < 1:
		// RandomSampler passes roughly 1 in N events.
		if n := uint32(math.Round(1 / sampleRate)); n > 1 {
			allowedZl = zl.Sample(zerolog.RandomSampler(n))
		}
	}

	return &Logger{
		zl:             zl,
		allowedZl:      allowedZl,
		includeAllowed: includeAllowed,
		includeBlocked: includeBlocked,
		fileHandle:     fileHandle,
	}, nil
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{
		zl:        zerolog.Nop(),
		allowedZl: zerolog.Nop(),
	}
}

// LogAllowed logs an admitted request. Subject to both the includeAllowed
// gate and the trace sample rate.
func (l *Logger) LogAllowed(method, path, clientIP, requestID, identity string, statusCode, sizeBytes int, duration time.Duration) {
	if !l.includeAllowed {
		return
	}
	l.allowedZl.Info().
		Str("event", string(EventAllowed)).
		Str("method", method).
		Str("path", sanitizeString(path)).
		Str("client_ip", clientIP).
		Str("request_id", requestID).
		Str("identity", sanitizeString(identity)).
		Int("status_code", statusCode).
		Int("size_bytes", sizeBytes).
		Dur("duration_ms", duration).
		Msg("request allowed")
}

// LogBlocked logs a denied request with the blocking stage and reason.
// When the stage maps to a MITRE ATT&CK technique, the technique ID is
// attached for SIEM correlation.
func (l *Logger) LogBlocked(method, path, clientIP, requestID, stage, reason string, statusCode int) {
	if !l.includeBlocked {
		return
	}
	ev := l.zl.Warn().
		Str("event", string(EventBlocked)).
		Str("method", method).
		Str("path", sanitizeString(path)).
		Str("client_ip", clientIP).
		Str("request_id", requestID).
		Str("stage", stage).
		Str("reason", sanitizeString(reason)).
		Int("status_code", statusCode)
	if technique := TechniqueForStage(stage); technique != "" {
		ev = ev.Str("technique", technique)
	}
	ev.Msg("request blocked")
}

// LogRateLimited logs a request denied by the rate limiter.
func (l *Logger) LogRateLimited(method, path, clientIP, requestID, identity string, retryAfterSeconds int) {
	if !l.includeBlocked {
		return
	}
	l.zl.Warn().
		Str("event", string(EventRateLimited)).
		Str("method", method).
		Str("path", sanitizeString(path)).
		Str("client_ip", clientIP).
		Str("request_id", requestID).
		Str("identity", sanitizeString(identity)).
		Int("retry_after_seconds", retryAfterSeconds).
		Msg("rate limit exceeded")
}

// LogThreat logs a request the threat detector scored as suspicious,
// whether or not it was blocked.
func (l *Logger) LogThreat(method, path, clientIP, requestID string, score int, flags []string, blocked bool) {
	l.zl.Warn().
		Str("event", string(EventThreat)).
		Str("method", method).
		Str("path", sanitizeString(path)).
		Str("client_ip", clientIP).
		Str("request_id", requestID).
		Int("score", score).
		Strs("flags", flags).
		Bool("blocked", blocked).
		Msg("suspicious request")
}

// LogError logs a request that failed inside the host adapter, for example
// an unreachable upstream.
func (l *Logger) LogError(method, path, clientIP, requestID string, err error) {
	l.zl.Error().
		Str("event", string(EventError)).
		Str("method", method).
		Str("path", sanitizeString(path)).
		Str("client_ip", clientIP).
		Str("request_id", requestID).
		Err(err).
		Msg("request error")
}

// LogSubsystemError logs a failure in a background collaborator such as
// the event store or an alert sink.
func (l *Logger) LogSubsystemError(subsystem string, err error) {
	l.zl.Error().
		Str("event", string(EventError)).
		Str("subsystem", subsystem).
		Err(err).
		Msg("subsystem error")
}

// LogConfigReload logs a configuration reload event.
func (l *Logger) LogConfigReload(status, detail string) {
	l.zl.Info().
		Str("event", string(EventConfigReload)).
		Str("status", status).
		Str("detail", detail).
		Msg("configuration reloaded")
}

// LogLockdownDeny logs a request denied by the lockdown controller.
func (l *Logger) LogLockdownDeny(source, message, clientIP, path string) {
	l.zl.Info().
		Str("event", string(EventLockdownDeny)).
		Str("source", sanitizeString(source)).
		Str("deny_message", sanitizeString(message)).
		Str("client_ip", sanitizeString(clientIP)).
		Str("path", sanitizeString(path)).
		Msg("lockdown denied request")
}

// LogStartup logs that the gate has started.
func (l *Logger) LogStartup(listenAddr, mode string) {
	l.zl.Info().
		Str("event", "startup").
		Str("listen", listenAddr).
		Str("mode", mode).
		Msg("gatelock started")
}

// LogShutdown logs that the gate is shutting down.
func (l *Logger) LogShutdown(reason string) {
	l.zl.Info().
		Str("event", string(EventShutdown)).
		Str("reason", reason).
		Msg("gatelock stopping")
}

// With returns a sub-logger that includes the given key-value pair in every
// log entry. The sub-logger shares the parent's file handle and config but
// does NOT own the file; only the root logger should be Close()'d.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl:             l.zl.With().Str(key, value).Logger(),
		allowedZl:      l.allowedZl.With().Str(key, value).Logger(),
		includeAllowed: l.includeAllowed,
		includeBlocked: l.includeBlocked,
	}
}

// Close cleans up the logger, flushing and closing any open file handles.
// Close is idempotent and safe to call multiple times.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
