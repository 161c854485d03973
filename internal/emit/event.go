package emit

import (
	"os"
	"strings"
	"time"
)

// Severity represents the importance level of an audit event.
type Severity int

const (
	SeverityInfo     Severity = iota // Normal operations
	SeverityWarn                     // Suspicious activity, worth investigating
	SeverityCritical                 // Needs immediate attention
)

// String returns the lowercase string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// ParseSeverity converts a string to a Severity level.
// The comparison is case-insensitive. Returns SeverityInfo for unrecognized values.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "warn":
		return SeverityWarn
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Event represents a structured audit event for external emission.
type Event struct {
	Severity   Severity
	Type       string // Event type ("blocked", "lockdown_deny", etc.)
	Timestamp  time.Time
	InstanceID string         // Gatelock instance identifier
	Fields     map[string]any // All structured fields from the audit call
}

// DefaultInstanceID returns the hostname or "gatelock" as fallback.
func DefaultInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "gatelock"
}

// EventSeverity maps audit event type strings to their severity level.
// Severity is hardcoded; users control emission threshold, not event severity.
var EventSeverity = map[string]Severity{
	// Critical: needs immediate attention. Traffic arriving during an
	// emergency lockdown means someone has not stood down.
	"lockdown_deny": SeverityCritical,

	// Warn: suspicious, worth investigating
	"blocked":      SeverityWarn,
	"rate_limited": SeverityWarn,
	"threat":       SeverityWarn, // escalated by Emitter.EmitThreat when the detector blocked
	"error":        SeverityWarn, // errors are suspicious

	// Info: normal operations
	"allowed":       SeverityInfo,
	"config_reload": SeverityInfo,
	"startup":       SeverityInfo,
	"shutdown":      SeverityInfo,
}
