package emit

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Emitter fans security events out to the configured sinks. Severity
// is assigned here, from the event type, so call sites describe what
// happened and never pick alert levels themselves.
// All methods are safe for concurrent use and on a nil receiver.
type Emitter struct {
	mu       sync.RWMutex
	sinks    []Sink
	instance string
}

// NewEmitter creates an Emitter delivering to the given sinks.
func NewEmitter(instanceID string, sinks ...Sink) *Emitter {
	return &Emitter{
		sinks:    append([]Sink(nil), sinks...),
		instance: instanceID,
	}
}

// Emit delivers one event to every sink, with severity looked up from
// EventSeverity. Unknown event types are informational. Sink failures
// are reported on stderr and never reach the request path.
func (e *Emitter) Emit(ctx context.Context, eventType string, fields map[string]any) {
	e.deliver(ctx, severityOf(eventType), eventType, cloneFields(fields))
}

// EmitThreat delivers a "threat" event. A detection strong enough to
// block escalates to critical; an observed-only detection stays a
// warning. The outcome rides along as a "blocked" field so sinks can
// tell the two apart without parsing severities.
func (e *Emitter) EmitThreat(ctx context.Context, blocked bool, fields map[string]any) {
	sev := SeverityWarn
	if blocked {
		sev = SeverityCritical
	}
	merged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["blocked"] = blocked
	e.deliver(ctx, sev, "threat", merged)
}

func severityOf(eventType string) Severity {
	if sev, ok := EventSeverity[eventType]; ok {
		return sev
	}
	return SeverityInfo
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp
}

// deliver owns fields: callers hand over a map no longer shared with
// their own state.
func (e *Emitter) deliver(ctx context.Context, sev Severity, eventType string, fields map[string]any) {
	if e == nil {
		return
	}

	e.mu.RLock()
	sinks := e.sinks
	e.mu.RUnlock()
	if len(sinks) == 0 {
		return
	}

	event := Event{
		Severity:   sev,
		Type:       eventType,
		Timestamp:  time.Now(),
		InstanceID: e.instance,
		Fields:     fields,
	}
	for _, s := range sinks {
		if err := s.Emit(ctx, event); err != nil {
			fmt.Fprintf(os.Stderr, "emit: deliver %s: %v\n", eventType, err)
		}
	}
}

// ReloadSinks swaps in a new sink set and returns the previous one so
// the caller can close it once in-flight deliveries finish. Used on
// config reload to repoint webhook and syslog targets without a
// restart.
func (e *Emitter) ReloadSinks(sinks ...Sink) []Sink {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	old := e.sinks
	e.sinks = append([]Sink(nil), sinks...)
	e.mu.Unlock()
	return old
}

// Close closes every sink and returns the first error. Emits after
// Close are silently dropped.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}

	e.mu.Lock()
	sinks := e.sinks
	e.sinks = nil
	e.mu.Unlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
