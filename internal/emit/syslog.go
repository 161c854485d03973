//go:build !windows

package emit

import (
	"context"
	"fmt"
	"log/syslog"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
)

// SyslogSink writes events to a syslog collector as single key=value
// lines. Severity maps onto syslog priority (critical -> CRIT, warn ->
// WARNING, info -> INFO); the collector supplies its own timestamp.
type SyslogSink struct {
	writer *syslog.Writer
	minSev Severity
}

// SyslogOption configures a SyslogSink.
type SyslogOption func(*syslogConfig)

type syslogConfig struct {
	facility syslog.Priority
	tag      string
	minSev   Severity
}

// WithSyslogFacility sets the syslog facility (default LOG_LOCAL0).
func WithSyslogFacility(f syslog.Priority) SyslogOption {
	return func(c *syslogConfig) {
		c.facility = f
	}
}

// WithSyslogTag sets the syslog tag (default "gatelock").
func WithSyslogTag(tag string) SyslogOption {
	return func(c *syslogConfig) {
		c.tag = tag
	}
}

// WithSyslogMinSeverity sets the minimum severity for events to be emitted.
func WithSyslogMinSeverity(sev Severity) SyslogOption {
	return func(c *syslogConfig) {
		c.minSev = sev
	}
}

// parseSyslogAddress splits "udp://host:port" or "tcp://host:port"
// into (network, address) for syslog.Dial.
func parseSyslogAddress(addr string) (string, string, error) {
	scheme, hostport, ok := strings.Cut(addr, "://")
	if !ok {
		return "", "", fmt.Errorf("emit: invalid syslog address %q (use udp://host:port or tcp://host:port)", addr)
	}
	network := strings.ToLower(scheme)
	if network != "udp" && network != "tcp" {
		return "", "", fmt.Errorf("emit: unsupported syslog address %q (use udp://host:port or tcp://host:port)", addr)
	}
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		return "", "", fmt.Errorf("emit: invalid syslog host:port %q: %w", hostport, err)
	}
	return network, hostport, nil
}

// NewSyslogSink creates a SyslogSink connected to the given address.
// Address format: "udp://host:port" or "tcp://host:port".
func NewSyslogSink(address string, opts ...SyslogOption) (*SyslogSink, error) {
	cfg := &syslogConfig{
		facility: syslog.LOG_LOCAL0,
		tag:      "gatelock",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	network, addr, err := parseSyslogAddress(address)
	if err != nil {
		return nil, err
	}

	writer, err := syslog.Dial(network, addr, cfg.facility, cfg.tag)
	if err != nil {
		return nil, fmt.Errorf("emit: syslog dial: %w", err)
	}

	return &SyslogSink{
		writer: writer,
		minSev: cfg.minSev,
	}, nil
}

var syslogFacilities = map[string]syslog.Priority{
	"kern":   syslog.LOG_KERN,
	"user":   syslog.LOG_USER,
	"mail":   syslog.LOG_MAIL,
	"daemon": syslog.LOG_DAEMON,
	"auth":   syslog.LOG_AUTH,
	"syslog": syslog.LOG_SYSLOG,
	"lpr":    syslog.LOG_LPR,
	"news":   syslog.LOG_NEWS,
	"uucp":   syslog.LOG_UUCP,
	"local0": syslog.LOG_LOCAL0,
	"local1": syslog.LOG_LOCAL1,
	"local2": syslog.LOG_LOCAL2,
	"local3": syslog.LOG_LOCAL3,
	"local4": syslog.LOG_LOCAL4,
	"local5": syslog.LOG_LOCAL5,
	"local6": syslog.LOG_LOCAL6,
	"local7": syslog.LOG_LOCAL7,
}

// parseFacility resolves a facility name case-insensitively, falling
// back to LOG_LOCAL0 with a warning for unrecognized values.
func parseFacility(name string) syslog.Priority {
	if f, ok := syslogFacilities[strings.ToLower(name)]; ok {
		return f
	}
	fmt.Fprintf(os.Stderr, "emit: unrecognized syslog facility %q, using local0\n", name)
	return syslog.LOG_LOCAL0
}

// NewSyslogSinkFromConfig creates a SyslogSink from string config values.
// This is a cross-platform entry point used by cli/run.go; on Windows it returns
// ErrSyslogUnavailable (defined in syslog_windows.go).
func NewSyslogSinkFromConfig(address, facility, tag, minSeverity string) (*SyslogSink, error) {
	var opts []SyslogOption
	opts = append(opts, WithSyslogMinSeverity(ParseSeverity(minSeverity)))
	if facility != "" {
		opts = append(opts, WithSyslogFacility(parseFacility(facility)))
	}
	if tag != "" {
		opts = append(opts, WithSyslogTag(tag))
	}
	return NewSyslogSink(address, opts...)
}

// Emit writes an event at the priority matching its severity. Events
// below the minimum severity are silently dropped.
func (s *SyslogSink) Emit(_ context.Context, event Event) error {
	if event.Severity < s.minSev {
		return nil
	}

	line := formatSyslogLine(event)
	switch event.Severity {
	case SeverityCritical:
		return s.writer.Crit(line)
	case SeverityWarn:
		return s.writer.Warning(line)
	default:
		return s.writer.Info(line)
	}
}

// formatSyslogLine renders an event as one key=value line. Syslog
// transports are line oriented and most collectors index key=value
// pairs natively, so fields are flattened instead of nested as JSON.
// Keys are sorted for a stable field order.
func formatSyslogLine(event Event) string {
	var b strings.Builder
	b.WriteString("event=")
	b.WriteString(event.Type)
	b.WriteString(" severity=")
	b.WriteString(event.Severity.String())
	if event.InstanceID != "" {
		b.WriteString(" instance=")
		b.WriteString(syslogValue(event.InstanceID))
	}

	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(syslogValue(fmt.Sprint(event.Fields[k])))
	}
	return b.String()
}

// syslogValue quotes a value when it would break key=value parsing.
func syslogValue(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		return strconv.Quote(v)
	}
	return v
}

// Close closes the syslog writer. Safe to call on a nil or already-closed writer.
func (s *SyslogSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
