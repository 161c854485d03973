// Package config handles loading, validating, and defaulting Gatelock configuration.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Output/format constants for configuration defaults.
const (
	DefaultListen    = "127.0.0.1:8844"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stdout"
	OutputFile       = "file"
	OutputBoth       = "both"
)

// Severity level names accepted by the events section.
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityCritical = "critical"
)

// Config is the top-level Gatelock configuration: the nine admission policy
// sections evaluated by the engine, plus the operational sections (logging,
// server, lockdown, events) consumed by the CLI and gate server.
type Config struct {
	Version     int               `yaml:"version"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Validation  ValidationConfig  `yaml:"validation"`
	Auth        AuthConfig        `yaml:"auth"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Threat      ThreatConfig      `yaml:"threat"`
	Https       HttpsConfig       `yaml:"https"`
	Cors        CorsConfig        `yaml:"cors"`
	Csrf        CsrfConfig        `yaml:"csrf"`
	ContentType ContentTypeConfig `yaml:"content_type"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	Lockdown    LockdownConfig    `yaml:"lockdown"`
	Events      EventsConfig      `yaml:"events"`
}

// RateLimitConfig configures the fixed-window request budget per client key.
// Burst is a one-time-per-window overflow allowance, not an extra steady rate.
type RateLimitConfig struct {
	Enabled           *bool `yaml:"enabled"` // nil = true
	RequestsPerWindow int   `yaml:"requests_per_window"`
	WindowSeconds     int   `yaml:"window_seconds"`
	BurstSize         *int  `yaml:"burst_size"` // nil = 10; explicit 0 disables burst
	PerIP             *bool `yaml:"per_ip"`     // nil = true
	PerUser           bool  `yaml:"per_user"`   // separate budget keyed by authenticated identity
	Adaptive          bool  `yaml:"adaptive"`   // reserved: window shrinking under load
}

// ValidationConfig configures request content inspection. Each check flag
// independently disables its own signature category.
type ValidationConfig struct {
	Enabled               *bool `yaml:"enabled"`                 // nil = true
	SQLInjectionCheck     *bool `yaml:"sql_injection_check"`     // nil = true
	XSSCheck              *bool `yaml:"xss_check"`               // nil = true
	CommandInjectionCheck *bool `yaml:"command_injection_check"` // nil = true
	PathTraversalCheck    *bool `yaml:"path_traversal_check"`    // nil = true
	SanitizeInput         bool  `yaml:"sanitize_input"`          // strip control chars before matching
	MaxPayloadSize        int   `yaml:"max_payload_size"`
	MaxHeaderSize         int   `yaml:"max_header_size"`
}

// AuthConfig configures bearer-token and API-key verification.
// APIKeys entries may be plaintext or bcrypt hashes (recognized by the
// "$2" prefix); plaintext entries are compared in constant time.
type AuthConfig struct {
	Enabled            bool     `yaml:"enabled"`
	RequireAuth        bool     `yaml:"require_auth"`
	SigningSecret      string   `yaml:"signing_secret"`
	APIKeys            []string `yaml:"api_keys"`
	TokenExpirySeconds int      `yaml:"token_expiry_seconds"`
	RefreshEnabled     bool     `yaml:"refresh_enabled"` // reserved
	MFAEnabled         bool     `yaml:"mfa_enabled"`     // reserved
}

// MonitoringConfig gates the observability collaborators around the engine:
// audit logging, metrics, the event store, and error reporting.
type MonitoringConfig struct {
	Enabled           *bool    `yaml:"enabled"`             // nil = true
	LogRequests       bool     `yaml:"log_requests"`        // audit-log allowed decisions
	LogResponses      bool     `yaml:"log_responses"`       // include response status in server logs
	LogSecurityEvents *bool    `yaml:"log_security_events"` // nil = true; audit-log blocked decisions
	MetricsEnabled    *bool    `yaml:"metrics_enabled"`     // nil = true
	TraceSamplingRate *float64 `yaml:"trace_sampling_rate"` // nil = 1.0; fraction of allowed decisions logged
	SentryDSN         string   `yaml:"sentry_dsn"`          // optional error reporting
}

// ThreatConfig configures the suspicion heuristics layered on top of the
// validator's findings.
type ThreatConfig struct {
	Enabled          *bool `yaml:"enabled"`           // nil = true
	AnomalyDetection bool  `yaml:"anomaly_detection"` // reserved: needs a history collaborator
	BotDetection     *bool `yaml:"bot_detection"`     // nil = true
	KnownPatterns    *bool `yaml:"known_patterns"`    // nil = true
	BlockSuspicious  *bool `yaml:"block_suspicious"`  // nil = true
}

// HttpsConfig configures transport policy: HTTPS requirement and the
// HSTS / baseline security headers emitted with every decision.
type HttpsConfig struct {
	Enabled               bool  `yaml:"enabled"`
	RequireHTTPS          bool  `yaml:"require_https"`
	HSTSMaxAge            int   `yaml:"hsts_max_age"`
	HSTSIncludeSubdomains *bool `yaml:"hsts_include_subdomains"` // nil = true
}

// CorsConfig configures cross-origin response headers. A "*" entry in
// AllowOrigins matches any origin.
type CorsConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowOrigins     []string `yaml:"allow_origins"`
	AllowAllOrigins  bool     `yaml:"allow_all_origins"`
	AllowMethods     []string `yaml:"allow_methods"`
	AllowHeaders     []string `yaml:"allow_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// CsrfConfig configures token issuance and verification for state-changing
// methods.
type CsrfConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TokenLength int    `yaml:"token_length"` // random bytes per token, hex-encoded on the wire
	HeaderName  string `yaml:"header_name"`
	ParamName   string `yaml:"param_name"`
}

// ContentTypeConfig configures the request media-type allowlist. Non-strict
// mode never blocks; it only feeds monitoring.
type ContentTypeConfig struct {
	Enabled      *bool    `yaml:"enabled"` // nil = true
	AllowedTypes []string `yaml:"allowed_types"`
	StrictMode   bool     `yaml:"strict_mode"`
}

// LoggingConfig configures the audit log destination and format.
type LoggingConfig struct {
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, file, both
	File   string `yaml:"file"`
}

// ServerConfig configures the standalone gate server.
type ServerConfig struct {
	Listen                 string `yaml:"listen"`
	Upstream               string `yaml:"upstream"` // reverse-gate target; empty = probe mode
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	TrustProxyHeaders      *bool  `yaml:"trust_proxy_headers"` // nil = true; honor X-Forwarded-For / X-Real-IP
}

// LockdownConfig configures the emergency deny-all controller.
type LockdownConfig struct {
	Enabled       bool     `yaml:"enabled"`
	SentinelFile  string   `yaml:"sentinel_file"`
	Message       string   `yaml:"message"`
	APIToken      string   `yaml:"api_token"`
	AllowlistIPs  []string `yaml:"allowlist_ips"`  // CIDRs exempt from lockdown
	HealthExempt  *bool    `yaml:"health_exempt"`  // nil = true
	MetricsExempt *bool    `yaml:"metrics_exempt"` // nil = true
	APIExempt     *bool    `yaml:"api_exempt"`     // nil = true; keeps /admin/lockdown reachable
}

// EventsConfig configures decision persistence and external alert sinks.
type EventsConfig struct {
	StorePath            string `yaml:"store_path"` // sqlite file; empty disables persistence
	RetentionHours       int    `yaml:"retention_hours"`
	WebhookURL           string `yaml:"webhook_url"`
	WebhookToken         string `yaml:"webhook_token"`
	WebhookMinSeverity   string `yaml:"webhook_min_severity"`
	WebhookRatePerSecond int    `yaml:"webhook_rate_per_second"` // delivery throttle
	WebhookBurst         int    `yaml:"webhook_burst"`
	SyslogAddress        string `yaml:"syslog_address"` // udp://host:port or tcp://host:port
	SyslogFacility       string `yaml:"syslog_facility"`
	SyslogTag            string `yaml:"syslog_tag"`
	SyslogMinSeverity    string `yaml:"syslog_min_severity"`
}

// Load reads, parses, defaults, and validates a Gatelock config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}

	// Rate limiting. Zero means unset and takes the default; negative
	// values are left for Validate to reject.
	if c.RateLimit.Enabled == nil {
		c.RateLimit.Enabled = ptrBool(true)
	}
	if c.RateLimit.RequestsPerWindow == 0 {
		c.RateLimit.RequestsPerWindow = 60
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.RateLimit.BurstSize == nil {
		c.RateLimit.BurstSize = ptrInt(10)
	}
	if c.RateLimit.PerIP == nil {
		c.RateLimit.PerIP = ptrBool(true)
	}

	// Validation
	if c.Validation.Enabled == nil {
		c.Validation.Enabled = ptrBool(true)
	}
	if c.Validation.SQLInjectionCheck == nil {
		c.Validation.SQLInjectionCheck = ptrBool(true)
	}
	if c.Validation.XSSCheck == nil {
		c.Validation.XSSCheck = ptrBool(true)
	}
	if c.Validation.CommandInjectionCheck == nil {
		c.Validation.CommandInjectionCheck = ptrBool(true)
	}
	if c.Validation.PathTraversalCheck == nil {
		c.Validation.PathTraversalCheck = ptrBool(true)
	}
	if c.Validation.MaxPayloadSize == 0 {
		c.Validation.MaxPayloadSize = 1 << 20 // 1 MiB
	}
	if c.Validation.MaxHeaderSize == 0 {
		c.Validation.MaxHeaderSize = 8192
	}

	// Auth
	if c.Auth.TokenExpirySeconds == 0 {
		c.Auth.TokenExpirySeconds = 3600
	}

	// Monitoring
	if c.Monitoring.Enabled == nil {
		c.Monitoring.Enabled = ptrBool(true)
	}
	if c.Monitoring.LogSecurityEvents == nil {
		c.Monitoring.LogSecurityEvents = ptrBool(true)
	}
	if c.Monitoring.MetricsEnabled == nil {
		c.Monitoring.MetricsEnabled = ptrBool(true)
	}
	if c.Monitoring.TraceSamplingRate == nil {
		r := 1.0
		c.Monitoring.TraceSamplingRate = &r
	}

	// Threat detection
	if c.Threat.Enabled == nil {
		c.Threat.Enabled = ptrBool(true)
	}
	if c.Threat.BotDetection == nil {
		c.Threat.BotDetection = ptrBool(true)
	}
	if c.Threat.KnownPatterns == nil {
		c.Threat.KnownPatterns = ptrBool(true)
	}
	if c.Threat.BlockSuspicious == nil {
		c.Threat.BlockSuspicious = ptrBool(true)
	}

	// HTTPS / HSTS
	if c.Https.HSTSMaxAge <= 0 {
		c.Https.HSTSMaxAge = 31536000 // one year
	}
	if c.Https.HSTSIncludeSubdomains == nil {
		c.Https.HSTSIncludeSubdomains = ptrBool(true)
	}

	// CORS
	if len(c.Cors.AllowOrigins) == 0 {
		c.Cors.AllowOrigins = []string{"*"}
	}
	if len(c.Cors.AllowMethods) == 0 {
		c.Cors.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	if len(c.Cors.AllowHeaders) == 0 {
		c.Cors.AllowHeaders = []string{"Content-Type", "Authorization"}
	}
	if c.Cors.MaxAge <= 0 {
		c.Cors.MaxAge = 86400
	}

	// CSRF
	if c.Csrf.TokenLength <= 0 {
		c.Csrf.TokenLength = 32
	}
	if c.Csrf.HeaderName == "" {
		c.Csrf.HeaderName = "X-CSRF-Token"
	}
	if c.Csrf.ParamName == "" {
		c.Csrf.ParamName = "_csrf"
	}

	// Content types
	if c.ContentType.Enabled == nil {
		c.ContentType.Enabled = ptrBool(true)
	}
	if len(c.ContentType.AllowedTypes) == 0 {
		c.ContentType.AllowedTypes = []string{
			"application/json",
			"application/x-www-form-urlencoded",
			"multipart/form-data",
			"text/plain",
		}
	}

	// Logging
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}

	// Server
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 30
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 30
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}
	if c.Server.TrustProxyHeaders == nil {
		c.Server.TrustProxyHeaders = ptrBool(true)
	}

	// Lockdown
	if c.Lockdown.Message == "" {
		c.Lockdown.Message = "service temporarily unavailable (lockdown)"
	}
	if c.Lockdown.HealthExempt == nil {
		c.Lockdown.HealthExempt = ptrBool(true)
	}
	if c.Lockdown.MetricsExempt == nil {
		c.Lockdown.MetricsExempt = ptrBool(true)
	}
	if c.Lockdown.APIExempt == nil {
		c.Lockdown.APIExempt = ptrBool(true)
	}

	// Events
	if c.Events.RetentionHours <= 0 {
		c.Events.RetentionHours = 168 // one week
	}
	if c.Events.WebhookMinSeverity == "" {
		c.Events.WebhookMinSeverity = SeverityWarn
	}
	if c.Events.WebhookRatePerSecond <= 0 {
		c.Events.WebhookRatePerSecond = 5
	}
	if c.Events.WebhookBurst <= 0 {
		c.Events.WebhookBurst = 10
	}
	if c.Events.SyslogFacility == "" {
		c.Events.SyslogFacility = "local0"
	}
	if c.Events.SyslogTag == "" {
		c.Events.SyslogTag = "gatelock"
	}
	if c.Events.SyslogMinSeverity == "" {
		c.Events.SyslogMinSeverity = SeverityInfo
	}
}

// Validate checks the config for errors. Must be called after ApplyDefaults.
func (c *Config) Validate() error {
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("invalid rate_limit.requests_per_window %d: must be positive", c.RateLimit.RequestsPerWindow)
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("invalid rate_limit.window_seconds %d: must be positive", c.RateLimit.WindowSeconds)
	}
	if *c.RateLimit.BurstSize < 0 {
		return fmt.Errorf("invalid rate_limit.burst_size %d: must not be negative", *c.RateLimit.BurstSize)
	}

	if c.Validation.MaxPayloadSize <= 0 {
		return fmt.Errorf("invalid validation.max_payload_size %d: must be positive", c.Validation.MaxPayloadSize)
	}
	if c.Validation.MaxHeaderSize <= 0 {
		return fmt.Errorf("invalid validation.max_header_size %d: must be positive", c.Validation.MaxHeaderSize)
	}

	if c.Auth.RequireAuth && c.Auth.SigningSecret == "" && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth.require_auth is set but neither signing_secret nor api_keys is configured")
	}
	if c.Auth.TokenExpirySeconds <= 0 {
		return fmt.Errorf("invalid auth.token_expiry_seconds %d: must be positive", c.Auth.TokenExpirySeconds)
	}
	for i, k := range c.Auth.APIKeys {
		if k == "" {
			return fmt.Errorf("auth.api_keys[%d] is empty", i)
		}
	}

	if r := *c.Monitoring.TraceSamplingRate; r < 0 || r > 1 {
		return fmt.Errorf("invalid monitoring.trace_sampling_rate %v: must be between 0 and 1", r)
	}

	if c.Https.HSTSMaxAge < 0 {
		return fmt.Errorf("invalid https.hsts_max_age %d: must not be negative", c.Https.HSTSMaxAge)
	}

	for i, o := range c.Cors.AllowOrigins {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("cors.allow_origins[%d] is empty", i)
		}
	}
	if c.Cors.MaxAge < 0 {
		return fmt.Errorf("invalid cors.max_age %d: must not be negative", c.Cors.MaxAge)
	}

	if c.Csrf.TokenLength < 8 || c.Csrf.TokenLength > 512 {
		return fmt.Errorf("invalid csrf.token_length %d: must be between 8 and 512", c.Csrf.TokenLength)
	}
	if c.Csrf.Enabled && c.Csrf.HeaderName == "" {
		return fmt.Errorf("csrf.header_name must not be empty when csrf is enabled")
	}

	if *c.ContentType.Enabled && c.ContentType.StrictMode && len(c.ContentType.AllowedTypes) == 0 {
		return fmt.Errorf("content_type.allowed_types must not be empty in strict mode")
	}
	for i, t := range c.ContentType.AllowedTypes {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("content_type.allowed_types[%d] is empty", i)
		}
	}

	switch c.Logging.Format {
	case DefaultLogFormat, "text":
		// valid
	default:
		return fmt.Errorf("invalid logging format %q: must be json or text", c.Logging.Format)
	}

	switch c.Logging.Output {
	case DefaultLogOutput, "stderr", OutputFile, OutputBoth:
		// valid
	default:
		return fmt.Errorf("invalid logging output %q: must be stdout, stderr, file, or both", c.Logging.Output)
	}

	if (c.Logging.Output == OutputFile || c.Logging.Output == OutputBoth) && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when output is %q", c.Logging.Output)
	}

	if c.Server.Upstream != "" {
		u, err := url.Parse(c.Server.Upstream)
		if err != nil {
			return fmt.Errorf("invalid server.upstream %q: %w", c.Server.Upstream, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid server.upstream %q: scheme must be http or https", c.Server.Upstream)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid server.upstream %q: missing host", c.Server.Upstream)
		}
	}

	for _, cidr := range c.Lockdown.AllowlistIPs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid lockdown.allowlist_ips entry %q: %w", cidr, err)
		}
	}

	for _, sev := range []struct{ field, value string }{
		{"events.webhook_min_severity", c.Events.WebhookMinSeverity},
		{"events.syslog_min_severity", c.Events.SyslogMinSeverity},
	} {
		switch sev.value {
		case SeverityInfo, SeverityWarn, SeverityCritical:
			// valid
		default:
			return fmt.Errorf("invalid %s %q: must be info, warn, or critical", sev.field, sev.value)
		}
	}

	if c.Events.WebhookURL != "" {
		u, err := url.Parse(c.Events.WebhookURL)
		if err != nil {
			return fmt.Errorf("invalid events.webhook_url %q: %w", c.Events.WebhookURL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid events.webhook_url %q: scheme must be http or https", c.Events.WebhookURL)
		}
	}

	return nil
}

// ReloadWarning describes a potential security downgrade from a config reload.
type ReloadWarning struct {
	Field   string
	Message string
}

// ValidateReload compares old and new configs and returns warnings for
// potential security downgrades. Warnings don't block the reload.
func ValidateReload(old, updated *Config) []ReloadWarning {
	var warnings []ReloadWarning

	downgrades := []struct {
		field string
		old   bool
		new   bool
		msg   string
	}{
		{"rate_limit.enabled", *old.RateLimit.Enabled, *updated.RateLimit.Enabled, "rate limiting disabled"},
		{"validation.enabled", *old.Validation.Enabled, *updated.Validation.Enabled, "input validation disabled"},
		{"validation.sql_injection_check", *old.Validation.SQLInjectionCheck, *updated.Validation.SQLInjectionCheck, "SQL injection check disabled"},
		{"validation.xss_check", *old.Validation.XSSCheck, *updated.Validation.XSSCheck, "XSS check disabled"},
		{"validation.command_injection_check", *old.Validation.CommandInjectionCheck, *updated.Validation.CommandInjectionCheck, "command injection check disabled"},
		{"validation.path_traversal_check", *old.Validation.PathTraversalCheck, *updated.Validation.PathTraversalCheck, "path traversal check disabled"},
		{"auth.require_auth", old.Auth.RequireAuth, updated.Auth.RequireAuth, "authentication requirement disabled"},
		{"threat.enabled", *old.Threat.Enabled, *updated.Threat.Enabled, "threat detection disabled"},
		{"threat.block_suspicious", *old.Threat.BlockSuspicious, *updated.Threat.BlockSuspicious, "suspicious requests no longer blocked"},
		{"csrf.enabled", old.Csrf.Enabled, updated.Csrf.Enabled, "CSRF protection disabled"},
		{"https.require_https", old.Https.RequireHTTPS, updated.Https.RequireHTTPS, "HTTPS requirement disabled"},
		{"content_type.strict_mode", old.ContentType.StrictMode, updated.ContentType.StrictMode, "content-type enforcement disabled"},
		{"lockdown.enabled", old.Lockdown.Enabled, updated.Lockdown.Enabled, "lockdown deactivated by reload"},
	}
	for _, d := range downgrades {
		if d.old && !d.new {
			warnings = append(warnings, ReloadWarning{Field: d.field, Message: d.msg})
		}
	}

	if updated.RateLimit.RequestsPerWindow > old.RateLimit.RequestsPerWindow {
		warnings = append(warnings, ReloadWarning{
			Field:   "rate_limit.requests_per_window",
			Message: fmt.Sprintf("request budget raised from %d to %d", old.RateLimit.RequestsPerWindow, updated.RateLimit.RequestsPerWindow),
		})
	}
	if *updated.RateLimit.BurstSize > *old.RateLimit.BurstSize {
		warnings = append(warnings, ReloadWarning{
			Field:   "rate_limit.burst_size",
			Message: fmt.Sprintf("burst allowance raised from %d to %d", *old.RateLimit.BurstSize, *updated.RateLimit.BurstSize),
		})
	}
	if updated.Validation.MaxPayloadSize > old.Validation.MaxPayloadSize {
		warnings = append(warnings, ReloadWarning{
			Field:   "validation.max_payload_size",
			Message: fmt.Sprintf("payload cap raised from %d to %d bytes", old.Validation.MaxPayloadSize, updated.Validation.MaxPayloadSize),
		})
	}
	if len(updated.Auth.APIKeys) < len(old.Auth.APIKeys) {
		warnings = append(warnings, ReloadWarning{
			Field:   "auth.api_keys",
			Message: fmt.Sprintf("API keys reduced from %d to %d", len(old.Auth.APIKeys), len(updated.Auth.APIKeys)),
		})
	}
	if old.Auth.SigningSecret != "" && updated.Auth.SigningSecret == "" {
		warnings = append(warnings, ReloadWarning{
			Field:   "auth.signing_secret",
			Message: "signing secret removed, bearer tokens can no longer be verified",
		})
	}

	return warnings
}

// Defaults returns a Config with sensible defaults: rate limiting,
// validation, threat detection, and content-type advisories on; auth,
// CSRF, CORS, and HTTPS policy off until configured.
func Defaults() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func ptrBool(v bool) *bool { return &v }

func ptrInt(v int) *int { return &v }

// Bool returns a pointer to v. Callers building configs programmatically
// use it for the tri-state policy flags.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v, for tri-state numeric fields such as
// rate_limit.burst_size where an explicit zero is meaningful.
func Int(v int) *int { return &v }

// Float returns a pointer to v, for the tri-state sampling rate.
func Float(v float64) *float64 { return &v }
