// Package lockdown implements an emergency deny-all controller for Gatelock.
// Four activation sources (config, SIGUSR1, sentinel file, admin API) are
// OR-composed: any one being active engages lockdown and denies all requests
// before they reach the admission pipeline.
package lockdown

import (
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"github.com/harborlight/gatelock/internal/config"
)

// Decision describes the outcome of a lockdown check.
type Decision struct {
	Active  bool
	Message string
	Source  string // "config", "signal", "sentinel", "api"
}

// Controller manages lockdown state across four activation sources.
// The signal and API toggles live outside the config snapshot so they
// survive reloads.
type Controller struct {
	cfg     atomic.Pointer[runtime]
	sigusr1 atomic.Bool
	api     atomic.Bool
}

// runtime holds the parsed config state for atomic swap on reload.
type runtime struct {
	cfgEnabled    bool
	sentinelFile  string
	message       string
	apiToken      string
	healthExempt  bool
	metricsExempt bool
	apiExempt     bool
	allowlistNets []*net.IPNet
}

// New creates a Controller from the current config.
func New(cfg *config.Config) *Controller {
	c := &Controller{}
	c.cfg.Store(buildRuntime(cfg))
	return c
}

// buildRuntime parses config into the runtime struct.
func buildRuntime(cfg *config.Config) *runtime {
	rt := &runtime{
		cfgEnabled:   cfg.Lockdown.Enabled,
		sentinelFile: cfg.Lockdown.SentinelFile,
		message:      cfg.Lockdown.Message,
		apiToken:     cfg.Lockdown.APIToken,
	}

	if cfg.Lockdown.HealthExempt != nil {
		rt.healthExempt = *cfg.Lockdown.HealthExempt
	} else {
		rt.healthExempt = true
	}
	if cfg.Lockdown.MetricsExempt != nil {
		rt.metricsExempt = *cfg.Lockdown.MetricsExempt
	} else {
		rt.metricsExempt = true
	}
	if cfg.Lockdown.APIExempt != nil {
		rt.apiExempt = *cfg.Lockdown.APIExempt
	} else {
		rt.apiExempt = true
	}

	for _, cidr := range cfg.Lockdown.AllowlistIPs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err == nil {
			rt.allowlistNets = append(rt.allowlistNets, ipNet)
		}
	}

	return rt
}

// Check reports whether lockdown should deny an HTTP request.
// Exemptions (health/metrics/admin endpoints, allowlisted IPs) are
// applied before the active state is computed from the four sources.
func (c *Controller) Check(r *http.Request) Decision {
	rt := c.cfg.Load()

	path := r.URL.Path
	if rt.healthExempt && path == "/health" {
		return Decision{}
	}
	if rt.metricsExempt && path == "/metrics" {
		return Decision{}
	}
	// The admin endpoint stays reachable so operators can deactivate
	// lockdown through the API they activated it with.
	if rt.apiExempt && strings.HasPrefix(path, "/admin/lockdown") {
		return Decision{}
	}

	if len(rt.allowlistNets) > 0 {
		clientIP := extractIP(r.RemoteAddr)
		if clientIP != nil {
			for _, ipNet := range rt.allowlistNets {
				if ipNet.Contains(clientIP) {
					return Decision{}
				}
			}
		}
	}

	return c.computeDecision(rt)
}

// Active reports whether any activation source is engaged, ignoring
// per-request exemptions.
func (c *Controller) Active() bool {
	return c.computeDecision(c.cfg.Load()).Active
}

// ToggleSignal flips the SIGUSR1 activation source and returns the new state.
func (c *Controller) ToggleSignal() bool {
	// atomic.Bool has no toggle method, so use CompareAndSwap in a loop.
	for {
		current := c.sigusr1.Load()
		if c.sigusr1.CompareAndSwap(current, !current) {
			return !current
		}
	}
}

// SetAPI sets the admin API activation source.
func (c *Controller) SetAPI(active bool) {
	c.api.Store(active)
}

// Sources reports the current state of each activation source.
func (c *Controller) Sources() map[string]bool {
	rt := c.cfg.Load()

	sentinel := false
	if rt.sentinelFile != "" {
		if _, err := os.Stat(rt.sentinelFile); err == nil {
			sentinel = true
		}
	}

	return map[string]bool{
		"config":   rt.cfgEnabled,
		"signal":   c.sigusr1.Load(),
		"sentinel": sentinel,
		"api":      c.api.Load(),
	}
}

// Reload updates the config-derived state atomically.
// The SIGUSR1 and API toggle states are preserved across reloads.
func (c *Controller) Reload(cfg *config.Config) {
	c.cfg.Store(buildRuntime(cfg))
}

// computeDecision evaluates the four activation sources in priority order.
func (c *Controller) computeDecision(rt *runtime) Decision {
	// Priority: config > signal > sentinel > api.
	if rt.cfgEnabled {
		return Decision{Active: true, Message: rt.message, Source: "config"}
	}
	if c.sigusr1.Load() {
		return Decision{Active: true, Message: rt.message, Source: "signal"}
	}
	if rt.sentinelFile != "" {
		if _, err := os.Stat(rt.sentinelFile); err == nil {
			return Decision{Active: true, Message: rt.message, Source: "sentinel"}
		}
	}
	if c.api.Load() {
		return Decision{Active: true, Message: rt.message, Source: "api"}
	}
	return Decision{}
}

// extractIP parses the IP from a RemoteAddr (host:port or bare IP).
func extractIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}
