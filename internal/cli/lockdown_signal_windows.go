//go:build windows

package cli

import (
	"github.com/harborlight/gatelock/internal/audit"
	"github.com/harborlight/gatelock/internal/lockdown"
)

// watchLockdownSignal is a stub on Windows, which has no SIGUSR1.
// Lockdown is still reachable via config, sentinel file, and the API.
func watchLockdownSignal(_ *lockdown.Controller, _ *audit.Logger) func() {
	return func() {}
}
