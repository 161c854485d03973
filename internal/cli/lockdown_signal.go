//go:build !windows

package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/harborlight/gatelock/internal/audit"
	"github.com/harborlight/gatelock/internal/lockdown"
)

// watchLockdownSignal toggles the lockdown controller on SIGUSR1. The
// returned stop function unregisters the handler and ends the goroutine.
func watchLockdownSignal(ld *lockdown.Controller, logger *audit.Logger) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for range ch {
			if ld.ToggleSignal() {
				logger.LogConfigReload("lockdown", "activated by SIGUSR1")
			} else {
				logger.LogConfigReload("lockdown", "deactivated by SIGUSR1")
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
	}
}
