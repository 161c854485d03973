package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, path string, requestsPerWindow int) {
	t.Helper()
	content := []byte("version: 1\nrate_limit:\n  requests_per_window: " +
		strconv.Itoa(requestsPerWindow) + "\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
}

func startTestReloader(t *testing.T, path string, current *Config) *Reloader {
	t.Helper()
	r := NewReloader(path, current)
	t.Cleanup(r.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	go func() {
		if err := r.Start(ctx); err != nil {
			t.Errorf("reloader error: %v", err)
		}
	}()

	// Give the watcher time to start.
	time.Sleep(200 * time.Millisecond)
	return r
}

func TestReloader_FileChange(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gatelock.yaml")
	writeTestConfig(t, cfgPath, 60)

	r := startTestReloader(t, cfgPath, Defaults())

	writeTestConfig(t, cfgPath, 90)

	select {
	case reload := <-r.Changes():
		if reload.Config.RateLimit.RequestsPerWindow != 90 {
			t.Errorf("expected budget 90, got %d", reload.Config.RateLimit.RequestsPerWindow)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestReloader_DowngradeWarnings(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gatelock.yaml")
	writeTestConfig(t, cfgPath, 60)

	r := startTestReloader(t, cfgPath, Defaults())

	// Disabling validation is a downgrade against the running config.
	content := []byte("version: 1\nvalidation:\n  enabled: false\n")
	if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case reload := <-r.Changes():
		var found bool
		for _, w := range reload.Warnings {
			if w.Field == "validation.enabled" {
				found = true
			}
		}
		if !found {
			t.Errorf("warnings = %v, want validation.enabled downgrade", reload.Warnings)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestReloader_BaselineAdvances(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gatelock.yaml")
	writeTestConfig(t, cfgPath, 60)

	r := startTestReloader(t, cfgPath, Defaults())

	// First reload raises the budget and is flagged.
	writeTestConfig(t, cfgPath, 120)
	select {
	case reload := <-r.Changes():
		if len(reload.Warnings) == 0 {
			t.Error("raised budget produced no warning")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out on first reload")
	}

	// Second reload lowers it again: no downgrade relative to the new baseline.
	writeTestConfig(t, cfgPath, 60)
	select {
	case reload := <-r.Changes():
		if len(reload.Warnings) != 0 {
			t.Errorf("tightened budget produced warnings: %v", reload.Warnings)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out on second reload")
	}
}

func TestReloader_InvalidConfigDropped(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gatelock.yaml")
	writeTestConfig(t, cfgPath, 60)

	r := startTestReloader(t, cfgPath, Defaults())

	bad := []byte("rate_limit:\n  window_seconds: -1\n")
	if err := os.WriteFile(cfgPath, bad, 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case reload := <-r.Changes():
		t.Fatalf("expected no emission for invalid file, got %+v", reload.Config.RateLimit)
	case <-time.After(500 * time.Millisecond):
		// Invalid configs are dropped; the old config stays active.
	}
}

func TestReloader_SIGHUPReload(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gatelock.yaml")
	writeTestConfig(t, cfgPath, 60)

	r := startTestReloader(t, cfgPath, Defaults())

	// SIGHUP re-reads from disk, so the file must change first.
	writeTestConfig(t, cfgPath, 75)
	time.Sleep(50 * time.Millisecond)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("failed to send SIGHUP: %v", err)
	}

	select {
	case reload := <-r.Changes():
		if reload.Config.RateLimit.RequestsPerWindow != 75 {
			t.Errorf("expected budget 75 after SIGHUP, got %d", reload.Config.RateLimit.RequestsPerWindow)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for SIGHUP-based reload")
	}
}

func TestReloader_RenameReload(t *testing.T) {
	// Simulate vim-style save: write temp file, rename over original.
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gatelock.yaml")
	writeTestConfig(t, cfgPath, 60)

	r := startTestReloader(t, cfgPath, Defaults())

	tmpPath := filepath.Join(dir, "gatelock.yaml.tmp")
	writeTestConfig(t, tmpPath, 80)
	if err := os.Rename(tmpPath, cfgPath); err != nil {
		t.Fatal(err)
	}

	select {
	case reload := <-r.Changes():
		if reload.Config.RateLimit.RequestsPerWindow != 80 {
			t.Errorf("expected budget 80, got %d", reload.Config.RateLimit.RequestsPerWindow)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for rename-based reload")
	}
}

func TestReloader_NonMatchingFileIgnored(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gatelock.yaml")
	writeTestConfig(t, cfgPath, 60)

	r := startTestReloader(t, cfgPath, Defaults())

	otherPath := filepath.Join(dir, "other.yaml")
	writeTestConfig(t, otherPath, 999)

	select {
	case <-r.Changes():
		t.Fatal("expected no emission for a different file")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestReloader_CloseStopsStart(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gatelock.yaml")
	writeTestConfig(t, cfgPath, 60)

	r := NewReloader(cfgPath, Defaults())

	done := make(chan struct{})
	go func() {
		_ = r.Start(context.Background())
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	r.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Close")
	}
}

func TestReloader_CloseIdempotent(t *testing.T) {
	r := NewReloader("/tmp/never-started.yaml", nil)
	r.Close()
	r.Close() // must not panic
}

func TestReloader_ContextCancellation(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gatelock.yaml")
	writeTestConfig(t, cfgPath, 60)

	r := NewReloader(cfgPath, Defaults())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = r.Start(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

func TestReloader_ChangesClosedAfterStart(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gatelock.yaml")
	writeTestConfig(t, cfgPath, 60)

	r := NewReloader(cfgPath, Defaults())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = r.Start(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if _, ok := <-r.Changes(); ok {
		t.Error("expected Changes() channel to be closed after Start returns")
	}
}
