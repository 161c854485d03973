package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newFileLogger builds a JSON file logger in a temp dir and returns it with
// the log path. Callers Close the logger before reading the file.
func newFileLogger(t *testing.T, includeAllowed, includeBlocked bool, sampleRate float64) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := New("json", "file", path, includeAllowed, includeBlocked, sampleRate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return logger, path
}

// readEntries parses every line of the log file as JSON.
func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}
	var entries []map[string]any
	for i, line := range strings.Split(trimmed, "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line %d is not valid JSON: %v\nline: %s", i, err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_StdoutJSON(t *testing.T) {
	logger, err := New("json", "stdout", "", true, true, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer logger.Close()
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	logger, err := New("json", "file", path, true, true, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer logger.Close()

	// Verify file was created with correct permissions
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected file permissions 0600, got %o", perm)
	}
}

func TestNew_FileOutputMissingPath(t *testing.T) {
	_, err := New("json", "file", "/nonexistent/dir/audit.log", true, true, 1.0)
	if err == nil {
		t.Error("expected error for nonexistent directory")
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	// Should not panic
	logger.LogAllowed("GET", "/api/users", "203.0.113.10", "req-1", "alice", 200, 1024, time.Second)
	logger.LogBlocked("POST", "/api/users", "203.0.113.10", "req-2", "xss", "xss pattern detected in body", 400)
	logger.LogRateLimited("GET", "/api/users", "203.0.113.10", "req-3", "", 30)
	logger.LogThreat("GET", "/admin", "203.0.113.10", "req-4", 70, []string{"scanner_user_agent"}, false)
	logger.LogError("GET", "/api/users", "203.0.113.10", "req-5", os.ErrNotExist)
	logger.LogSubsystemError("store", os.ErrClosed)
	logger.LogConfigReload("applied", "gatelock.yaml")
	logger.LogLockdownDeny("sentinel_file", "service unavailable", "203.0.113.10", "/api/users")
	logger.LogStartup(":8888", "probe")
	logger.LogShutdown("test")
	logger.Close()
}

func TestLogAllowed_Filtering(t *testing.T) {
	// includeAllowed=false should suppress allowed events
	logger, path := newFileLogger(t, false, true, 1.0)
	logger.LogAllowed("GET", "/api/users", "203.0.113.10", "req-1", "", 200, 1024, time.Second)
	logger.Close()

	if entries := readEntries(t, path); len(entries) != 0 {
		t.Errorf("expected allowed event to be filtered out, got %d entries", len(entries))
	}
}

func TestLogBlocked_Filtering(t *testing.T) {
	// includeBlocked=false should suppress blocked and rate-limited events
	logger, path := newFileLogger(t, true, false, 1.0)
	logger.LogBlocked("POST", "/login", "203.0.113.10", "req-1", "sql_injection", "sql injection pattern detected in body", 400)
	logger.LogRateLimited("GET", "/api", "203.0.113.10", "req-2", "", 30)
	logger.Close()

	if entries := readEntries(t, path); len(entries) != 0 {
		t.Errorf("expected blocked events to be filtered out, got %d entries", len(entries))
	}
}

func TestLogAllowed_IncludesAllFields(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	logger.LogAllowed("GET", "/api/users?page=2", "203.0.113.10", "req-42", "alice", 200, 5000, 150*time.Millisecond)
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	checks := map[string]any{
		"event":      "allowed",
		"method":     "GET",
		"path":       "/api/users?page=2",
		"component":  "gatelock",
		"client_ip":  "203.0.113.10",
		"request_id": "req-42",
		"identity":   "alice",
	}
	for key, want := range checks {
		if entry[key] != want {
			t.Errorf("expected %s=%v, got %v", key, want, entry[key])
		}
	}

	// Numeric fields unmarshal as float64
	if statusCode, ok := entry["status_code"].(float64); !ok || statusCode != 200 {
		t.Errorf("expected status_code=200, got %v", entry["status_code"])
	}
	if sizeBytes, ok := entry["size_bytes"].(float64); !ok || sizeBytes != 5000 {
		t.Errorf("expected size_bytes=5000, got %v", entry["size_bytes"])
	}
	if entry["duration_ms"] == nil {
		t.Error("expected duration_ms field")
	}
	if entry["time"] == nil {
		t.Error("expected time field")
	}
}

func TestLogBlocked_IncludesTechnique(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	logger.LogBlocked("POST", "/comment", "198.51.100.7", "req-7", "xss", "xss pattern detected in body", 400)
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	checks := map[string]any{
		"event":      "blocked",
		"method":     "POST",
		"path":       "/comment",
		"client_ip":  "198.51.100.7",
		"request_id": "req-7",
		"stage":      "xss",
		"reason":     "xss pattern detected in body",
		"technique":  "T1059.007",
	}
	for key, want := range checks {
		if entry[key] != want {
			t.Errorf("expected %s=%v, got %v", key, want, entry[key])
		}
	}
	if statusCode, ok := entry["status_code"].(float64); !ok || statusCode != 400 {
		t.Errorf("expected status_code=400, got %v", entry["status_code"])
	}
}

func TestLogBlocked_PolicyStageHasNoTechnique(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	logger.LogBlocked("POST", "/upload", "198.51.100.7", "req-8", "content_type", "unsupported content type", 415)
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if _, present := entries[0]["technique"]; present {
		t.Errorf("expected no technique field for content_type stage, got %v", entries[0]["technique"])
	}
}

func TestLogRateLimited_JSONFormat(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	logger.LogRateLimited("GET", "/api/search", "198.51.100.7", "req-9", "key:3f9a2b", 42)
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	if entry["event"] != "rate_limited" {
		t.Errorf("expected event=rate_limited, got %v", entry["event"])
	}
	if entry["identity"] != "key:3f9a2b" {
		t.Errorf("expected identity=key:3f9a2b, got %v", entry["identity"])
	}
	if retry, ok := entry["retry_after_seconds"].(float64); !ok || retry != 42 {
		t.Errorf("expected retry_after_seconds=42, got %v", entry["retry_after_seconds"])
	}
}

func TestLogThreat_JSONFormat(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	logger.LogThreat("GET", "/wp-admin", "198.51.100.7", "req-10", 70, []string{"scanner_user_agent", "suspicious"}, false)
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	if entry["event"] != "threat" {
		t.Errorf("expected event=threat, got %v", entry["event"])
	}
	if score, ok := entry["score"].(float64); !ok || score != 70 {
		t.Errorf("expected score=70, got %v", entry["score"])
	}
	if blocked, ok := entry["blocked"].(bool); !ok || blocked {
		t.Errorf("expected blocked=false, got %v", entry["blocked"])
	}
	flags, ok := entry["flags"].([]any)
	if !ok || len(flags) != 2 {
		t.Fatalf("expected 2 flags, got %v", entry["flags"])
	}
	if flags[0] != "scanner_user_agent" {
		t.Errorf("expected first flag scanner_user_agent, got %v", flags[0])
	}
}

func TestLogError_IncludesError(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	logger.LogError("GET", "/api/users", "203.0.113.10", "req-11", os.ErrNotExist)
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	if entry["event"] != "error" {
		t.Errorf("expected event=error, got %v", entry["event"])
	}
	if entry["error"] == nil || entry["error"] == "" {
		t.Error("expected error field to be populated")
	}
	if entry["request_id"] != "req-11" {
		t.Errorf("expected request_id=req-11, got %v", entry["request_id"])
	}
}

func TestLogSubsystemError_JSONFormat(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	logger.LogSubsystemError("store", os.ErrClosed)
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	if entry["event"] != "error" {
		t.Errorf("expected event=error, got %v", entry["event"])
	}
	if entry["subsystem"] != "store" {
		t.Errorf("expected subsystem=store, got %v", entry["subsystem"])
	}
	if entry["error"] == nil {
		t.Error("expected error field to be populated")
	}
}

func TestLogConfigReload_JSONFormat(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	logger.LogConfigReload("applied", "2 warnings")
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	if entry["event"] != "config_reload" {
		t.Errorf("expected event=config_reload, got %v", entry["event"])
	}
	if entry["status"] != "applied" {
		t.Errorf("expected status=applied, got %v", entry["status"])
	}
	if entry["detail"] != "2 warnings" {
		t.Errorf("expected detail='2 warnings', got %v", entry["detail"])
	}
}

func TestLogLockdownDeny_JSONFormat(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	logger.LogLockdownDeny("sentinel_file", "service temporarily unavailable", "203.0.113.10", "/api/users")
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	if entry["event"] != "lockdown_deny" {
		t.Errorf("expected event=lockdown_deny, got %v", entry["event"])
	}
	if entry["source"] != "sentinel_file" {
		t.Errorf("expected source=sentinel_file, got %v", entry["source"])
	}
	if entry["deny_message"] != "service temporarily unavailable" {
		t.Errorf("expected deny_message, got %v", entry["deny_message"])
	}
	if entry["path"] != "/api/users" {
		t.Errorf("expected path=/api/users, got %v", entry["path"])
	}
}

func TestLogStartup(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	logger.LogStartup(":8888", "gateway")
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	if entry["event"] != "startup" {
		t.Errorf("expected event=startup, got %v", entry["event"])
	}
	if entry["listen"] != ":8888" {
		t.Errorf("expected listen=:8888, got %v", entry["listen"])
	}
	if entry["mode"] != "gateway" {
		t.Errorf("expected mode=gateway, got %v", entry["mode"])
	}
}

func TestLogShutdown_JSONFormat(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	logger.LogShutdown("signal received")
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	if entry["event"] != "shutdown" {
		t.Errorf("expected event=shutdown, got %v", entry["event"])
	}
	if entry["reason"] != "signal received" {
		t.Errorf("expected reason='signal received', got %v", entry["reason"])
	}
}

func TestLogger_DoubleClose(t *testing.T) {
	logger, _ := newFileLogger(t, true, true, 1.0)

	// Close twice, should not panic
	logger.Close()
	logger.Close()
}

func TestNewNop_CloseIsSafe(t *testing.T) {
	logger := NewNop()
	logger.Close()
	logger.Close()
	logger.Close()
}

func TestLogger_MultipleEvents(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)

	logger.LogStartup(":8888", "probe")
	logger.LogAllowed("GET", "/a", "203.0.113.10", "req-1", "", 200, 100, time.Millisecond)
	logger.LogBlocked("GET", "/b", "203.0.113.10", "req-2", "path_traversal", "path traversal pattern detected in path", 400)
	logger.LogRateLimited("GET", "/c", "203.0.113.10", "req-3", "", 30)
	logger.LogError("GET", "/d", "203.0.113.10", "req-4", os.ErrNotExist)
	logger.LogShutdown("done")
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 6 {
		t.Errorf("expected 6 log lines, got %d", len(entries))
	}
}

func TestTraceSampling_FullRateKeepsEveryEntry(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	for i := 0; i < 25; i++ {
		logger.LogAllowed("GET", "/a", "203.0.113.10", "req", "", 200, 0, 0)
	}
	logger.Close()

	if entries := readEntries(t, path); len(entries) != 25 {
		t.Errorf("expected 25 entries at full sample rate, got %d", len(entries))
	}
}

func TestTraceSampling_ZeroRateSuppressesAllowedOnly(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 0)
	logger.LogAllowed("GET", "/a", "203.0.113.10", "req-1", "", 200, 0, 0)
	logger.LogBlocked("GET", "/b", "203.0.113.10", "req-2", "xss", "xss pattern detected in path", 400)
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected only the blocked entry, got %d entries", len(entries))
	}
	if entries[0]["event"] != "blocked" {
		t.Errorf("expected surviving entry to be blocked, got %v", entries[0]["event"])
	}
}

func TestTraceSampling_FractionalRateDropsEntries(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 0.25)
	for i := 0; i < 400; i++ {
		logger.LogAllowed("GET", "/a", "203.0.113.10", "req", "", 200, 0, 0)
	}
	logger.Close()

	// Each entry survives with probability 1/4; seeing none or all of 400
	// is effectively impossible.
	got := len(readEntries(t, path))
	if got == 0 || got == 400 {
		t.Errorf("expected a strict subset of 400 entries at rate 0.25, got %d", got)
	}
}

func TestWith_AddsFieldToEveryEntry(t *testing.T) {
	logger, path := newFileLogger(t, true, true, 1.0)
	sub := logger.With("listener", "admin")
	sub.LogAllowed("GET", "/a", "203.0.113.10", "req-1", "", 200, 0, 0)
	sub.LogBlocked("GET", "/b", "203.0.113.10", "req-2", "auth", "unauthorized", 401)
	logger.LogShutdown("done")
	logger.Close()

	entries := readEntries(t, path)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0]["listener"] != "admin" {
		t.Errorf("expected sampled allowed entry to carry listener=admin, got %v", entries[0]["listener"])
	}
	if entries[1]["listener"] != "admin" {
		t.Errorf("expected blocked entry to carry listener=admin, got %v", entries[1]["listener"])
	}
	if _, present := entries[2]["listener"]; present {
		t.Error("expected root logger entry to lack the sub-logger field")
	}
}

func TestNew_BothOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	logger, err := New("json", "both", path, true, true, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.LogStartup(":8888", "probe")
	logger.Close()

	// Verify file was written
	data, _ := os.ReadFile(path)
	if len(data) == 0 {
		t.Error("expected log file to have content with 'both' output")
	}
}

func TestNew_TextFormat(t *testing.T) {
	// Text format with console writer, should not error
	logger, err := New("text", "stdout", "", true, true, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer logger.Close()

	// Should not panic
	logger.LogStartup(":8888", "probe")
}

func TestNew_DefaultsToStdout(t *testing.T) {
	// Empty writers list should default to stdout
	logger, err := New("json", "invalid_output", "", true, true, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer logger.Close()
}
