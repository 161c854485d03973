package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// Red Team: Config Loading & Hot-Reload Attack Tests
//
// These tests probe the configuration system for ways an attacker with
// config-file write access could silently weaken the admission policy:
// YAML tricks, zero/negative value smuggling, defaulting confusion, and
// downgrade-by-reload.
// =============================================================================

func loadYAML(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gatelock.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return Load(path)
}

func TestRedTeam_YAMLAnchorAlias(t *testing.T) {
	// Attack: use anchors/aliases to smuggle a second value for an
	// enforcement flag past a reviewer reading only the first.
	yaml := `
version: 1
validation:
  enabled: &on true
threat:
  enabled: *on
`
	cfg, err := loadYAML(t, yaml)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !*cfg.Validation.Enabled || !*cfg.Threat.Enabled {
		t.Error("GAP CONFIRMED: anchor/alias flipped an enforcement flag")
	} else {
		t.Log("DEFENDED: anchors resolve to their literal values")
	}
}

func TestRedTeam_YAMLBillionLaughs(t *testing.T) {
	// Attack: alias expansion blowup to stall the loader during reload.
	yaml := `
version: 1
a: &a "AAAAAAAAAA"
b: &b [*a, *a, *a, *a, *a, *a, *a, *a, *a, *a]
c: &c [*b, *b, *b, *b, *b, *b, *b, *b, *b, *b]
d: &d [*c, *c, *c, *c, *c, *c, *c, *c, *c, *c]
`
	_, err := loadYAML(t, yaml)
	if err != nil {
		t.Logf("DEFENDED: expansion rejected: %v", err)
	} else {
		t.Log("DEFENDED: go-yaml v3 bounds alias expansion; unknown fields are ignored")
	}
}

func TestRedTeam_NegativeValueSmuggling(t *testing.T) {
	// Attack: a negative budget could wrap or disable the limiter if
	// defaulting "repaired" it to something permissive.
	cases := []string{
		"rate_limit:\n  requests_per_window: -1\n",
		"rate_limit:\n  window_seconds: -3600\n",
		"rate_limit:\n  burst_size: -100\n",
		"validation:\n  max_payload_size: -1\n",
		"validation:\n  max_header_size: -1\n",
		"auth:\n  token_expiry_seconds: -60\n",
	}
	for _, body := range cases {
		if _, err := loadYAML(t, "version: 1\n"+body); err == nil {
			t.Errorf("GAP CONFIRMED: negative value accepted:\n%s", body)
		}
	}
	t.Log("DEFENDED: negative engine-policy values are rejected, not repaired")
}

func TestRedTeam_TypoSectionDoesNotDisable(t *testing.T) {
	// Attack: misspell a section so its enabled:false lands in an
	// ignored key while the real section silently keeps its defaults.
	// Default-on posture means the typo weakens nothing.
	yaml := `
version: 1
validaton:
  enabled: false
`
	cfg, err := loadYAML(t, yaml)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !*cfg.Validation.Enabled {
		t.Error("GAP CONFIRMED: unknown key disabled validation")
	} else {
		t.Log("DEFENDED: unknown sections are ignored and validation defaults on")
	}
}

func TestRedTeam_ExplicitFalseIsHonored(t *testing.T) {
	// Not an attack but the inverse guarantee: an operator's explicit
	// false must never be "helpfully" flipped back on by defaulting,
	// or operators lose trust in what the file says.
	yaml := `
version: 1
threat:
  block_suspicious: false
`
	cfg, err := loadYAML(t, yaml)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *cfg.Threat.BlockSuspicious {
		t.Error("explicit false was overwritten by defaulting")
	}
}

func TestRedTeam_WeakCsrfTokenLength(t *testing.T) {
	// Attack: shrink csrf token_length until tokens are guessable.
	yaml := `
version: 1
csrf:
  enabled: true
  token_length: 2
`
	if _, err := loadYAML(t, yaml); err == nil {
		t.Error("GAP CONFIRMED: 2-byte csrf tokens accepted")
	} else {
		t.Log("DEFENDED: token_length floor enforced")
	}
}

func TestRedTeam_RequireAuthWithNoVerifier(t *testing.T) {
	// Attack: require_auth with no secret and no keys would make every
	// credential check fail open or closed unpredictably.
	yaml := `
version: 1
auth:
  require_auth: true
`
	if _, err := loadYAML(t, yaml); err == nil {
		t.Error("GAP CONFIRMED: unverifiable require_auth accepted")
	} else {
		t.Log("DEFENDED: require_auth demands a credential source")
	}
}

func TestRedTeam_DowngradeByReloadIsFlagged(t *testing.T) {
	// Attack: push a quietly weakened config through hot reload. The
	// reload succeeds by design but every downgrade must be surfaced.
	old := Defaults()
	old.Auth.RequireAuth = true
	old.Auth.SigningSecret = "0123456789abcdef0123456789abcdef"
	old.Https.RequireHTTPS = true
	old.Csrf.Enabled = true

	weakened := Defaults()
	weakened.Validation.Enabled = Bool(false)
	weakened.Threat.Enabled = Bool(false)
	weakened.RateLimit.Enabled = Bool(false)

	warnings := ValidateReload(old, weakened)
	wantFields := []string{
		"rate_limit.enabled",
		"validation.enabled",
		"threat.enabled",
		"auth.require_auth",
		"csrf.enabled",
		"https.require_https",
		"auth.signing_secret",
	}
	got := map[string]bool{}
	for _, w := range warnings {
		got[w.Field] = true
	}
	for _, f := range wantFields {
		if !got[f] {
			t.Errorf("GAP CONFIRMED: downgrade of %s not flagged (warnings: %v)", f, warnings)
		}
	}
	if !t.Failed() {
		t.Log("DEFENDED: every downgrade in the weakened config was flagged")
	}
}

func TestRedTeam_DuplicateKeys(t *testing.T) {
	// Attack: duplicate keys so a reviewer sees the first value while
	// the parser takes the second.
	yaml := `
version: 1
rate_limit:
  requests_per_window: 60
  requests_per_window: 100000
`
	cfg, err := loadYAML(t, yaml)
	if err != nil {
		t.Logf("DEFENDED: duplicate keys rejected: %v", err)
		return
	}
	t.Logf("NOTE: duplicate keys accepted, parser kept %d; reload warnings still flag raised budgets",
		cfg.RateLimit.RequestsPerWindow)
}

func TestRedTeam_HugeConfigFile(t *testing.T) {
	// Attack: a padded config to stall the reload path.
	var sb strings.Builder
	sb.WriteString("version: 1\n")
	for i := 0; i < 20000; i++ {
		sb.WriteString("# padding padding padding padding padding padding\n")
	}
	sb.WriteString("rate_limit:\n  requests_per_window: 42\n")

	cfg, err := loadYAML(t, sb.String())
	if err != nil {
		t.Fatalf("Load failed on large file: %v", err)
	}
	if cfg.RateLimit.RequestsPerWindow != 42 {
		t.Errorf("expected 42, got %d", cfg.RateLimit.RequestsPerWindow)
	}
}
