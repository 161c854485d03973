package cli

import (
	"strings"
	"testing"
)

func TestRootCmd_Version(t *testing.T) {
	out, err := runCommand(t, "--version")
	if err != nil {
		t.Fatalf("--version failed: %v", err)
	}
	if !strings.Contains(out, Version) {
		t.Errorf("expected version %q in output, got: %s", Version, out)
	}
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	if _, err := runCommand(t, "frobnicate"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := rootCmd()
	want := []string{"run", "check", "logs", "keys", "version"}
	for _, name := range want {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
