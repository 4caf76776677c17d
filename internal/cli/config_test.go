package cli

import (
	"os"
	"strings"
	"testing"
)

func TestConfigSetAndShow(t *testing.T) {
	isolate(t)

	if _, err := executeCommand("config", "set", "import.interval", "6h"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := executeCommand("config", "set", "archive.bucket", "sheets"); err != nil {
		t.Fatalf("set: %v", err)
	}

	info, err := os.Stat(os.Getenv("TH_CONFIG"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config perm = %o, want 600", perm)
	}

	out, err := executeCommand("config", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"interval: 6h0m0s", "bucket: sheets", "driver: sqlite"} {
		if !strings.Contains(out, want) {
			t.Errorf("show missing %q:\n%s", want, out)
		}
	}
}

func TestConfigShowEnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("TH_LOG_LEVEL", "debug")

	out, err := executeCommand("config", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "level: debug") {
		t.Errorf("show ignores TH_LOG_LEVEL:\n%s", out)
	}
}

func TestConfigSetRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown key", []string{"config", "set", "store.colour", "blue"}},
		{"bad duration", []string{"config", "set", "import.timeout", "soon"}},
		{"invalid result", []string{"config", "set", "log.format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			if _, err := executeCommand(tt.args...); err == nil {
				t.Fatal("expected error")
			}
			if _, err := os.Stat(os.Getenv("TH_CONFIG")); !os.IsNotExist(err) {
				t.Errorf("config file written despite error: %v", err)
			}
		})
	}
}

func TestConfigPathFlag(t *testing.T) {
	isolate(t)

	out, err := executeCommand("config", "path", "--config", "/etc/th/config.yaml")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if strings.TrimSpace(out) != "/etc/th/config.yaml" {
		t.Errorf("path = %q", out)
	}
}
