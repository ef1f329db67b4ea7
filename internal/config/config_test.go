package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadConfigDefaults verifies an empty path yields the defaults.
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Debugger.Kind != "debugpy" {
		t.Errorf("default kind = %q, want debugpy", cfg.Debugger.Kind)
	}
	if cfg.RequestTimeout.Std() != 10*time.Second {
		t.Errorf("default request timeout = %s", cfg.RequestTimeout.Std())
	}
	if cfg.LaunchTimeout.Std() != 30*time.Second {
		t.Errorf("default launch timeout = %s", cfg.LaunchTimeout.Std())
	}
}

// TestLoadConfigOverlay verifies file values overlay the defaults
// without wiping untouched fields.
func TestLoadConfigOverlay(t *testing.T) {
	path := writeConfig(t, `{
		"debugger": {"kind": "delve", "debuggerPath": "dlv", "transport": "tcp"},
		"launch": {"program": "./cmd/api", "stopOnEntry": true},
		"sourceDirs": ["/src"],
		"requestTimeout": "5s"
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Debugger.Kind != "delve" || cfg.Debugger.Transport != TransportTCP {
		t.Errorf("debugger = %+v", cfg.Debugger)
	}
	if cfg.Launch.Program != "./cmd/api" || !cfg.Launch.StopOnEntry {
		t.Errorf("launch = %+v", cfg.Launch)
	}
	if cfg.RequestTimeout.Std() != 5*time.Second {
		t.Errorf("request timeout = %s, want 5s", cfg.RequestTimeout.Std())
	}
	// Untouched field keeps its default.
	if cfg.LaunchTimeout.Std() != 30*time.Second {
		t.Errorf("launch timeout = %s, want default 30s", cfg.LaunchTimeout.Std())
	}
}

// TestLaunchConfigExtraPassthrough verifies unknown launch fields are
// kept opaquely rather than discarded.
func TestLaunchConfigExtraPassthrough(t *testing.T) {
	path := writeConfig(t, `{
		"launch": {
			"program": "app.py",
			"justMyCode": false,
			"django": true
		}
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Launch.Extra["justMyCode"] != false {
		t.Errorf("justMyCode lost: %+v", cfg.Launch.Extra)
	}
	if cfg.Launch.Extra["django"] != true {
		t.Errorf("django lost: %+v", cfg.Launch.Extra)
	}
	if _, ok := cfg.Launch.Extra["program"]; ok {
		t.Error("known field leaked into Extra")
	}
}

// TestDurationForms verifies durations parse from both strings and
// nanosecond numbers.
func TestDurationForms(t *testing.T) {
	path := writeConfig(t, `{"requestTimeout": "250ms", "launchTimeout": 1000000000}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.RequestTimeout.Std() != 250*time.Millisecond {
		t.Errorf("string duration = %s", cfg.RequestTimeout.Std())
	}
	if cfg.LaunchTimeout.Std() != time.Second {
		t.Errorf("numeric duration = %s", cfg.LaunchTimeout.Std())
	}
}

// TestLoadConfigBadJSON verifies parse failures surface with the path.
func TestLoadConfigBadJSON(t *testing.T) {
	path := writeConfig(t, `{"debugger": `)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

// TestValidate covers the rejection cases.
func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Launch.Program = "app.py"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	noProgram := DefaultConfig()
	if err := noProgram.Validate(); err == nil {
		t.Error("missing program accepted")
	}

	badTransport := DefaultConfig()
	badTransport.Launch.Program = "app.py"
	badTransport.Debugger.Transport = "carrier-pigeon"
	if err := badTransport.Validate(); err == nil {
		t.Error("unknown transport accepted")
	}
}
