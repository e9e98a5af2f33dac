package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseOverlaysDefaults(t *testing.T) {
	yaml := `
name: Jeeves
model: gpt-4o
scheduler:
  quiet_window_seconds: 10
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Name != "Jeeves" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("model = %q", cfg.Model)
	}
	if got := cfg.Scheduler.QuietWindow().Seconds(); got != 10 {
		t.Errorf("quiet window = %vs", got)
	}
	// Unset values keep defaults.
	if cfg.Scheduler.ScanIntervalSeconds != 1 {
		t.Errorf("scan interval = %d, want default 1", cfg.Scheduler.ScanIntervalSeconds)
	}
	if cfg.Database.Path != "./data/butler.db" {
		t.Errorf("db path = %q, want default", cfg.Database.Path)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("name: [unclosed")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("BUTLERDUCK_TEST_MODEL", "gpt-4-turbo")
	t.Setenv("BUTLERDUCK_API_KEY", "sk-test-123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "model: ${BUTLERDUCK_TEST_MODEL}\napi:\n  api_key: ${UNSET_PLACEHOLDER_VAR}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != "gpt-4-turbo" {
		t.Errorf("model = %q, env var not expanded", cfg.Model)
	}
	// Unresolved placeholder falls back to the env secret chain.
	if cfg.API.APIKey != "sk-test-123" {
		t.Errorf("api key = %q, want value from BUTLERDUCK_API_KEY", cfg.API.APIKey)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err == nil {
		t.Error("expected error for missing telegram token")
	}
	cfg.Telegram.Token = "123:abc"
	if err := Validate(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIsEnvReference(t *testing.T) {
	if !IsEnvReference("${FOO}") || !IsEnvReference("$FOO") {
		t.Error("env references not detected")
	}
	if IsEnvReference("sk-real-key") {
		t.Error("plain value detected as reference")
	}
}
