package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Executor.TickInterval.Std() != time.Second {
		t.Fatalf("tick_interval = %s, want 1s", cfg.Executor.TickInterval.Std())
	}
	if cfg.Executor.ClaimTimeout.Std() != 60*time.Second {
		t.Fatalf("claim_timeout = %s, want 60s", cfg.Executor.ClaimTimeout.Std())
	}
	if cfg.Approval.MaxRegenerationRounds != 3 {
		t.Fatalf("max_regeneration_rounds = %d, want 3", cfg.Approval.MaxRegenerationRounds)
	}
}

func TestLoadOverridesAndExpandsEnv(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-from-env")
	path := writeConfig(t, `
storage:
  driver: sqlite
  path: /tmp/rin-test.db
llm:
  provider: openai
  api_key: ${TEST_API_KEY}
  default_model: gpt-4o-mini
executor:
  tick_interval: 250ms
  max_retries: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/tmp/rin-test.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Fatalf("api_key = %q, want expanded env value", cfg.LLM.APIKey)
	}
	if cfg.Executor.TickInterval.Std() != 250*time.Millisecond {
		t.Fatalf("tick_interval = %s, want 250ms", cfg.Executor.TickInterval.Std())
	}
	// Unset knobs keep their defaults.
	if cfg.Executor.ClaimTimeout.Std() != 60*time.Second {
		t.Fatalf("claim_timeout = %s, want default 60s", cfg.Executor.ClaimTimeout.Std())
	}
	if cfg.Executor.MaxRetries != 5 {
		t.Fatalf("max_retries = %d, want 5", cfg.Executor.MaxRetries)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "storage:\n  driver: mongodb\n"},
		{"sqlite without path", "storage:\n  driver: sqlite\n  path: \"\"\n"},
		{"unknown provider", "llm:\n  provider: bard\n"},
		{"bad duration", "executor:\n  tick_interval: soon\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := Load(path); err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
		})
	}
}
