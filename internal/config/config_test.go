package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Quota != 3 {
		t.Errorf("expected quota 3, got %d", cfg.Quota)
	}
	if cfg.Silence != 1200*time.Millisecond {
		t.Errorf("expected 1.2s silence, got %v", cfg.Silence)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero quota", func(c *Config) { c.Quota = 0 }, true},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, true},
		{"temperature too high", func(c *Config) { c.Temperature = 2.5 }, true},
		{"zero silence", func(c *Config) { c.Silence = 0 }, true},
		{"negative grace", func(c *Config) { c.Grace = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RUVO_KEYS":              "k1, k2,k3",
		"RUVO_QUOTA":             "5",
		"RUVO_STRICT_EXHAUSTION": "true",
		"RUVO_SILENCE":           "1500ms",
		"RUVO_TEMPERATURE":       "0.2",
		"OPENAI_API_KEY":         "ignored",
	}
	cfg := Default()
	cfg.applyEnv(func(k string) string { return env[k] })

	if len(cfg.Keys) != 3 || cfg.Keys[2] != "k3" {
		t.Errorf("unexpected keys: %v", cfg.Keys)
	}
	if cfg.Quota != 5 {
		t.Errorf("expected quota 5, got %d", cfg.Quota)
	}
	if !cfg.StrictExhaustion {
		t.Error("expected strict exhaustion")
	}
	if cfg.Silence != 1500*time.Millisecond {
		t.Errorf("expected 1.5s silence, got %v", cfg.Silence)
	}
	if cfg.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", cfg.Temperature)
	}
}

func TestApplyEnvSingleKey(t *testing.T) {
	cfg := Default()
	cfg.applyEnv(func(k string) string {
		if k == "OPENAI_API_KEY" {
			return "only"
		}
		return ""
	})
	if len(cfg.Keys) != 1 || cfg.Keys[0] != "only" {
		t.Errorf("expected single key, got %v", cfg.Keys)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ruvo.yaml")
	data := []byte("keys: [a, b]\nquota: 4\nmodel: gpt-4o\nsilence: 2s\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RUVO_KEYS", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("RUVO_QUOTA", "")
	t.Setenv("RUVO_MODEL", "")
	t.Setenv("RUVO_SILENCE", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Keys) != 2 {
		t.Errorf("expected 2 keys, got %v", cfg.Keys)
	}
	if cfg.Quota != 4 {
		t.Errorf("expected quota 4, got %d", cfg.Quota)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %s", cfg.Model)
	}
	if cfg.Silence != 2*time.Second {
		t.Errorf("expected 2s silence, got %v", cfg.Silence)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSplitKeys(t *testing.T) {
	got := SplitKeys(" a,b \n c\t,, ")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("SplitKeys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SplitKeys[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
