package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polibrief.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load(writeConfig(t, "app:\n  debug: false\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Classifier.ConfidenceThreshold != 0.7 {
		t.Errorf("threshold = %v, want 0.7", cfg.Classifier.ConfidenceThreshold)
	}
	if cfg.Providers.Primary != "gemini" {
		t.Errorf("primary = %q", cfg.Providers.Primary)
	}
	if cfg.Providers.MaxRetriesPerProvider != 3 {
		t.Errorf("max retries = %d", cfg.Providers.MaxRetriesPerProvider)
	}
	if cfg.Digest.MaxClusters != 5 {
		t.Errorf("max clusters = %d", cfg.Digest.MaxClusters)
	}
	if cfg.Digest.WindowDuration() != 24*time.Hour {
		t.Errorf("window = %v", cfg.Digest.WindowDuration())
	}
	if cfg.Providers.BaseBackoff() != 500*time.Millisecond {
		t.Errorf("backoff = %v", cfg.Providers.BaseBackoff())
	}
	if cfg.Ranking.HalfLife() != 24*time.Hour {
		t.Errorf("half life = %v", cfg.Ranking.HalfLife())
	}
}

func TestLoadFileOverrides(t *testing.T) {
	Reset()
	defer Reset()

	path := writeConfig(t, `
providers:
  primary: OpenAI
  fallback_order: [anthropic]
  max_retries_per_provider: 2
classifier:
  confidence_threshold: 0.8
digest:
  schedule_time: "06:30"
app:
  timezone: Europe/Berlin
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Providers.Primary != "openai" {
		t.Errorf("primary should be normalized, got %q", cfg.Providers.Primary)
	}
	if len(cfg.Providers.FallbackOrder) != 1 || cfg.Providers.FallbackOrder[0] != "anthropic" {
		t.Errorf("fallback order = %v", cfg.Providers.FallbackOrder)
	}
	if cfg.Classifier.ConfidenceThreshold != 0.8 {
		t.Errorf("threshold = %v", cfg.Classifier.ConfidenceThreshold)
	}
	if cfg.App.Location().String() != "Europe/Berlin" {
		t.Errorf("location = %v", cfg.App.Location())
	}
}

func TestLoadBindsEnvironment(t *testing.T) {
	Reset()
	defer Reset()

	t.Setenv("GOOGLE_AI_API_KEY", "g-key")
	t.Setenv("ANTHROPIC_API_KEY", "a-key")

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Gemini.APIKey != "g-key" {
		t.Errorf("gemini key = %q", cfg.Providers.Gemini.APIKey)
	}
	if acct, ok := cfg.Providers.Account("anthropic"); !ok || acct.APIKey != "a-key" {
		t.Errorf("anthropic account = %+v", acct)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"unknown provider", "providers:\n  primary: llama\n", "Unknown primary provider"},
		{"bad threshold", "classifier:\n  confidence_threshold: 1.5\n", "confidence_threshold"},
		{"bad aggregation", "ranking:\n  aggregation: median\n", "ranking.aggregation"},
		{"bad schedule", "digest:\n  schedule_time: \"7am\"\n", "schedule_time"},
		{"postgres without dsn", "database:\n  driver: postgres\n", "database.dsn"},
		{"flagged not in categories", "classifier:\n  categories: [sports]\n", "flagged category"},
		{"bad duration", "digest:\n  window: forever\n", "invalid duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Reset()
			defer Reset()
			t.Setenv("DATABASE_URL", "")

			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/data.db"); got != filepath.Join(home, "data.db") {
		t.Errorf("expandPath() = %q", got)
	}
	t.Setenv("POLIBRIEF_TEST_DIR", "/tmp/x")
	if got := expandPath("$POLIBRIEF_TEST_DIR/db"); got != "/tmp/x/db" {
		t.Errorf("expandPath() = %q", got)
	}
}
