package llm

import (
	"context"
	"os"
	"strings"
	"testing"

	"polibrief/internal/core"
)

var testCategories = []string{"political", "technology", "sports"}

func TestNewProvider_UnknownName(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Name: "llama"})
	if err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}

func TestNewProvider_RequiresKey(t *testing.T) {
	for _, name := range []string{"openai", "anthropic", "gemini"} {
		t.Run(name, func(t *testing.T) {
			if _, err := NewProvider(context.Background(), Config{Name: name}); err == nil {
				t.Error("expected error for missing API key")
			}
		})
	}
}

func TestNewProvider_Gemini(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("GEMINI_API_KEY not set, skipping integration test")
	}
	p, err := NewProvider(context.Background(), Config{Name: "gemini", APIKey: apiKey})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Config{Name: "anthropic"}.withDefaults()
	if cfg.Model != DefaultAnthropicModel {
		t.Errorf("model = %q", cfg.Model)
	}
	if cfg.Timeout <= 0 || cfg.MaxTokens <= 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`, true},
		{"prose around", `Sure! {"a":1} Hope this helps.`, `{"a":1}`, true},
		{"no object", "I cannot help with that", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSON(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("extractJSON() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseCategoryResponse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantCat   string
		wantConf  float64
		malformed bool
	}{
		{"valid", `{"category":"political","confidence":0.92,"reasoning":"elections"}`, "political", 0.92, false},
		{"case insensitive", `{"category":" Political ","confidence":0.5}`, "political", 0.5, false},
		{"fenced", "```json\n{\"category\":\"sports\",\"confidence\":1}\n```", "sports", 1, false},
		{"unknown category", `{"category":"weather","confidence":0.9}`, "", 0, true},
		{"missing confidence", `{"category":"political"}`, "", 0, true},
		{"confidence too high", `{"category":"political","confidence":1.2}`, "", 0, true},
		{"negative confidence", `{"category":"political","confidence":-0.1}`, "", 0, true},
		{"not json", `CATEGORY: political`, "", 0, true},
		{"broken json", `{"category": "political", "confidence": }`, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCategoryResponse("test", tt.raw, testCategories)
			if tt.malformed {
				if !core.Is(err, core.ErrProviderMalformedResponse) {
					t.Fatalf("expected malformed response, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Category != tt.wantCat || got.Confidence != tt.wantConf {
				t.Errorf("got %s/%v, want %s/%v", got.Category, got.Confidence, tt.wantCat, tt.wantConf)
			}
			if got.Raw != tt.raw {
				t.Error("raw response not preserved")
			}
		})
	}
}

const validAnalysis = `{
  "bias_score": -0.4,
  "bias_confidence": 0.8,
  "bias_label": "left",
  "quality_score": 7,
  "credibility_score": 6.5,
  "loaded_language": ["radical agenda"],
  "executive_summary": "The senate passed a budget bill.",
  "detailed_summary": "Longer text.",
  "key_points": ["Budget passed", "Vote was 51-49"]
}`

func TestParseAnalysisResponse_Valid(t *testing.T) {
	got, err := ParseAnalysisResponse("test", validAnalysis)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.QualityScore != 7 || got.BiasScore != -0.4 || got.CredibilityScore != 6.5 {
		t.Errorf("scores not parsed: %+v", got)
	}
	if len(got.KeyPoints) != 2 || got.LoadedLanguage[0] != "radical agenda" {
		t.Errorf("lists not parsed: %+v", got)
	}
}

func TestParseAnalysisResponse_ScoreValidation(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
	}{
		{"bias too low", [2]string{`"bias_score": -0.4`, `"bias_score": -1.5`}},
		{"bias confidence too high", [2]string{`"bias_confidence": 0.8`, `"bias_confidence": 2`}},
		{"quality zero", [2]string{`"quality_score": 7`, `"quality_score": 0`}},
		{"quality eleven", [2]string{`"quality_score": 7`, `"quality_score": 11`}},
		{"quality fractional", [2]string{`"quality_score": 7`, `"quality_score": 7.5`}},
		{"credibility too low", [2]string{`"credibility_score": 6.5`, `"credibility_score": 0.5`}},
		{"missing bias", [2]string{`"bias_score": -0.4,`, ``}},
		{"empty summary", [2]string{`"The senate passed a budget bill."`, `""`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := strings.Replace(validAnalysis, tt.replace[0], tt.replace[1], 1)
			_, err := ParseAnalysisResponse("test", raw)
			if !core.Is(err, core.ErrProviderMalformedResponse) {
				t.Fatalf("expected malformed response, got %v", err)
			}
		})
	}
}

func TestErrorForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   core.ErrorCode
	}{
		{429, core.ErrProviderRateLimited},
		{500, core.ErrProviderUnavailable},
		{503, core.ErrProviderUnavailable},
		{408, core.ErrProviderUnavailable},
		{400, core.ErrProviderClientError},
		{401, core.ErrProviderClientError},
	}
	for _, tt := range tests {
		if got := errorForStatus("p", tt.status, nil); got.Code != tt.want {
			t.Errorf("status %d: got %s, want %s", tt.status, got.Code, tt.want)
		}
	}
	if got := transportError("p", context.DeadlineExceeded); got.Code != core.ErrProviderUnavailable {
		t.Errorf("timeout mapped to %s", got.Code)
	}
}
