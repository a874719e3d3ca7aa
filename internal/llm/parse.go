package llm

import (
	"encoding/json"
	"math"
	"strings"

	"polibrief/internal/core"
)

// extractJSON returns the JSON object embedded in a model answer, tolerating
// markdown fences and leading or trailing prose.
func extractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// ParseCategoryResponse validates a classification answer against the allowed categories.
func ParseCategoryResponse(provider, raw string, categories []string) (CategoryResult, error) {
	body, ok := extractJSON(raw)
	if !ok {
		return CategoryResult{}, core.NewMalformedResponse(provider, "no JSON object in classification response")
	}

	var payload struct {
		Category   string   `json:"category"`
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return CategoryResult{}, core.NewMalformedResponse(provider, "invalid classification JSON: %v", err)
	}

	category, ok := matchCategory(payload.Category, categories)
	if !ok {
		return CategoryResult{}, core.NewMalformedResponse(provider, "category %q is not one of %v", payload.Category, categories)
	}
	if payload.Confidence == nil {
		return CategoryResult{}, core.NewMalformedResponse(provider, "confidence missing")
	}
	if !inRange(*payload.Confidence, 0, 1) {
		return CategoryResult{}, core.NewMalformedResponse(provider, "confidence %v outside [0,1]", *payload.Confidence)
	}

	return CategoryResult{
		Category:   category,
		Confidence: *payload.Confidence,
		Reasoning:  strings.TrimSpace(payload.Reasoning),
		Raw:        raw,
	}, nil
}

func matchCategory(got string, categories []string) (string, bool) {
	got = strings.ToLower(strings.TrimSpace(got))
	for _, c := range categories {
		if strings.ToLower(c) == got {
			return c, true
		}
	}
	return "", false
}

// ParseAnalysisResponse validates an analysis answer. Out-of-range or missing
// score fields make the whole response malformed.
func ParseAnalysisResponse(provider, raw string) (AnalysisResult, error) {
	body, ok := extractJSON(raw)
	if !ok {
		return AnalysisResult{}, core.NewMalformedResponse(provider, "no JSON object in analysis response")
	}

	var payload struct {
		BiasScore        *float64 `json:"bias_score"`
		BiasConfidence   *float64 `json:"bias_confidence"`
		BiasLabel        string   `json:"bias_label"`
		QualityScore     *float64 `json:"quality_score"`
		CredibilityScore *float64 `json:"credibility_score"`
		LoadedLanguage   []string `json:"loaded_language"`
		ExecutiveSummary string   `json:"executive_summary"`
		DetailedSummary  string   `json:"detailed_summary"`
		KeyPoints        []string `json:"key_points"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return AnalysisResult{}, core.NewMalformedResponse(provider, "invalid analysis JSON: %v", err)
	}

	switch {
	case payload.BiasScore == nil || !inRange(*payload.BiasScore, -1, 1):
		return AnalysisResult{}, core.NewMalformedResponse(provider, "bias_score missing or outside [-1,1]")
	case payload.BiasConfidence == nil || !inRange(*payload.BiasConfidence, 0, 1):
		return AnalysisResult{}, core.NewMalformedResponse(provider, "bias_confidence missing or outside [0,1]")
	case payload.QualityScore == nil || !inRange(*payload.QualityScore, 1, 10) || *payload.QualityScore != math.Trunc(*payload.QualityScore):
		return AnalysisResult{}, core.NewMalformedResponse(provider, "quality_score missing or not an integer in [1,10]")
	case payload.CredibilityScore == nil || !inRange(*payload.CredibilityScore, 1, 10):
		return AnalysisResult{}, core.NewMalformedResponse(provider, "credibility_score missing or outside [1,10]")
	case strings.TrimSpace(payload.ExecutiveSummary) == "":
		return AnalysisResult{}, core.NewMalformedResponse(provider, "executive_summary missing")
	}

	return AnalysisResult{
		BiasScore:        *payload.BiasScore,
		BiasConfidence:   *payload.BiasConfidence,
		BiasLabel:        payload.BiasLabel,
		QualityScore:     int(*payload.QualityScore),
		CredibilityScore: *payload.CredibilityScore,
		LoadedLanguage:   payload.LoadedLanguage,
		ExecutiveSummary: payload.ExecutiveSummary,
		DetailedSummary:  payload.DetailedSummary,
		KeyPoints:        payload.KeyPoints,
		Raw:              raw,
	}, nil
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
