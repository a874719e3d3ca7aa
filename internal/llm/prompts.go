package llm

import (
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	classifySystemPrompt = "You are a precise content classifier. Answer with a single JSON object and nothing else."
	analyzeSystemPrompt  = "You are a careful, non-partisan media analyst. Answer with a single JSON object and nothing else."
)

// BuildClassifyPrompt renders the classification prompt.
//
// Expected response:
//
//	{"category": "<one of the categories>", "confidence": 0.0-1.0, "reasoning": "<one sentence>"}
func BuildClassifyPrompt(req ClassifyRequest) string {
	return fmt.Sprintf(`Classify the content below into exactly one of these categories:
%s

CONTENT:
Title: %s
Body: %s

Respond with JSON only:
{"category": "<category>", "confidence": <number between 0 and 1>, "reasoning": "<one sentence>"}

Use a low confidence when the content could reasonably belong to more than one category.`,
		strings.Join(req.Categories, ", "), req.Title, req.Body)
}

// BuildAnalyzePrompt renders the political analysis prompt.
//
// Expected response:
//
//	{
//	  "bias_score": -1.0..1.0,          // negative leans left, positive leans right
//	  "bias_confidence": 0.0..1.0,
//	  "bias_label": "left|center|right",
//	  "quality_score": 1..10,           // integer
//	  "credibility_score": 1.0..10.0,
//	  "loaded_language": ["..."],
//	  "executive_summary": "50-100 words",
//	  "detailed_summary": "200-300 words",
//	  "key_points": ["..."]
//	}
func BuildAnalyzePrompt(req AnalyzeRequest) string {
	return fmt.Sprintf(`Analyze the political content below.

CONTENT:
Title: %s
Body: %s

Respond with JSON only, using exactly these fields:
{
  "bias_score": <number from -1.0 (left) to 1.0 (right)>,
  "bias_confidence": <number from 0 to 1>,
  "bias_label": "left" | "center" | "right",
  "quality_score": <integer from 1 to 10>,
  "credibility_score": <number from 1.0 to 10.0>,
  "loaded_language": [<emotionally loaded phrases quoted from the text>],
  "executive_summary": "<50 to 100 words>",
  "detailed_summary": "<200 to 300 words>",
  "key_points": [<3 to 7 short bullet points>]
}

Judge quality on sourcing, specificity and factual density, not on whether you agree.`,
		req.Title, req.Body)
}

func classifySchema(categories []string) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"category":   {Type: genai.TypeString, Enum: categories},
			"confidence": {Type: genai.TypeNumber},
			"reasoning":  {Type: genai.TypeString},
		},
		Required: []string{"category", "confidence"},
	}
}

func analysisSchema() *genai.Schema {
	stringList := &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"bias_score":        {Type: genai.TypeNumber},
			"bias_confidence":   {Type: genai.TypeNumber},
			"bias_label":        {Type: genai.TypeString, Enum: []string{"left", "center", "right"}},
			"quality_score":     {Type: genai.TypeInteger},
			"credibility_score": {Type: genai.TypeNumber},
			"loaded_language":   stringList,
			"executive_summary": {Type: genai.TypeString},
			"detailed_summary":  {Type: genai.TypeString},
			"key_points":        stringList,
		},
		Required: []string{
			"bias_score", "bias_confidence", "bias_label", "quality_score",
			"credibility_score", "executive_summary", "detailed_summary", "key_points",
		},
	}
}
