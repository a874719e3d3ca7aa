package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"polibrief/internal/core"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicProvider implements Provider on the Messages API.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	config     Config
	limiter    *rate.Limiter
}

var _ Provider = (*AnthropicProvider)(nil)

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(config Config) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	return &AnthropicProvider{
		apiKey:     config.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		config:     config.withDefaults(),
		limiter:    newLimiter(config.RequestsPerSecond),
	}, nil
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Classify implements Provider.
func (p *AnthropicProvider) Classify(ctx context.Context, req ClassifyRequest) (CategoryResult, error) {
	return classifyWith(ctx, p.Name(), p, req)
}

// Analyze implements Provider.
func (p *AnthropicProvider) Analyze(ctx context.Context, req AnalyzeRequest) (AnalysisResult, error) {
	return analyzeWith(ctx, p.Name(), p, req)
}

func (p *AnthropicProvider) complete(ctx context.Context, pr prompt) (string, string, error) {
	if err := waitLimiter(ctx, p.limiter, p.Name()); err != nil {
		return "", "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.makeRequest(ctx, anthropicRequest{
		Model:       p.config.Model,
		MaxTokens:   p.config.MaxTokens,
		System:      pr.system,
		Messages:    []anthropicMessage{{Role: "user", Content: pr.user}},
		Temperature: float64(p.config.Temperature),
	})
	if err != nil {
		return "", "", err
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return "", "", core.NewMalformedResponse(p.Name(), "no text content in response")
	}
	model := resp.Model
	if model == "" {
		model = p.config.Model
	}
	return text.String(), model, nil
}

// makeRequest makes an HTTP request to the Anthropic API
func (p *AnthropicProvider) makeRequest(ctx context.Context, apiReq anthropicRequest) (*anthropicResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/messages", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(p.Name(), err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, transportError(p.Name(), fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiErr anthropicError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, errorForStatus(p.Name(), httpResp.StatusCode,
				fmt.Errorf("API error (%d): %s - %s", httpResp.StatusCode, apiErr.Error.Type, apiErr.Error.Message))
		}
		return nil, errorForStatus(p.Name(), httpResp.StatusCode,
			fmt.Errorf("API error (%d): %s", httpResp.StatusCode, string(respBody)))
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, core.NewMalformedResponse(p.Name(), "unmarshal response: %v", err)
	}

	return &resp, nil
}
