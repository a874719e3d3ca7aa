// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"polibrief/internal/core"
	"polibrief/internal/llm"
)

// Provider replays scripted errors before answering with fixed results.
// It is safe for concurrent use.
type Provider struct {
	ProviderName string

	// ClassifyErrs and AnalyzeErrs are returned, in order, by the first calls.
	ClassifyErrs []error
	AnalyzeErrs  []error

	ClassifyResult llm.CategoryResult
	AnalyzeResult  llm.AnalysisResult

	// ClassifyFunc, when set, replaces the scripted classify behaviour.
	ClassifyFunc func(ctx context.Context, req llm.ClassifyRequest) (llm.CategoryResult, error)

	// AnalyzeFunc, when set, replaces the scripted analyze behaviour.
	AnalyzeFunc func(ctx context.Context, req llm.AnalyzeRequest) (llm.AnalysisResult, error)

	mu            sync.Mutex
	classifyCalls int
	analyzeCalls  int
	lastClassify  llm.ClassifyRequest
	lastAnalyze   llm.AnalyzeRequest
}

var _ llm.Provider = (*Provider)(nil)

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.ProviderName }

// Classify implements llm.Provider.
func (p *Provider) Classify(ctx context.Context, req llm.ClassifyRequest) (llm.CategoryResult, error) {
	p.mu.Lock()
	n := p.classifyCalls
	p.classifyCalls++
	p.lastClassify = req
	fn := p.ClassifyFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if n < len(p.ClassifyErrs) && p.ClassifyErrs[n] != nil {
		return llm.CategoryResult{}, p.ClassifyErrs[n]
	}
	return p.ClassifyResult, nil
}

// Analyze implements llm.Provider.
func (p *Provider) Analyze(ctx context.Context, req llm.AnalyzeRequest) (llm.AnalysisResult, error) {
	p.mu.Lock()
	n := p.analyzeCalls
	p.analyzeCalls++
	p.lastAnalyze = req
	fn := p.AnalyzeFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if n < len(p.AnalyzeErrs) && p.AnalyzeErrs[n] != nil {
		return llm.AnalysisResult{}, p.AnalyzeErrs[n]
	}
	return p.AnalyzeResult, nil
}

// ClassifyCalls returns how many times Classify was called.
func (p *Provider) ClassifyCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.classifyCalls
}

// AnalyzeCalls returns how many times Analyze was called.
func (p *Provider) AnalyzeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.analyzeCalls
}

// LastClassify returns the last classification request seen.
func (p *Provider) LastClassify() llm.ClassifyRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastClassify
}

// LastAnalyze returns the last analysis request seen.
func (p *Provider) LastAnalyze() llm.AnalyzeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAnalyze
}

// Unavailable returns a transient provider error.
func Unavailable(provider string) error {
	return core.NewProviderError(core.ErrProviderUnavailable, provider, errors.New("503 service unavailable"))
}

// RateLimited returns a rate limit error.
func RateLimited(provider string) error {
	return core.NewProviderError(core.ErrProviderRateLimited, provider, errors.New("429 too many requests"))
}

// Malformed returns a malformed response error.
func Malformed(provider string) error {
	return core.NewMalformedResponse(provider, "category missing")
}

// Analysis returns a valid analysis with the given quality score.
func Analysis(quality int) llm.AnalysisResult {
	return llm.AnalysisResult{
		BiasScore:        0.1,
		BiasConfidence:   0.6,
		BiasLabel:        "center",
		QualityScore:     quality,
		CredibilityScore: 7,
		LoadedLanguage:   []string{"sweeping overhaul"},
		ExecutiveSummary: "Lawmakers advanced a budget bill after a long debate over spending levels.",
		DetailedSummary:  "Lawmakers advanced a budget bill after a long debate over spending levels and tax policy.",
		KeyPoints:        []string{"Budget advanced", "Debate over spending"},
		Model:            "fake-model",
	}
}
