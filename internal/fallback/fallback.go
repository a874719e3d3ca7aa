// Package fallback runs provider operations with per-provider retries and
// ordered failover.
package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"polibrief/internal/core"
	"polibrief/internal/llm"
)

// Config holds the fallback policy
type Config struct {
	// Primary is tried first; empty means the first registered provider
	Primary string

	// FallbackOrder lists the providers tried after Primary, in order
	FallbackOrder []string

	// MaxRetriesPerProvider is the number of attempts made against each provider
	MaxRetriesPerProvider int

	// BaseBackoff is the sleep before the second attempt; it doubles each attempt
	BaseBackoff time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxRetriesPerProvider: 3,
		BaseBackoff:           500 * time.Millisecond,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result is the outcome of a successful Execute.
type Result[T any] struct {
	Value    T
	Provider string
	Attempts int // total attempts across all providers
}

// Manager orders providers and applies the retry policy.
type Manager struct {
	providers []llm.Provider
	cfg       Config
	sleep     SleepFunc
	log       zerolog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(m *Manager) { m.sleep = fn }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// New builds a Manager. Providers named in cfg must be present in available;
// providers not named anywhere are not used unless cfg names none at all.
func New(cfg Config, available []llm.Provider, opts ...Option) (*Manager, error) {
	if len(available) == 0 {
		return nil, fmt.Errorf("fallback: no providers configured")
	}
	if cfg.MaxRetriesPerProvider < 1 {
		cfg.MaxRetriesPerProvider = 1
	}
	if cfg.BaseBackoff < 0 {
		cfg.BaseBackoff = 0
	}

	byName := make(map[string]llm.Provider, len(available))
	for _, p := range available {
		byName[p.Name()] = p
	}

	names := make([]string, 0, 1+len(cfg.FallbackOrder))
	if cfg.Primary != "" {
		names = append(names, cfg.Primary)
	}
	names = append(names, cfg.FallbackOrder...)
	if len(names) == 0 {
		for _, p := range available {
			names = append(names, p.Name())
		}
	}

	seen := make(map[string]bool, len(names))
	ordered := make([]llm.Provider, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("fallback: provider %q is not configured", name)
		}
		ordered = append(ordered, p)
	}

	m := &Manager{
		providers: ordered,
		cfg:       cfg,
		sleep:     ContextSleep,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Providers returns the provider names in the order they are tried.
func (m *Manager) Providers() []string {
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.Name()
	}
	return names
}

// Execute runs fn against each provider in order until one succeeds.
// Transient failures are retried on the same provider with exponential backoff;
// malformed responses and client errors move on at once. When every provider
// fails the error is ALL_PROVIDERS_FAILED listing each failure in order.
// Cancellation of ctx aborts immediately with ctx's error.
func Execute[T any](ctx context.Context, m *Manager, op string, fn func(context.Context, llm.Provider) (T, error)) (Result[T], error) {
	var (
		failures []core.ProviderFailure
		total    int
	)

	for _, p := range m.providers {
		var lastErr error
		attempts := 0

		for attempt := 0; attempt < m.cfg.MaxRetriesPerProvider; attempt++ {
			if err := ctx.Err(); err != nil {
				return Result[T]{}, fmt.Errorf("%s cancelled: %w", op, err)
			}

			attempts++
			total++
			v, err := fn(ctx, p)
			if err == nil {
				if len(failures) > 0 || attempts > 1 {
					m.log.Info().Str("op", op).Str("provider", p.Name()).Int("attempts", total).Msg("provider succeeded after failures")
				}
				return Result[T]{Value: v, Provider: p.Name(), Attempts: total}, nil
			}
			lastErr = err

			if ctx.Err() != nil {
				return Result[T]{}, fmt.Errorf("%s cancelled: %w", op, ctx.Err())
			}

			m.log.Warn().Err(err).Str("op", op).Str("provider", p.Name()).Int("attempt", attempt+1).Msg("provider call failed")

			if !core.Retryable(err) || attempt == m.cfg.MaxRetriesPerProvider-1 {
				break
			}
			backoff := m.cfg.BaseBackoff * time.Duration(1<<uint(attempt))
			if err := m.sleep(ctx, backoff); err != nil {
				return Result[T]{}, fmt.Errorf("%s cancelled: %w", op, err)
			}
		}

		failures = append(failures, core.ProviderFailure{Provider: p.Name(), Attempts: attempts, Err: lastErr})
	}

	err := core.NewAllProvidersFailed(op, failures)
	m.log.Error().Err(err).Str("op", op).Msg("all providers failed")
	return Result[T]{}, err
}

// Classify runs a classification with fallback.
func (m *Manager) Classify(ctx context.Context, req llm.ClassifyRequest) (Result[llm.CategoryResult], error) {
	return Execute(ctx, m, "classify", func(ctx context.Context, p llm.Provider) (llm.CategoryResult, error) {
		return p.Classify(ctx, req)
	})
}

// Analyze runs a political analysis with fallback.
func (m *Manager) Analyze(ctx context.Context, req llm.AnalyzeRequest) (Result[llm.AnalysisResult], error) {
	return Execute(ctx, m, "analyze", func(ctx context.Context, p llm.Provider) (llm.AnalysisResult, error) {
		return p.Analyze(ctx, req)
	})
}
