package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"golang.org/x/time/rate"

	"polibrief/internal/core"
)

// errorForStatus maps an HTTP status from a provider to the error taxonomy.
func errorForStatus(provider string, status int, err error) *core.Error {
	switch {
	case status == http.StatusTooManyRequests:
		return core.NewProviderError(core.ErrProviderRateLimited, provider, err)
	case status == http.StatusRequestTimeout || status >= 500:
		return core.NewProviderError(core.ErrProviderUnavailable, provider, err)
	case status >= 400:
		return core.NewProviderError(core.ErrProviderClientError, provider, err)
	}
	return core.NewProviderError(core.ErrProviderUnavailable, provider, err)
}

// transportError maps network failures and per-call timeouts.
func transportError(provider string, err error) *core.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewProviderError(core.ErrProviderUnavailable, provider, fmt.Errorf("timed out: %w", err))
	}
	return core.NewProviderError(core.ErrProviderUnavailable, provider, err)
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(math.Ceil(rps))
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func waitLimiter(ctx context.Context, l *rate.Limiter, provider string) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return core.NewProviderError(core.ErrProviderUnavailable, provider, fmt.Errorf("rate limiter: %w", err))
	}
	return nil
}
