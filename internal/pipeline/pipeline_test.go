package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polibrief/internal/analysis"
	"polibrief/internal/classify"
	"polibrief/internal/core"
	"polibrief/internal/fallback"
	"polibrief/internal/llm"
	"polibrief/internal/llm/llmtest"
	"polibrief/internal/persistence"
)

var captured = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

// byTitle answers classification requests from a title prefix.
func byTitle(ctx context.Context, req llm.ClassifyRequest) (llm.CategoryResult, error) {
	switch {
	case strings.HasPrefix(req.Title, "pol"):
		return llm.CategoryResult{Category: "political", Confidence: 0.9, Model: "fake"}, nil
	case strings.HasPrefix(req.Title, "tech"):
		return llm.CategoryResult{Category: "technology", Confidence: 0.95, Model: "fake"}, nil
	case strings.HasPrefix(req.Title, "unsure"):
		return llm.CategoryResult{Category: "political", Confidence: 0.5, Model: "fake"}, nil
	}
	return llm.CategoryResult{}, llmtest.Unavailable("p")
}

type testEnv struct {
	store    *persistence.SQLStore
	provider *llmtest.Provider
	pipe     *Pipeline
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := persistence.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "pipeline.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	provider := &llmtest.Provider{ProviderName: "p", ClassifyFunc: byTitle, AnalyzeResult: llmtest.Analysis(7)}
	m, err := fallback.New(fallback.Config{MaxRetriesPerProvider: 1}, []llm.Provider{provider},
		fallback.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)

	pipe, err := NewBuilder().
		WithStore(store).
		WithClassifier(classify.New(classify.DefaultConfig(), m, store, zerolog.Nop())).
		WithAnalyzer(analysis.New(analysis.DefaultConfig(), m, store, zerolog.Nop())).
		WithConfig(cfg).
		Build()
	require.NoError(t, err)

	return &testEnv{store: store, provider: provider, pipe: pipe}
}

func (e *testEnv) add(t *testing.T, titles ...string) {
	t.Helper()
	for i, title := range titles {
		require.NoError(t, e.store.CreateContent(context.Background(), &core.ContentItem{
			ID:          title,
			Title:       title,
			RawText:     "Body of " + title,
			CapturedAt:  captured.Add(time.Duration(i) * time.Minute),
			ContentHash: "hash-" + title,
			Status:      core.StatusPending,
		}))
	}
}

func (e *testEnv) status(t *testing.T, id string) core.ItemStatus {
	t.Helper()
	item, err := e.store.GetContent(context.Background(), id)
	require.NoError(t, err)
	return item.Status
}

func TestProcessPending_RoutesEachItem(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.add(t, "pol-1", "tech-1", "unsure-1", "down-1")
	ctx := context.Background()

	stats, err := env.pipe.ProcessPending(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 1, stats.ManualReview)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Analyzed)
	assert.Zero(t, stats.Errors)
	assert.Zero(t, stats.AnalysisFailed)

	assert.Equal(t, core.StatusCompleted, env.status(t, "pol-1"))
	assert.Equal(t, core.StatusCompleted, env.status(t, "tech-1"))
	assert.Equal(t, core.StatusManualReview, env.status(t, "unsure-1"))
	assert.Equal(t, core.StatusFailed, env.status(t, "down-1"))

	got, err := env.store.GetAnalysis(ctx, "pol-1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.QualityScore)

	_, err = env.store.GetAnalysis(ctx, "tech-1")
	assert.True(t, core.Is(err, core.ErrNotFound), "got %v", err)
	_, err = env.store.GetAnalysis(ctx, "unsure-1")
	assert.True(t, core.Is(err, core.ErrNotFound), "got %v", err)

	again, err := env.pipe.ProcessPending(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, again.Total, "terminal items are not picked up again")
}

func TestProcessPending_AnalysisFailureKeepsClassification(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.provider.AnalyzeErrs = []error{llmtest.Malformed("p")}
	env.add(t, "pol-1")

	stats, err := env.pipe.ProcessPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 1, stats.AnalysisFailed)
	assert.Zero(t, stats.Analyzed)
	assert.Equal(t, core.StatusCompleted, env.status(t, "pol-1"))

	out, err := env.pipe.Reprocess(context.Background(), "pol-1")
	require.NoError(t, err)
	require.NotNil(t, out.Analysis)
}

func TestProcessPending_RespectsLimitAndConcurrency(t *testing.T) {
	env := newTestEnv(t, Config{Concurrency: 2})

	var inFlight, peak atomic.Int32
	env.provider.ClassifyFunc = func(ctx context.Context, req llm.ClassifyRequest) (llm.CategoryResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return llm.CategoryResult{Category: "technology", Confidence: 0.9}, nil
	}

	var titles []string
	for i := 0; i < 8; i++ {
		titles = append(titles, fmt.Sprintf("tech-%d", i))
	}
	env.add(t, titles...)

	stats, err := env.pipe.ProcessPending(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 5, stats.Accepted)
	assert.LessOrEqual(t, peak.Load(), int32(2))

	// oldest captures go first
	assert.Equal(t, core.StatusCompleted, env.status(t, "tech-0"))
	assert.Equal(t, core.StatusPending, env.status(t, "tech-7"))
}

func TestProcessPending_PicksUpInterruptedItems(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.add(t, "pol-1")
	require.NoError(t, env.store.UpdateContentStatus(context.Background(), "pol-1", core.StatusUpdate{
		From: []core.ItemStatus{core.StatusPending}, To: core.StatusProcessing,
	}))

	stats, err := env.pipe.ProcessPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Analyzed)
	assert.Equal(t, core.StatusCompleted, env.status(t, "pol-1"))
}

func TestReprocess_LeavesManualReview(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.add(t, "unsure-1")
	ctx := context.Background()

	_, err := env.pipe.ProcessPending(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, core.StatusManualReview, env.status(t, "unsure-1"))

	env.provider.ClassifyFunc = func(context.Context, llm.ClassifyRequest) (llm.CategoryResult, error) {
		return llm.CategoryResult{Category: "political", Confidence: 0.8}, nil
	}
	out, err := env.pipe.Reprocess(ctx, "unsure-1")
	require.NoError(t, err)
	assert.Equal(t, classify.DecisionAccepted, out.Decision)
	assert.NotNil(t, out.Analysis)
	assert.Equal(t, core.StatusCompleted, env.status(t, "unsure-1"))

	_, err = env.pipe.Reprocess(ctx, "missing")
	assert.True(t, core.Is(err, core.ErrNotFound), "got %v", err)
}

func TestOverride(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.add(t, "down-1", "unsure-1")
	ctx := context.Background()

	_, err := env.pipe.ProcessPending(ctx, 0)
	require.NoError(t, err)
	calls := env.provider.ClassifyCalls()

	out, err := env.pipe.Override(ctx, "down-1", "political")
	require.NoError(t, err)
	require.NotNil(t, out.Analysis)

	item, err := env.store.GetContent(ctx, "down-1")
	require.NoError(t, err)
	assert.True(t, item.ManualOverride)
	assert.Equal(t, core.StatusCompleted, item.Status)
	assert.Equal(t, "political", item.Category)

	history, err := env.store.ListClassifications(ctx, "down-1")
	require.NoError(t, err)
	var manual []core.ClassificationResult
	for _, h := range history {
		if h.Provider == ManualProvider {
			manual = append(manual, h)
		}
	}
	require.Len(t, manual, 1)
	assert.Equal(t, "political", manual[0].Category)
	assert.Equal(t, 1.0, manual[0].Confidence)

	out, err = env.pipe.Override(ctx, "unsure-1", "sports")
	require.NoError(t, err)
	assert.Nil(t, out.Analysis)

	_, err = env.pipe.Override(ctx, "unsure-1", "")
	assert.True(t, core.Is(err, core.ErrInvalidRequest), "got %v", err)

	_, err = env.pipe.Override(ctx, "unsure-1", "banana")
	assert.True(t, core.Is(err, core.ErrInvalidRequest), "got %v", err)
	item, err = env.store.GetContent(ctx, "unsure-1")
	require.NoError(t, err)
	assert.Equal(t, "sports", item.Category, "unknown categories are never stored")
	assert.Equal(t, calls, env.provider.ClassifyCalls(), "overrides never call the classifier")
}

func TestAnalysisDroppedWhenItemLeavesFlaggedCategory(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.add(t, "pol-1", "pol-2", "pol-3", "pol-4")
	ctx := context.Background()

	stats, err := env.pipe.ProcessPending(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 4, stats.Analyzed)

	analysisGone := func(id string) {
		t.Helper()
		_, err := env.store.GetAnalysis(ctx, id)
		assert.True(t, core.Is(err, core.ErrNotFound), "%s: got %v", id, err)
	}

	// override to another category
	_, err = env.pipe.Override(ctx, "pol-1", "technology")
	require.NoError(t, err)
	analysisGone("pol-1")

	// override to the same flagged category refreshes the analysis
	out, err := env.pipe.Override(ctx, "pol-4", "political")
	require.NoError(t, err)
	require.NotNil(t, out.Analysis)
	_, err = env.store.GetAnalysis(ctx, "pol-4")
	assert.NoError(t, err)

	// reprocess below the threshold
	env.provider.ClassifyFunc = func(context.Context, llm.ClassifyRequest) (llm.CategoryResult, error) {
		return llm.CategoryResult{Category: "political", Confidence: 0.3}, nil
	}
	out, err = env.pipe.Reprocess(ctx, "pol-2")
	require.NoError(t, err)
	assert.Equal(t, classify.DecisionLowConfidence, out.Decision)
	assert.Equal(t, core.StatusManualReview, env.status(t, "pol-2"))
	analysisGone("pol-2")

	// reprocess into a category that is not flagged
	env.provider.ClassifyFunc = func(context.Context, llm.ClassifyRequest) (llm.CategoryResult, error) {
		return llm.CategoryResult{Category: "technology", Confidence: 0.95}, nil
	}
	out, err = env.pipe.Reprocess(ctx, "pol-3")
	require.NoError(t, err)
	assert.Equal(t, classify.DecisionAccepted, out.Decision)
	assert.Nil(t, out.Analysis)
	analysisGone("pol-3")
}

func TestBuilder_RequiresComponents(t *testing.T) {
	_, err := NewBuilder().Build()
	assert.Error(t, err)

	_, err = NewBuilder().WithStore(&persistence.SQLStore{}).Build()
	assert.ErrorContains(t, err, "classifier")
}

func TestRun_DrainsUntilCancelled(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.add(t, "pol-1", "tech-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.pipe.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return env.status(t, "pol-1") == core.StatusCompleted && env.status(t, "tech-1") == core.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	env.add(t, "pol-2")
	require.Eventually(t, func() bool {
		return env.status(t, "pol-2") == core.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Error(t, env.pipe.Run(context.Background(), 0))
}
