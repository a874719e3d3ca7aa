package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polibrief/internal/analysis"
	"polibrief/internal/classify"
	"polibrief/internal/clustering"
	"polibrief/internal/core"
	"polibrief/internal/digest"
	"polibrief/internal/fallback"
	"polibrief/internal/llm"
	"polibrief/internal/llm/llmtest"
	"polibrief/internal/persistence"
	"polibrief/internal/pipeline"
	"polibrief/internal/ranking"
)

const day = "2026-05-05"

// inWindow is inside the default window of day.
var inWindow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// topicEmbedder places texts on axes by keyword so clusters are predictable.
type topicEmbedder struct {
	calls atomic.Int32

	// when gate is set, Embed signals entered and blocks until gate closes
	gate    chan struct{}
	entered chan struct{}
}

func (e *topicEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	e.calls.Add(1)
	if e.gate != nil {
		e.entered <- struct{}{}
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		switch {
		case strings.Contains(t, "Budget"):
			out[i] = []float64{1, 0.01 * float64(i+1), 0}
		case strings.Contains(t, "Court"):
			out[i] = []float64{0, 0, 1}
		default:
			out[i] = []float64{0, 1, 0}
		}
	}
	return out, nil
}

type recordingDeliverer struct {
	mu    sync.Mutex
	dates []string
	err   error
}

func (d *recordingDeliverer) Deliver(_ context.Context, rec *core.DigestRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dates = append(d.dates, rec.DigestDate)
	return d.err
}

func (d *recordingDeliverer) delivered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dates...)
}

type testEnv struct {
	store     *persistence.SQLStore
	pipe      *pipeline.Pipeline
	embedder  *topicEmbedder
	deliverer *recordingDeliverer
	sched     *Scheduler
	quality   map[string]int
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := persistence.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "digest.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	env := &testEnv{
		store:     store,
		embedder:  &topicEmbedder{},
		deliverer: &recordingDeliverer{},
		quality:   map[string]int{},
	}

	provider := &llmtest.Provider{
		ProviderName: "p",
		ClassifyFunc: func(_ context.Context, req llm.ClassifyRequest) (llm.CategoryResult, error) {
			if strings.HasPrefix(req.Title, "Budget") || strings.HasPrefix(req.Title, "Court") {
				return llm.CategoryResult{Category: "political", Confidence: 0.92}, nil
			}
			return llm.CategoryResult{Category: "technology", Confidence: 0.9}, nil
		},
		AnalyzeFunc: func(_ context.Context, req llm.AnalyzeRequest) (llm.AnalysisResult, error) {
			res := llmtest.Analysis(5)
			if q, ok := env.quality[req.Title]; ok {
				res.QualityScore = q
			}
			res.ExecutiveSummary = req.Title + " drew reactions from both parties."
			return res, nil
		},
	}
	m, err := fallback.New(fallback.Config{MaxRetriesPerProvider: 1}, []llm.Provider{provider})
	require.NoError(t, err)

	env.pipe = pipeline.NewPipeline(store,
		classify.New(classify.DefaultConfig(), m, store, zerolog.Nop()),
		analysis.New(analysis.DefaultConfig(), m, store, zerolog.Nop()),
		pipeline.Config{Concurrency: 1}, zerolog.Nop())

	env.sched, err = New(cfg, Deps{
		Store:     store,
		Embedder:  env.embedder,
		Clusterer: clustering.New(clustering.DefaultConfig(), zerolog.Nop()),
		Ranking:   ranking.DefaultConfig(),
		Assembler: digest.New(digest.DefaultConfig()),
		Deliverer: env.deliverer,
	}, zerolog.Nop())
	require.NoError(t, err)
	return env
}

// capture stores titles captured one minute apart from at and runs them
// through classification and analysis.
func (e *testEnv) capture(t *testing.T, at time.Time, titles ...string) {
	t.Helper()
	ctx := context.Background()
	for i, title := range titles {
		require.NoError(t, e.store.CreateContent(ctx, &core.ContentItem{
			ID:          fmt.Sprintf("%s-%d", at.Format("0102"), i),
			URL:         "https://news.example/" + strings.ReplaceAll(title, " ", "-"),
			Title:       title,
			RawText:     "Full text of " + title,
			CapturedAt:  at.Add(time.Duration(i) * time.Minute),
			ContentHash: "hash-" + title,
			Status:      core.StatusPending,
		}))
	}
	_, err := e.pipe.ProcessPending(ctx, 0)
	require.NoError(t, err)
}

func TestGenerateDigest_EndToEnd(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.quality = map[string]int{"Budget vote A": 9, "Budget vote B": 7, "Court ruling": 3, "Budget vote C": 8}
	env.capture(t, inWindow,
		"Budget vote A", "Chip launch", "Budget vote B", "Phone review", "Court ruling",
		"Cloud outage", "Budget vote C", "Game release", "Robot demo", "App update")

	rec, err := env.sched.GenerateDigest(context.Background(), day, Options{})
	require.NoError(t, err)

	assert.Equal(t, 10, rec.ItemsConsidered)
	assert.Equal(t, 4, rec.PoliticalItemsCount)
	require.Len(t, rec.Clusters, 2)
	assert.Len(t, rec.Clusters[0].References, 3, "the larger, stronger cluster ranks first")
	assert.Len(t, rec.Clusters[1].References, 1)
	assert.Equal(t, 1, rec.Clusters[0].Rank)
	assert.Equal(t, 9, rec.Clusters[0].References[0].Quality)
	assert.Equal(t, 3, rec.Clusters[1].References[0].Quality)
	assert.Greater(t, rec.Clusters[0].Importance, rec.Clusters[1].Importance)

	assert.True(t, rec.WindowStart.Equal(time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)), "window start %v", rec.WindowStart)
	assert.True(t, rec.WindowEnd.Equal(time.Date(2026, 5, 5, 7, 0, 0, 0, time.UTC)), "window end %v", rec.WindowEnd)
	assert.Contains(t, rec.Body, "## 1. Budget vote A drew reactions from both parties.")
	assert.Contains(t, rec.HTMLBody, "<h2>")

	stored, err := env.store.GetDigest(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)
	assert.Len(t, stored.Clusters, 2)

	env.sched.Wait()
	assert.Equal(t, []string{day}, env.deliverer.delivered())
	stored, err = env.store.GetDigest(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryDelivered, stored.DeliveryStatus)
}

func TestGenerateDigest_NoFlaggedItems(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.capture(t, inWindow, "Chip launch", "Phone review")

	rec, err := env.sched.GenerateDigest(context.Background(), day, Options{})
	require.NoError(t, err)

	assert.True(t, rec.Empty())
	assert.Zero(t, rec.PoliticalItemsCount)
	assert.Equal(t, 2, rec.ItemsConsidered)
	assert.Contains(t, rec.Body, "No political content")
	assert.Zero(t, env.embedder.calls.Load())

	stored, err := env.store.GetDigest(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, core.DeliverySkipped, stored.DeliveryStatus)

	env.sched.Wait()
	assert.Empty(t, env.deliverer.delivered())
}

func TestGenerateDigest_AlreadyExistsAndForce(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.capture(t, inWindow, "Budget vote A")
	ctx := context.Background()

	first, err := env.sched.GenerateDigest(ctx, day, Options{})
	require.NoError(t, err)

	_, err = env.sched.GenerateDigest(ctx, day, Options{})
	assert.True(t, core.Is(err, core.ErrDigestAlreadyExists), "got %v", err)

	second, err := env.sched.GenerateDigest(ctx, day, Options{Force: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	stored, err := env.store.GetDigest(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, second.ID, stored.ID)
	env.sched.Wait()
}

func TestGenerateDigest_ConcurrentCallsStoreOneDigest(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.capture(t, inWindow, "Budget vote A", "Court ruling")

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := env.sched.GenerateDigest(context.Background(), day, Options{})
			errs[i] = err
			if err == nil {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()
	env.sched.Wait()

	stored, err := env.store.GetDigest(context.Background(), day)
	require.NoError(t, err)
	for i := range ids {
		if errs[i] != nil {
			assert.True(t, core.Is(errs[i], core.ErrDigestAlreadyExists), "got %v", errs[i])
			continue
		}
		assert.Equal(t, stored.ID, ids[i])
	}

	all, err := env.store.ListDigests(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Len(t, env.deliverer.delivered(), 1)
}

func TestGenerateDigest_RunSurvivesCallerCancellation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.capture(t, inWindow, "Budget vote A", "Court ruling")
	env.embedder.gate = make(chan struct{})
	env.embedder.entered = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := env.sched.GenerateDigest(ctx, day, Options{})
		errs <- err
	}()

	<-env.embedder.entered
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)

	close(env.embedder.gate)
	require.Eventually(t, func() bool {
		return len(env.deliverer.delivered()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	env.sched.Wait()

	rec, err := env.store.GetDigest(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.PoliticalItemsCount)
}

func TestGenerateDigest_DeliveryFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.deliverer.err = errors.New("smtp: connection refused")
	env.capture(t, inWindow, "Budget vote A")

	rec, err := env.sched.GenerateDigest(context.Background(), day, Options{})
	require.NoError(t, err)
	env.sched.Wait()

	stored, err := env.store.GetDigest(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)
	assert.Equal(t, core.DeliveryFailed, stored.DeliveryStatus)

	env.deliverer.err = nil
	again, err := env.sched.Redeliver(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryDelivered, again.DeliveryStatus)
}

func TestGenerateDigest_CursorExcludesCoveredItems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 48 * time.Hour
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	env.capture(t, inWindow, "Budget vote A")
	first, err := env.sched.GenerateDigest(ctx, day, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.PoliticalItemsCount)

	env.capture(t, inWindow.Add(24*time.Hour), "Court ruling")
	next, err := env.sched.GenerateDigest(ctx, "2026-05-06", Options{})
	require.NoError(t, err)

	assert.True(t, next.WindowStart.Equal(first.WindowEnd), "window start %v", next.WindowStart)
	assert.Equal(t, 1, next.PoliticalItemsCount)
	require.Len(t, next.Clusters, 1)
	assert.Equal(t, "Court ruling", next.Clusters[0].References[0].Title)
	env.sched.Wait()
}

func TestGenerateDigest_InvalidDate(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	for _, date := range []string{"", "2026-13-01", "05/05/2026"} {
		_, err := env.sched.GenerateDigest(context.Background(), date, Options{})
		assert.True(t, core.Is(err, core.ErrInvalidRequest), "date %q: got %v", date, err)
	}
}

func TestNextFire(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name string
		loc  *time.Location
		now  time.Time
		want time.Time
	}{
		{"before fire time", time.UTC, time.Date(2026, 5, 5, 6, 59, 0, 0, time.UTC), time.Date(2026, 5, 5, 7, 0, 0, 0, time.UTC)},
		{"at fire time", time.UTC, time.Date(2026, 5, 5, 7, 0, 0, 0, time.UTC), time.Date(2026, 5, 6, 7, 0, 0, 0, time.UTC)},
		{"after fire time", time.UTC, time.Date(2026, 5, 5, 18, 0, 0, 0, time.UTC), time.Date(2026, 5, 6, 7, 0, 0, 0, time.UTC)},
		{"month end", time.UTC, time.Date(2026, 5, 31, 8, 0, 0, 0, time.UTC), time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)},
		{"other zone", ny, time.Date(2026, 5, 5, 10, 0, 0, 0, time.UTC), time.Date(2026, 5, 5, 7, 0, 0, 0, ny)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Location = tt.loc
			s := newTestEnv(t, cfg).sched
			got := s.NextFire(tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("NextFire(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestNew_RejectsBadScheduleTime(t *testing.T) {
	_, err := New(Config{ScheduleTime: "7am"}, Deps{
		Store:     &persistence.SQLStore{},
		Embedder:  &topicEmbedder{},
		Clusterer: clustering.New(clustering.DefaultConfig(), zerolog.Nop()),
		Assembler: digest.New(digest.DefaultConfig()),
	}, zerolog.Nop())
	assert.ErrorContains(t, err, "invalid schedule time")

	_, err = New(DefaultConfig(), Deps{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRun_FiresAndStops(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.capture(t, inWindow, "Budget vote A")
	// shortly before the fire time of day
	env.sched.now = func() time.Time { return time.Date(2026, 5, 5, 6, 59, 59, 980_000_000, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := env.store.GetDigest(context.Background(), day)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
