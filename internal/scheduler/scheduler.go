// Package scheduler generates one digest per date from the analyzed items of
// its window and hands it off to delivery.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"polibrief/internal/clustering"
	"polibrief/internal/core"
	"polibrief/internal/digest"
	"polibrief/internal/llm"
	"polibrief/internal/ranking"
)

// Config holds scheduling settings
type Config struct {
	FlaggedCategory string
	Window          time.Duration  // Length of the window ending at the fire time
	ScheduleTime    string         // HH:MM fire time
	Location        *time.Location // Zone of ScheduleTime and digest dates
	DeliveryTimeout time.Duration
	GenerateTimeout time.Duration // Bounds one run, independent of its callers
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		FlaggedCategory: "political",
		Window:          24 * time.Hour,
		ScheduleTime:    "07:00",
		Location:        time.UTC,
		DeliveryTimeout: 30 * time.Second,
		GenerateTimeout: 10 * time.Minute,
	}
}

// Store is the storage the scheduler reads items from and writes digests to.
type Store interface {
	ListAnalyzedInWindow(ctx context.Context, category string, start, end time.Time) ([]core.AnalyzedItem, error)
	CountContentInWindow(ctx context.Context, start, end time.Time) (int, error)
	GetDigest(ctx context.Context, date string) (*core.DigestRecord, error)
	LatestDigestBefore(ctx context.Context, date string) (*core.DigestRecord, error)
	CreateDigest(ctx context.Context, rec *core.DigestRecord, replace bool) error
	UpdateDeliveryStatus(ctx context.Context, date, status, detail string) error
}

// Clusterer groups item vectors into topic clusters.
type Clusterer interface {
	Cluster(inputs []clustering.Input) (*clustering.Result, error)
}

// Deliverer sends a persisted digest to its readers.
type Deliverer interface {
	Deliver(ctx context.Context, rec *core.DigestRecord) error
}

// Deps are the collaborators of a Scheduler. Deliverer may be nil, in which
// case digests are stored with delivery status skipped.
type Deps struct {
	Store     Store
	Embedder  llm.Embedder
	Clusterer Clusterer
	Ranking   ranking.Config
	Assembler *digest.Assembler
	Deliverer Deliverer
}

// Options alter a single digest run.
type Options struct {
	// Force regenerates and replaces an existing digest for the date
	Force bool
}

// Scheduler produces digests, at most one run per date at a time.
type Scheduler struct {
	cfg    Config
	deps   Deps
	hour   int
	minute int
	log    zerolog.Logger
	now    func() time.Time

	runs       singleflight.Group
	deliveries sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg Config, deps Deps, log zerolog.Logger) (*Scheduler, error) {
	def := DefaultConfig()
	if cfg.FlaggedCategory == "" {
		cfg.FlaggedCategory = def.FlaggedCategory
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.ScheduleTime == "" {
		cfg.ScheduleTime = def.ScheduleTime
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = def.DeliveryTimeout
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = def.GenerateTimeout
	}
	if deps.Store == nil || deps.Embedder == nil || deps.Clusterer == nil || deps.Assembler == nil {
		return nil, fmt.Errorf("scheduler needs a store, embedder, clusterer and assembler")
	}

	at, err := time.Parse("15:04", cfg.ScheduleTime)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule time %q: %w", cfg.ScheduleTime, err)
	}

	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		hour:   at.Hour(),
		minute: at.Minute(),
		log:    log.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}, nil
}

// Window returns the nominal window of the digest for day: it ends at the
// fire time on day and spans the configured window length.
func (s *Scheduler) Window(day time.Time) (start, end time.Time) {
	y, m, d := day.In(s.cfg.Location).Date()
	end = time.Date(y, m, d, s.hour, s.minute, 0, 0, s.cfg.Location)
	return end.Add(-s.cfg.Window), end
}

// NextFire returns the first fire time strictly after now.
func (s *Scheduler) NextFire(now time.Time) time.Time {
	local := now.In(s.cfg.Location)
	y, m, d := local.Date()
	next := time.Date(y, m, d, s.hour, s.minute, 0, 0, s.cfg.Location)
	if !next.After(local) {
		next = time.Date(y, m, d+1, s.hour, s.minute, 0, 0, s.cfg.Location)
	}
	return next
}

// GenerateDigest builds, stores and hands off the digest for date
// (YYYY-MM-DD). Concurrent calls for the same date share one run, which
// keeps going when a caller's ctx is cancelled. Without opts.Force an
// existing digest yields DIGEST_ALREADY_EXISTS.
func (s *Scheduler) GenerateDigest(ctx context.Context, date string, opts Options) (*core.DigestRecord, error) {
	day, err := time.ParseInLocation(core.DigestDateLayout, date, s.cfg.Location)
	if err != nil {
		return nil, core.NewInvalidRequest("invalid digest date %q, want YYYY-MM-DD", date)
	}

	// the run is shared, so one caller going away must not cancel it for the rest
	ch := s.runs.DoChan(date, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.GenerateTimeout)
		defer cancel()
		return s.generate(runCtx, date, day, opts)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.log.Debug().Str("date", date).Msg("joined in-flight digest run")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.DigestRecord), nil
	}
}

func (s *Scheduler) generate(ctx context.Context, date string, day time.Time, opts Options) (*core.DigestRecord, error) {
	started := time.Now()
	log := s.log.With().Str("date", date).Logger()

	if !opts.Force {
		_, err := s.deps.Store.GetDigest(ctx, date)
		if err == nil {
			return nil, core.NewDigestAlreadyExists(date)
		}
		if !core.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("check existing digest: %w", err)
		}
	}

	start, end, err := s.window(ctx, date, day)
	if err != nil {
		return nil, err
	}

	items, err := s.deps.Store.ListAnalyzedInWindow(ctx, s.cfg.FlaggedCategory, start, end)
	if err != nil {
		return nil, fmt.Errorf("load analyzed items: %w", err)
	}
	considered, err := s.deps.Store.CountContentInWindow(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("count items in window: %w", err)
	}
	log.Info().Time("window_start", start).Time("window_end", end).Int("items", len(items)).Msg("generating digest")

	ranked, err := s.rankClusters(ctx, items, end)
	if err != nil {
		return nil, err
	}

	doc := s.deps.Assembler.Assemble(digest.Input{
		Date:            date,
		WindowStart:     start,
		WindowEnd:       end,
		ItemsConsidered: considered,
		Items:           items,
		Ranked:          ranked,
	})
	body := doc.Markdown()

	rec := &core.DigestRecord{
		ID:                  uuid.NewString(),
		DigestDate:          date,
		WindowStart:         start,
		WindowEnd:           end,
		ItemsConsidered:     considered,
		PoliticalItemsCount: doc.PoliticalItems,
		Clusters:            doc.Summaries(),
		SchemaVersion:       core.SchemaVersion,
		Body:                body,
		HTMLBody:            digest.RenderHTML(body),
		CreatedAt:           time.Now().UTC(),
		DeliveryStatus:      core.DeliveryPending,
	}
	if s.deps.Deliverer == nil || rec.Empty() {
		rec.DeliveryStatus = core.DeliverySkipped
	}
	rec.GenerationDuration = time.Since(started)

	if err := s.deps.Store.CreateDigest(ctx, rec, opts.Force); err != nil {
		return nil, err
	}
	log.Info().
		Str("digest_id", rec.ID).
		Int("clusters", len(rec.Clusters)).
		Int("political_items", rec.PoliticalItemsCount).
		Dur("duration", rec.GenerationDuration).
		Msg("digest stored")

	if rec.DeliveryStatus == core.DeliveryPending {
		s.deliverAsync(ctx, rec)
	}
	return rec, nil
}

// window applies the cursor of the previous digest: items it already
// covered are not counted again.
func (s *Scheduler) window(ctx context.Context, date string, day time.Time) (time.Time, time.Time, error) {
	start, end := s.Window(day)

	prev, err := s.deps.Store.LatestDigestBefore(ctx, date)
	switch {
	case err == nil:
		if prev.WindowEnd.After(start) {
			start = prev.WindowEnd
		}
		if start.After(end) {
			start = end
		}
	case !core.Is(err, core.ErrNotFound):
		return start, end, fmt.Errorf("load previous digest: %w", err)
	}
	return start.UTC(), end.UTC(), nil
}

func (s *Scheduler) rankClusters(ctx context.Context, items []core.AnalyzedItem, end time.Time) ([]core.TopicCluster, error) {
	if len(items) == 0 {
		return nil, nil
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Item.Title + "\n" + it.Analysis.ExecutiveSummary
	}
	vectors, err := s.deps.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed items: %w", err)
	}
	if len(vectors) != len(items) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d items", len(vectors), len(items))
	}

	inputs := make([]clustering.Input, len(items))
	rankItems := make(map[string]ranking.Item, len(items))
	for i, it := range items {
		inputs[i] = clustering.Input{
			ItemID:           it.Item.ID,
			Vector:           vectors[i],
			Quality:          it.Analysis.QualityScore,
			ExecutiveSummary: it.Analysis.ExecutiveSummary,
			Title:            it.Item.Title,
		}
		rankItems[it.Item.ID] = ranking.ItemFromAnalyzed(it)
	}

	res, err := s.deps.Clusterer.Cluster(inputs)
	if err != nil {
		return nil, fmt.Errorf("cluster items: %w", err)
	}
	s.log.Debug().Int("clusters", len(res.Clusters)).Float64("epsilon", res.Epsilon).Int("adjustments", res.Adjustments).Msg("items clustered")

	return ranking.New(s.deps.Ranking, end).RankClusters(res.Clusters, rankItems), nil
}

func (s *Scheduler) deliverAsync(ctx context.Context, rec *core.DigestRecord) {
	cp := *rec
	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DeliveryTimeout)
		defer cancel()
		if _, err := s.deliver(dctx, &cp); err != nil {
			s.log.Error().Err(err).Str("date", cp.DigestDate).Msg("digest delivery failed")
		}
	}()
}

// deliver sends rec and records the outcome on the stored digest. A
// delivery failure never invalidates the digest.
func (s *Scheduler) deliver(ctx context.Context, rec *core.DigestRecord) (string, error) {
	status, detail := core.DeliveryDelivered, ""
	derr := s.deps.Deliverer.Deliver(ctx, rec)
	if derr != nil {
		status, detail = core.DeliveryFailed, derr.Error()
	}
	if err := s.deps.Store.UpdateDeliveryStatus(ctx, rec.DigestDate, status, detail); err != nil {
		s.log.Error().Err(err).Str("date", rec.DigestDate).Msg("failed to record delivery status")
	}
	if derr == nil {
		s.log.Info().Str("date", rec.DigestDate).Msg("digest delivered")
	}
	return status, derr
}

// Redeliver sends the stored digest for date again and waits for the result.
func (s *Scheduler) Redeliver(ctx context.Context, date string) (*core.DigestRecord, error) {
	if s.deps.Deliverer == nil {
		return nil, core.NewInvalidRequest("no delivery channel configured")
	}
	rec, err := s.deps.Store.GetDigest(ctx, date)
	if err != nil {
		return nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()
	rec.DeliveryStatus, err = s.deliver(dctx, rec)
	return rec, err
}

// Wait blocks until in-flight deliveries finish.
func (s *Scheduler) Wait() {
	s.deliveries.Wait()
}

// Run generates the digest of each day at the fire time until ctx is
// cancelled. A failed run is logged and retried only at the next fire time.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Str("schedule_time", s.cfg.ScheduleTime).Str("timezone", s.cfg.Location.String()).Msg("scheduler started")
	defer s.Wait()

	for {
		next := s.NextFire(s.now())
		timer := time.NewTimer(next.Sub(s.now()))
		s.log.Debug().Time("next_fire", next).Msg("waiting for next digest")

		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info().Msg("scheduler stopped")
			return nil
		case <-timer.C:
		}

		date := next.In(s.cfg.Location).Format(core.DigestDateLayout)
		if _, err := s.GenerateDigest(ctx, date, Options{}); err != nil {
			if core.Is(err, core.ErrDigestAlreadyExists) {
				s.log.Info().Str("date", date).Msg("digest already exists, skipping")
				continue
			}
			s.log.Error().Err(err).Str("date", date).Msg("scheduled digest failed")
		}
	}
}
