package capture

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"polibrief/internal/core"
)

// FeedConfig holds feed import settings
type FeedConfig struct {
	MaxItemsPerFeed int           // Newest entries considered per feed
	Lookback        time.Duration // Entries published earlier are skipped; 0 keeps all
	Concurrency     int           // Feeds fetched at once
	Timeout         time.Duration // Per feed download
}

// DefaultFeedConfig returns sensible defaults
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		MaxItemsPerFeed: 20,
		Lookback:        48 * time.Hour,
		Concurrency:     4,
		Timeout:         30 * time.Second,
	}
}

// FeedResult reports one feed of an import run.
type FeedResult struct {
	Feed       string `json:"feed"`
	Captured   int    `json:"captured"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"` // Outside the lookback or entry cap
	Failed     int    `json:"failed"`  // Entries that could not be captured
	Error      string `json:"error,omitempty"`
}

// EntryCapturer stores one payload; *Capturer satisfies it.
type EntryCapturer interface {
	Capture(ctx context.Context, p Payload) (*core.ContentItem, bool, error)
}

// FeedImporter captures entries of RSS and Atom feeds as content items.
// Re-importing a feed is safe: already captured entries come back as
// duplicates.
type FeedImporter struct {
	cfg      FeedConfig
	capturer EntryCapturer
	client   *http.Client
	log      zerolog.Logger
	now      func() time.Time
}

// NewFeedImporter creates a FeedImporter.
func NewFeedImporter(cfg FeedConfig, capturer EntryCapturer, log zerolog.Logger) *FeedImporter {
	def := DefaultFeedConfig()
	if cfg.MaxItemsPerFeed <= 0 {
		cfg.MaxItemsPerFeed = def.MaxItemsPerFeed
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &FeedImporter{
		cfg:      cfg,
		capturer: capturer,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log.With().Str("component", "feeds").Logger(),
		now:      time.Now,
	}
}

// Import fetches every feed and captures its recent entries. A feed that
// cannot be fetched is reported in its result and does not stop the others.
// Results are in the order of feeds.
func (f *FeedImporter) Import(ctx context.Context, feeds []string) []FeedResult {
	results := make([]FeedResult, len(feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, feedURL := range feeds {
		g.Go(func() error {
			results[i] = f.importFeed(gctx, feedURL)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Run imports feeds every interval until ctx is cancelled.
func (f *FeedImporter) Run(ctx context.Context, feeds []string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("feed interval must be positive, got %v", interval)
	}
	if len(feeds) == 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		f.Import(ctx, feeds)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (f *FeedImporter) importFeed(ctx context.Context, feedURL string) FeedResult {
	res := FeedResult{Feed: feedURL}
	log := f.log.With().Str("feed", feedURL).Logger()

	fp := gofeed.NewParser()
	fp.Client = f.client
	fp.UserAgent = userAgent

	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch feed")
		res.Error = err.Error()
		return res
	}

	entries := f.recentEntries(feed.Items)
	res.Skipped = len(feed.Items) - len(entries)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		p, ok := entryPayload(entry)
		if !ok {
			res.Failed++
			continue
		}
		_, created, err := f.capturer.Capture(ctx, p)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("link", entry.Link).Msg("failed to capture feed entry")
			res.Failed++
		case created:
			res.Captured++
		default:
			res.Duplicates++
		}
	}

	log.Info().
		Int("captured", res.Captured).
		Int("duplicates", res.Duplicates).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("feed imported")
	return res
}

// recentEntries returns entries inside the lookback, newest first, capped
// at MaxItemsPerFeed. Entries without a date are kept.
func (f *FeedImporter) recentEntries(items []*gofeed.Item) []*gofeed.Item {
	var cutoff time.Time
	if f.cfg.Lookback > 0 {
		cutoff = f.now().Add(-f.cfg.Lookback)
	}

	out := make([]*gofeed.Item, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		if ts := entryTime(it); !cutoff.IsZero() && !ts.IsZero() && ts.Before(cutoff) {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return entryTime(out[i]).After(entryTime(out[j])) })
	if len(out) > f.cfg.MaxItemsPerFeed {
		out = out[:f.cfg.MaxItemsPerFeed]
	}
	return out
}

func entryTime(it *gofeed.Item) time.Time {
	if it.PublishedParsed != nil {
		return *it.PublishedParsed
	}
	if it.UpdatedParsed != nil {
		return *it.UpdatedParsed
	}
	return time.Time{}
}

// entryPayload prefers the entry's full content, then its linked page, then
// its description.
func entryPayload(it *gofeed.Item) (Payload, bool) {
	p := Payload{URL: strings.TrimSpace(it.Link), Title: strings.TrimSpace(it.Title)}
	switch {
	case strings.TrimSpace(it.Content) != "":
		p.HTML = it.Content
	case p.URL != "":
		// fetched by the capturer
	case strings.TrimSpace(it.Description) != "":
		p.HTML = it.Description
	default:
		return Payload{}, false
	}
	return p, true
}
