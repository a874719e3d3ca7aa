// Package capture turns raw payloads into stored content items, deduplicated
// by content hash.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"polibrief/internal/core"
)

// Payload is raw content as submitted by a capture client. HTML takes
// precedence over Text; with neither, URL is fetched.
type Payload struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
	HTML  string `json:"html"`
}

// Config holds capture settings
type Config struct {
	DedupTTL      time.Duration
	MaxBodyChars  int
	FetchTimeout  time.Duration
	RespectRobots bool
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		DedupTTL:      24 * time.Hour,
		MaxBodyChars:  100000,
		FetchTimeout:  20 * time.Second,
		RespectRobots: true,
	}
}

// Store is the storage the capturer needs.
type Store interface {
	CreateContent(ctx context.Context, item *core.ContentItem) error
	GetContent(ctx context.Context, id string) (*core.ContentItem, error)
	GetContentByHash(ctx context.Context, hash string) (*core.ContentItem, error)
}

// Capturer creates content items from payloads.
type Capturer struct {
	cfg    Config
	store  Store
	recent *gocache.Cache // content hash -> item ID
	client *http.Client
	robots *RobotsChecker // nil when robots.txt is ignored
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a Capturer.
func New(cfg Config, store Store, log zerolog.Logger) *Capturer {
	def := DefaultConfig()
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = def.DedupTTL
	}
	if cfg.MaxBodyChars <= 0 {
		cfg.MaxBodyChars = def.MaxBodyChars
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	log = log.With().Str("component", "capture").Logger()
	c := &Capturer{
		cfg:    cfg,
		store:  store,
		recent: gocache.New(cfg.DedupTTL, cfg.DedupTTL/2),
		client: &http.Client{Timeout: cfg.FetchTimeout},
		log:    log,
		now:    time.Now,
	}
	if cfg.RespectRobots {
		c.robots = NewRobotsChecker(c.client, log)
	}
	return c
}

// Capture stores the payload as a pending item. When content with the same
// hash already exists the existing item is returned with created false and a
// nil error.
func (c *Capturer) Capture(ctx context.Context, p Payload) (*core.ContentItem, bool, error) {
	title, text, err := c.normalize(ctx, p)
	if err != nil {
		return nil, false, err
	}
	hash := ContentHash(title, text)

	if id, ok := c.recent.Get(hash); ok {
		if existing, err := c.store.GetContent(ctx, id.(string)); err == nil {
			c.log.Debug().Str("item_id", existing.ID).Msg("duplicate content from cache")
			return existing, false, nil
		}
		c.recent.Delete(hash)
	}

	now := c.now().UTC()
	item := &core.ContentItem{
		ID:          uuid.NewString(),
		URL:         strings.TrimSpace(p.URL),
		Title:       title,
		RawText:     text,
		CapturedAt:  now,
		ContentHash: hash,
		Status:      core.StatusPending,
		UpdatedAt:   now,
	}

	err = c.store.CreateContent(ctx, item)
	if core.Is(err, core.ErrDuplicateContent) {
		existing, gerr := c.store.GetContentByHash(ctx, hash)
		if gerr != nil {
			return nil, false, fmt.Errorf("load duplicate content: %w", gerr)
		}
		c.recent.SetDefault(hash, existing.ID)
		c.log.Info().Str("item_id", existing.ID).Msg("duplicate content ignored")
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store captured content: %w", err)
	}

	c.recent.SetDefault(hash, item.ID)
	c.log.Info().Str("item_id", item.ID).Str("url", item.URL).Int("chars", utf8.RuneCountInString(text)).Msg("content captured")
	return item, true, nil
}

func (c *Capturer) normalize(ctx context.Context, p Payload) (title, text string, err error) {
	title = strings.TrimSpace(p.Title)
	htmlContent := p.HTML
	text = p.Text

	if htmlContent == "" && strings.TrimSpace(text) == "" {
		if p.URL == "" {
			return "", "", core.NewInvalidRequest("payload needs text, html or url")
		}
		if c.robots != nil {
			allowed, err := c.robots.Allowed(ctx, p.URL)
			if err != nil {
				return "", "", err
			}
			if !allowed {
				return "", "", core.NewInvalidRequest("robots.txt disallows fetching %s; submit the text instead", p.URL)
			}
		}
		if htmlContent, err = FetchPage(ctx, c.client, p.URL); err != nil {
			return "", "", err
		}
	}

	if htmlContent != "" {
		extracted, htmlTitle, err := ExtractText(htmlContent, p.URL)
		if err != nil {
			return "", "", core.NewInvalidRequest("unreadable html: %v", err)
		}
		text = extracted
		if title == "" {
			title = htmlTitle
		}
	}

	text = NormalizeWhitespace(text)
	if text == "" {
		return "", "", core.NewInvalidRequest("payload has no readable text")
	}
	if utf8.RuneCountInString(text) > c.cfg.MaxBodyChars {
		text = string([]rune(text)[:c.cfg.MaxBodyChars])
	}
	if title == "" {
		title = fallbackTitle(text)
	}
	return NormalizeWhitespace(title), text, nil
}

// NormalizeWhitespace collapses runs of spaces within lines and keeps at most
// one blank line between paragraphs.
func NormalizeWhitespace(s string) string {
	var paragraphs []string
	for _, para := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") {
		if p := strings.Join(strings.Fields(para), " "); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// ContentHash is the hex sha256 of the normalized title and text. Case and
// whitespace differences do not change it.
func ContentHash(title, text string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(title), " "))))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(text), " "))))
	return hex.EncodeToString(h.Sum(nil))
}

func fallbackTitle(text string) string {
	words := strings.Fields(text)
	if len(words) > 10 {
		return strings.Join(words[:10], " ") + "..."
	}
	return strings.Join(words, " ")
}
