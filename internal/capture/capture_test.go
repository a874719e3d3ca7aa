package capture

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polibrief/internal/core"
)

type memStore struct {
	mu      sync.Mutex
	byID    map[string]*core.ContentItem
	creates int
	lookups int
}

func newMemStore() *memStore {
	return &memStore{byID: map[string]*core.ContentItem{}}
}

func (s *memStore) CreateContent(_ context.Context, item *core.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	for _, existing := range s.byID {
		if existing.ContentHash == item.ContentHash {
			return core.NewDuplicateContent(item.ContentHash, existing.ID)
		}
	}
	cp := *item
	s.byID[item.ID] = &cp
	return nil
}

func (s *memStore) GetContent(_ context.Context, id string) (*core.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if it, ok := s.byID[id]; ok {
		cp := *it
		return &cp, nil
	}
	return nil, core.NewNotFound("content", id)
}

func (s *memStore) GetContentByHash(_ context.Context, hash string) (*core.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.byID {
		if it.ContentHash == hash {
			cp := *it
			return &cp, nil
		}
	}
	return nil, core.NewNotFound("content hash", hash)
}

func TestCapture_CreatesPendingItem(t *testing.T) {
	store := newMemStore()
	c := New(DefaultConfig(), store, zerolog.Nop())

	item, created, err := c.Capture(context.Background(), Payload{
		URL:   "https://news.example/a",
		Title: "  Senate   passes budget ",
		Text:  "The Senate passed\tthe budget.\n\n\n\nDebate continues.",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, core.StatusPending, item.Status)
	assert.Equal(t, "Senate passes budget", item.Title)
	assert.Equal(t, "The Senate passed the budget.\n\nDebate continues.", item.RawText)
	assert.Len(t, item.ContentHash, 64)
	assert.NotEmpty(t, item.ID)
	assert.False(t, item.CapturedAt.IsZero())
}

func TestCapture_DuplicateIsNoOp(t *testing.T) {
	store := newMemStore()
	c := New(DefaultConfig(), store, zerolog.Nop())
	ctx := context.Background()

	first, created, err := c.Capture(ctx, Payload{Title: "Budget", Text: "Same body"})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := c.Capture(ctx, Payload{Title: "budget ", Text: "Same   body"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.creates, "cache hit must not reach CreateContent")

	// a fresh capturer has an empty cache and relies on the store
	other := New(DefaultConfig(), store, zerolog.Nop())
	third, created, err := other.Capture(ctx, Payload{Title: "Budget", Text: "Same body"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, third.ID)
	assert.Len(t, store.byID, 1)
}

func TestCapture_HTMLPayload(t *testing.T) {
	page := `<html><head><title>Vote tonight</title><script>var x=1;</script></head>
<body><nav><p>Menu</p></nav><article><h1>Vote tonight</h1><p>The House votes at nine.</p><p>Both parties whip.</p></article>
<footer><p>Copyright</p></footer></body></html>`

	item, _, err := New(DefaultConfig(), newMemStore(), zerolog.Nop()).Capture(context.Background(), Payload{HTML: page})
	require.NoError(t, err)
	assert.Equal(t, "Vote tonight", item.Title)
	assert.Equal(t, "Vote tonight\n\nThe House votes at nine.\n\nBoth parties whip.", item.RawText)
	assert.NotContains(t, item.RawText, "Menu")
	assert.NotContains(t, item.RawText, "Copyright")
}

func TestCapture_FetchesURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><meta property="og:title" content="Fetched story"></head><body><main><p>Fetched body text.</p></main></body></html>`))
	}))
	defer srv.Close()

	item, created, err := New(DefaultConfig(), newMemStore(), zerolog.Nop()).Capture(context.Background(), Payload{URL: srv.URL})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Fetched story", item.Title)
	assert.Equal(t, "Fetched body text.", item.RawText)
	assert.Equal(t, srv.URL, item.URL)
}

func TestCapture_RespectsRobots(t *testing.T) {
	var pageHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		pageHits.Add(1)
		w.Write([]byte(`<html><body><main><p>Open page.</p></main></body></html>`))
	}))
	defer srv.Close()

	c := New(DefaultConfig(), newMemStore(), zerolog.Nop())
	_, _, err := c.Capture(context.Background(), Payload{URL: srv.URL + "/private/memo"})
	assert.True(t, core.Is(err, core.ErrInvalidRequest), "got %v", err)
	assert.Zero(t, pageHits.Load())

	item, _, err := c.Capture(context.Background(), Payload{URL: srv.URL + "/public/story"})
	require.NoError(t, err)
	assert.Equal(t, "Open page.", item.RawText)

	cfg := DefaultConfig()
	cfg.RespectRobots = false
	_, _, err = New(cfg, newMemStore(), zerolog.Nop()).Capture(context.Background(), Payload{URL: srv.URL + "/private/memo"})
	require.NoError(t, err)
}

func TestExtractText_ReadabilityWithoutContainer(t *testing.T) {
	page := `<html><head><title>Senate deal</title></head><body>
<div class="menu"><a href="/">Home</a> <a href="/politics">Politics</a></div>
<div id="story">
<p>Senate negotiators reached a tentative agreement on Tuesday, according to three aides, after weeks of talks over spending levels and border provisions.</p>
<p>The package still needs votes from both chambers, and leaders in the House said they would review the text, line by line, before scheduling a floor vote.</p>
</div>
</body></html>`

	text, title, err := ExtractText(page, "https://news.example.com/senate-deal")
	require.NoError(t, err)
	assert.Equal(t, "Senate deal", title)
	assert.Contains(t, text, "Senate negotiators reached a tentative agreement")
	assert.Contains(t, text, "\n\nThe package still needs votes")
}

func TestCapture_RejectsEmptyPayload(t *testing.T) {
	c := New(DefaultConfig(), newMemStore(), zerolog.Nop())

	for _, p := range []Payload{{}, {Title: "only a title"}, {HTML: "<html><body><script>x</script></body></html>"}} {
		_, _, err := c.Capture(context.Background(), p)
		assert.True(t, core.Is(err, core.ErrInvalidRequest), "payload %+v: got %v", p, err)
	}
}

func TestCapture_TruncatesBodyAndDerivesTitle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodyChars = 60
	item, _, err := New(cfg, newMemStore(), zerolog.Nop()).Capture(context.Background(), Payload{Text: strings.Repeat("word ", 100)})
	require.NoError(t, err)
	assert.Equal(t, 60, len([]rune(item.RawText)))
	assert.True(t, strings.HasSuffix(item.Title, "..."))
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, ContentHash("A  Title", "Body\n text"), ContentHash("a title", "body text"))
	assert.NotEqual(t, ContentHash("a", "bc"), ContentHash("ab", "c"))
}
