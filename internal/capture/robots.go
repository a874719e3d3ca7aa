package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"

	"polibrief/internal/core"
)

const (
	userAgent      = "polibrief/1.0"
	robotsAgent    = "polibrief"
	robotsCacheTTL = 6 * time.Hour
	maxRobotsBytes = 512 << 10
)

// RobotsChecker answers whether a URL may be fetched, caching robots.txt per host.
type RobotsChecker struct {
	client *http.Client
	cache  *gocache.Cache // scheme://host -> *robotstxt.RobotsData
	log    zerolog.Logger
}

// NewRobotsChecker creates a checker that downloads robots.txt with client.
func NewRobotsChecker(client *http.Client, log zerolog.Logger) *RobotsChecker {
	return &RobotsChecker{
		client: client,
		cache:  gocache.New(robotsCacheTTL, robotsCacheTTL),
		log:    log,
	}
}

// Allowed reports whether robots.txt permits fetching rawURL. An unreachable
// robots.txt allows the fetch.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false, core.NewInvalidRequest("invalid url %q", rawURL)
	}
	origin := u.Scheme + "://" + u.Host

	data, err := r.robots(ctx, origin)
	if err != nil {
		r.log.Warn().Err(err).Str("origin", origin).Msg("robots.txt unavailable, fetching anyway")
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, robotsAgent), nil
}

func (r *RobotsChecker) robots(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	if cached, ok := r.cache.Get(origin); ok {
		return cached.(*robotstxt.RobotsData), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	// 4xx allows everything and 5xx disallows everything
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	r.cache.SetDefault(origin, data)
	return data, nil
}
