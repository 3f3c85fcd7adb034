package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const robotsCacheTTL = 30 * time.Minute

// RobotsGate checks robots.txt before generic page fetches. Parsed robots
// data is cached per host with a TTL. A robots.txt that cannot be fetched
// or parsed allows the fetch; denial requires an explicit rule.
type RobotsGate struct {
	httpClient *http.Client
	cache      *gocache.Cache
	userAgent  string
	logger     *zap.Logger
}

// NewRobotsGate builds a gate that shares the client's connection pool.
func NewRobotsGate(client *Client, userAgent string, logger *zap.Logger) *RobotsGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsGate{
		httpClient: client.HTTPClient(),
		cache:      gocache.New(robotsCacheTTL, robotsCacheTTL),
		userAgent:  userAgent,
		logger:     logger,
	}
}

// Allow reports whether the URL may be fetched under the host's robots.txt.
func (g *RobotsGate) Allow(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := g.robotsData(ctx, u)
	if err != nil {
		g.logger.Debug("robots fetch failed, allowing", zap.String("host", u.Host), zap.Error(err))
		return true
	}
	return data.TestAgent(u.Path, g.userAgent)
}

func (g *RobotsGate) robotsData(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	if cached, ok := g.cache.Get(u.Host); ok {
		return cached.(*robotstxt.RobotsData), nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	g.cache.SetDefault(u.Host, data)
	return data, nil
}
