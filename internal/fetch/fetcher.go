// Package fetch performs bounded, timeout-governed HTTP retrieval for the
// scrapers. Transport failures are swallowed into null results plus a
// logged diagnostic; nothing escapes this boundary.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/histocoin/artifact-miner/internal/metrics"
)

// Config controls the shared outbound client.
type Config struct {
	ConnectTimeout time.Duration
	Timeout        time.Duration
	ReadTimeout    time.Duration
	ConnectorLimit int
	MaxBodyBytes   int64
	UserAgent      string
	RatePerDomain  float64
	RateBurst      int
}

// Client wraps one pooled http.Client shared by every fetch within a run.
// It is stateless apart from the pool and safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *domainLimiter
	maxBytes   int64
	userAgent  string
	logger     *zap.Logger
}

// New builds a Client with a bounded transport.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	var limiter *domainLimiter
	if cfg.RatePerDomain > 0 {
		limiter = newDomainLimiter(cfg.RatePerDomain, cfg.RateBurst)
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: NewTransport(cfg),
		},
		limiter:   limiter,
		maxBytes:  cfg.MaxBodyBytes,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// NewTransport builds the bounded http.Transport used for all outbound
// connections, capped at ConnectorLimit simultaneous connections per host.
func NewTransport(cfg Config) *http.Transport {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 3 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 55 * time.Second
	}
	limit := cfg.ConnectorLimit
	if limit <= 0 {
		limit = 8
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxConnsPerHost:       limit,
		MaxIdleConns:          limit * 4,
		IdleConnTimeout:       90 * time.Second,
	}
}

// HTTPClient exposes the shared pooled client so collaborators (the
// enricher's fallback chain) reuse the same connection pool.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// FetchText retrieves a URL's body as text. Any transport error or non-2xx
// status yields ("", false) after logging a diagnostic.
func (c *Client) FetchText(ctx context.Context, url string) (string, bool) {
	body, ok := c.get(ctx, url)
	if !ok {
		return "", false
	}
	return string(body), true
}

// FetchJSON retrieves a URL and decodes its JSON body into dst. Any
// transport, status, or decode failure yields false after logging.
func (c *Client) FetchJSON(ctx context.Context, url string, dst any) bool {
	body, ok := c.get(ctx, url)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		c.logger.Warn("fetch json decode failed", zap.String("url", url), zap.Error(err))
		return false
	}
	return true
}

// CheckReachable probes a URL with HEAD, falling back to GET. It reports
// whether the target answered with a non-error status, plus a short note.
func (c *Client) CheckReachable(ctx context.Context, url string) (bool, string) {
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return false, fmt.Sprintf("error: %v", err)
		}
		c.setHeaders(req)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			continue
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 400 {
			return true, fmt.Sprintf("%s %d", method, resp.StatusCode)
		}
		if method == http.MethodGet {
			return false, fmt.Sprintf("GET %d", resp.StatusCode)
		}
	}
	return false, "unreachable"
}

func (c *Client) get(ctx context.Context, url string) ([]byte, bool) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, url); err != nil {
			c.logger.Warn("fetch rate wait canceled", zap.String("url", url), zap.Error(err))
			return nil, false
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Warn("fetch request build failed", zap.String("url", url), zap.Error(err))
		return nil, false
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveFetch("error")
		c.logger.Warn("fetch failed", zap.String("url", url), zap.Error(err))
		return nil, false
	}
	defer func() { _ = resp.Body.Close() }()

	metrics.ObserveFetch(metrics.StatusClass(resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("fetch non-2xx", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		c.logger.Warn("fetch body read failed", zap.String("url", url), zap.Error(err))
		return nil, false
	}
	return body, true
}

func (c *Client) setHeaders(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
}
