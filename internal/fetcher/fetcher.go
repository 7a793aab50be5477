package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"coinafrique-scraper/internal/config"
	"coinafrique-scraper/internal/observability"
)

// ErrFetchFailed covers transport errors, timeouts and non-2xx responses alike.
var ErrFetchFailed = errors.New("fetch failed")

// Fetcher issues single GET requests and memoizes successful bodies per
// exact URL for its own lifetime. A cached page is never re-requested.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	logger      *observability.Logger
	metrics     *observability.Metrics
	rateLimiter *RateLimiter

	mu    sync.RWMutex
	cache map[string][]byte
}

func NewFetcher(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) *Fetcher {
	client := &http.Client{
		Timeout: cfg.GetTotalTimeout(),
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.HTTP.MaxIdleConnections,
			MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnectionsPerHost,
			IdleConnTimeout:     cfg.GetIdleConnectionTimeout(),
		},
	}

	return &Fetcher{
		client:      client,
		userAgent:   cfg.HTTP.UserAgent,
		logger:      logger,
		metrics:     metrics,
		rateLimiter: NewRateLimiter(cfg.RateLimit.RPM),
		cache:       make(map[string][]byte),
	}
}

// Fetch returns the page body. Every failure wraps ErrFetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) ([]byte, error) {
	if body, ok := f.Cached(urlStr); ok {
		f.metrics.IncPage(observability.FetchCached)
		f.logger.Debug("Fetch cache hit", "url", urlStr)
		return body, nil
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		f.metrics.IncPage(observability.FetchFailed)
		return nil, fmt.Errorf("%w: invalid URL: %v", ErrFetchFailed, err)
	}

	if err := f.rateLimiter.Wait(ctx, parsedURL.Host); err != nil {
		f.metrics.IncPage(observability.FetchFailed)
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrFetchFailed, err)
	}

	body, err := f.fetchOnce(ctx, urlStr)
	if err != nil {
		f.metrics.IncPage(observability.FetchFailed)
		f.logger.Warn("Fetch failed", "url", urlStr, "error", err.Error())
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, urlStr, err)
	}

	f.mu.Lock()
	f.cache[urlStr] = body
	f.mu.Unlock()

	f.metrics.IncPage(observability.FetchOK)
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, urlStr string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.logger.Warn("Failed to close response body", "error", err.Error())
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gzipReader.Close() }()
		reader = gzipReader
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("Page fetched",
		"url", urlStr,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"bytes", len(body),
	)

	return body, nil
}

// Cached returns the memoized body for urlStr, if any.
func (f *Fetcher) Cached(urlStr string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	body, ok := f.cache[urlStr]
	return body, ok
}

// CachedURLs lists the URLs currently held in the cache.
func (f *Fetcher) CachedURLs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	urls := make([]string, 0, len(f.cache))
	for u := range f.cache {
		urls = append(urls, u)
	}
	return urls
}

func (f *Fetcher) CacheLen() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cache)
}

// ResetCache drops every memoized page and starts a new session.
func (f *Fetcher) ResetCache() {
	f.mu.Lock()
	f.cache = make(map[string][]byte)
	f.mu.Unlock()
}
