package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"coinafrique-scraper/internal/config"
	"coinafrique-scraper/internal/observability"
)

func newTestFetcher(t *testing.T, mutate func(*config.Config)) *Fetcher {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return NewFetcher(cfg, observability.NewNop(), observability.NewMetrics())
}

func TestFetchSendsUserAgentAndCaches(t *testing.T) {
	var hits atomic.Int32
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotUA.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html>page " + r.URL.Query().Get("page") + "</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		body, err := f.Fetch(ctx, srv.URL+"?page=1")
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if string(body) != "<html>page 1</html>" {
			t.Fatalf("body = %q", body)
		}
	}
	if _, err := f.Fetch(ctx, srv.URL+"?page=2"); err != nil {
		t.Fatalf("Fetch page 2: %v", err)
	}

	if hits.Load() != 2 {
		t.Errorf("server hit %d times, want 2", hits.Load())
	}
	if ua, _ := gotUA.Load().(string); ua != config.DefaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", ua, config.DefaultUserAgent)
	}
	if f.CacheLen() != 2 {
		t.Errorf("CacheLen() = %d, want 2", f.CacheLen())
	}
	if _, ok := f.Cached(srv.URL + "?page=1"); !ok {
		t.Errorf("page 1 missing from cache")
	}

	f.ResetCache()
	if f.CacheLen() != 0 {
		t.Errorf("CacheLen() after reset = %d", f.CacheLen())
	}
	if _, err := f.Fetch(ctx, srv.URL+"?page=1"); err != nil {
		t.Fatalf("Fetch after reset: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("server hit %d times after reset, want 3", hits.Load())
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL)
		if !errors.Is(err, ErrFetchFailed) {
			t.Fatalf("Fetch error = %v, want ErrFetchFailed", err)
		}
	}
	if hits.Load() != 2 {
		t.Errorf("failures must not be cached: %d hits, want 2", hits.Load())
	}
	if f.CacheLen() != 0 {
		t.Errorf("CacheLen() = %d, want 0", f.CacheLen())
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, func(c *config.Config) { c.HTTP.TotalTimeoutMS = 50 })

	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("Fetch error = %v, want ErrFetchFailed", err)
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := newTestFetcher(t, nil)
	if _, err := f.Fetch(context.Background(), addr); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("Fetch error = %v, want ErrFetchFailed", err)
	}
}

func TestFetchGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte("<html>compressed</html>"))
		_ = gz.Close()
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != "<html>compressed</html>" {
		t.Errorf("body = %q", body)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(600) // one request per 100ms
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx, "example.com"); err != nil {
			t.Fatalf("Rate limiter error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("3 requests at 600 rpm took %v, want >= 150ms", elapsed)
	}

	if err := NewRateLimiter(0).Wait(ctx, "example.com"); err != nil {
		t.Errorf("disabled limiter returned %v", err)
	}
}
