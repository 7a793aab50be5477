package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coinafrique-scraper/internal/app"
	"coinafrique-scraper/internal/config"
	"coinafrique-scraper/internal/fetcher"
	"coinafrique-scraper/internal/model"
	"coinafrique-scraper/internal/normalize"
	"coinafrique-scraper/internal/observability"
	"coinafrique-scraper/internal/scraper"
	"coinafrique-scraper/internal/storage"
	"coinafrique-scraper/internal/storage/memory"
)

const listingPage = `<html><body>
<div class="col s6 m4 l3">
	<p class="ad__card-description">Berger allemand</p>
	<p class="ad__card-price">90 000 CFA</p>
	<p class="ad__card-location">Dakar, Sénégal</p>
	<img class="ad__card-img" src="https://images.coinafrique.com/1.jpg">
</div>
<div class="col s6 m4 l3">
	<p class="ad__card-description">Chiots Bichon</p>
	<p class="ad__card-price">Prix sur demande</p>
	<p class="ad__card-location">Thiès, Sénégal</p>
</div>
</body></html>`

type testEnv struct {
	server  *Server
	store   *memory.Repository
	fetcher *fetcher.Fetcher
	site    *httptest.Server
}

// newTestEnv wires the real fetcher and extractor against a fake listing
// site that serves two ads on page 1 and nothing after.
func newTestEnv(t *testing.T, siteHandler http.HandlerFunc) *testEnv {
	t.Helper()

	if siteHandler == nil {
		siteHandler = func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("page") == "1" {
				fmt.Fprint(w, listingPage)
				return
			}
			fmt.Fprint(w, "<html><body></body></html>")
		}
	}
	site := httptest.NewServer(siteHandler)
	t.Cleanup(site.Close)

	cfg := config.Default()
	cfg.Categories = map[string]string{"dogs": site.URL + "/categorie/chiens"}
	cfg.Pagination.DelayMS = 0
	cfg.Storage.Driver = config.DriverMemory
	cfg.Export.DataDir = t.TempDir()

	logger := observability.NewNop()
	metrics := observability.NewMetrics()
	f := fetcher.NewFetcher(cfg, logger, metrics)
	sc := scraper.NewScraper(nil, normalize.TextOptions{TrimNBSP: true, CollapseSpaces: true})
	store := memory.New(cfg.Storage.ReadLimit)
	pipeline := app.NewPipeline(cfg, app.NewOrchestrator(logger, metrics, f, sc), store, logger)

	return &testEnv{
		server:  NewServer(cfg, pipeline, store, f, metrics, logger),
		store:   store,
		fetcher: f,
		site:    site,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestScrapeEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/scrapes", `{"category":"dogs","max_pages":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp scrapeResponse
	decode(t, rec, &resp)
	if resp.Count != 2 || !resp.Stored || resp.Stats.StoppedReason != app.StopEmptyPage || resp.Stats.PagesFetched != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if env.fetcher.CacheLen() != 2 {
		t.Errorf("cache entries = %d, want 2", env.fetcher.CacheLen())
	}

	rec = env.do(t, http.MethodGet, "/api/ads/cleaned?category=dogs&min_price=1", "")
	var cleaned []model.CleanedAd
	decode(t, rec, &cleaned)
	if len(cleaned) != 1 || *cleaned[0].Price != 90000 {
		t.Errorf("cleaned = %+v", cleaned)
	}

	rec = env.do(t, http.MethodGet, "/api/ads/raw?limit=1", "")
	var raw []model.RawAd
	decode(t, rec, &raw)
	if len(raw) != 1 {
		t.Errorf("raw len = %d, want 1", len(raw))
	}
}

func TestScrapeEndpointErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing category", `{}`, http.StatusBadRequest},
		{"unknown category", `{"category":"cats"}`, http.StatusNotFound},
		{"bad base url", `{"category":"cats","base_url":"not a url"}`, http.StatusBadRequest},
		{"negative delay", `{"category":"dogs","delay_ms":-5}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPost, "/api/scrapes", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestScrapeEndpointConflict(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		fmt.Fprint(w, "<html></html>")
	})

	done := make(chan int, 1)
	go func() {
		done <- env.do(t, http.MethodPost, "/api/scrapes", `{"category":"dogs","max_pages":1}`).Code
	}()
	<-started

	if rec := env.do(t, http.MethodPost, "/api/scrapes", `{"category":"dogs"}`); rec.Code != http.StatusConflict {
		t.Errorf("second scrape status = %d, want 409", rec.Code)
	}

	close(release)
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Errorf("first scrape status = %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first scrape did not finish")
	}
}

func TestCleanedCSVAndStats(t *testing.T) {
	env := newTestEnv(t, nil)
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	_ = env.store.AppendCleaned(context.Background(), []model.CleanedAd{
		{Category: "dogs", Price: model.Int64Ptr(10000), Address: model.StringPtr("Dakar"), ScrapedAt: at},
		{Category: "sheeps", Price: model.Int64Ptr(30000), Address: model.StringPtr("Dakar"), ScrapedAt: at},
		{Category: "sheeps", Price: nil, Address: model.StringPtr("Thiès"), ScrapedAt: at},
	})

	rec := env.do(t, http.MethodGet, "/api/ads/cleaned.csv?category=dogs,sheeps&address=dak", "")
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(rows) != 3 || rows[0][2] != "price" {
		t.Errorf("rows = %v", rows)
	}

	rec = env.do(t, http.MethodGet, "/api/stats", "")
	var summary struct {
		Count        int   `json:"count"`
		AveragePrice int64 `json:"average_price"`
		Categories   int   `json:"categories"`
	}
	decode(t, rec, &summary)
	if summary.Count != 2 || summary.AveragePrice != 20000 || summary.Categories != 2 {
		t.Errorf("summary = %+v", summary)
	}

	if rec := env.do(t, http.MethodGet, "/api/ads/cleaned?min_price=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad min_price status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/ads/cleaned?min_price=10&max_price=5", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("inverted range status = %d", rec.Code)
	}
}

func TestStatsCoverWholeTable(t *testing.T) {
	env := newTestEnv(t, nil)
	older := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	ads := make([]model.CleanedAd, 0, 1200)
	for i := 0; i < 600; i++ {
		ads = append(ads, model.CleanedAd{Category: "dogs", Price: model.Int64Ptr(1000), Address: model.StringPtr("Dakar"), ScrapedAt: older})
	}
	for i := 0; i < 600; i++ {
		ads = append(ads, model.CleanedAd{Category: "sheeps", Price: nil, Address: model.StringPtr("Thiès"), ScrapedAt: newer})
	}
	ads = append(ads, model.CleanedAd{Category: "sheeps", Price: model.Int64Ptr(20_000_000), ScrapedAt: newer})
	if err := env.store.AppendCleaned(context.Background(), ads); err != nil {
		t.Fatal(err)
	}

	var summary struct {
		Count        int   `json:"count"`
		AveragePrice int64 `json:"average_price"`
		MaxPrice     int64 `json:"max_price"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/stats?limit=10", ""), &summary)
	if summary.Count != 600 || summary.AveragePrice != 1000 || summary.MaxPrice != 1000 {
		t.Errorf("summary = %+v, want 600 ads at 1000", summary)
	}

	decode(t, env.do(t, http.MethodGet, "/api/stats?min_price=5000", ""), &summary)
	if summary.Count != 0 {
		t.Errorf("min_price=5000 count = %d, want 0", summary.Count)
	}
}

func TestStatsBounds(t *testing.T) {
	tests := []struct {
		name     string
		min, max *int64
		wantLo   int64
		wantHi   int64
		wantOK   bool
	}{
		{"no bounds", nil, nil, 1, 100, true},
		{"negative min", model.Int64Ptr(-5), nil, 1, 100, true},
		{"narrower", model.Int64Ptr(10), model.Int64Ptr(50), 10, 50, true},
		{"max above valid", nil, model.Int64Ptr(1000), 1, 100, true},
		{"min above valid", model.Int64Ptr(200), nil, 200, 100, false},
		{"max zero", nil, model.Int64Ptr(0), 1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := storage.Filter{MinPrice: tt.min, MaxPrice: tt.max, Limit: 10}
			ok := statsBounds(&f, 100)
			if ok != tt.wantOK || *f.MinPrice != tt.wantLo || *f.MaxPrice != tt.wantHi {
				t.Errorf("got ok=%v [%d, %d], want ok=%v [%d, %d]", ok, *f.MinPrice, *f.MaxPrice, tt.wantOK, tt.wantLo, tt.wantHi)
			}
			if !f.Unlimited || f.Limit != 0 {
				t.Errorf("filter keeps a row limit: %+v", f)
			}
		})
	}
}

func TestServerShutdownBeforeStart(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.server.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- env.server.Start() }()
	select {
	case err := <-done:
		if !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("Start err = %v, want ErrServerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start kept serving after Shutdown")
	}
}

func TestEvaluations(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"name":"Awa","email":"awa@example.com","rating":5,"comment":"Très utile"}`, http.StatusCreated},
		{"rating too high", `{"name":"Awa","email":"awa@example.com","rating":6}`, http.StatusBadRequest},
		{"rating zero", `{"name":"Awa","email":"awa@example.com"}`, http.StatusBadRequest},
		{"bad email", `{"name":"Awa","email":"awa","rating":3}`, http.StatusBadRequest},
		{"no name", `{"name":"  ","email":"awa@example.com","rating":3}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPost, "/api/evaluations", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}

	rec := env.do(t, http.MethodGet, "/api/evaluations", "")
	var evs []model.Evaluation
	decode(t, rec, &evs)
	if len(evs) != 1 || evs[0].ID != 1 || evs[0].Rating != 5 {
		t.Errorf("evaluations = %+v", evs)
	}
}

func TestCacheEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.fetcher.Fetch(context.Background(), env.site.URL+"/categorie/chiens?page=1"); err != nil {
		t.Fatal(err)
	}

	var status cacheResponse
	decode(t, env.do(t, http.MethodGet, "/api/cache", ""), &status)
	want := env.site.URL + "/categorie/chiens?page=1"
	if status.Entries != 1 || len(status.URLs) != 1 || status.URLs[0] != want {
		t.Errorf("cache status = %+v, want one entry for %s", status, want)
	}

	if rec := env.do(t, http.MethodDelete, "/api/cache", ""); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d", rec.Code)
	}
	if env.fetcher.CacheLen() != 0 {
		t.Errorf("cache not cleared")
	}
}

func TestHealthCategoriesMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	var cats []categoryResponse
	decode(t, env.do(t, http.MethodGet, "/api/categories", ""), &cats)
	if len(cats) != 1 || cats[0].Key != "dogs" {
		t.Errorf("categories = %+v", cats)
	}

	env.do(t, http.MethodPost, "/api/scrapes", `{"category":"dogs","max_pages":1}`)
	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "coinafrique_pages_fetched_total") {
		t.Errorf("metrics status = %d", rec.Code)
	}
}
