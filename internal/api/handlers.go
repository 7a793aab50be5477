package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"

	"coinafrique-scraper/internal/app"
	"coinafrique-scraper/internal/export"
	"coinafrique-scraper/internal/insights"
	"coinafrique-scraper/internal/model"
	"coinafrique-scraper/internal/storage"
)

type scrapeRequest struct {
	Category string `json:"category"`
	BaseURL  string `json:"base_url"`
	MaxPages int    `json:"max_pages"`
	DelayMS  *int   `json:"delay_ms"`
}

type scrapeResponse struct {
	Stats      app.Stats `json:"stats"`
	Count      int       `json:"count"`
	RawCSV     string    `json:"raw_csv,omitempty"`
	CleanedCSV string    `json:"cleaned_csv,omitempty"`
	Stored     bool      `json:"stored"`
	Error      string    `json:"error,omitempty"`
}

type categoryResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type evaluationRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Rating  int    `json:"rating"`
	Pros    string `json:"pros"`
	Cons    string `json:"cons"`
	Comment string `json:"comment"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Category == "" {
		s.respondWithError(w, http.StatusBadRequest, "category is required")
		return
	}
	if req.MaxPages < 0 {
		s.respondWithError(w, http.StatusBadRequest, "max_pages must be >= 1")
		return
	}

	opts := app.RunOptions{
		Category: req.Category,
		BaseURL:  req.BaseURL,
		MaxPages: req.MaxPages,
		OnProgress: func(page, maxPages int) {
			s.logger.Debug("Scrape progress", "category", req.Category, "page", page, "max_pages", maxPages)
		},
	}
	if req.DelayMS != nil {
		d := time.Duration(*req.DelayMS) * time.Millisecond
		opts.Delay = &d
	}

	report, err := s.pipeline.TryRun(r.Context(), opts)
	switch {
	case errors.Is(err, app.ErrScrapeInProgress):
		s.respondWithError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, app.ErrUnknownCategory):
		s.respondWithError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, app.ErrInvalidRequest):
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil && report == nil:
		s.logger.Error("Scrape failed", "category", req.Category, "error", err.Error())
		s.respondWithError(w, http.StatusInternalServerError, "Scrape failed")
		return
	}

	resp := scrapeResponse{
		Stats:      report.Result.Stats,
		Count:      len(report.Result.Raw),
		RawCSV:     report.RawCSV,
		CleanedCSV: report.CleanedCSV,
		Stored:     report.Stored,
	}
	if err != nil {
		// records were scraped but not fully saved
		s.logger.Error("Scrape not saved", "category", req.Category, "error", err.Error())
		resp.Error = err.Error()
		s.respondWithJSON(w, http.StatusBadGateway, resp)
		return
	}
	s.respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	out := make([]categoryResponse, 0, len(s.config.Categories))
	for _, key := range s.config.CategoryKeys() {
		out = append(out, categoryResponse{Key: key, URL: s.config.Categories[key]})
	}
	s.respondWithJSON(w, http.StatusOK, out)
}

type cacheResponse struct {
	Entries int      `json:"entries"`
	URLs    []string `json:"urls"`
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	urls := s.cache.CachedURLs()
	sort.Strings(urls)
	s.respondWithJSON(w, http.StatusOK, cacheResponse{Entries: len(urls), URLs: urls})
}

func (s *Server) handleCacheReset(w http.ResponseWriter, r *http.Request) {
	s.cache.ResetCache()
	s.logger.Info("Fetch cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRawAds(w http.ResponseWriter, r *http.Request) {
	ads, ok := s.readRaw(w, r)
	if !ok {
		return
	}
	s.respondWithJSON(w, http.StatusOK, nonNil(ads))
}

func (s *Server) handleRawAdsCSV(w http.ResponseWriter, r *http.Request) {
	ads, ok := s.readRaw(w, r)
	if !ok {
		return
	}
	s.respondWithCSV(w, string(model.CollectionRaw), func(out io.Writer) error { return export.WriteRaw(out, ads) })
}

func (s *Server) handleCleanedAds(w http.ResponseWriter, r *http.Request) {
	ads, ok := s.readCleaned(w, r)
	if !ok {
		return
	}
	s.respondWithJSON(w, http.StatusOK, nonNil(ads))
}

func (s *Server) handleCleanedAdsCSV(w http.ResponseWriter, r *http.Request) {
	ads, ok := s.readCleaned(w, r)
	if !ok {
		return
	}
	s.respondWithCSV(w, string(model.CollectionCleaned), func(out io.Writer) error { return export.WriteCleaned(out, ads) })
}

// handleStats aggregates every cleaned ad matching the filters whose price
// lies in (0, max_valid_price]. The limit parameter does not apply.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxValid := s.config.Normalize.MaxValidPrice
	if !statsBounds(&filter, maxValid) {
		s.respondWithJSON(w, http.StatusOK, insights.Summarize(nil, maxValid))
		return
	}

	ads, err := s.store.ReadCleaned(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to read cleaned ads", "error", err.Error())
		s.respondWithError(w, http.StatusInternalServerError, "Could not read cleaned ads")
		return
	}
	s.respondWithJSON(w, http.StatusOK, insights.Summarize(ads, maxValid))
}

// statsBounds narrows the price bounds to the valid range and lifts the row
// limit. It reports false when the bounds leave nothing to match.
func statsBounds(f *storage.Filter, maxValid int64) bool {
	lo, hi := int64(1), maxValid
	if f.MinPrice != nil && *f.MinPrice > lo {
		lo = *f.MinPrice
	}
	if f.MaxPrice != nil && *f.MaxPrice < hi {
		hi = *f.MaxPrice
	}
	f.MinPrice, f.MaxPrice = &lo, &hi
	f.Limit, f.Unlimited = 0, true
	return lo <= hi
}

func (s *Server) handleCreateEvaluation(w http.ResponseWriter, r *http.Request) {
	var req evaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := validateEvaluation(&req); msg != "" {
		s.respondWithError(w, http.StatusBadRequest, msg)
		return
	}

	ev := &model.Evaluation{
		Name:        req.Name,
		Email:       req.Email,
		Rating:      req.Rating,
		Pros:        req.Pros,
		Cons:        req.Cons,
		Comment:     req.Comment,
		SubmittedAt: time.Now().UTC(),
	}
	id, err := s.store.AppendEvaluation(r.Context(), ev)
	if err != nil {
		s.logger.Error("Failed to save evaluation", "error", err.Error())
		s.respondWithError(w, http.StatusInternalServerError, "Could not save evaluation")
		return
	}
	s.respondWithJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	evs, err := s.store.ReadEvaluations(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read evaluations", "error", err.Error())
		s.respondWithError(w, http.StatusInternalServerError, "Could not read evaluations")
		return
	}
	s.respondWithJSON(w, http.StatusOK, nonNil(evs))
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthStatus := map[string]string{"store": "healthy"}
	if err := s.store.Ping(ctx); err != nil {
		healthStatus["store"] = "unhealthy"
		s.logger.Error("Health check failed for store", "error", err.Error())
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) readRaw(w http.ResponseWriter, r *http.Request) ([]model.RawAd, bool) {
	limit, err := intParam(r, "limit")
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	ads, err := s.store.ReadRaw(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read raw ads", "error", err.Error())
		s.respondWithError(w, http.StatusInternalServerError, "Could not read raw ads")
		return nil, false
	}
	return ads, true
}

func (s *Server) readCleaned(w http.ResponseWriter, r *http.Request) ([]model.CleanedAd, bool) {
	filter, err := parseFilter(r)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	ads, err := s.store.ReadCleaned(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to read cleaned ads", "error", err.Error())
		s.respondWithError(w, http.StatusInternalServerError, "Could not read cleaned ads")
		return nil, false
	}
	return ads, true
}

// parseFilter reads category (repeatable or comma separated), min_price,
// max_price, address and limit.
func parseFilter(r *http.Request) (storage.Filter, error) {
	q := r.URL.Query()
	var f storage.Filter

	f.Categories = storage.SplitCategories(q["category"]...)

	for _, p := range []struct {
		name string
		dst  **int64
	}{{"min_price", &f.MinPrice}, {"max_price", &f.MaxPrice}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return storage.Filter{}, fmt.Errorf("%s must be a non-negative integer", p.name)
		}
		*p.dst = &n
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return storage.Filter{}, fmt.Errorf("min_price must be <= max_price")
	}

	f.AddressContains = strings.TrimSpace(q.Get("address"))

	limit, err := intParam(r, "limit")
	if err != nil {
		return storage.Filter{}, err
	}
	f.Limit = limit
	return f, nil
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func validateEvaluation(req *evaluationRequest) string {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)

	if req.Name == "" {
		return "name is required"
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return "email is invalid"
	}
	if req.Rating < 1 || req.Rating > 5 {
		return "rating must be between 1 and 5"
	}
	return ""
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to encode response", "error", err.Error())
		code = http.StatusInternalServerError
		response = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		s.logger.Warn("Failed to write response", "error", err.Error())
	}
}

func (s *Server) respondWithCSV(w http.ResponseWriter, name string, write func(io.Writer) error) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := write(w); err != nil {
		s.logger.Warn("Failed to write CSV", "name", name, "error", err.Error())
	}
}
