// Package memory keeps the three collections in process memory. It backs
// the "memory" storage driver used for local runs without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"coinafrique-scraper/internal/model"
	"coinafrique-scraper/internal/storage"
)

type Repository struct {
	readLimit int

	mu          sync.RWMutex
	raw         []model.RawAd
	cleaned     []model.CleanedAd
	evaluations []model.Evaluation
	nextID      int64
}

func New(readLimit int) *Repository {
	return &Repository{readLimit: readLimit, nextID: 1}
}

func (r *Repository) EnsureSchema(context.Context) error { return nil }

func (r *Repository) AppendRaw(_ context.Context, ads []model.RawAd) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw = append(r.raw, ads...)
	return nil
}

func (r *Repository) AppendCleaned(_ context.Context, ads []model.CleanedAd) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleaned = append(r.cleaned, ads...)
	return nil
}

func (r *Repository) AppendBatch(_ context.Context, raw []model.RawAd, cleaned []model.CleanedAd) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw = append(r.raw, raw...)
	r.cleaned = append(r.cleaned, cleaned...)
	return nil
}

func (r *Repository) AppendEvaluation(_ context.Context, ev *model.Evaluation) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.SubmittedAt.IsZero() {
		ev.SubmittedAt = time.Now().UTC()
	}
	ev.ID = r.nextID
	r.nextID++
	r.evaluations = append(r.evaluations, *ev)
	return ev.ID, nil
}

func (r *Repository) ReadRaw(_ context.Context, limit int) ([]model.RawAd, error) {
	r.mu.RLock()
	out := newestFirst(r.raw, func(ad model.RawAd) time.Time { return ad.ScrapedAt })
	r.mu.RUnlock()
	return truncate(out, r.limit(limit)), nil
}

func (r *Repository) ReadCleaned(_ context.Context, filter storage.Filter) ([]model.CleanedAd, error) {
	r.mu.RLock()
	out := newestFirst(r.cleaned, func(ad model.CleanedAd) time.Time { return ad.ScrapedAt })
	r.mu.RUnlock()

	matched := out[:0]
	for _, ad := range out {
		if matches(ad, filter) {
			matched = append(matched, ad)
		}
	}
	if filter.Unlimited {
		return matched, nil
	}
	return truncate(matched, r.limit(filter.Limit)), nil
}

func (r *Repository) ReadEvaluations(_ context.Context, limit int) ([]model.Evaluation, error) {
	r.mu.RLock()
	out := newestFirst(r.evaluations, func(ev model.Evaluation) time.Time { return ev.SubmittedAt })
	r.mu.RUnlock()
	return truncate(out, r.limit(limit)), nil
}

func (r *Repository) Ping(context.Context) error { return nil }

func (r *Repository) Close() error { return nil }

func (r *Repository) limit(n int) int {
	if n <= 0 {
		return r.readLimit
	}
	return n
}

// matches mirrors the SQL WHERE clause, including NULL never satisfying a
// comparison.
func matches(ad model.CleanedAd, f storage.Filter) bool {
	if len(f.Categories) > 0 {
		found := false
		for _, c := range f.Categories {
			if ad.Category == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinPrice != nil && (ad.Price == nil || *ad.Price < *f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && (ad.Price == nil || *ad.Price > *f.MaxPrice) {
		return false
	}
	if f.AddressContains != "" {
		if ad.Address == nil || !strings.Contains(strings.ToLower(*ad.Address), strings.ToLower(f.AddressContains)) {
			return false
		}
	}
	return true
}

// newestFirst copies items, latest appended first, then stable-sorts by
// timestamp descending.
func newestFirst[T any](items []T, ts func(T) time.Time) []T {
	out := make([]T, len(items))
	for i, v := range items {
		out[len(items)-1-i] = v
	}
	sort.SliceStable(out, func(i, j int) bool { return ts(out[i]).After(ts(out[j])) })
	return out
}

func truncate[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
