package storage

import (
	"context"
	"errors"

	"coinafrique-scraper/internal/model"
)

// ErrStorage matches every error returned by a Repository:
//
//	if errors.Is(err, storage.ErrStorage) { ... }
var ErrStorage = errors.New("storage failure")

// Error is the concrete error type of Repository operations.
type Error struct {
	Op         string
	Collection model.Collection
	Err        error
}

func (e *Error) Error() string {
	if e.Collection == "" {
		return "storage: " + e.Op + ": " + e.Err.Error()
	}
	return "storage: " + e.Op + " " + string(e.Collection) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrStorage }

// Wrap returns nil for a nil err.
func Wrap(op string, collection model.Collection, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Collection: collection, Err: err}
}

// Filter narrows ReadCleaned. Zero values do not filter.
type Filter struct {
	Categories      []string
	MinPrice        *int64
	MaxPrice        *int64
	AddressContains string // case-insensitive substring
	Limit           int    // <= 0: repository default
	// Unlimited returns every matching row and ignores Limit.
	Unlimited bool
}

// Repository is the append-only store behind the scrape pipeline. It has no
// update or delete path; re-scrapes add rows.
type Repository interface {
	// EnsureSchema creates raw_ads, cleaned_ads and evaluations if missing.
	EnsureSchema(ctx context.Context) error

	AppendRaw(ctx context.Context, ads []model.RawAd) error
	AppendCleaned(ctx context.Context, ads []model.CleanedAd) error
	// AppendBatch writes both sides of one scrape in a single transaction.
	AppendBatch(ctx context.Context, raw []model.RawAd, cleaned []model.CleanedAd) error
	// AppendEvaluation returns the generated id.
	AppendEvaluation(ctx context.Context, ev *model.Evaluation) (int64, error)

	// Reads are ordered newest first (scraped_at / submitted_at DESC).
	ReadRaw(ctx context.Context, limit int) ([]model.RawAd, error)
	ReadCleaned(ctx context.Context, filter Filter) ([]model.CleanedAd, error)
	ReadEvaluations(ctx context.Context, limit int) ([]model.Evaluation, error)

	Ping(ctx context.Context) error
	Close() error
}
