package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"coinafrique-scraper/internal/config"
	"coinafrique-scraper/internal/export"
	"coinafrique-scraper/internal/observability"
	"coinafrique-scraper/internal/storage"
)

var (
	ErrUnknownCategory  = errors.New("unknown category")
	ErrScrapeInProgress = errors.New("a scrape is already running")
)

// category keys end up in snapshot file names
var categoryPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

type RunOptions struct {
	Category string
	// BaseURL overrides the configured URL of Category.
	BaseURL string
	// MaxPages and Delay fall back to the pagination config when unset.
	MaxPages   int
	Delay      *time.Duration
	OnProgress func(page, maxPages int)
	SkipStore  bool
	SkipCSV    bool
}

type RunReport struct {
	Result     *Result `json:"result"`
	RawCSV     string  `json:"raw_csv,omitempty"`
	CleanedCSV string  `json:"cleaned_csv,omitempty"`
	Stored     bool    `json:"stored"`
}

// Pipeline runs one category scrape and hands its records to the CSV
// snapshot and the store. Runs are serialized.
type Pipeline struct {
	cfg          *config.Config
	orchestrator *Orchestrator
	store        storage.Repository
	logger       *observability.Logger

	mu sync.Mutex
}

// NewPipeline accepts a nil store; runs then skip persistence.
func NewPipeline(cfg *config.Config, o *Orchestrator, store storage.Repository, logger *observability.Logger) *Pipeline {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Pipeline{cfg: cfg, orchestrator: o, store: store, logger: logger}
}

// Run blocks until any running scrape finishes.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run(ctx, opts)
}

// TryRun fails with ErrScrapeInProgress instead of waiting.
func (p *Pipeline) TryRun(ctx context.Context, opts RunOptions) (*RunReport, error) {
	if !p.mu.TryLock() {
		return nil, ErrScrapeInProgress
	}
	defer p.mu.Unlock()
	return p.run(ctx, opts)
}

// run returns the report alongside a snapshot or storage error so the caller
// keeps the scraped records.
func (p *Pipeline) run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	req, err := p.request(opts)
	if err != nil {
		return nil, err
	}

	res, err := p.orchestrator.ScrapeCategory(ctx, req)
	if err != nil {
		return nil, err
	}

	report := &RunReport{Result: res}
	if len(res.Raw) == 0 {
		p.logger.Warn("No results", "category", req.Category, "reason", res.Stats.StoppedReason)
		return report, nil
	}

	if !opts.SkipCSV {
		report.RawCSV, report.CleanedCSV, err = export.Snapshot(p.cfg.Export.DataDir, req.Category, res.Raw, res.Cleaned)
		if err != nil {
			return report, fmt.Errorf("write snapshot: %w", err)
		}
		p.logger.Info("Snapshot written", "raw", report.RawCSV, "cleaned", report.CleanedCSV)
	}

	if !opts.SkipStore && p.store != nil {
		// a cancelled scrape still persists what it collected
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.persistTimeout(len(res.Raw)))
		err := p.store.AppendBatch(storeCtx, res.Raw, res.Cleaned)
		cancel()
		if err != nil {
			p.logger.Error("Failed to persist scrape",
				"run_id", res.Stats.RunID,
				"ads", len(res.Raw),
				"error", err.Error(),
			)
			return report, fmt.Errorf("persist scrape %s: %w", res.Stats.RunID, err)
		}
		report.Stored = true
		p.logger.Info("Scrape persisted", "run_id", res.Stats.RunID, "ads", len(res.Raw))
	}

	return report, nil
}

// persistTimeout allows one command timeout per insert chunk of both
// collections plus one for the commit.
func (p *Pipeline) persistTimeout(ads int) time.Duration {
	batch := p.cfg.Storage.BatchSize
	if batch <= 0 {
		batch = 1
	}
	chunks := (ads + batch - 1) / batch
	return p.cfg.GetCommandTimeout() * time.Duration(2*chunks+1)
}

func (p *Pipeline) request(opts RunOptions) (Request, error) {
	if !categoryPattern.MatchString(opts.Category) {
		return Request{}, fmt.Errorf("%w: category %q", ErrInvalidRequest, opts.Category)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		var ok bool
		if baseURL, ok = p.cfg.Categories[opts.Category]; !ok {
			return Request{}, fmt.Errorf("%w: %s", ErrUnknownCategory, opts.Category)
		}
	}

	req := Request{
		BaseURL:    baseURL,
		Category:   opts.Category,
		MaxPages:   opts.MaxPages,
		Delay:      p.cfg.GetPageDelay(),
		OnProgress: opts.OnProgress,
	}
	if req.MaxPages == 0 {
		req.MaxPages = p.cfg.Pagination.MaxPages
	}
	if opts.Delay != nil {
		req.Delay = *opts.Delay
	}
	return req, nil
}
