package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"coinafrique-scraper/internal/model"
	"coinafrique-scraper/internal/normalize"
	"coinafrique-scraper/internal/observability"
	"coinafrique-scraper/internal/scraper"
)

// Stop reasons reported in Stats.StoppedReason.
const (
	StopFetchFailed = "fetch_failed"
	StopEmptyPage   = "empty_page"
	StopMaxPages    = "max_pages"
	StopCancelled   = "cancelled"
)

var ErrInvalidRequest = errors.New("invalid scrape request")

type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type ListingExtractor interface {
	Extract(html []byte) ([]scraper.Item, error)
}

type Request struct {
	BaseURL  string
	Category string
	MaxPages int
	Delay    time.Duration
	// OnProgress is called after each page that produced ads.
	OnProgress func(page, maxPages int)
}

type Stats struct {
	RunID             string        `json:"run_id"`
	PagesFetched      int           `json:"pages_fetched"`
	ItemsExtracted    int           `json:"items_extracted"`
	UnparseablePrices int           `json:"unparseable_prices"`
	StoppedReason     string        `json:"stopped_reason"`
	Duration          time.Duration `json:"duration_ns"`
}

// Result holds index-aligned records: Cleaned[i] is derived from Raw[i].
type Result struct {
	Raw     []model.RawAd     `json:"raw"`
	Cleaned []model.CleanedAd `json:"cleaned"`
	Stats   Stats             `json:"stats"`
}

type Orchestrator struct {
	logger    *observability.Logger
	metrics   *observability.Metrics
	fetcher   PageFetcher
	extractor ListingExtractor

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	logger *observability.Logger,
	metrics *observability.Metrics,
	f PageFetcher,
	e ListingExtractor,
) *Orchestrator {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Orchestrator{
		logger:    logger,
		metrics:   metrics,
		fetcher:   f,
		extractor: e,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// ScrapeCategory walks pages 1..MaxPages of one category. A fetch failure,
// an empty page or cancellation ends the walk early; the records gathered so
// far are returned with a nil error. Only an invalid request is an error.
func (o *Orchestrator) ScrapeCategory(ctx context.Context, req Request) (*Result, error) {
	base, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	started := o.now()
	res := &Result{
		Raw:     []model.RawAd{},
		Cleaned: []model.CleanedAd{},
		Stats:   Stats{RunID: uuid.NewString()},
	}
	log := o.logger.With("run_id", res.Stats.RunID, "category", req.Category)

	log.Info("Starting scrape",
		"base_url", req.BaseURL,
		"max_pages", req.MaxPages,
		"delay", req.Delay.String(),
	)

	for page := 1; page <= req.MaxPages; page++ {
		if ctx.Err() != nil {
			res.Stats.StoppedReason = StopCancelled
			break
		}

		target := pageURL(base, page)
		log.Info("Processing page", "page", page, "url", target)

		body, err := o.fetcher.Fetch(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				res.Stats.StoppedReason = StopCancelled
				break
			}
			log.Warn("Fetch failed, stopping", "page", page, "url", target, "error", err.Error())
			res.Stats.StoppedReason = StopFetchFailed
			break
		}

		items, err := o.extractor.Extract(body)
		if err != nil {
			log.Warn("Extract failed, treating page as empty", "page", page, "error", err.Error())
			items = nil
		}

		if len(items) == 0 {
			if page == 1 {
				log.Warn("No ads on first page, selectors may be out of date", "url", target)
			} else {
				log.Info("No ads on page, end of listing", "page", page)
			}
			res.Stats.StoppedReason = StopEmptyPage
			break
		}

		now := o.now().UTC()
		unparseable := 0
		for _, item := range items {
			price := normalize.Price(item.PriceRaw)
			if price == nil && item.PriceRaw != nil {
				unparseable++
			}
			res.Raw = append(res.Raw, model.RawAd{
				Category:  req.Category,
				Name:      item.Name,
				PriceRaw:  item.PriceRaw,
				Address:   item.Address,
				ImageLink: item.ImageLink,
				ScrapedAt: now,
			})
			res.Cleaned = append(res.Cleaned, model.CleanedAd{
				Category:  req.Category,
				Name:      item.Name,
				Price:     price,
				Address:   item.Address,
				ImageLink: item.ImageLink,
				ScrapedAt: now,
			})
		}

		res.Stats.PagesFetched++
		res.Stats.ItemsExtracted += len(items)
		res.Stats.UnparseablePrices += unparseable
		o.metrics.AddAds(req.Category, len(items), unparseable)

		log.Debug("Page extracted", "page", page, "ads", len(items), "unparseable_prices", unparseable)

		if req.OnProgress != nil {
			req.OnProgress(page, req.MaxPages)
		}

		if err := o.sleep(ctx, req.Delay); err != nil {
			res.Stats.StoppedReason = StopCancelled
			break
		}
	}

	if res.Stats.StoppedReason == "" {
		res.Stats.StoppedReason = StopMaxPages
	}
	res.Stats.Duration = o.now().Sub(started)
	o.metrics.ObserveScrape(req.Category, res.Stats.Duration.Seconds())

	log.Info("Scrape completed",
		"pages", res.Stats.PagesFetched,
		"ads", res.Stats.ItemsExtracted,
		"unparseable_prices", res.Stats.UnparseablePrices,
		"reason", res.Stats.StoppedReason,
		"duration", res.Stats.Duration.String(),
	)

	return res, nil
}

func validateRequest(req Request) (*url.URL, error) {
	if req.Category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrInvalidRequest)
	}
	if req.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidRequest)
	}
	if req.MaxPages < 1 {
		return nil, fmt.Errorf("%w: max pages must be >= 1, got %d", ErrInvalidRequest, req.MaxPages)
	}
	if req.Delay < 0 {
		return nil, fmt.Errorf("%w: delay must be >= 0, got %s", ErrInvalidRequest, req.Delay)
	}

	base, err := url.Parse(req.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base url: %v", ErrInvalidRequest, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" || base.Host == "" {
		return nil, fmt.Errorf("%w: base url must be absolute http(s), got %q", ErrInvalidRequest, req.BaseURL)
	}
	return base, nil
}

// pageURL sets the page query parameter, replacing any existing one.
func pageURL(base *url.URL, page int) string {
	u := *base
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
