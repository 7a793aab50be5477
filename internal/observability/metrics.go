package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch results recorded by PagesFetched.
const (
	FetchOK     = "ok"
	FetchCached = "cached"
	FetchFailed = "failed"
)

// Metrics holds the pipeline collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PagesFetched      *prometheus.CounterVec
	AdsExtracted      *prometheus.CounterVec
	UnparseablePrices *prometheus.CounterVec
	ScrapeDuration    *prometheus.HistogramVec
	StorageOps        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinafrique_pages_fetched_total",
			Help: "Listing pages requested, by result (ok, cached, failed).",
		}, []string{"result"}),
		AdsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinafrique_ads_extracted_total",
			Help: "Ad cards extracted from listing pages.",
		}, []string{"category"}),
		UnparseablePrices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinafrique_unparseable_prices_total",
			Help: "Ads whose price text held no digits.",
		}, []string{"category"}),
		ScrapeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coinafrique_scrape_duration_seconds",
			Help:    "Wall time of one category scrape.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"category"}),
		StorageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinafrique_storage_operations_total",
			Help: "Store operations by collection, operation and status.",
		}, []string{"collection", "op", "status"}),
	}

	reg.MustRegister(m.PagesFetched, m.AdsExtracted, m.UnparseablePrices, m.ScrapeDuration, m.StorageOps)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IncPage(result string) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(result).Inc()
}

func (m *Metrics) AddAds(category string, extracted, unparseable int) {
	if m == nil {
		return
	}
	m.AdsExtracted.WithLabelValues(category).Add(float64(extracted))
	m.UnparseablePrices.WithLabelValues(category).Add(float64(unparseable))
}

func (m *Metrics) ObserveScrape(category string, seconds float64) {
	if m == nil {
		return
	}
	m.ScrapeDuration.WithLabelValues(category).Observe(seconds)
}

func (m *Metrics) IncStorage(collection, op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StorageOps.WithLabelValues(collection, op, status).Inc()
}
