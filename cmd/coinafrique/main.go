package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"coinafrique-scraper/internal/api"
	"coinafrique-scraper/internal/app"
	"coinafrique-scraper/internal/config"
	"coinafrique-scraper/internal/export"
	"coinafrique-scraper/internal/fetcher"
	"coinafrique-scraper/internal/normalize"
	"coinafrique-scraper/internal/observability"
	"coinafrique-scraper/internal/scraper"
	"coinafrique-scraper/internal/storage"
)

const usageText = `Usage: coinafrique [-config path] <command> [flags]

Commands:
  scrape   scrape one category, write CSV snapshots and append to the store
  serve    run the HTTP API
  export   write a stored collection as CSV

Run "coinafrique <command> -h" for command flags.
`

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usageText) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	logger, err := observability.NewLogger(observability.LogOptions{
		Path:       cfg.Observability.LogPath,
		Level:      cfg.Observability.LogLevel,
		MaxSizeMB:  cfg.Observability.LogMaxSizeMB,
		MaxBackups: cfg.Observability.LogMaxBackups,
		MaxAgeDays: cfg.Observability.LogMaxAgeDays,
	})
	if err != nil {
		log.Printf("Failed to create logger: %v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewMetrics()

	ctx, cancel := app.GracefulShutdown(context.Background(), logger)
	defer cancel()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "scrape":
		err = runScrape(ctx, cfg, logger, metrics, args)
	case "serve":
		err = runServe(ctx, cfg, logger, metrics)
	case "export":
		err = runExport(ctx, cfg, logger, metrics, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		logger.Error("Command failed", "command", cmd, "error", err.Error())
		return 1
	}
	return 0
}

// newOrchestrator wires the fetcher and extractor from config.
func newOrchestrator(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*app.Orchestrator, *fetcher.Fetcher, error) {
	selectors, err := cfg.Selectors()
	if err != nil {
		return nil, nil, fmt.Errorf("load selectors: %w", err)
	}

	f := fetcher.NewFetcher(cfg, logger, metrics)
	sc := scraper.NewScraper(selectors, normalize.TextOptions{
		TrimNBSP:       cfg.Normalize.TrimNBSP,
		CollapseSpaces: cfg.Normalize.CollapseSpaces,
	})
	return app.NewOrchestrator(logger, metrics, f, sc), f, nil
}

func runScrape(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, args []string) error {
	fs := flag.NewFlagSet("scrape", flag.ContinueOnError)
	category := fs.String("category", "", "category key, one of: "+strings.Join(cfg.CategoryKeys(), ", "))
	pages := fs.Int("pages", 0, "max pages (default pagination.max_pages)")
	delay := fs.Duration("delay", -1, "delay after each page (default pagination.delay_ms)")
	baseURL := fs.String("url", "", "override the category base URL")
	noDB := fs.Bool("no-db", false, "skip the database append")
	noCSV := fs.Bool("no-csv", false, "skip the CSV snapshot")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *category == "" {
		fs.Usage()
		return fmt.Errorf("-category is required")
	}

	orchestrator, _, err := newOrchestrator(cfg, logger, metrics)
	if err != nil {
		return err
	}

	var store storage.Repository
	if !*noDB {
		store, err = app.OpenStore(ctx, cfg, logger, metrics)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	}

	opts := app.RunOptions{
		Category:  *category,
		BaseURL:   *baseURL,
		MaxPages:  *pages,
		SkipStore: *noDB,
		SkipCSV:   *noCSV,
	}
	opts.OnProgress = func(page, maxPages int) {
		fmt.Fprintf(os.Stderr, "page %d/%d\n", page, maxPages)
	}
	if *delay >= 0 {
		opts.Delay = delay
	}

	report, err := app.NewPipeline(cfg, orchestrator, store, logger).Run(ctx, opts)
	if report != nil {
		printReport(os.Stdout, report)
	}
	return err
}

func printReport(w io.Writer, report *app.RunReport) {
	stats := report.Result.Stats
	if len(report.Result.Raw) == 0 {
		fmt.Fprintf(w, "No results (stopped: %s)\n", stats.StoppedReason)
		return
	}
	fmt.Fprintf(w, "Scraped %d ads from %d pages (stopped: %s, unparseable prices: %d, run %s)\n",
		stats.ItemsExtracted, stats.PagesFetched, stats.StoppedReason, stats.UnparseablePrices, stats.RunID)
	if report.RawCSV != "" {
		fmt.Fprintf(w, "  raw snapshot:     %s\n", report.RawCSV)
	}
	if report.CleanedCSV != "" {
		fmt.Fprintf(w, "  cleaned snapshot: %s\n", report.CleanedCSV)
	}
	if report.Stored {
		fmt.Fprintln(w, "  appended to store")
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) error {
	orchestrator, f, err := newOrchestrator(cfg, logger, metrics)
	if err != nil {
		return err
	}

	store, err := app.OpenStore(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pipeline := app.NewPipeline(cfg, orchestrator, store, logger)
	server := api.NewServer(cfg, pipeline, store, f, metrics, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer cancel()

	logger.Info("Shutting down HTTP server", "timeout", cfg.GetShutdownTimeout().String())
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runExport(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	collection := fs.String("collection", "cleaned", "raw, cleaned or evaluations")
	out := fs.String("out", "-", "output file, - for stdout")
	limit := fs.Int("limit", 0, "max rows (default storage.read_limit)")
	category := fs.String("category", "", "comma separated categories (cleaned only)")
	address := fs.String("address", "", "address substring (cleaned only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := app.OpenStore(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var write func(io.Writer) error
	switch *collection {
	case "raw":
		ads, err := store.ReadRaw(ctx, *limit)
		if err != nil {
			return err
		}
		write = func(w io.Writer) error { return export.WriteRaw(w, ads) }
	case "cleaned":
		filter := storage.Filter{
			Categories:      storage.SplitCategories(*category),
			AddressContains: strings.TrimSpace(*address),
			Limit:           *limit,
		}
		ads, err := store.ReadCleaned(ctx, filter)
		if err != nil {
			return err
		}
		write = func(w io.Writer) error { return export.WriteCleaned(w, ads) }
	case "evaluations":
		evs, err := store.ReadEvaluations(ctx, *limit)
		if err != nil {
			return err
		}
		write = func(w io.Writer) error { return export.WriteEvaluations(w, evs) }
	default:
		return fmt.Errorf("unknown collection %q", *collection)
	}

	start := time.Now()
	if *out == "-" {
		err = write(os.Stdout)
	} else {
		err = export.WriteFile(*out, write)
	}
	if err != nil {
		return err
	}
	logger.Info("Export completed", "collection", *collection, "out", *out, "duration", time.Since(start).String())
	return nil
}
