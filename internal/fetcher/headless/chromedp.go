// Package headless implements the catalog Fetcher with a headless browser
// for pages that only materialize their records through JavaScript.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/fetcher"
)

// Config controls the headless fetcher.
type Config struct {
	// ListURLTemplate is the listing URL with one %d verb for the site page
	// number.
	ListURLTemplate string
	// MaxParallel bounds concurrent browser tabs; 0 means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Fetcher renders pages in headless Chrome and parses the settled DOM with
// the shared extractor. Browser tabs are expensive, so a slot limiter caps
// how many render at once independently of the stage's own concurrency.
type Fetcher struct {
	cfg         Config
	extractor   *fetcher.Extractor
	logger      *zap.Logger
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless fetcher backed by chromedp.
func New(cfg Config, extractor *fetcher.Extractor, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, catalog.NewInitError("headless max parallel must be >= 0", nil)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		extractor:   extractor,
		logger:      logger,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close tears down the browser allocator.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// FetchListingPage renders one listing page and parses its records.
func (f *Fetcher) FetchListingPage(ctx context.Context, sitePage, attempt int) (catalog.ListingPage, error) {
	pageURL := fmt.Sprintf(f.cfg.ListURLTemplate, sitePage)
	html, err := f.render(ctx, pageURL)
	if err != nil {
		return catalog.ListingPage{}, catalog.NewFetchError(catalog.Classify(err), sitePage, attempt, err)
	}
	records, err := f.extractor.ListingRecords(html)
	if err != nil {
		return catalog.ListingPage{}, catalog.NewFetchError(catalog.ErrExtraction, sitePage, attempt, err)
	}
	return catalog.ListingPage{SitePage: sitePage, Records: records, URL: pageURL, Attempt: attempt}, nil
}

// FetchSiteTotals renders site page 1 for the page count and boundary record
// count.
func (f *Fetcher) FetchSiteTotals(ctx context.Context) (catalog.SiteTotals, error) {
	html, err := f.render(ctx, fmt.Sprintf(f.cfg.ListURLTemplate, 1))
	if err != nil {
		return catalog.SiteTotals{}, catalog.NewFetchError(catalog.Classify(err), 1, 1, err)
	}
	total, err := f.extractor.TotalPages(html)
	if err != nil {
		return catalog.SiteTotals{}, catalog.NewFetchError(catalog.ErrExtraction, 1, 1, err)
	}
	records, err := f.extractor.ListingRecords(html)
	if err != nil {
		return catalog.SiteTotals{}, catalog.NewFetchError(catalog.ErrExtraction, 1, 1, err)
	}
	return catalog.SiteTotals{TotalPages: total, LastPageRecordCount: len(records)}, nil
}

// FetchRecordDetail renders a record's detail page.
func (f *Fetcher) FetchRecordDetail(ctx context.Context, rec catalog.Record, attempt int) (catalog.Record, error) {
	html, err := f.render(ctx, rec.URL)
	if err != nil {
		return catalog.Record{}, catalog.NewFetchError(catalog.Classify(err), 0, attempt, err)
	}
	detail, err := f.extractor.Detail(html)
	if err != nil {
		return catalog.Record{}, catalog.NewFetchError(catalog.ErrExtraction, 0, attempt, err)
	}
	rec.Detail = detail
	return rec, nil
}

// render navigates a fresh tab to pageURL and returns the settled DOM.
func (f *Fetcher) render(ctx context.Context, pageURL string) ([]byte, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	defer f.release()

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	// The tab context descends from the allocator, not from ctx; watch the
	// caller's context ourselves so run cancellation closes the tab.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	var html string
	start := time.Now()
	err := chromedp.Run(tabCtx,
		f.setupAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("headless render %s: %w", pageURL, ctx.Err())
		}
		return nil, fmt.Errorf("headless render %s: %w", pageURL, err)
	}
	f.logger.Debug("headless page rendered",
		zap.String("url", pageURL),
		zap.Duration("took", time.Since(start)))
	return []byte(html), nil
}

func (f *Fetcher) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}
