// Package collyfetcher implements the catalog Fetcher over plain HTTP using
// gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/fetcher"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/policy/ratelimit"
)

// Config controls collector behavior.
type Config struct {
	// ListURLTemplate is the listing URL with one %d verb for the site page
	// number.
	ListURLTemplate string
	UserAgent       string
	Timeout         time.Duration
	IgnoreRobots    bool
}

// Fetcher fetches listing and detail pages with a pooled HTTP transport. A
// pristine base collector is cloned per request so hooks never leak between
// concurrent fetches.
type Fetcher struct {
	cfg       Config
	base      *colly.Collector
	extractor *fetcher.Extractor
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

// New builds a Fetcher. limiter may be nil to disable pacing.
func New(cfg Config, extractor *fetcher.Extractor, limiter *ratelimit.Limiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := colly.NewCollector(colly.Async(false))
	base.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:       cfg,
		base:      base,
		extractor: extractor,
		limiter:   limiter,
		logger:    logger,
	}
}

// FetchListingPage retrieves and parses one listing page.
func (f *Fetcher) FetchListingPage(ctx context.Context, sitePage, attempt int) (catalog.ListingPage, error) {
	pageURL := fmt.Sprintf(f.cfg.ListURLTemplate, sitePage)
	body, err := f.fetchHTML(ctx, pageURL)
	if err != nil {
		return catalog.ListingPage{}, catalog.NewFetchError(classify(err), sitePage, attempt, err)
	}
	records, err := f.extractor.ListingRecords(body)
	if err != nil {
		return catalog.ListingPage{}, catalog.NewFetchError(catalog.ErrExtraction, sitePage, attempt, err)
	}
	return catalog.ListingPage{SitePage: sitePage, Records: records, URL: pageURL, Attempt: attempt}, nil
}

// FetchSiteTotals reads the page count from the pagination widget and the
// boundary page's record count from its rows. Site page 1 shows both.
func (f *Fetcher) FetchSiteTotals(ctx context.Context) (catalog.SiteTotals, error) {
	pageURL := fmt.Sprintf(f.cfg.ListURLTemplate, 1)
	body, err := f.fetchHTML(ctx, pageURL)
	if err != nil {
		return catalog.SiteTotals{}, catalog.NewFetchError(classify(err), 1, 1, err)
	}
	total, err := f.extractor.TotalPages(body)
	if err != nil {
		return catalog.SiteTotals{}, catalog.NewFetchError(catalog.ErrExtraction, 1, 1, err)
	}
	records, err := f.extractor.ListingRecords(body)
	if err != nil {
		return catalog.SiteTotals{}, catalog.NewFetchError(catalog.ErrExtraction, 1, 1, err)
	}
	return catalog.SiteTotals{TotalPages: total, LastPageRecordCount: len(records)}, nil
}

// FetchRecordDetail enriches a record from its detail page.
func (f *Fetcher) FetchRecordDetail(ctx context.Context, rec catalog.Record, attempt int) (catalog.Record, error) {
	body, err := f.fetchHTML(ctx, rec.URL)
	if err != nil {
		return catalog.Record{}, catalog.NewFetchError(classify(err), 0, attempt, err)
	}
	detail, err := f.extractor.Detail(body)
	if err != nil {
		return catalog.Record{}, catalog.NewFetchError(catalog.ErrExtraction, 0, attempt, err)
	}
	rec.Detail = detail
	return rec, nil
}

// fetchHTML runs one GET through a cloned collector. Colly's Visit blocks
// without taking a context, so it runs in a goroutine raced against ctx.
func (f *Fetcher) fetchHTML(ctx context.Context, pageURL string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, pageURL); err != nil {
			return nil, err
		}
	}

	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = f.cfg.IgnoreRobots
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = &statusError{Status: r.StatusCode, URL: pageURL, Err: err}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s: %w", pageURL, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fetchErr
		}
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", pageURL, err)
		}
		return body, nil
	}
}

// statusError marks a request the server answered with a failure status.
type statusError struct {
	Status int
	URL    string
	Err    error
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d from %s: %v", e.Status, e.URL, e.Err)
}

func (e *statusError) Unwrap() error {
	return e.Err
}

// classify extends the shared taxonomy mapping: an HTTP failure status is
// a navigation error, not a generic one.
func classify(err error) catalog.ErrorKind {
	var se *statusError
	if kind := catalog.Classify(err); kind != catalog.ErrGeneric {
		return kind
	} else if errors.As(err, &se) {
		return catalog.ErrNavigation
	}
	return catalog.ErrGeneric
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
