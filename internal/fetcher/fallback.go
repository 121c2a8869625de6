package fetcher

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
)

// Fallback probes with the cheap HTTP transport first and promotes to the
// headless browser when the markup only materializes through JavaScript.
// Promotion is sticky per session: once a page needed rendering, the rest of
// the site almost certainly does too, and re-probing every page would double
// the request volume.
type Fallback struct {
	probe    catalog.Fetcher
	headless catalog.Fetcher
	logger   *zap.Logger
	promoted atomic.Bool
}

// NewFallback wires the probe and headless transports. headless may be a
// Noop when rendering is disabled.
func NewFallback(probe, headless catalog.Fetcher, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{probe: probe, headless: headless, logger: logger}
}

// Promoted reports whether the session switched to the headless transport.
func (f *Fallback) Promoted() bool {
	return f.promoted.Load()
}

// FetchListingPage fetches through the active transport, promoting on
// extraction failure.
func (f *Fallback) FetchListingPage(ctx context.Context, sitePage, attempt int) (catalog.ListingPage, error) {
	if f.promoted.Load() {
		return f.headless.FetchListingPage(ctx, sitePage, attempt)
	}
	page, err := f.probe.FetchListingPage(ctx, sitePage, attempt)
	if !f.shouldPromote(err) {
		return page, err
	}
	f.promote("listing page", sitePage, err)
	return f.headless.FetchListingPage(ctx, sitePage, attempt)
}

// FetchSiteTotals resolves totals through the active transport.
func (f *Fallback) FetchSiteTotals(ctx context.Context) (catalog.SiteTotals, error) {
	if f.promoted.Load() {
		return f.headless.FetchSiteTotals(ctx)
	}
	totals, err := f.probe.FetchSiteTotals(ctx)
	if !f.shouldPromote(err) {
		return totals, err
	}
	f.promote("site totals", 1, err)
	return f.headless.FetchSiteTotals(ctx)
}

// FetchRecordDetail enriches through the active transport.
func (f *Fallback) FetchRecordDetail(ctx context.Context, rec catalog.Record, attempt int) (catalog.Record, error) {
	if f.promoted.Load() {
		return f.headless.FetchRecordDetail(ctx, rec, attempt)
	}
	enriched, err := f.probe.FetchRecordDetail(ctx, rec, attempt)
	if !f.shouldPromote(err) {
		return enriched, err
	}
	f.promote("record detail", rec.PageID, err)
	return f.headless.FetchRecordDetail(ctx, rec, attempt)
}

// shouldPromote: only extraction failures suggest the content needs a
// browser; transport errors retry on the same transport.
func (f *Fallback) shouldPromote(err error) bool {
	return err != nil && catalog.KindOf(err) == catalog.ErrExtraction
}

func (f *Fallback) promote(what string, page int, cause error) {
	if f.promoted.CompareAndSwap(false, true) {
		f.logger.Info("promoting session to headless transport",
			zap.String("trigger", what),
			zap.Int("page", page),
			zap.Error(cause))
	}
}
