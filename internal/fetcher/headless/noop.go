package headless

import (
	"context"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
)

// Noop stands in when headless browsing is disabled: every fetch fails with
// an initialization error, so fallback promotion surfaces a clear cause.
type Noop struct{}

// NewNoop creates a Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

func (Noop) FetchListingPage(_ context.Context, sitePage, attempt int) (catalog.ListingPage, error) {
	return catalog.ListingPage{}, catalog.NewFetchError(catalog.ErrInitialization, sitePage, attempt,
		catalog.NewInitError("headless browsing is disabled", nil))
}

func (Noop) FetchSiteTotals(context.Context) (catalog.SiteTotals, error) {
	return catalog.SiteTotals{}, catalog.NewInitError("headless browsing is disabled", nil)
}

func (Noop) FetchRecordDetail(_ context.Context, _ catalog.Record, attempt int) (catalog.Record, error) {
	return catalog.Record{}, catalog.NewFetchError(catalog.ErrInitialization, 0, attempt,
		catalog.NewInitError("headless browsing is disabled", nil))
}
