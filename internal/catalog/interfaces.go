package catalog

import (
	"context"
	"time"
)

// Fetcher is the fetch capability consumed by the collection stages. The two
// transports (plain HTTP and headless browser) implement it interchangeably,
// and the composite fetcher layers automatic fallback on top.
type Fetcher interface {
	// FetchListingPage retrieves one listing page by the site's own 1-based
	// ascending page number. attempt is 1-based and carried through for
	// diagnostics.
	FetchListingPage(ctx context.Context, sitePage int, attempt int) (ListingPage, error)

	// FetchSiteTotals retrieves the catalog's current page count and the
	// record count of its oldest page.
	FetchSiteTotals(ctx context.Context) (SiteTotals, error)

	// FetchRecordDetail enriches a discovered record with its detail payload.
	FetchRecordDetail(ctx context.Context, rec Record, attempt int) (Record, error)
}

// Store is the persistence collaborator. The engine never sees schema; it
// only asks positional questions and hands over batches.
type Store interface {
	CountExisting(ctx context.Context, pageID int) (int, error)
	ExistingSlotIndices(ctx context.Context, pageID int) ([]int, error)
	// MaxKnownPageID returns the largest stored pageId. ok is false when the
	// store is empty.
	MaxKnownPageID(ctx context.Context) (pageID int, ok bool, err error)
	Save(ctx context.Context, records []Record) (SaveOutcome, error)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Publisher delivers fire-and-forget run summaries to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload map[string]any) error
	Close() error
}
