// Package catalog defines the core types and interfaces shared across the
// crawl engine: records, page ranges, site totals, and the contracts for
// fetching and persistence.
package catalog

import "time"

// Record is one catalog entry discovered on a listing page. The engine only
// reasons about its position (PageID, IndexInPage) and its stable identity
// (URL); everything else is opaque payload carried through to the store.
type Record struct {
	URL         string         `json:"url"`
	PageID      int            `json:"page_id"`
	IndexInPage int            `json:"index_in_page"`
	Title       string         `json:"title,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
	FetchedAt   time.Time      `json:"fetched_at"`
}

// PageRange is a descending, inclusive span of pageIds.
// Invariant: Start >= End >= 0.
type PageRange struct {
	Start int
	End   int
}

// Empty reports whether the range contains no pages.
func (r PageRange) Empty() bool {
	return r.Start < r.End || r.Start < 0
}

// Len returns the number of pageIds covered by the range.
func (r PageRange) Len() int {
	if r.Empty() {
		return 0
	}
	return r.Start - r.End + 1
}

// SiteTotals is a snapshot of the remote catalog's size.
type SiteTotals struct {
	TotalPages          int
	LastPageRecordCount int
	FetchedAt           time.Time
}

// ListingPage is the result of fetching one site page.
type ListingPage struct {
	SitePage int
	Records  []Record
	URL      string
	Attempt  int
}

// SaveOutcome summarizes a persistence batch.
type SaveOutcome struct {
	Added     int
	Updated   int
	Unchanged int
	Failed    int
}

// Merge folds another outcome into this one.
func (o *SaveOutcome) Merge(other SaveOutcome) {
	o.Added += other.Added
	o.Updated += other.Updated
	o.Unchanged += other.Unchanged
	o.Failed += other.Failed
}
