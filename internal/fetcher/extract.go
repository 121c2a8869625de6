// Package fetcher provides the HTML extraction shared by both transports and
// the fallback composition that promotes fetches from plain HTTP to a
// headless browser.
package fetcher

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
)

// Selectors configures where records live in the site's markup. Nothing
// site-specific is baked into the engine; these come from configuration.
type Selectors struct {
	// RecordRow matches one listing row per record.
	RecordRow string
	// RecordLink matches the record's detail anchor inside a row.
	RecordLink string
	// RecordTitle matches the record's display name inside a row.
	RecordTitle string
	// Pagination matches the element whose text is the total page count.
	Pagination string
	// DetailRow matches one key/value row on a detail page.
	DetailRow string
	// DetailKey and DetailValue match the cells inside a detail row.
	DetailKey   string
	DetailValue string
}

// Extractor parses listing and detail markup into catalog records.
//
// Listing rows are rendered newest-first, so a row's slot counts down from
// the top of the page: slot = pageSize - 1 - rowIndex. On a partially-filled
// boundary page this lands the records on the tail slots, which is exactly
// what the page-index math expects.
type Extractor struct {
	sel      Selectors
	pageSize int
	base     *url.URL
}

// NewExtractor builds an extractor resolving relative links against baseURL.
func NewExtractor(baseURL string, pageSize int, sel Selectors) (*Extractor, error) {
	if pageSize <= 0 {
		return nil, catalog.NewInitError(fmt.Sprintf("page size must be positive, got %d", pageSize), nil)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, catalog.NewInitError(fmt.Sprintf("invalid base url %q", baseURL), err)
	}
	return &Extractor{sel: sel, pageSize: pageSize, base: base}, nil
}

// PageSize returns the full page record count the extractor assumes.
func (e *Extractor) PageSize() int {
	return e.pageSize
}

// ListingRecords parses one listing page into records with their slot
// positions assigned.
func (e *Extractor) ListingRecords(html []byte) ([]catalog.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}
	rows := doc.Find(e.sel.RecordRow)
	if rows.Length() == 0 {
		return nil, fmt.Errorf("no records matched %q", e.sel.RecordRow)
	}
	if rows.Length() > e.pageSize {
		return nil, fmt.Errorf("page holds %d records, expected at most %d", rows.Length(), e.pageSize)
	}

	records := make([]catalog.Record, 0, rows.Length())
	var rowErr error
	rows.EachWithBreak(func(i int, row *goquery.Selection) bool {
		href, ok := row.Find(e.sel.RecordLink).Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			rowErr = fmt.Errorf("row %d has no record link under %q", i, e.sel.RecordLink)
			return false
		}
		abs, err := e.base.Parse(strings.TrimSpace(href))
		if err != nil {
			rowErr = fmt.Errorf("row %d link %q: %w", i, href, err)
			return false
		}
		records = append(records, catalog.Record{
			URL:         abs.String(),
			IndexInPage: e.pageSize - 1 - i,
			Title:       strings.TrimSpace(row.Find(e.sel.RecordTitle).Text()),
		})
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return records, nil
}

var pageNumberPattern = regexp.MustCompile(`\d+`)

// TotalPages reads the total page count from the pagination widget.
func (e *Extractor) TotalPages(html []byte) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return 0, fmt.Errorf("parse pagination: %w", err)
	}
	text := strings.TrimSpace(doc.Find(e.sel.Pagination).Last().Text())
	if text == "" {
		return 0, fmt.Errorf("pagination widget %q not found", e.sel.Pagination)
	}
	digits := pageNumberPattern.FindString(text)
	if digits == "" {
		return 0, fmt.Errorf("pagination text %q holds no page number", text)
	}
	total, err := strconv.Atoi(digits)
	if err != nil || total <= 0 {
		return 0, fmt.Errorf("implausible page count %q", digits)
	}
	return total, nil
}

// Detail parses a record detail page into its key/value payload.
func (e *Extractor) Detail(html []byte) (map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}
	rows := doc.Find(e.sel.DetailRow)
	if rows.Length() == 0 {
		return nil, fmt.Errorf("no detail rows matched %q", e.sel.DetailRow)
	}
	detail := make(map[string]any, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find(e.sel.DetailKey).Text())
		if key == "" {
			return
		}
		detail[key] = strings.TrimSpace(row.Find(e.sel.DetailValue).Text())
	})
	if len(detail) == 0 {
		return nil, fmt.Errorf("detail rows under %q held no keyed values", e.sel.DetailRow)
	}
	return detail, nil
}
