package catalog

import "fmt"

// PageIndexMapper converts between the remote site's 1-based ascending page
// numbers (oldest -> newest) and the engine's 0-based descending pageIds
// (0 = newest). The engine numbering keeps pageId 0 pinned to "the newest
// page" so range math stays valid as the catalog grows.
//
// The site's oldest page (site page 1) may hold fewer than a full page of
// records. Offset corrects for that shortfall when flattening a page's slots
// into the ascending indexInPage sequence.
type PageIndexMapper struct {
	pageSize int
}

// NewPageIndexMapper builds a mapper for the given full page size.
func NewPageIndexMapper(pageSize int) (*PageIndexMapper, error) {
	if pageSize <= 0 {
		return nil, NewInitError(fmt.Sprintf("page size must be positive, got %d", pageSize), nil)
	}
	return &PageIndexMapper{pageSize: pageSize}, nil
}

// PageSize returns the configured full page size.
func (m *PageIndexMapper) PageSize() int {
	return m.pageSize
}

// ToSitePage converts an engine pageId to the site's page number.
// An out-of-range pageId is an initialization error, never clamped: a bad
// mapping here means the caller's range math is already broken.
func (m *PageIndexMapper) ToSitePage(pageID, totalPages int) (int, error) {
	if totalPages <= 0 {
		return 0, NewInitError(fmt.Sprintf("total pages must be positive, got %d", totalPages), nil)
	}
	if pageID < 0 || pageID >= totalPages {
		return 0, NewInitError(fmt.Sprintf("pageId %d out of range [0,%d)", pageID, totalPages), nil)
	}
	return totalPages - pageID, nil
}

// ToPageID converts a site page number to the engine pageId.
func (m *PageIndexMapper) ToPageID(sitePage, totalPages int) (int, error) {
	if totalPages <= 0 {
		return 0, NewInitError(fmt.Sprintf("total pages must be positive, got %d", totalPages), nil)
	}
	if sitePage < 1 || sitePage > totalPages {
		return 0, NewInitError(fmt.Sprintf("site page %d out of range [1,%d]", sitePage, totalPages), nil)
	}
	return totalPages - sitePage, nil
}

// Offset returns the slot shift introduced by the short oldest page:
// (pageSize - lastPageRecordCount) mod pageSize. A full oldest page yields 0.
func (m *PageIndexMapper) Offset(lastPageRecordCount int) (int, error) {
	if lastPageRecordCount < 0 || lastPageRecordCount > m.pageSize {
		return 0, NewInitError(
			fmt.Sprintf("last page record count %d out of range [0,%d]", lastPageRecordCount, m.pageSize), nil)
	}
	return (m.pageSize - lastPageRecordCount) % m.pageSize, nil
}

// MapSlot maps a scraped slot position on a site page to its stable
// (pageId, indexInPage) position. slotInPage is the 0-based position as
// scraped. On the boundary page (site page 1) the records occupy the tail of
// an imaginary full page, so the offset is subtracted to normalize them back
// to an ascending 0-based indexInPage; a slot landing inside the phantom
// region means the caller scraped something that cannot exist.
func (m *PageIndexMapper) MapSlot(sitePage, slotInPage, offset, totalPages int) (pageID, indexInPage int, err error) {
	pageID, err = m.ToPageID(sitePage, totalPages)
	if err != nil {
		return 0, 0, err
	}
	if slotInPage < 0 || slotInPage >= m.pageSize {
		return 0, 0, NewInitError(fmt.Sprintf("slot %d out of range [0,%d)", slotInPage, m.pageSize), nil)
	}
	if offset < 0 || offset >= m.pageSize {
		return 0, 0, NewInitError(fmt.Sprintf("offset %d out of range [0,%d)", offset, m.pageSize), nil)
	}
	indexInPage = slotInPage
	if sitePage == 1 {
		indexInPage = slotInPage - offset
		if indexInPage < 0 {
			return 0, 0, NewInitError(
				fmt.Sprintf("slot %d on boundary page precedes the first real record (offset %d)", slotInPage, offset), nil)
		}
	}
	return pageID, indexInPage, nil
}

// ExpectedCount returns how many records a pageId should hold: the boundary
// page (site page 1) holds lastPageRecordCount, every other page is full.
func (m *PageIndexMapper) ExpectedCount(pageID, totalPages, lastPageRecordCount int) (int, error) {
	sitePage, err := m.ToSitePage(pageID, totalPages)
	if err != nil {
		return 0, err
	}
	if sitePage == 1 {
		return lastPageRecordCount, nil
	}
	return m.pageSize, nil
}

// SitePagesFor lists the site pages whose records can land in pageID: the
// primary page, plus its newer neighbor when a nonzero offset shifts slots
// across the page boundary. Used by gap repair to over-fetch rather than
// miss a displaced record.
func (m *PageIndexMapper) SitePagesFor(pageID, totalPages, offset int) ([]int, error) {
	primary, err := m.ToSitePage(pageID, totalPages)
	if err != nil {
		return nil, err
	}
	if offset > 0 && primary+1 <= totalPages {
		return []int{primary, primary + 1}, nil
	}
	return []int{primary}, nil
}
