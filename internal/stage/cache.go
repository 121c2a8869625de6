package stage

import (
	"sort"
	"sync"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
)

// pageCache accumulates records per pageId across retry cycles so partial
// progress from an earlier attempt is never discarded. Records are deduped
// by URL (their stable identity); a later fetch of the same record replaces
// the earlier copy. Each page's bucket is only merged by the single worker
// owning that page unit within a cycle, but cycles share the cache, so
// access is guarded.
type pageCache struct {
	mu    sync.Mutex
	pages map[int]map[string]catalog.Record
}

func newPageCache() *pageCache {
	return &pageCache{pages: make(map[int]map[string]catalog.Record)}
}

// merge unions records into the page bucket and returns the merged count.
func (c *pageCache) merge(pageID int, records []catalog.Record) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.pages[pageID]
	if !ok {
		bucket = make(map[string]catalog.Record, len(records))
		c.pages[pageID] = bucket
	}
	for _, rec := range records {
		if rec.URL == "" {
			continue
		}
		bucket[rec.URL] = rec
	}
	return len(bucket)
}

func (c *pageCache) count(pageID int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages[pageID])
}

// flatten returns all cached records ordered by ascending pageId, then by
// ascending indexInPage within a page.
func (c *pageCache) flatten() []catalog.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	pageIDs := make([]int, 0, len(c.pages))
	for id := range c.pages {
		pageIDs = append(pageIDs, id)
	}
	sort.Ints(pageIDs)

	var out []catalog.Record
	for _, id := range pageIDs {
		bucket := c.pages[id]
		recs := make([]catalog.Record, 0, len(bucket))
		for _, rec := range bucket {
			recs = append(recs, rec)
		}
		sort.Slice(recs, func(i, j int) bool {
			if recs[i].IndexInPage != recs[j].IndexInPage {
				return recs[i].IndexInPage < recs[j].IndexInPage
			}
			return recs[i].URL < recs[j].URL
		})
		out = append(out, recs...)
	}
	return out
}
