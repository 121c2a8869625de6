// Package memory provides a map-backed Store for tests and single-process
// runs without a database.
package memory

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
)

// Store keeps records in memory, keyed by their URL identity and indexed by
// page position. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	records map[string]catalog.Record
	pages   map[int]map[int]string // pageID -> indexInPage -> url
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]catalog.Record),
		pages:   make(map[int]map[int]string),
	}
}

// CountExisting returns how many records of pageID are stored.
func (s *Store) CountExisting(_ context.Context, pageID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages[pageID]), nil
}

// ExistingSlotIndices returns the stored indexInPage values of pageID in
// ascending order.
func (s *Store) ExistingSlotIndices(_ context.Context, pageID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots := make([]int, 0, len(s.pages[pageID]))
	for idx := range s.pages[pageID] {
		slots = append(slots, idx)
	}
	sort.Ints(slots)
	return slots, nil
}

// MaxKnownPageID returns the largest stored pageId; ok is false when empty.
func (s *Store) MaxKnownPageID(context.Context) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max, ok := -1, false
	for pageID, slots := range s.pages {
		if len(slots) == 0 {
			continue
		}
		if !ok || pageID > max {
			max, ok = pageID, true
		}
	}
	return max, ok, nil
}

// Save upserts records by URL. Records without a URL are counted as failed;
// re-saving identical content counts as unchanged.
func (s *Store) Save(_ context.Context, records []catalog.Record) (catalog.SaveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var outcome catalog.SaveOutcome
	for _, rec := range records {
		if rec.URL == "" {
			outcome.Failed++
			continue
		}
		prev, exists := s.records[rec.URL]
		switch {
		case !exists:
			outcome.Added++
		case sameContent(prev, rec):
			outcome.Unchanged++
			continue
		default:
			outcome.Updated++
			s.unindex(prev)
		}
		s.records[rec.URL] = rec
		s.index(rec)
	}
	return outcome, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns all stored records ordered by pageId then indexInPage.
func (s *Store) Records() []catalog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PageID != out[j].PageID {
			return out[i].PageID < out[j].PageID
		}
		return out[i].IndexInPage < out[j].IndexInPage
	})
	return out
}

func (s *Store) index(rec catalog.Record) {
	slots, ok := s.pages[rec.PageID]
	if !ok {
		slots = make(map[int]string)
		s.pages[rec.PageID] = slots
	}
	slots[rec.IndexInPage] = rec.URL
}

func (s *Store) unindex(rec catalog.Record) {
	if slots, ok := s.pages[rec.PageID]; ok {
		if slots[rec.IndexInPage] == rec.URL {
			delete(slots, rec.IndexInPage)
		}
	}
}

// sameContent compares records ignoring the fetch timestamp.
func sameContent(a, b catalog.Record) bool {
	a.FetchedAt = time.Time{}
	b.FetchedAt = time.Time{}
	return reflect.DeepEqual(a, b)
}
