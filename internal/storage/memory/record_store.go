// Package memory provides in-memory persistence used when no database is
// configured and in tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/histocoin/artifact-miner/internal/artifact"
)

// RecordStore is a mutex-guarded in-memory artifact.RecordStore. Records
// are deduplicated on (source id, title) and sources on base URL, matching
// the Postgres unique indexes.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]artifact.Record // keyed by record ID
	dedup   map[string]string          // (source id, title) key -> record ID
	sources map[string]artifact.Source // keyed by source ID
}

// NewRecordStore returns an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]artifact.Record),
		dedup:   make(map[string]string),
		sources: make(map[string]artifact.Source),
	}
}

func dedupKey(sourceID, title string) string {
	return sourceID + "\n" + title
}

// FindRecord returns the record for (sourceID, title) or artifact.ErrNotFound.
func (s *RecordStore) FindRecord(_ context.Context, sourceID, title string) (artifact.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.dedup[dedupKey(sourceID, title)]
	if !ok {
		return artifact.Record{}, artifact.ErrNotFound
	}
	return s.records[id], nil
}

// InsertRecord persists a candidate, returning artifact.ErrDuplicate when
// a record already exists for its (source id, title) pair.
func (s *RecordStore) InsertRecord(_ context.Context, cand artifact.Candidate) (artifact.Record, error) {
	if err := cand.Validate(); err != nil {
		return artifact.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupKey(cand.SourceID, cand.Title)
	if _, exists := s.dedup[key]; exists {
		return artifact.Record{}, artifact.ErrDuplicate
	}

	rec := artifact.Record{
		ID:          uuid.NewString(),
		SourceID:    cand.SourceID,
		Title:       cand.Title,
		Description: cand.Description,
		Metadata:    cand.Metadata,
		ImageURL:    cand.ImageURL,
		CreatedAt:   time.Now().UTC(),
	}
	s.records[rec.ID] = rec
	s.dedup[key] = rec.ID
	return rec, nil
}

// ListRecords returns the most recent records, newest first.
func (s *RecordStore) ListRecords(_ context.Context, limit int) ([]artifact.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]artifact.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID, out[j].ID) < 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountRecords reports the total number of stored records.
func (s *RecordStore) CountRecords(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// AppendContribution appends one entry to a record's contribution list.
func (s *RecordStore) AppendContribution(_ context.Context, recordID string, contrib artifact.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordID]
	if !ok {
		return artifact.ErrNotFound
	}
	rec.Contributions = append(rec.Contributions, contrib)
	s.records[recordID] = rec
	return nil
}

// ListSources returns sources ordered by creation time. A non-empty
// filterID restricts the result to that single source.
func (s *RecordStore) ListSources(_ context.Context, filterID string) ([]artifact.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []artifact.Source
	for _, src := range s.sources {
		if filterID != "" && src.ID != filterID {
			continue
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID, out[j].ID) < 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CreateSource inserts a source; baseURL must already be normalized.
func (s *RecordStore) CreateSource(_ context.Context, name, baseURL string) (artifact.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, src := range s.sources {
		if src.BaseURL == baseURL {
			return artifact.Source{}, artifact.ErrDuplicate
		}
	}
	src := artifact.Source{
		ID:        uuid.NewString(),
		Name:      name,
		BaseURL:   baseURL,
		CreatedAt: time.Now().UTC(),
	}
	s.sources[src.ID] = src
	return src, nil
}

// DeleteSource removes a source or returns artifact.ErrNotFound.
func (s *RecordStore) DeleteSource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[id]; !ok {
		return artifact.ErrNotFound
	}
	delete(s.sources, id)
	return nil
}

// Close implements artifact.RecordStore; nothing to release.
func (s *RecordStore) Close() {}
