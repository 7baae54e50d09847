package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store useful for tests and local runs.
// It is not durable.
type MemoryStore struct {
	mu      sync.Mutex
	seq     int64
	records map[string]*memEntry
	byRecID map[string]string
	clock   func() time.Time
}

type memEntry struct {
	rec CallRecord
	seq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]*memEntry{},
		byRecID: map[string]string{},
		clock:   time.Now,
	}
}

func (s *MemoryStore) Insert(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if err := validateInsert(rec); err != nil {
		return CallRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ProviderRecordingID != "" {
		if _, ok := s.byRecID[rec.ProviderRecordingID]; ok {
			return CallRecord{}, ErrDuplicate
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, ok := s.records[rec.ID]; ok {
		return CallRecord{}, ErrDuplicate
	}

	now := s.clock().UTC()
	rec.Status = StatusPending
	rec.ErrorMessage = ""
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.seq++
	s.records[rec.ID] = &memEntry{rec: rec.clone(), seq: s.seq}
	if rec.ProviderRecordingID != "" {
		s.byRecID[rec.ProviderRecordingID] = rec.ID
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return e.rec.clone(), nil
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]CallRecord, error) {
	s.mu.Lock()
	entries := s.snapshot(func(*memEntry) bool { return true })
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})
	return records(entries), nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]CallRecord, error) {
	s.mu.Lock()
	entries := s.snapshot(func(e *memEntry) bool { return e.rec.Status == status })
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.Before(b.rec.CreatedAt)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return records(entries), nil
}

func (s *MemoryStore) FindByProviderRecordingID(ctx context.Context, recordingID string) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRecID[recordingID]
	if !ok || recordingID == "" {
		return CallRecord{}, ErrNotFound
	}
	return s.records[id].rec.clone(), nil
}

func (s *MemoryStore) UpdateIfStatus(ctx context.Context, id string, expected Status, m Mutation) (CallRecord, error) {
	if err := validateUpdate(expected, m); err != nil {
		return CallRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	if e.rec.Status != expected {
		return CallRecord{}, ErrConflict
	}
	apply(&e.rec, m, s.clock().UTC())
	return e.rec.clone(), nil
}

func (s *MemoryStore) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	n := 0
	for _, e := range s.records {
		if e.rec.Status == StatusTranscribing && e.rec.UpdatedAt.Before(cutoff) {
			apply(&e.rec, To(StatusPending), now)
			n++
		}
	}
	return n, nil
}

// snapshot must be called with s.mu held.
func (s *MemoryStore) snapshot(keep func(*memEntry) bool) []memEntry {
	out := make([]memEntry, 0, len(s.records))
	for _, e := range s.records {
		if keep(e) {
			out = append(out, memEntry{rec: e.rec.clone(), seq: e.seq})
		}
	}
	return out
}

func records(entries []memEntry) []CallRecord {
	out := make([]CallRecord, len(entries))
	for i, e := range entries {
		out[i] = e.rec
	}
	return out
}

func apply(rec *CallRecord, m Mutation, now time.Time) {
	rec.Status = m.Status
	rec.Transcript = cloneString(m.Transcript)
	rec.Summary = m.Summary.clone()
	rec.ErrorMessage = m.ErrorMessage
	rec.UpdatedAt = now
}
