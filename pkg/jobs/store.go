// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned for unknown job IDs.
	ErrNotFound = errors.New("job not found")

	// ErrResultNotReady is returned when a job exists, but its result image was not written yet.
	ErrResultNotReady = errors.New("result not ready")
)

// Store persists job records. Implementations must be safe for concurrent use.
//
// Save replaces the whole record, so readers never observe a partially updated one.
type Store interface {
	Save(rec Record) error

	// Load returns ErrNotFound (possibly wrapped) if there is no record for id.
	Load(id ID) (Record, error)

	// List returns all records, oldest first.
	List() ([]Record, error)

	Close() error
}

// MemoryStore keeps records in memory only.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[ID]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[ID]Record)}
}

// Save implements Store.
func (s *MemoryStore) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(id ID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, found := s.records[id]
	if !found {
		return Record{}, errors.Wrapf(ErrNotFound, "job %q", id)
	}
	return rec, nil
}

// List implements Store.
func (s *MemoryStore) List() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sortRecords(records)
	return records, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func sortRecords(records []Record) {
	slices.SortFunc(records, func(a, b Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		} else if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
