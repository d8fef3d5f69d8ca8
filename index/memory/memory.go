// Package memory provides an in-memory index.Store, used by tests and
// callers that do not need the database to survive the process.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/jmcleod/certhand/index"
)

// Store implements index.Store with plain maps behind a mutex.
type Store struct {
	mu         sync.Mutex
	nextSerial int64
	nextCRL    int64
	entries    map[int64]index.Entry
}

var _ index.Store = (*Store)(nil)

// NewStore returns an empty Store with both counters at 1.
func NewStore() *Store {
	return &Store{
		nextSerial: 1,
		nextCRL:    1,
		entries:    make(map[int64]index.Entry),
	}
}

func (s *Store) NextSerial() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSerial, nil
}

func (s *Store) NextCRLNumber() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCRL, nil
}

func (s *Store) Issue(fn func(serial int64) (index.Entry, error)) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	serial := s.nextSerial
	entry, err := fn(serial)
	if err != nil {
		return 0, err
	}
	if entry.Serial != serial {
		return 0, index.ErrSerialMismatch
	}
	entry.Status = index.StatusValid
	entry.RevokedAt = time.Time{}
	s.entries[serial] = entry
	s.nextSerial++
	return serial, nil
}

func (s *Store) IssueCRL(fn func(number int64) error) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	number := s.nextCRL
	if err := fn(number); err != nil {
		return 0, err
	}
	s.nextCRL++
	return number, nil
}

func (s *Store) Revoke(serial int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[serial]
	if !ok {
		return index.ErrNotFound
	}
	if entry.Status == index.StatusRevoked {
		return index.ErrAlreadyRevoked
	}
	entry.Status = index.StatusRevoked
	entry.RevokedAt = at
	s.entries[serial] = entry
	return nil
}

func (s *Store) Get(serial int64) (index.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[serial]
	if !ok {
		return index.Entry{}, index.ErrNotFound
	}
	return entry, nil
}

func (s *Store) List() ([]index.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]index.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Serial < entries[j].Serial })
	return entries, nil
}

func (s *Store) Revoked() ([]index.Entry, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	revoked := all[:0]
	for _, e := range all {
		if e.Status == index.StatusRevoked {
			revoked = append(revoked, e)
		}
	}
	return revoked, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
