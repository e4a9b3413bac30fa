package history

import (
	"context"
	"sync"
)

// memoryStore keeps entries in insertion order. With a positive max it is a
// ring: once full, each Append overwrites the oldest slot.
type memoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	start   int
	max     int
}

// NewMemory builds an in-process prediction log.
func NewMemory(cfg Config) Store {
	return &memoryStore{max: cfg.MaxEntries}
}

func (s *memoryStore) Append(_ context.Context, entry Entry) error {
	entry = prepare(entry)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max <= 0 || len(s.entries) < s.max {
		s.entries = append(s.entries, entry)
		return nil
	}
	s.entries[s.start] = entry
	s.start = (s.start + 1) % s.max
	return nil
}

// ordered returns the entries oldest first. Callers hold s.mu.
func (s *memoryStore) ordered() []Entry {
	if s.start == 0 {
		return s.entries
	}
	out := make([]Entry, 0, len(s.entries))
	out = append(out, s.entries[s.start:]...)
	return append(out, s.entries[:s.start]...)
}

func (s *memoryStore) ListByUser(_ context.Context, email string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Entry
	for _, e := range s.ordered() {
		if e.UserEmail == email {
			matched = append(matched, e)
		}
	}
	return tail(matched, limit), nil
}

func (s *memoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.ordered(), limit), nil
}

func (s *memoryStore) Close() error {
	return nil
}
