package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/fubhy/jazz/ids"
)

// MemoryStore is an in-process Store, the default for a node that has no
// durable storage peer configured (tests, short-lived demo sessions).
type MemoryStore struct {
	mu       sync.Mutex
	headers  map[ids.CoID][]byte
	sessions map[ids.CoID]map[ids.SessionID][]SessionEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		headers:  map[ids.CoID][]byte{},
		sessions: map[ids.CoID]map[ids.SessionID][]SessionEntry{},
	}
}

func (s *MemoryStore) SaveHeader(_ context.Context, id ids.CoID, header []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers[id] = header
	return nil
}

func (s *MemoryStore) LoadHeader(_ context.Context, id ids.CoID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	header, ok := s.headers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return header, nil
}

func (s *MemoryStore) AppendSession(_ context.Context, id ids.CoID, session ids.SessionID, fromIndex int, entries []SessionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.sessions[id]
	if !ok {
		byID = map[ids.SessionID][]SessionEntry{}
		s.sessions[id] = byID
	}
	existing := byID[session]
	if fromIndex != len(existing) {
		return fmt.Errorf("storage: append at %d, session has %d entries", fromIndex, len(existing))
	}
	byID[session] = append(existing, entries...)
	return nil
}

func (s *MemoryStore) LoadSession(_ context.Context, id ids.CoID, session ids.SessionID, fromIndex int) ([]SessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.sessions[id][session]
	if fromIndex > len(entries) {
		return nil, fmt.Errorf("storage: %w: index %d beyond length %d", ErrNotFound, fromIndex, len(entries))
	}
	out := make([]SessionEntry, len(entries)-fromIndex)
	copy(out, entries[fromIndex:])
	return out, nil
}

func (s *MemoryStore) SessionLength(_ context.Context, id ids.CoID, session ids.SessionID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions[id][session]), nil
}

func (s *MemoryStore) KnownState(_ context.Context, id ids.CoID) (map[ids.SessionID]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[ids.SessionID]int{}
	for session, entries := range s.sessions[id] {
		out[session] = len(entries)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
