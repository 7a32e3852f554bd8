package memory

import (
	"context"
	"sync"

	"krist-payout/internal/roster"
)

// Store is an in-memory roster.Source. Participants are listed in the
// order they joined.
type Store struct {
	mu    sync.RWMutex
	order []string                      // addresses in join order
	data  map[string]roster.Participant // keyed by address
}

// NewStore creates a store holding participants, all present.
func NewStore(participants ...roster.Participant) *Store {
	s := &Store{data: make(map[string]roster.Participant)}
	for _, p := range participants {
		s.Join(p)
	}
	return s
}

// Compile-time interface check.
var _ roster.Source = (*Store)(nil)

// Join marks p as present. Joining again updates the name and keeps the
// original position.
func (s *Store) Join(p roster.Participant) error {
	if p.Address == "" {
		return roster.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.Address]; !exists {
		s.order = append(s.order, p.Address)
	}
	s.data[p.Address] = p
	return nil
}

// Leave marks the participant with address as gone.
func (s *Store) Leave(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[address]; !exists {
		return roster.ErrNotFound
	}
	delete(s.data, address)
	for i, a := range s.order {
		if a == address {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Participants returns a copy of the present participants.
func (s *Store) Participants(_ context.Context) ([]roster.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]roster.Participant, 0, len(s.order))
	for _, a := range s.order {
		out = append(out, s.data[a])
	}
	return out, nil
}
