package delivery

import (
	"sync"

	"github.com/bft-labs/logship/internal/domain"
)

// StateStore holds one StreamState per target. Each entry has its own lock,
// held by the controller for a whole batch sequence, so a target has a
// single writer while different targets never wait on each other.
type StateStore struct {
	mu      sync.Mutex
	entries map[domain.Target]*entry
}

type entry struct {
	mu    sync.Mutex
	state domain.StreamState
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{entries: make(map[domain.Target]*entry)}
}

// lookup returns the entry for target, creating it in phase Unresolved.
func (s *StateStore) lookup(target domain.Target) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[target]
	if !ok {
		e = &entry{state: domain.StreamState{Target: target}}
		s.entries[target] = e
	}
	return e
}

// acquire locks and returns the entry for target. The caller must unlock e.mu.
func (s *StateStore) acquire(target domain.Target) *entry {
	e := s.lookup(target)
	e.mu.Lock()
	return e
}

func (s *StateStore) all() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Get returns a copy of the state of target.
func (s *StateStore) Get(target domain.Target) (domain.StreamState, bool) {
	s.mu.Lock()
	e, ok := s.entries[target]
	s.mu.Unlock()
	if !ok {
		return domain.StreamState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// Len returns the number of known targets.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns the tokens of all targets known to exist.
func (s *StateStore) Snapshot() map[domain.Target]string {
	tokens := make(map[domain.Target]string)
	for _, e := range s.all() {
		e.mu.Lock()
		if e.state.Existence == domain.ExistenceExists {
			tokens[e.state.Target] = e.state.Token
		}
		e.mu.Unlock()
	}
	return tokens
}

// Restore seeds tokens from a checkpoint. Restored targets are marked as
// existing; a token that went stale meanwhile is repaired on first write.
func (s *StateStore) Restore(tokens map[domain.Target]string) {
	for target, token := range tokens {
		e := s.acquire(target)
		if e.state.Phase == domain.PhaseUnresolved {
			e.state.Token = token
			e.state.Existence = domain.ExistenceExists
			e.state.Phase = domain.PhaseReady
		}
		e.mu.Unlock()
	}
}
