package arena

import (
	"sort"
	"sync"

	"agent-arena/internal/game"
)

// Store is the process-wide registry of arenas and match snapshots. It is
// created once at startup and injected into the Manager; nothing resets it.
// Lookups are safe from any goroutine.
type Store struct {
	mu      sync.RWMutex
	arenas  map[string]*arena
	matches map[string]*game.SnapshotHolder
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		arenas:  make(map[string]*arena),
		matches: make(map[string]*game.SnapshotHolder),
	}
}

func (s *Store) putArena(a *arena) {
	s.mu.Lock()
	s.arenas[a.id] = a
	s.mu.Unlock()
}

func (s *Store) arena(id string) (*arena, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.arenas[id]
	return a, ok
}

// arenaList returns arenas ordered by creation time.
func (s *Store) arenaList() []*arena {
	s.mu.RLock()
	out := make([]*arena, 0, len(s.arenas))
	for _, a := range s.arenas {
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

func (s *Store) putMatch(id string) *game.SnapshotHolder {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &game.SnapshotHolder{}
	s.matches[id] = h
	return h
}

// Match returns the latest snapshot of a match.
func (s *Store) Match(id string) (*game.MatchSnapshot, bool) {
	s.mu.RLock()
	h, ok := s.matches[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	snap := h.Load()
	return snap, snap != nil
}

// Matches returns the latest snapshot of every known match.
func (s *Store) Matches() []*game.MatchSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*game.MatchSnapshot, 0, len(s.matches))
	for _, h := range s.matches {
		if snap := h.Load(); snap != nil {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
