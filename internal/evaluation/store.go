package evaluation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists sessions. Update is a compare-and-swap on Session.Version:
// it succeeds only when the stored version matches, then bumps it, so two
// concurrent read-modify-write cycles can never silently overwrite each
// other. Callers retry on ErrVersionConflict.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Update(ctx context.Context, s *Session) error
	Get(ctx context.Context, boardID, teamID string, phase Phase) (*Session, error)
	GetByID(ctx context.Context, id string) (*Session, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Session, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session // by id
	byTriple map[string]string   // board|team|phase -> id
}

// NewInMemoryStore returns a Store for tests and offline single-process use.
func NewInMemoryStore() Store {
	return &memoryStore{
		sessions: map[string]*Session{},
		byTriple: map[string]string{},
	}
}

func tripleKey(boardID, teamID string, phase Phase) string {
	return fmt.Sprintf("%s|%s|%s", boardID, teamID, phase)
}

func (m *memoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tripleKey(s.BoardID, s.TeamID, s.Phase)
	if _, ok := m.byTriple[k]; ok {
		return ErrSessionExists
	}
	if _, ok := m.sessions[s.ID]; ok {
		return ErrSessionExists
	}
	s.Version = 1
	m.sessions[s.ID] = s.Clone()
	m.byTriple[k] = s.ID
	return nil
}

func (m *memoryStore) Update(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if cur.Version != s.Version {
		return ErrVersionConflict
	}
	s.Version++
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *memoryStore) Get(_ context.Context, boardID, teamID string, phase Phase) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTriple[tripleKey(boardID, teamID, phase)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return m.sessions[id].Clone(), nil
}

func (m *memoryStore) GetByID(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *memoryStore) ListByStatus(_ context.Context, statuses ...Status) ([]*Session, error) {
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if want[s.Status] {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[Status]int{}
	for _, s := range m.sessions {
		out[s.Status]++
	}
	return out, nil
}
