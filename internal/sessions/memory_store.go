package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
)

// MemoryStore keeps sessions in process. One mutex serializes every write.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[uuid.UUID]*Session
	controls   map[uuid.UUID]*JoinControl
	extensions map[uuid.UUID][]Extension
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[uuid.UUID]*Session),
		controls:   make(map[uuid.UUID]*JoinControl),
		extensions: make(map[uuid.UUID][]Extension),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(_ context.Context, s *Session, c *JoinControl) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return apperr.InvalidState("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = cloneSession(s)
	if c != nil {
		cc := *c
		m.controls[s.ID] = &cc
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.NotFound("session %s not found", id)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) GetJoinControl(_ context.Context, sessionID uuid.UUID) (*JoinControl, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controls[sessionID]
	if !ok {
		return nil, apperr.NotFound("join control for session %s not found", sessionID)
	}
	cc := *c
	return &cc, nil
}

func (m *MemoryStore) Update(_ context.Context, id uuid.UUID, fn MutateFunc) (*Session, *JoinControl, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[id]
	if !ok {
		return nil, nil, apperr.NotFound("session %s not found", id)
	}
	s := cloneSession(cur)
	var c JoinControl
	if existing, ok := m.controls[id]; ok {
		c = *existing
	} else {
		c = NewJoinControl(id, DefaultRules())
	}
	if err := fn(s, &c); err != nil {
		return nil, nil, err
	}
	m.sessions[id] = cloneSession(s)
	cc := c
	m.controls[id] = &cc
	return s, &c, nil
}

func (m *MemoryStore) AppendExtension(_ context.Context, sessionID uuid.UUID, fn ExtendFunc) (*Session, *Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil, apperr.NotFound("session %s not found", sessionID)
	}
	s := cloneSession(cur)
	ext, err := fn(s, len(m.extensions[sessionID]))
	if err != nil {
		return nil, nil, err
	}
	m.extensions[sessionID] = append(m.extensions[sessionID], *ext)
	m.sessions[sessionID] = cloneSession(s)
	return s, ext, nil
}

func (m *MemoryStore) ListExtensions(_ context.Context, sessionID uuid.UUID) ([]Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Extension(nil), m.extensions[sessionID]...), nil
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if f.TherapistID != uuid.Nil && s.TherapistID != f.TherapistID {
			continue
		}
		if !f.From.IsZero() && s.ScheduledAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !s.ScheduledAt.Before(f.To) {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, s.Status) {
			continue
		}
		out = append(out, *cloneSession(s))
	}
	sortByStart(out)
	return out, nil
}

func (m *MemoryStore) ListNoShowCandidates(_ context.Context, cutoff time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.Status.isUpcoming() && s.ActualStartAt == nil && s.ScheduledAt.Before(cutoff) {
			out = append(out, *cloneSession(s))
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *MemoryStore) ListReminderCandidates(_ context.Context, from, to time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.Status.isUpcoming() && !s.ScheduledAt.Before(from) && !s.ScheduledAt.After(to) {
			out = append(out, *cloneSession(s))
		}
	}
	sortByStart(out)
	return out, nil
}

func cloneSession(s *Session) *Session {
	cp := *s
	if s.Cancellation != nil {
		c := *s.Cancellation
		cp.Cancellation = &c
	}
	return &cp
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortByStart(list []Session) {
	sort.Slice(list, func(i, j int) bool { return list[i].ScheduledAt.Before(list[j].ScheduledAt) })
}
