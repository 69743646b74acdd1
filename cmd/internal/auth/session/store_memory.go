package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests.
// A single mutex serializes every operation, which makes SwapRefreshHash trivially atomic.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Session
	byHash map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Session),
		byHash: make(map[string]string),
	}
}

func cloneSession(s *Session) Session {
	out := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		out.RevokedAt = &t
	}
	return out
}

func (m *MemoryStore) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[s.ID]; ok {
		return errDuplicate("id")
	}
	if _, ok := m.byHash[s.RefreshTokenHash]; ok {
		return errDuplicate("refresh_token_hash")
	}
	cp := cloneSession(&s)
	m.byID[s.ID] = &cp
	m.byHash[s.RefreshTokenHash] = s.ID
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) FindByUser(_ context.Context, userID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.filterLocked(func(s *Session) bool { return s.UserID == userID })
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) FindActiveByUser(_ context.Context, userID string, now time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.filterLocked(func(s *Session) bool { return s.UserID == userID && s.Active(now) })
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *MemoryStore) FindActiveByRefreshHash(_ context.Context, hash string, now time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[hash]
	if !ok {
		return Session{}, ErrNotFound
	}
	s := m.byID[id]
	if s == nil || !s.Active(now) {
		return Session{}, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) SwapRefreshHash(_ context.Context, in SwapInput) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[in.OldHash]
	if !ok {
		return Session{}, ErrNotFound
	}
	s := m.byID[id]
	if s == nil || !s.Active(in.Now) {
		return Session{}, ErrNotFound
	}
	if _, taken := m.byHash[in.NewHash]; taken {
		return Session{}, errDuplicate("refresh_token_hash")
	}

	delete(m.byHash, in.OldHash)
	m.byHash[in.NewHash] = id
	s.RefreshTokenHash = in.NewHash
	s.ExpiresAt = cappedExpiry(s.CreatedAt, in.SlideTo, in.MaxLifetime)
	s.UpdatedAt = in.Now
	return cloneSession(s), nil
}

func (m *MemoryStore) Revoke(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byID[id]; ok && s.RevokedAt == nil {
		t := now
		s.RevokedAt = &t
		s.UpdatedAt = now
	}
	return nil
}

func (m *MemoryStore) RevokeAllByUser(_ context.Context, userID string, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, s := range m.byID {
		if s.UserID != userID || s.RevokedAt != nil {
			continue
		}
		t := now
		s.RevokedAt = &t
		s.UpdatedAt = now
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	m.deleteLocked(s)
	return nil
}

func (m *MemoryStore) DeleteAllByUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, s := range m.byID {
		if s.UserID == userID {
			m.deleteLocked(s)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountByUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.byID {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, s := range m.byID {
		if s.ExpiresAt.Before(before) || (s.RevokedAt != nil && s.RevokedAt.Before(before)) {
			m.deleteLocked(s)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) filterLocked(keep func(*Session) bool) []Session {
	var out []Session
	for _, s := range m.byID {
		if keep(s) {
			out = append(out, cloneSession(s))
		}
	}
	return out
}

// deleteLocked is safe to call while ranging over byID.
func (m *MemoryStore) deleteLocked(s *Session) {
	delete(m.byID, s.ID)
	if m.byHash[s.RefreshTokenHash] == s.ID {
		delete(m.byHash, s.RefreshTokenHash)
	}
}

type duplicateError string

func (e duplicateError) Error() string { return "session store: duplicate " + string(e) }

func errDuplicate(field string) error { return duplicateError(field) }
