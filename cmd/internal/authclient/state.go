package authclient

import (
	"sync"
	"time"
)

// TokenState holds the client's current access token. Anything may read it; only the
// Coordinator writes it. Every write bumps the generation so a request can tell whether
// the token changed since it was sent.
type TokenState struct {
	mu        sync.RWMutex
	access    string
	expiresAt time.Time
	gen       uint64
}

// NewTokenState returns an empty, signed-out state.
func NewTokenState() *TokenState {
	return &TokenState{}
}

// AccessToken returns the current token (empty when signed out) and its generation.
func (s *TokenState) AccessToken() (string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.gen
}

// ExpiresAt is the expiry reported with the current token.
func (s *TokenState) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// SignedIn reports whether an access token is held.
func (s *TokenState) SignedIn() bool {
	tok, _ := s.AccessToken()
	return tok != ""
}

func (s *TokenState) set(tok string, exp time.Time) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.expiresAt = tok, exp
	s.gen++
	return s.gen
}

func (s *TokenState) clear() {
	s.set("", time.Time{})
}
