// Package scs stores coachauth items inside an scs session. A server acting on behalf
// of browser users can keep one coachauth session per user session, in whatever
// scs store (memory, Redis, SQL) the session manager is configured with.
//
// It is not a stores.Open driver: the server owns the SessionManager and the
// session token, so it builds a Storage per request with Open.
package scs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
)

// Storage implements coachauth.Storage on one scs session
type Storage struct {
	mu      sync.Mutex
	manager *scs.SessionManager
	ctx     context.Context
	token   string
	expiry  time.Time
}

// Open loads the session identified by token. An empty or unknown token starts a new
// session; its token is available from Token after the first write.
func Open(ctx context.Context, manager *scs.SessionManager, token string) (*Storage, error) {
	loaded, err := manager.Load(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &Storage{manager: manager, ctx: loaded, token: token}, nil
}

func (s *Storage) GetItem(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.manager.Exists(s.ctx, key) {
		return nil, nil
	}
	return s.manager.GetBytes(s.ctx, key), nil
}

func (s *Storage) SetItem(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manager.Put(s.ctx, key, append([]byte(nil), value...))
	return s.commitLocked()
}

func (s *Storage) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.manager.Exists(s.ctx, key) {
		return nil
	}
	s.manager.Remove(s.ctx, key)
	return s.commitLocked()
}

func (s *Storage) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager.Keys(s.ctx), nil
}

// commitLocked writes the session to the manager's store. Caller must hold s.mu
func (s *Storage) commitLocked() error {
	token, expiry, err := s.manager.Commit(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	s.token = token
	s.expiry = expiry
	return nil
}

// Token returns the session token to hand back to the user agent
func (s *Storage) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Expiry returns the session expiry reported by the last commit
func (s *Storage) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiry
}
