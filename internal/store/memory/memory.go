// Package memory implementa core.Repository en memoria, para desarrollo y
// tests. No es apto para más de una instancia.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/toolgate/internal/store/core"
)

type Store struct {
	mu          sync.RWMutex
	clients     map[string]core.Client         // por client_id
	sessions    map[string]core.Session        // por user_id
	credentials map[string]core.ToolCredential // por user_id|provider
	audit       []core.AuditEntry
}

var _ core.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		clients:     make(map[string]core.Client),
		sessions:    make(map[string]core.Session),
		credentials: make(map[string]core.ToolCredential),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close()                         {}

func credKey(userID, provider string) string { return userID + "|" + provider }

func (s *Store) UpsertClient(ctx context.Context, c *core.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	if prev, ok := s.clients[c.ClientID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.clients[c.ClientID] = cp
	return nil
}

func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (*core.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := c
	return &cp, nil
}

func (s *Store) SetClientActive(ctx context.Context, clientID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return core.ErrNotFound
	}
	c.Active = active
	s.clients[clientID] = c
	return nil
}

func (s *Store) UpsertSession(ctx context.Context, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	now := time.Now().UTC()
	if prev, ok := s.sessions[sess.UserID]; ok {
		cp.ID = prev.ID
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.sessions[sess.UserID] = cp
	return nil
}

func (s *Store) GetSessionByUserID(ctx context.Context, userID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := sess
	return &cp, nil
}

func (s *Store) UpsertToolCredential(ctx context.Context, tc *core.ToolCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tc
	now := time.Now().UTC()
	if prev, ok := s.credentials[credKey(tc.UserID, tc.Provider)]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.credentials[credKey(tc.UserID, tc.Provider)] = cp
	return nil
}

func (s *Store) GetToolCredential(ctx context.Context, userID, provider string) (*core.ToolCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.credentials[credKey(userID, provider)]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := tc
	return &cp, nil
}

func (s *Store) DeleteToolCredential(ctx context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, credKey(userID, provider))
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, e *core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, cp)
	return nil
}

// AuditEntries devuelve una copia del log (solo tests/inspección).
func (s *Store) AuditEntries() []core.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}
