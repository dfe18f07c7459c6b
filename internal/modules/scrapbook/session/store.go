package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/liveon/scrapbook-backend/internal/domain"
	pkgerrors "github.com/liveon/scrapbook-backend/internal/pkg/errors"
)

// Store persists curated sessions. Implementations are session-scoped
// caches, not durable archives; losing one only costs a regeneration.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	Put(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// MemoryStore keeps sessions in process. The default for single-node
// deployments and for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]domain.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[uuid.UUID]domain.Session{}}
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, pkgerrors.ErrNotFound)
	}
	out := copySession(s)
	return &out, nil
}

func (m *MemoryStore) Put(_ context.Context, s *domain.Session) error {
	if s == nil {
		return fmt.Errorf("nil session: %w", pkgerrors.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = copySession(*s)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// copySession detaches the stored value from caller-held references.
func copySession(s domain.Session) domain.Session {
	out := s
	out.Classification = s.Classification.Clone()
	out.Undo = make(domain.UndoStack, len(s.Undo))
	for k, v := range s.Undo {
		out.Undo[k] = v
	}
	return out
}
