package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/liveon/scrapbook-backend/internal/domain"
	pkgerrors "github.com/liveon/scrapbook-backend/internal/pkg/errors"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

// SessionStore keeps curated sessions in redis so a multi-replica
// deployment can serve any session from any node. Entries expire; a
// lapsed session only costs the user a regeneration.
type SessionStore struct {
	log *logger.Logger
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionStore(log *logger.Logger, rdb *redis.Client) *SessionStore {
	return &SessionStore{
		log: log.With("service", "RedisSessionStore"),
		rdb: rdb,
		ttl: ttlFromEnv("SESSION_TTL_SECONDS", 24*time.Hour),
	}
}

func sessionKey(id uuid.UUID) string { return "scrapbook:session:" + id.String() }

func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %s: %w", id, pkgerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}

	var out domain.Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	if out.Classification.Chapters == nil {
		out.Classification = domain.NewClassification()
	}
	if out.Undo == nil {
		out.Undo = domain.UndoStack{}
	}
	return &out, nil
}

func (s *SessionStore) Put(ctx context.Context, sess *domain.Session) error {
	if sess == nil {
		return fmt.Errorf("nil session: %w", pkgerrors.ErrInvalidArgument)
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}
