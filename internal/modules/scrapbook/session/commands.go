package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/allocate"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/classify"
	pkgerrors "github.com/liveon/scrapbook-backend/internal/pkg/errors"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

// Substituter proposes a replacement item for a chapter, honoring an
// exclusion set of canonical keys. nil with no error means the pool is
// exhausted for that request.
type Substituter interface {
	Substitute(ctx context.Context, req classify.SubstituteRequest) (*domain.Item, error)
}

// Commands mutates curated sessions. Every mutation is staged on a
// clone, checked against the allocation invariants, and only then
// stored; a failing command leaves the session exactly as it was.
type Commands struct {
	log   *logger.Logger
	store Store
	sub   Substituter
}

func NewCommands(log *logger.Logger, store Store, sub Substituter) (*Commands, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if sub == nil {
		return nil, fmt.Errorf("substituter required")
	}
	return &Commands{
		log:   log.With("service", "SessionCommands"),
		store: store,
		sub:   sub,
	}, nil
}

// ReplaceResult reports what a replacement did, for callers that want
// to recompute captions or refresh the UI slot.
type ReplaceResult struct {
	Session  *domain.Session
	Previous domain.ImageRef
	Chosen   domain.ImageRef
}

// Replace swaps the image at slot for a substitute drawn from pool.
// The exclusion set contains the outgoing image's key and the key of
// every image currently on display, so a swap can never introduce a
// duplicate or bring back the image being replaced.
func (c *Commands) Replace(ctx context.Context, id uuid.UUID, slot domain.Slot, pool []domain.Item, keyFor allocate.KeyFunc) (*ReplaceResult, error) {
	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	prev, err := s.Classification.ImageAt(slot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidArgument, err)
	}

	exclude := map[string]bool{}
	if key := keyFor(prev); key != "" {
		exclude[key] = true
	}
	for _, img := range s.Classification.AllImages() {
		if key := keyFor(img); key != "" {
			exclude[key] = true
		}
	}

	item := s.Classification.Chapters[slot.Chapter][slot.ItemIndex]
	sub, err := c.sub.Substitute(ctx, classify.SubstituteRequest{
		Chapter:     slot.Chapter,
		Pool:        pool,
		ExcludeKeys: exclude,
		KeyFor:      func(ref domain.ImageRef) string { return keyFor(ref) },
		Timestamp:   item.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	if sub == nil || len(sub.Images) == 0 {
		return nil, pkgerrors.ErrNoSubstitute
	}
	chosen := sub.Images[0]

	next := s.Classification.Clone()
	target := &next.Chapters[slot.Chapter][slot.ItemIndex]
	target.Images[slot.ImageIndex] = chosen
	// The substitute's own text and timestamp ride along; the caption is
	// stale for the new photo and gets recomputed by the caller.
	if text := strings.TrimSpace(sub.Text); text != "" {
		target.Text = text
		target.SecondaryText = ""
	}
	if ts := strings.TrimSpace(sub.Timestamp); ts != "" {
		target.Timestamp = ts
	}
	if err := allocate.Check(next, keyFor); err != nil {
		return nil, err
	}

	s.Classification = next
	// The first replacement at a slot records the true original; later
	// replacements must not overwrite it.
	if _, recorded := s.Undo[slot.Key()]; !recorded {
		if s.Undo == nil {
			s.Undo = domain.UndoStack{}
		}
		s.Undo[slot.Key()] = prev
	}
	s.Dirty = true
	s.UpdatedAt = time.Now().UTC()

	if err := c.store.Put(ctx, s); err != nil {
		return nil, err
	}
	c.log.Info("slot replaced", "session", id, "slot", slot.Key())
	return &ReplaceResult{Session: s, Previous: prev, Chosen: chosen}, nil
}

// Undo restores the original image at slot and consumes the undo entry.
// A slot with no recorded original is a no-op that reports
// ErrNothingToUndo.
func (c *Commands) Undo(ctx context.Context, id uuid.UUID, slot domain.Slot, keyFor allocate.KeyFunc) (*domain.Session, error) {
	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	original, ok := s.Undo[slot.Key()]
	if !ok {
		return nil, pkgerrors.ErrNothingToUndo
	}
	if _, err := s.Classification.ImageAt(slot); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidArgument, err)
	}

	next := s.Classification.Clone()
	next.Chapters[slot.Chapter][slot.ItemIndex].Images[slot.ImageIndex] = original
	if err := allocate.Check(next, keyFor); err != nil {
		return nil, err
	}

	s.Classification = next
	delete(s.Undo, slot.Key())
	s.Dirty = true
	s.UpdatedAt = time.Now().UTC()

	if err := c.store.Put(ctx, s); err != nil {
		return nil, err
	}
	c.log.Info("slot restored", "session", id, "slot", slot.Key())
	return s, nil
}
