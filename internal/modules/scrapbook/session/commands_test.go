package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/classify"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/render"
	pkgerrors "github.com/liveon/scrapbook-backend/internal/pkg/errors"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

func pathKey(ref domain.ImageRef) string {
	if ref == "" {
		return ""
	}
	return "path:" + string(ref)
}

// scriptedSub returns its queued items in order, recording each request.
type scriptedSub struct {
	queue    []*domain.Item
	err      error
	requests []classify.SubstituteRequest
}

func (f *scriptedSub) Substitute(_ context.Context, req classify.SubstituteRequest) (*domain.Item, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.queue) == 0 {
		return nil, nil
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next, nil
}

func seedSession(t *testing.T, store Store) *domain.Session {
	t.Helper()
	s := &domain.Session{
		ID:     uuid.New(),
		Folder: "backup1",
		Classification: domain.Classification{
			Order: []string{"Family", "Travel"},
			Chapters: map[string][]domain.Item{
				"Family": {{ID: "p1", Text: "lake day", Images: []domain.ImageRef{"a.jpg", "b.jpg"}}},
				"Travel": {{ID: "p2", Text: "road trip", Images: []domain.ImageRef{"c.jpg"}}},
			},
		},
		Undo:      domain.UndoStack{},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.Put(context.Background(), s); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func newCommands(t *testing.T, store Store, sub Substituter) *Commands {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	c, err := NewCommands(log, store, sub)
	if err != nil {
		t.Fatalf("commands: %v", err)
	}
	return c
}

func TestReplaceSwapsImageAndRecordsUndo(t *testing.T) {
	store := NewMemoryStore()
	seed := seedSession(t, store)
	sub := &scriptedSub{queue: []*domain.Item{{ID: "p9", Text: "new", Images: []domain.ImageRef{"fresh.jpg"}}}}
	c := newCommands(t, store, sub)

	slot := domain.Slot{Chapter: "Family", ItemIndex: 0, ImageIndex: 1}
	res, err := c.Replace(context.Background(), seed.ID, slot, nil, pathKey)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if res.Previous != "b.jpg" || res.Chosen != "fresh.jpg" {
		t.Fatalf("wrong swap: %+v", res)
	}

	got, err := store.Get(context.Background(), seed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if img, _ := got.Classification.ImageAt(slot); img != "fresh.jpg" {
		t.Fatalf("stored state not updated: %v", img)
	}
	if got.Undo[slot.Key()] != "b.jpg" {
		t.Fatalf("undo entry missing: %v", got.Undo)
	}
	if !got.Dirty {
		t.Fatalf("replacement must mark the session dirty")
	}

	req := sub.requests[0]
	if !req.ExcludeKeys["path:b.jpg"] || !req.ExcludeKeys["path:a.jpg"] || !req.ExcludeKeys["path:c.jpg"] {
		t.Fatalf("exclusion set incomplete: %v", req.ExcludeKeys)
	}
}

func TestReplaceTwiceKeepsOriginalUndoEntry(t *testing.T) {
	store := NewMemoryStore()
	seed := seedSession(t, store)
	sub := &scriptedSub{queue: []*domain.Item{
		{ID: "p9", Text: "n1", Images: []domain.ImageRef{"first.jpg"}},
		{ID: "p10", Text: "n2", Images: []domain.ImageRef{"second.jpg"}},
	}}
	c := newCommands(t, store, sub)

	slot := domain.Slot{Chapter: "Family", ItemIndex: 0, ImageIndex: 0}
	if _, err := c.Replace(context.Background(), seed.ID, slot, nil, pathKey); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if _, err := c.Replace(context.Background(), seed.ID, slot, nil, pathKey); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	got, _ := store.Get(context.Background(), seed.ID)
	if got.Undo[slot.Key()] != "a.jpg" {
		t.Fatalf("undo must keep the true original, got %v", got.Undo[slot.Key()])
	}

	undone, err := c.Undo(context.Background(), seed.ID, slot, pathKey)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if img, _ := undone.Classification.ImageAt(slot); img != "a.jpg" {
		t.Fatalf("undo restored %v, want the original", img)
	}
	if _, still := undone.Undo[slot.Key()]; still {
		t.Fatalf("undo entry must be consumed")
	}
}

func TestUndoWithoutEntryIsNoOp(t *testing.T) {
	store := NewMemoryStore()
	seed := seedSession(t, store)
	c := newCommands(t, store, &scriptedSub{})

	slot := domain.Slot{Chapter: "Travel", ItemIndex: 0, ImageIndex: 0}
	if _, err := c.Undo(context.Background(), seed.ID, slot, pathKey); !errors.Is(err, pkgerrors.ErrNothingToUndo) {
		t.Fatalf("want ErrNothingToUndo, got %v", err)
	}

	got, _ := store.Get(context.Background(), seed.ID)
	if img, _ := got.Classification.ImageAt(slot); img != "c.jpg" {
		t.Fatalf("no-op undo mutated state: %v", img)
	}
	if got.Dirty {
		t.Fatalf("no-op undo must not dirty the session")
	}
}

func TestReplaceFailureLeavesStateUntouched(t *testing.T) {
	store := NewMemoryStore()
	seed := seedSession(t, store)
	sub := &scriptedSub{err: errors.New("oracle down")}
	c := newCommands(t, store, sub)

	slot := domain.Slot{Chapter: "Family", ItemIndex: 0, ImageIndex: 0}
	if _, err := c.Replace(context.Background(), seed.ID, slot, nil, pathKey); err == nil {
		t.Fatalf("expected oracle error to surface")
	}

	got, _ := store.Get(context.Background(), seed.ID)
	if img, _ := got.Classification.ImageAt(slot); img != "a.jpg" {
		t.Fatalf("failed replace mutated state: %v", img)
	}
	if len(got.Undo) != 0 || got.Dirty {
		t.Fatalf("failed replace left side effects: %+v", got)
	}
}

func TestReplaceExhaustedPool(t *testing.T) {
	store := NewMemoryStore()
	seed := seedSession(t, store)
	c := newCommands(t, store, &scriptedSub{})

	slot := domain.Slot{Chapter: "Family", ItemIndex: 0, ImageIndex: 0}
	if _, err := c.Replace(context.Background(), seed.ID, slot, nil, pathKey); !errors.Is(err, pkgerrors.ErrNoSubstitute) {
		t.Fatalf("want ErrNoSubstitute, got %v", err)
	}
}

type countingComposer struct {
	calls int
}

func (cc *countingComposer) Compose(_ context.Context, _ domain.Classification, _ string, _ render.Style) ([]byte, error) {
	cc.calls++
	return []byte("album-bytes"), nil
}

func TestUndoRestoresContentKeyAndCachedAlbum(t *testing.T) {
	store := NewMemoryStore()
	seed := seedSession(t, store)
	sub := &scriptedSub{queue: []*domain.Item{{ID: "p9", Text: "new", Images: []domain.ImageRef{"fresh.jpg"}}}}
	c := newCommands(t, store, sub)

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	composer := &countingComposer{}
	cache, err := render.NewCache(log, render.NewMemoryArtifactStore(), composer)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	style := render.DefaultStyles()["polaroid"]

	first, err := cache.Render(context.Background(), seed.Classification, "", "polaroid", style, pathKey)
	if err != nil {
		t.Fatalf("initial render: %v", err)
	}

	slot := domain.Slot{Chapter: "Family", ItemIndex: 0, ImageIndex: 0}
	if _, err := c.Replace(context.Background(), seed.ID, slot, nil, pathKey); err != nil {
		t.Fatalf("replace: %v", err)
	}

	swapped, err := store.Get(context.Background(), seed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if key := render.ContentKey(swapped.Classification, "polaroid", pathKey); key == first.Key {
		t.Fatalf("replacement must change the content key")
	}

	undone, err := c.Undo(context.Background(), seed.ID, slot, pathKey)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if key := render.ContentKey(undone.Classification, "polaroid", pathKey); key != first.Key {
		t.Fatalf("undo must restore the pre-replacement content key")
	}

	again, err := cache.Render(context.Background(), undone.Classification, "", "polaroid", style, pathKey)
	if err != nil {
		t.Fatalf("render after undo: %v", err)
	}
	if !again.Cached || composer.calls != 1 {
		t.Fatalf("restored state must reuse the cached album, cached=%v builds=%d", again.Cached, composer.calls)
	}
}

func TestReplaceBadSlot(t *testing.T) {
	store := NewMemoryStore()
	seed := seedSession(t, store)
	c := newCommands(t, store, &scriptedSub{})

	slot := domain.Slot{Chapter: "Nope", ItemIndex: 0, ImageIndex: 0}
	if _, err := c.Replace(context.Background(), seed.ID, slot, nil, pathKey); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
}
