package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liveon/scrapbook-backend/internal/clients/gcp"
	"github.com/liveon/scrapbook-backend/internal/clients/openai"
	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/allocate"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/classify"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/identity"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/render"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/session"
	"github.com/liveon/scrapbook-backend/internal/pkg/ctxutil"
	pkgerrors "github.com/liveon/scrapbook-backend/internal/pkg/errors"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

const (
	postsPerPage = 3
	targetPages  = 50

	maxImagesPerItem = 4
)

// maxPerChapter spreads the page budget across chapters.
func maxPerChapter(chapterCount int) int {
	if chapterCount < 1 {
		chapterCount = 1
	}
	n := postsPerPage * targetPages / chapterCount
	if n < 1 {
		n = 1
	}
	return n
}

// ScrapbookService is the application surface behind the HTTP handlers.
type ScrapbookService interface {
	Generate(ctx context.Context, folder string) (*domain.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	Replace(ctx context.Context, id uuid.UUID, slot domain.Slot) (*domain.Session, error)
	Undo(ctx context.Context, id uuid.UUID, slot domain.Slot) (*domain.Session, error)
	Render(ctx context.Context, id uuid.UUID, styleName string, upload bool) (*RenderOutput, error)
	Clear(ctx context.Context, id uuid.UUID) error
}

// RenderOutput is a finished album: the archive bytes plus an optional
// public URL when the caller asked for an upload.
type RenderOutput struct {
	Key    string
	Data   []byte
	Cached bool
	URL    string
}

type scrapbookService struct {
	log      *logger.Logger
	bucket   gcp.BucketService
	resolver *identity.Resolver
	oracle   *classify.Orchestrator
	caption  openai.Caption
	store    session.Store
	commands *session.Commands
	cache    *render.Cache
	styles   map[string]render.Style
}

type ScrapbookDeps struct {
	Bucket   gcp.BucketService
	Resolver *identity.Resolver
	Oracle   *classify.Orchestrator
	Caption  openai.Caption
	Store    session.Store
	Commands *session.Commands
	Cache    *render.Cache
	Styles   map[string]render.Style
}

func NewScrapbookService(log *logger.Logger, deps ScrapbookDeps) (ScrapbookService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deps.Bucket == nil || deps.Resolver == nil || deps.Oracle == nil ||
		deps.Store == nil || deps.Commands == nil || deps.Cache == nil {
		return nil, fmt.Errorf("missing scrapbook service dependency")
	}
	styles := deps.Styles
	if styles == nil {
		styles = render.DefaultStyles()
	}
	return &scrapbookService{
		log:      log.With("service", "ScrapbookService"),
		bucket:   deps.Bucket,
		resolver: deps.Resolver,
		oracle:   deps.Oracle,
		caption:  deps.Caption,
		store:    deps.Store,
		commands: deps.Commands,
		cache:    deps.Cache,
		styles:   styles,
	}, nil
}

// loadItems reads the exported item list for a backup folder. A
// captioned export (posts+cap.json) wins over the raw one when both
// exist.
func (s *scrapbookService) loadItems(ctx context.Context, folder string) ([]domain.Item, error) {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return nil, fmt.Errorf("folder required: %w", pkgerrors.ErrInvalidArgument)
	}

	keys, err := s.bucket.ListKeys(ctx, folder+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list folder %q: %w", folder, err)
	}

	chosen := ""
	for _, key := range keys {
		base := key
		if i := strings.LastIndex(key, "/"); i >= 0 {
			base = key[i+1:]
		}
		switch {
		case base == "posts+cap.json":
			chosen = key
		case strings.HasPrefix(base, "posts") && strings.HasSuffix(base, ".json") && chosen == "":
			chosen = key
		}
	}
	if chosen == "" {
		return nil, fmt.Errorf("no item export in folder %q: %w", folder, pkgerrors.ErrNotFound)
	}

	rc, err := s.bucket.DownloadFile(ctx, chosen)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", chosen, err)
	}

	var items []domain.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", chosen, err)
	}

	out := items[:0]
	for _, it := range items {
		if !it.Empty() {
			out = append(out, it)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("folder %q holds no usable items: %w", folder, pkgerrors.ErrNotFound)
	}
	return out, nil
}

// Generate runs the full assembly pipeline for a backup folder and
// stores the result as a new session.
func (s *scrapbookService) Generate(ctx context.Context, folder string) (*domain.Session, error) {
	ctx = ctxutil.Default(ctx)
	started := time.Now()

	items, err := s.loadItems(ctx, folder)
	if err != nil {
		return nil, err
	}

	refs := []domain.ImageRef{}
	for _, it := range items {
		refs = append(refs, it.Images...)
	}
	s.resolver.PrefetchKeys(ctx, refs)
	keyFor := s.resolver.KeyFunc(ctx)

	suggestion, err := s.oracle.SuggestChapters(ctx, items)
	if err != nil {
		return nil, err
	}

	mapping, err := s.oracle.AssignItems(ctx, suggestion.Titles, items, classify.Constraints{
		MaxPerChapter:    maxPerChapter(len(suggestion.Titles)),
		MaxImagesPerItem: maxImagesPerItem,
	})
	if err != nil {
		return nil, err
	}

	cls := allocate.Build(mapping, suggestion.Titles, keyFor)
	if cls.IsEmpty() {
		return nil, fmt.Errorf("allocation produced an empty scrapbook: %w", pkgerrors.ErrOracleContract)
	}
	if err := allocate.Check(cls, keyFor); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:             uuid.New(),
		Folder:         strings.Trim(strings.TrimSpace(folder), "/"),
		ProfileSummary: suggestion.ProfileSummary,
		Classification: cls,
		Undo:           domain.UndoStack{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	s.log.Info("scrapbook generated",
		"session", sess.ID,
		"folder", sess.Folder,
		"chapters", len(cls.Order),
		"parse_tier", suggestion.Kind.String(),
		"took", time.Since(started).String(),
	)
	return sess, nil
}

func (s *scrapbookService) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return s.store.Get(ctxutil.Default(ctx), id)
}

// Replace swaps one displayed image for an oracle-picked substitute
// drawn from the folder's full item pool. Caption refresh for the new
// image is best effort; a caption failure never fails the swap.
func (s *scrapbookService) Replace(ctx context.Context, id uuid.UUID, slot domain.Slot) (*domain.Session, error) {
	ctx = ctxutil.Default(ctx)

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pool, err := s.loadItems(ctx, sess.Folder)
	if err != nil {
		return nil, err
	}
	keyFor := s.resolver.KeyFunc(ctx)

	res, err := s.commands.Replace(ctx, id, slot, pool, keyFor)
	if err != nil {
		return nil, err
	}

	if s.caption != nil {
		if updated := s.refreshCaption(ctx, res, slot); updated != nil {
			return updated, nil
		}
	}
	return res.Session, nil
}

func (s *scrapbookService) refreshCaption(ctx context.Context, res *session.ReplaceResult, slot domain.Slot) *domain.Session {
	url := string(res.Chosen)
	if !strings.HasPrefix(url, "http") {
		url = s.bucket.GetPublicURL(url)
	}
	text, err := s.caption.CaptionImage(ctx, url)
	if err != nil || strings.TrimSpace(text) == "" {
		s.log.Warn("caption refresh failed", "slot", slot.Key(), "error", err)
		return nil
	}

	sess := res.Session
	sess.Classification.Chapters[slot.Chapter][slot.ItemIndex].SecondaryText = text
	sess.UpdatedAt = time.Now().UTC()
	if err := s.store.Put(ctx, sess); err != nil {
		s.log.Warn("caption persist failed", "slot", slot.Key(), "error", err)
		return nil
	}
	return sess
}

func (s *scrapbookService) Undo(ctx context.Context, id uuid.UUID, slot domain.Slot) (*domain.Session, error) {
	ctx = ctxutil.Default(ctx)
	return s.commands.Undo(ctx, id, slot, s.resolver.KeyFunc(ctx))
}

// Render produces the album archive for a session's current state,
// reusing the cached artifact when the content key matches.
func (s *scrapbookService) Render(ctx context.Context, id uuid.UUID, styleName string, upload bool) (*RenderOutput, error) {
	ctx = ctxutil.Default(ctx)

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	keyFor := s.resolver.KeyFunc(ctx)
	if err := allocate.Check(sess.Classification, keyFor); err != nil {
		return nil, err
	}

	style := render.Pick(s.styles, styleName)
	res, err := s.cache.Render(ctx, sess.Classification, sess.ProfileSummary, style.Name, style, keyFor)
	if err != nil {
		return nil, err
	}

	out := &RenderOutput{Key: res.Key, Data: res.Data, Cached: res.Cached}
	if upload {
		objectKey := fmt.Sprintf("%s/albums/%s.zip", sess.Folder, res.Key)
		if err := s.bucket.UploadFile(ctx, objectKey, bytes.NewReader(res.Data)); err != nil {
			return nil, fmt.Errorf("failed to upload album: %w", err)
		}
		out.URL = s.bucket.GetPublicURL(objectKey)
	}

	if sess.Dirty {
		sess.Dirty = false
		sess.UpdatedAt = time.Now().UTC()
		if err := s.store.Put(ctx, sess); err != nil {
			s.log.Warn("failed to clear dirty flag", "session", id, "error", err)
		}
	}
	return out, nil
}

func (s *scrapbookService) Clear(ctx context.Context, id uuid.UUID) error {
	return s.store.Delete(ctxutil.Default(ctx), id)
}
