package identity

import (
	"context"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/liveon/scrapbook-backend/internal/clients/gcp"
	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

// InternalAssetPrefix marks storage paths that hold app chrome rather
// than user content. They never participate in identity resolution.
const InternalAssetPrefix = "app-assets/"

// Resolver assigns every image reference a canonical key. A content
// fingerprint from storage metadata wins whenever available; otherwise
// the key falls back to a normalized path. Hosting providers serve one
// photo under many size/crop URLs, so byte-equality of raw strings is
// never the identity.
type Resolver struct {
	log    *logger.Logger
	bucket gcp.BucketService

	mu sync.Mutex
	// storage path -> fingerprint key; "" records a failed lookup so a
	// path costs at most one metadata round-trip per session.
	memo map[string]string
}

func NewResolver(log *logger.Logger, bucket gcp.BucketService) *Resolver {
	return &Resolver{
		log:    log.With("service", "IdentityResolver"),
		bucket: bucket,
		memo:   map[string]string{},
	}
}

// Resolve returns the canonical key for ref: "content:..." when a
// fingerprint is available, else "path:<normalized>".
func (r *Resolver) Resolve(ctx context.Context, ref domain.ImageRef) string {
	s := strings.TrimSpace(string(ref))
	if s == "" {
		return ""
	}
	if blobPath, ok := r.ownedPath(s); ok {
		if fp := r.fingerprint(ctx, blobPath); fp != "" {
			return fp
		}
	}
	return "path:" + CanonicalPath(s)
}

// KeyFunc adapts the resolver for components that only need the mapping.
func (r *Resolver) KeyFunc(ctx context.Context) func(domain.ImageRef) string {
	return func(ref domain.ImageRef) string { return r.Resolve(ctx, ref) }
}

// PrefetchKeys warms the fingerprint memo with bounded parallel metadata
// reads. Only the memo map is written, behind the mutex; callers compute
// canonical keys afterwards on their own control thread.
func (r *Resolver) PrefetchKeys(ctx context.Context, refs []domain.ImageRef) {
	if r.bucket == nil {
		return
	}
	pending := []string{}
	seen := map[string]bool{}
	for _, ref := range refs {
		blobPath, ok := r.ownedPath(strings.TrimSpace(string(ref)))
		if !ok || seen[blobPath] {
			continue
		}
		seen[blobPath] = true
		r.mu.Lock()
		_, cached := r.memo[blobPath]
		r.mu.Unlock()
		if !cached {
			pending = append(pending, blobPath)
		}
	}
	if len(pending) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, blobPath := range pending {
		blobPath := blobPath
		g.Go(func() error {
			r.fingerprint(gctx, blobPath)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Resolver) fingerprint(ctx context.Context, blobPath string) string {
	r.mu.Lock()
	if fp, ok := r.memo[blobPath]; ok {
		r.mu.Unlock()
		return fp
	}
	r.mu.Unlock()

	fp := ""
	if r.bucket != nil {
		attrs, err := r.bucket.GetObjectAttrs(ctx, blobPath)
		switch {
		case err != nil:
			// No fingerprint available; path canonicalization takes over.
			r.log.Debug("fingerprint lookup failed", "path", blobPath, "error", err)
		case len(attrs.MD5) > 0:
			fp = "content:md5:" + hex.EncodeToString(attrs.MD5)
		case strings.TrimSpace(attrs.ETag) != "":
			fp = "content:etag:" + strings.Trim(strings.TrimSpace(attrs.ETag), `"`)
		}
	}

	r.mu.Lock()
	r.memo[blobPath] = fp
	r.mu.Unlock()
	return fp
}

// ownedPath maps ref to a path inside our own bucket: either one of our
// public/CDN URLs or a bare "folder/.../x.jpg" storage path.
func (r *Resolver) ownedPath(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(s), InternalAssetPrefix) {
		return "", false
	}
	if !strings.HasPrefix(s, "http") {
		if strings.Contains(s, "/") {
			return s, true
		}
		return "", false
	}
	if r.bucket == nil {
		return "", false
	}
	blobPath, ok := r.bucket.BlobPathFromURL(s)
	if !ok || strings.HasPrefix(strings.ToLower(blobPath), InternalAssetPrefix) {
		return "", false
	}
	return blobPath, true
}

var (
	reSizeBucket  = regexp.MustCompile(`/(?:p|s)\d+x\d+/`)
	reCropSegment = regexp.MustCompile(`/c\d+\.\d+\.\d+\.\d+/`)
	reAssetSeg    = regexp.MustCompile(`/(?:a|v)\d+/`)
	reVariantExt  = regexp.MustCompile(`(?i)_[a-z]\.(jpe?g|png|webp)$`)
	reSlashes     = regexp.MustCompile(`/{2,}`)
)

// CanonicalPath normalizes an image URL or storage path down to the
// segments that identify the underlying photo: size buckets
// (/p640x640/), crop windows (/c0.0.720.720/) and asset/version
// segments (/a123/, /v12/) are stripped, trailing filename variants
// (_n.jpg, _o.jpg, _b.jpg) collapse to the plain extension, and
// query/fragment/host are dropped.
func CanonicalPath(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	path := s
	if u, err := url.Parse(s); err == nil && u.Path != "" {
		path = u.Path
	} else if i := strings.IndexAny(s, "?#"); i >= 0 {
		path = s[:i]
	}

	path = reSizeBucket.ReplaceAllString(path, "/")
	path = reCropSegment.ReplaceAllString(path, "/")
	path = reAssetSeg.ReplaceAllString(path, "/")
	path = reVariantExt.ReplaceAllString(path, ".$1")
	path = reSlashes.ReplaceAllString(path, "/")

	return strings.ToLower(path)
}
