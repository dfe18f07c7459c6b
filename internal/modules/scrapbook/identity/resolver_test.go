package identity

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/liveon/scrapbook-backend/internal/clients/gcp"
	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

type fakeBucket struct {
	md5ByPath map[string][]byte
	attrCalls map[string]int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{md5ByPath: map[string][]byte{}, attrCalls: map[string]int{}}
}

func (f *fakeBucket) DownloadFile(context.Context, string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("not implemented")
}
func (f *fakeBucket) UploadFile(context.Context, string, io.Reader) error { return nil }
func (f *fakeBucket) ListKeys(context.Context, string) ([]string, error)  { return nil, nil }
func (f *fakeBucket) GetObjectAttrs(_ context.Context, key string) (*gcp.ObjectAttrs, error) {
	f.attrCalls[key]++
	md5, ok := f.md5ByPath[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return &gcp.ObjectAttrs{MD5: md5}, nil
}
func (f *fakeBucket) GetPublicURL(key string) string {
	return "https://storage.googleapis.com/backup/" + key
}
func (f *fakeBucket) BlobPathFromURL(raw string) (string, bool) {
	const prefix = "https://storage.googleapis.com/backup/"
	s := raw
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if strings.HasPrefix(s, prefix) {
		return strings.TrimPrefix(s, prefix), true
	}
	return "", false
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestCanonicalPathCollapsesVariants(t *testing.T) {
	a := CanonicalPath("https://cdn.example.net/v/t1.0-9/p320x320/photo123_n.jpg?oh=abc&oe=def")
	b := CanonicalPath("https://other.example.net/v/t1.0-9/p960x960/photo123_o.jpg")
	if a != b {
		t.Fatalf("size-bucket variants should collapse: %q vs %q", a, b)
	}
	if strings.Contains(a, "p320x320") || strings.Contains(a, "?") {
		t.Fatalf("canonical path kept volatile segments: %q", a)
	}

	c := CanonicalPath("https://cdn.example.net/c0.0.720.720/a456/photo99_b.jpeg")
	if strings.Contains(c, "c0.0.720.720") || strings.Contains(c, "a456") || strings.Contains(c, "_b") {
		t.Fatalf("crop/asset segments not stripped: %q", c)
	}

	if got := CanonicalPath("folder//images///x.JPG"); strings.Contains(got, "//") || got != strings.ToLower(got) {
		t.Fatalf("slashes/case not normalized: %q", got)
	}
}

func TestCanonicalPathDistinctPhotosStayDistinct(t *testing.T) {
	a := CanonicalPath("https://cdn.example.net/p320x320/photo123_n.jpg")
	b := CanonicalPath("https://cdn.example.net/p320x320/photo124_n.jpg")
	if a == b {
		t.Fatalf("different photos collapsed to one key: %q", a)
	}
}

func TestResolvePrefersContentFingerprint(t *testing.T) {
	bucket := newFakeBucket()
	bucket.md5ByPath["backup1/images/p320x320/photo123_n.jpg"] = []byte{0xaa, 0xbb}
	bucket.md5ByPath["backup1/images/p960x960/photo123_o.jpg"] = []byte{0xaa, 0xbb}
	bucket.md5ByPath["backup1/images/other.jpg"] = []byte{0x01, 0x02}

	r := NewResolver(testLogger(t), bucket)
	ctx := context.Background()

	k1 := r.Resolve(ctx, "backup1/images/p320x320/photo123_n.jpg")
	k2 := r.Resolve(ctx, "https://storage.googleapis.com/backup/backup1/images/p960x960/photo123_o.jpg?sig=freshlysigned")
	if k1 != k2 {
		t.Fatalf("same content hash should yield one key: %q vs %q", k1, k2)
	}
	if !strings.HasPrefix(k1, "content:md5:") {
		t.Fatalf("expected fingerprint key, got %q", k1)
	}

	k3 := r.Resolve(ctx, "backup1/images/other.jpg")
	if k3 == k1 {
		t.Fatalf("distinct fingerprints must never collapse")
	}
}

func TestResolveMemoizesMetadataLookups(t *testing.T) {
	bucket := newFakeBucket()
	bucket.md5ByPath["backup1/images/a.jpg"] = []byte{0x11}

	r := NewResolver(testLogger(t), bucket)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.Resolve(ctx, "backup1/images/a.jpg")
		r.Resolve(ctx, "backup1/images/missing.jpg")
	}
	if got := bucket.attrCalls["backup1/images/a.jpg"]; got != 1 {
		t.Fatalf("expected one metadata round-trip, got %d", got)
	}
	if got := bucket.attrCalls["backup1/images/missing.jpg"]; got != 1 {
		t.Fatalf("failed lookups must be memoized too, got %d calls", got)
	}
}

func TestResolveFallsBackToPathKey(t *testing.T) {
	r := NewResolver(testLogger(t), newFakeBucket())
	ctx := context.Background()

	k := r.Resolve(ctx, "https://scontent.xx.fbcdn.net/v/t1.0-9/p320x320/photo123_n.jpg?oh=x")
	if !strings.HasPrefix(k, "path:") {
		t.Fatalf("external URL should use path fallback, got %q", k)
	}

	if got := r.Resolve(ctx, domain.ImageRef("app-assets/logo.png")); !strings.HasPrefix(got, "path:") {
		t.Fatalf("internal assets must not hit fingerprint lookups, got %q", got)
	}
}

func TestPrefetchKeysWarmsMemo(t *testing.T) {
	bucket := newFakeBucket()
	bucket.md5ByPath["backup1/images/a.jpg"] = []byte{0x11}
	bucket.md5ByPath["backup1/images/b.jpg"] = []byte{0x22}

	r := NewResolver(testLogger(t), bucket)
	ctx := context.Background()

	r.PrefetchKeys(ctx, []domain.ImageRef{
		"backup1/images/a.jpg",
		"backup1/images/b.jpg",
		"backup1/images/a.jpg", // duplicate: one round-trip only
		"https://elsewhere.example.net/x.jpg",
	})

	if bucket.attrCalls["backup1/images/a.jpg"] != 1 || bucket.attrCalls["backup1/images/b.jpg"] != 1 {
		t.Fatalf("prefetch should fetch each owned path once: %v", bucket.attrCalls)
	}

	r.Resolve(ctx, "backup1/images/a.jpg")
	if bucket.attrCalls["backup1/images/a.jpg"] != 1 {
		t.Fatalf("resolve after prefetch should not re-query storage")
	}
}
