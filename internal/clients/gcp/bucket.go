package gcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

// ObjectAttrs carries the metadata used for content fingerprinting.
// MD5 is preferred; ETag is the fallback when the store doesn't expose
// a content hash (e.g. composite objects).
type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	MD5         []byte
	ETag        string
}

// BucketService wraps the backup bucket holding raw item exports and
// their downloaded images.
type BucketService interface {
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, error)
	UploadFile(ctx context.Context, key string, file io.Reader) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error)
	GetPublicURL(key string) string
	// BlobPathFromURL maps one of our own public/CDN URLs back to its
	// storage path. Returns false for URLs we don't own.
	BlobPathFromURL(raw string) (string, bool)
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
	cdnDomain     string
	metaTimeout   time.Duration
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")

	bucketName := strings.TrimSpace(os.Getenv("BACKUP_GCS_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var BACKUP_GCS_BUCKET_NAME")
	}
	cdnDomain := strings.TrimSpace(os.Getenv("BACKUP_CDN_DOMAIN"))

	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	metaTimeoutSec := 15
	if v := strings.TrimSpace(os.Getenv("STORAGE_META_TIMEOUT_SECONDS")); v != "" {
		if parsed, pErr := time.ParseDuration(v + "s"); pErr == nil && parsed > 0 {
			metaTimeoutSec = int(parsed.Seconds())
		}
	}

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		bucketName:    bucketName,
		cdnDomain:     cdnDomain,
		metaTimeout:   time.Duration(metaTimeoutSec) * time.Second,
	}, nil
}

// Do NOT `defer cancel()` before returning the reader; the context must
// stay alive for the life of the reader. Cancel is attached to Close().
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (bs *bucketService) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := bs.storageClient.Bucket(bs.bucketName).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS reader for %q: %w", key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (bs *bucketService) UploadFile(ctx context.Context, key string, file io.Reader) error {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(bs.bucketName).Object(key).NewWriter(ctx2)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (bs *bucketService) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := bs.storageClient.Bucket(bs.bucketName).Objects(ctx2, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (bs *bucketService) GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error) {
	ctx2, cancel := context.WithTimeout(ctx, bs.metaTimeout)
	defer cancel()
	attrs, err := bs.storageClient.Bucket(bs.bucketName).Object(key).Attrs(ctx2)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch GCS object attrs for %q: %w", key, err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		MD5:         attrs.MD5,
		ETag:        attrs.Etag,
	}, nil
}

func (bs *bucketService) GetPublicURL(key string) string {
	if bs.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", bs.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.bucketName, key)
}

func (bs *bucketService) BlobPathFromURL(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	prefixes := []string{
		fmt.Sprintf("https://storage.googleapis.com/%s/", bs.bucketName),
		fmt.Sprintf("http://storage.googleapis.com/%s/", bs.bucketName),
	}
	if bs.cdnDomain != "" {
		prefixes = append(prefixes,
			"https://"+bs.cdnDomain+"/",
			"http://"+bs.cdnDomain+"/",
		)
	}
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			path := strings.TrimPrefix(s, p)
			if path != "" {
				return path, true
			}
		}
	}
	return "", false
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".zip"):
		return "application/zip"
	default:
		return ""
	}
}
