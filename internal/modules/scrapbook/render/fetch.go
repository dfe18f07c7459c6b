package render

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/liveon/scrapbook-backend/internal/clients/gcp"
	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

// ImageFetcher resolves an image reference to decoded pixels.
type ImageFetcher interface {
	Fetch(ctx context.Context, ref domain.ImageRef) (image.Image, error)
}

// fetcher reads bucket paths through the storage client and anything
// else over plain HTTP.
type fetcher struct {
	log        *logger.Logger
	bucket     gcp.BucketService
	httpClient *http.Client
}

func NewFetcher(log *logger.Logger, bucket gcp.BucketService) ImageFetcher {
	return &fetcher{
		log:        log.With("service", "ImageFetcher"),
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

const maxImageBytes = 32 << 20

func (f *fetcher) Fetch(ctx context.Context, ref domain.ImageRef) (image.Image, error) {
	s := strings.TrimSpace(string(ref))
	if s == "" {
		return nil, fmt.Errorf("empty image ref")
	}

	var rc io.ReadCloser
	switch {
	case !strings.HasPrefix(s, "http"):
		if f.bucket == nil {
			return nil, fmt.Errorf("no bucket configured for storage path %q", s)
		}
		var err error
		rc, err = f.bucket.DownloadFile(ctx, s)
		if err != nil {
			return nil, err
		}
	default:
		if f.bucket != nil {
			if blobPath, ok := f.bucket.BlobPathFromURL(s); ok {
				r, err := f.bucket.DownloadFile(ctx, blobPath)
				if err == nil {
					rc = r
					break
				}
				f.log.Debug("bucket read failed, falling back to HTTP", "path", blobPath, "error", err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("image fetch http %d for %q", resp.StatusCode, s)
		}
		rc = resp.Body
	}
	defer rc.Close()

	img, _, err := image.Decode(io.LimitReader(rc, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %q: %w", s, err)
	}
	return img, nil
}
