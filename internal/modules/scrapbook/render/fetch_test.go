package render

import (
	"context"
	"testing"

	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

func TestFetchStoragePathWithoutBucket(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	f := NewFetcher(log, nil)

	if _, err := f.Fetch(context.Background(), "backup1/a.jpg"); err == nil {
		t.Fatalf("storage path without a bucket must return an error")
	}
}
