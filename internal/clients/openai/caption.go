package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liveon/scrapbook-backend/internal/pkg/ctxutil"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

// Caption produces a short context caption for a single photo. Used to
// recompute an item's secondary text after a slot replacement.
type Caption interface {
	CaptionImage(ctx context.Context, imageURL string) (string, error)
}

type caption struct {
	log    *logger.Logger
	client Client
}

func NewCaption(log *logger.Logger, client Client) (Caption, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("openai client required")
	}
	return &caption{
		log:    log.With("service", "Caption"),
		client: client,
	}, nil
}

const captionSystemPrompt = "You write one-line scrapbook captions. " +
	"Given a photo, return a single warm, concrete sentence describing the moment. " +
	"No hashtags, no quotes, no emoji."

func (c *caption) CaptionImage(ctx context.Context, imageURL string) (string, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return "", fmt.Errorf("image url required")
	}

	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	text, err := c.client.GenerateTextWithImages(ctx, captionSystemPrompt,
		"Caption this photo for a personal scrapbook.",
		[]ImageInput{{ImageURL: imageURL, Detail: "low"}},
	)
	if err != nil {
		return "", err
	}

	out := strings.TrimSpace(text)
	out = strings.Trim(out, `"'`)
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = strings.TrimSpace(out[:i])
	}
	return out, nil
}
