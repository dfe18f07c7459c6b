package render

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/allocate"
)

type contentKeyChapter struct {
	Title string   `json:"title"`
	Keys  []string `json:"keys"`
}

type contentKeyPayload struct {
	Style    string              `json:"style"`
	Chapters []contentKeyChapter `json:"chapters"`
}

// ContentKey derives the cache key for a rendered album. It hashes
// canonical image keys, never raw references, so re-signed URLs for the
// same photos still hit the cache. Chapter order and within-chapter
// image order are significant; a swap produces a different key.
func ContentKey(c domain.Classification, styleName string, keyFor allocate.KeyFunc) string {
	payload := contentKeyPayload{Style: styleName}
	for _, title := range c.Order {
		ch := contentKeyChapter{Title: title, Keys: []string{}}
		for _, it := range c.Chapters[title] {
			for _, img := range it.Images {
				ch.Keys = append(ch.Keys, keyFor(img))
			}
		}
		payload.Chapters = append(payload.Chapters, ch)
	}

	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
