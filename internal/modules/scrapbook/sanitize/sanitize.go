package sanitize

import (
	"strings"
	"unicode"

	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/identity"
)

// junkTokens are values that exporters and the classification oracle
// emit in place of real text. Matched case-insensitively after trimming.
var junkTokens = map[string]bool{
	"none":            true,
	"null":            true,
	"undefined":       true,
	"na":              true,
	"n/a":             true,
	"download failed": true,
}

// CleanText trims s and maps junk placeholder values and digit-only
// strings to "". Idempotent: CleanText(CleanText(s)) == CleanText(s).
func CleanText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if junkTokens[strings.ToLower(s)] {
		return ""
	}
	digitsOnly := true
	for _, r := range s {
		if !unicode.IsDigit(r) {
			digitsOnly = false
			break
		}
	}
	if digitsOnly {
		return ""
	}
	return s
}

// IsDisplayableRef reports whether ref points at something a page could
// actually show. Placeholder tokens, bare numbers and app chrome assets
// are artifacts of failed downloads or upstream defaults, not content.
func IsDisplayableRef(ref domain.ImageRef) bool {
	s := strings.TrimSpace(string(ref))
	if s == "" || junkTokens[strings.ToLower(s)] {
		return false
	}
	if strings.HasPrefix(strings.ToLower(s), identity.InternalAssetPrefix) {
		return false
	}
	digitsOnly := true
	for _, r := range s {
		if !unicode.IsDigit(r) {
			digitsOnly = false
			break
		}
	}
	return !digitsOnly
}

// Item scrubs one item: text fields are cleaned, junk image refs are
// dropped, and images that duplicate an earlier image of the same item
// (by canonical key) are removed. The second return is false when
// nothing displayable remains.
func Item(raw domain.Item, keyFor func(domain.ImageRef) string) (domain.Item, bool) {
	out := domain.Item{
		ID:            strings.TrimSpace(raw.ID),
		Text:          CleanText(raw.Text),
		SecondaryText: CleanText(raw.SecondaryText),
		Timestamp:     strings.TrimSpace(raw.Timestamp),
	}

	seen := map[string]bool{}
	for _, ref := range raw.Images {
		if !IsDisplayableRef(ref) {
			continue
		}
		key := keyFor(ref)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out.Images = append(out.Images, domain.ImageRef(strings.TrimSpace(string(ref))))
	}

	if out.Empty() {
		return domain.Item{}, false
	}
	return out, true
}
