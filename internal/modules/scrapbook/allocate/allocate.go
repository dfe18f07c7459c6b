package allocate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/sanitize"
	pkgerrors "github.com/liveon/scrapbook-backend/internal/pkg/errors"
)

// KeyFunc maps an image reference to its canonical identity key.
type KeyFunc func(domain.ImageRef) string

// ItemIdentity returns the identity under which an item claims its
// place in the curated state. An explicit ID wins; otherwise identity
// is derived from content, so the same item offered to two chapters by
// the oracle still counts as one item.
func ItemIdentity(it domain.Item, keyFor KeyFunc) string {
	if id := strings.TrimSpace(it.ID); id != "" {
		return "id:" + id
	}
	keys := make([]string, 0, len(it.Images))
	for _, img := range it.Images {
		keys = append(keys, keyFor(img))
	}
	sort.Strings(keys)
	h := sha256.Sum256([]byte(strings.TrimSpace(it.Text) + "|" + strings.TrimSpace(it.Timestamp) + "|" + strings.Join(keys, "|")))
	return "sha:" + hex.EncodeToString(h[:])
}

// Build turns an untrusted oracle mapping into a curated classification.
// Claims are granted first come first served in chapter declaration
// order, then item order: an item whose identity was already claimed,
// or any of whose images was already claimed, is dropped from the later
// chapter entirely. Chapters left with nothing are dropped from the
// order. The same input always yields the same output, which the render
// cache depends on.
func Build(raw domain.RawMapping, order []string, keyFor KeyFunc) domain.Classification {
	out := domain.NewClassification()
	claimedItems := map[string]bool{}
	claimedImages := map[string]bool{}

	for _, title := range order {
		kept := []domain.Item{}
		for _, rawItem := range raw[title] {
			it, ok := sanitize.Item(rawItem, func(ref domain.ImageRef) string { return keyFor(ref) })
			if !ok {
				continue
			}

			identity := ItemIdentity(it, keyFor)
			if claimedItems[identity] {
				continue
			}
			conflict := false
			for _, img := range it.Images {
				if claimedImages[keyFor(img)] {
					conflict = true
					break
				}
			}
			if conflict {
				continue
			}

			claimedItems[identity] = true
			for _, img := range it.Images {
				if key := keyFor(img); key != "" {
					claimedImages[key] = true
				}
			}
			kept = append(kept, it)
		}
		if len(kept) > 0 {
			out.Order = append(out.Order, title)
			out.Chapters[title] = kept
		}
	}
	return out
}

// Check verifies the allocation invariants on an already-curated state.
// It runs after every mutation; a violation means a command handler has
// a bug, and rendering is refused until the state is rebuilt.
func Check(c domain.Classification, keyFor KeyFunc) error {
	seenItems := map[string]string{}
	seenImages := map[string]string{}

	for _, title := range c.Order {
		for i, it := range c.Chapters[title] {
			if it.Empty() {
				return fmt.Errorf("%w: empty item %d in chapter %q", pkgerrors.ErrInvariantViolation, i, title)
			}
			identity := ItemIdentity(it, keyFor)
			if prev, dup := seenItems[identity]; dup {
				return fmt.Errorf("%w: item appears in %q and %q", pkgerrors.ErrInvariantViolation, prev, title)
			}
			seenItems[identity] = title

			for _, img := range it.Images {
				key := keyFor(img)
				if key == "" {
					continue
				}
				if prev, dup := seenImages[key]; dup {
					return fmt.Errorf("%w: image %q appears in %q and %q", pkgerrors.ErrInvariantViolation, key, prev, title)
				}
				seenImages[key] = title
			}
		}
	}
	return nil
}
