package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImageRef is a reference to an image in either remote-URL form or
// storage-path form. Identity comparisons never use the raw string;
// they go through the identity resolver's canonical key.
type ImageRef string

func (r ImageRef) String() string { return string(r) }

// Item is one unit of user content. An item with no text, no secondary
// text and no images is never representable in curated output.
type Item struct {
	ID            string     `json:"id,omitempty"`
	Text          string     `json:"message,omitempty"`
	SecondaryText string     `json:"context_caption,omitempty"`
	Images        []ImageRef `json:"images,omitempty"`
	Timestamp     string     `json:"created_time,omitempty"`
}

// UnmarshalJSON accepts both the plural "images" list and the legacy
// singular "image" field some exports carry.
func (it *Item) UnmarshalJSON(data []byte) error {
	type itemAlias struct {
		ID            string     `json:"id"`
		Text          string     `json:"message"`
		SecondaryText string     `json:"context_caption"`
		Images        []ImageRef `json:"images"`
		Image         ImageRef   `json:"image"`
		Timestamp     string     `json:"created_time"`
	}
	var a itemAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	it.ID = a.ID
	it.Text = a.Text
	it.SecondaryText = a.SecondaryText
	it.Images = a.Images
	it.Timestamp = a.Timestamp
	if len(it.Images) == 0 && strings.TrimSpace(string(a.Image)) != "" {
		it.Images = []ImageRef{a.Image}
	}
	return nil
}

func (it Item) Empty() bool {
	return strings.TrimSpace(it.Text) == "" &&
		strings.TrimSpace(it.SecondaryText) == "" &&
		len(it.Images) == 0
}

// Caption composes the display caption from the item's text fields.
func (it Item) Caption() string {
	msg := strings.TrimSpace(it.Text)
	ctxCap := strings.TrimSpace(it.SecondaryText)
	switch {
	case msg != "" && ctxCap != "":
		return msg + " — " + ctxCap
	case msg != "":
		return msg
	case ctxCap != "":
		return ctxCap
	default:
		return ""
	}
}

// RawMapping is an untrusted chapter→items assignment as produced by the
// classification oracle. It may assign one item to several chapters and
// repeat images; it becomes a Classification only after sanitization and
// global allocation.
type RawMapping map[string][]Item

// Classification is the curated chapter→items mapping, the single source
// of truth the UI and the renderer work from.
//
// Invariants after every mutation:
//  1. no two chapters contain the same item identity
//  2. no two images anywhere share a canonical key
//  3. every item has at least one non-empty field
type Classification struct {
	Order    []string          `json:"order"`
	Chapters map[string][]Item `json:"chapters"`
}

func NewClassification() Classification {
	return Classification{Order: []string{}, Chapters: map[string][]Item{}}
}

func (c Classification) IsEmpty() bool {
	for _, title := range c.Order {
		if len(c.Chapters[title]) > 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so command handlers can mutate without
// touching the stored state until the mutation is known to be valid.
func (c Classification) Clone() Classification {
	out := Classification{
		Order:    append([]string(nil), c.Order...),
		Chapters: make(map[string][]Item, len(c.Chapters)),
	}
	for title, items := range c.Chapters {
		copied := make([]Item, len(items))
		for i, it := range items {
			copied[i] = it
			copied[i].Images = append([]ImageRef(nil), it.Images...)
		}
		out.Chapters[title] = copied
	}
	return out
}

// AllImages returns every image reference currently present, in chapter
// declaration order then item order.
func (c Classification) AllImages() []ImageRef {
	out := []ImageRef{}
	for _, title := range c.Order {
		for _, it := range c.Chapters[title] {
			out = append(out, it.Images...)
		}
	}
	return out
}

func (c Classification) ImageAt(slot Slot) (ImageRef, error) {
	items, ok := c.Chapters[slot.Chapter]
	if !ok {
		return "", fmt.Errorf("unknown chapter %q", slot.Chapter)
	}
	if slot.ItemIndex < 0 || slot.ItemIndex >= len(items) {
		return "", fmt.Errorf("item index %d out of range for chapter %q", slot.ItemIndex, slot.Chapter)
	}
	imgs := items[slot.ItemIndex].Images
	if slot.ImageIndex < 0 || slot.ImageIndex >= len(imgs) {
		return "", fmt.Errorf("image index %d out of range for chapter %q item %d", slot.ImageIndex, slot.Chapter, slot.ItemIndex)
	}
	return imgs[slot.ImageIndex], nil
}

// Slot addresses one displayed image inside the classification.
type Slot struct {
	Chapter    string `json:"chapter"`
	ItemIndex  int    `json:"item_index"`
	ImageIndex int    `json:"image_index"`
}

func (s Slot) Key() string {
	return fmt.Sprintf("%s|%d|%d", s.Chapter, s.ItemIndex, s.ImageIndex)
}

// UndoStack maps a slot key to the original image displayed there before
// the first replacement. Entries are consumed on undo.
type UndoStack map[string]ImageRef

// Session is the per-user curated state. Persistence is session-scoped,
// not durable across logins.
type Session struct {
	ID             uuid.UUID      `json:"id"`
	Folder         string         `json:"folder"`
	ProfileSummary string         `json:"profile_summary,omitempty"`
	Classification Classification `json:"classification"`
	Undo           UndoStack      `json:"undo"`
	Dirty          bool           `json:"dirty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
