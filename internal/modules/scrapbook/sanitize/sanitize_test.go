package sanitize

import (
	"testing"

	"github.com/liveon/scrapbook-backend/internal/domain"
)

func TestCleanText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  A day at the lake  ", "A day at the lake"},
		{"None", ""},
		{"null", ""},
		{"UNDEFINED", ""},
		{"n/a", ""},
		{"NA", ""},
		{"Download Failed", ""},
		{"12345", ""},
		{"0", ""},
		{"", ""},
		{"   ", ""},
		{"route 66", "route 66"},
	}
	for _, tc := range cases {
		if got := CleanText(tc.in); got != tc.want {
			t.Fatalf("CleanText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCleanTextIdempotent(t *testing.T) {
	for _, s := range []string{"  hello  ", "None", "42", "a real caption"} {
		once := CleanText(s)
		if twice := CleanText(once); twice != once {
			t.Fatalf("CleanText not idempotent on %q: %q then %q", s, once, twice)
		}
	}
}

func TestIsDisplayableRef(t *testing.T) {
	if IsDisplayableRef("0") || IsDisplayableRef("none") || IsDisplayableRef("  ") {
		t.Fatalf("placeholder refs must not be displayable")
	}
	if IsDisplayableRef("app-assets/logo.png") {
		t.Fatalf("app chrome assets must not be displayable content")
	}
	if !IsDisplayableRef("backup1/images/a.jpg") {
		t.Fatalf("real storage path must be displayable")
	}
}

func TestItemDropsJunkAndWithinItemDuplicates(t *testing.T) {
	keyFor := func(ref domain.ImageRef) string {
		switch ref {
		case "p320/a.jpg", "p960/a.jpg":
			return "content:md5:aa"
		default:
			return "path:" + string(ref)
		}
	}

	got, ok := Item(domain.Item{
		Text:          "None",
		SecondaryText: "  beach trip ",
		Images:        []domain.ImageRef{"p320/a.jpg", "p960/a.jpg", "0", "b.jpg"},
	}, keyFor)
	if !ok {
		t.Fatalf("item with displayable content dropped")
	}
	if got.Text != "" || got.SecondaryText != "beach trip" {
		t.Fatalf("text fields not cleaned: %+v", got)
	}
	if len(got.Images) != 2 || got.Images[0] != "p320/a.jpg" || got.Images[1] != "b.jpg" {
		t.Fatalf("within-item dedupe wrong: %v", got.Images)
	}
}

func TestItemEmptyAfterCleaning(t *testing.T) {
	keyFor := func(ref domain.ImageRef) string { return "path:" + string(ref) }

	if _, ok := Item(domain.Item{
		Text:          "0",
		SecondaryText: "0",
		Images:        []domain.ImageRef{"0"},
	}, keyFor); ok {
		t.Fatalf("item that is junk in every field must be dropped")
	}
}
