package classify

import (
	"errors"
	"testing"

	pkgerrors "github.com/liveon/scrapbook-backend/internal/pkg/errors"
)

func TestParseChapterTitlesStructured(t *testing.T) {
	titles, kind, err := ParseChapterTitles(`{"chapters":["Family First","Travel Adventures","Quiet Days"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != ParsedStructured {
		t.Fatalf("expected structured tier, got %v", kind)
	}
	if len(titles) != 3 || titles[0] != "Family First" || titles[2] != "Quiet Days" {
		t.Fatalf("wrong titles: %v", titles)
	}
}

func TestParseChapterTitlesStructuredObjects(t *testing.T) {
	titles, kind, err := ParseChapterTitles("```json\n{\"chapters\":[{\"title\":\"Home\"},{\"name\":\"Away\"}]}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != ParsedStructured || len(titles) != 2 || titles[1] != "Away" {
		t.Fatalf("fenced object chapters not parsed: %v %v", kind, titles)
	}
}

func TestParseChapterTitlesEmbeddedFragment(t *testing.T) {
	raw := `Sure! Here is the plan you asked for:
{"chapters":["Milestones","Celebrations"]} Hope that helps.`
	titles, kind, err := ParseChapterTitles(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != ParsedEmbeddedFragment {
		t.Fatalf("expected embedded tier, got %v", kind)
	}
	if len(titles) != 2 || titles[0] != "Milestones" {
		t.Fatalf("wrong titles: %v", titles)
	}
}

func TestParseChapterTitlesHeuristicLines(t *testing.T) {
	raw := `1. Chapter 1: "Family First"
- Travel Adventures
- Travel Adventures
* travel adventures
2) Everyday Moments
"Quiet Days"`
	titles, kind, err := ParseChapterTitles(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != ParsedHeuristicLines {
		t.Fatalf("expected heuristic tier, got %v", kind)
	}
	// Exact repeats collapse; case variants are distinct titles.
	want := []string{"Family First", "Travel Adventures", "travel adventures", "Everyday Moments", "Quiet Days"}
	if len(titles) != len(want) {
		t.Fatalf("wrong titles: %v", titles)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("title %d = %q, want %q", i, titles[i], want[i])
		}
	}
}

func TestParseChapterTitlesSkipsConversationalLines(t *testing.T) {
	raw := `Sure! Here are some chapter ideas for your scrapbook:
- Family First
- Travel Adventures
Hope these work well for you!`
	titles, kind, err := ParseChapterTitles(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != ParsedHeuristicLines {
		t.Fatalf("expected heuristic tier, got %v", kind)
	}
	want := []string{"Family First", "Travel Adventures"}
	if len(titles) != len(want) {
		t.Fatalf("preamble or sign-off leaked into titles: %v", titles)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("title %d = %q, want %q", i, titles[i], want[i])
		}
	}
}

func TestParseChapterTitlesCap(t *testing.T) {
	raw := ""
	for i := 0; i < 20; i++ {
		raw += "- Chapter title number " + string(rune('a'+i)) + "\n"
	}
	titles, _, err := ParseChapterTitles(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(titles) != 12 {
		t.Fatalf("expected cap of 12, got %d", len(titles))
	}
}

func TestParseChapterTitlesFailure(t *testing.T) {
	for _, raw := range []string{"", "   ", "ok\nno\n{}"} {
		titles, kind, err := ParseChapterTitles(raw)
		if !errors.Is(err, pkgerrors.ErrOracleContract) {
			t.Fatalf("ParseChapterTitles(%q): want contract error, got %v", raw, err)
		}
		if kind != ParseFailed || titles != nil {
			t.Fatalf("failure must return no titles: %v %v", kind, titles)
		}
	}
}
