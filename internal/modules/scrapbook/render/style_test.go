package render

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadStylesMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "styles.yaml")
	raw := `styles:
  - name: polaroid
    page_width: 800
    page_height: 1000
    background: "#000000"
    accent: "#ffffff"
    text_color: "#eeeeee"
    title_size: 40
    caption_size: 18
    grid_columns: 1
    margin: 40
    tile_gap: 10
  - name: minimal
    page_width: 600
    page_height: 800
    background: "#ffffff"
    accent: "#333333"
    text_color: "#111111"
    title_size: 30
    caption_size: 14
    grid_columns: 2
    margin: 30
    tile_gap: 8
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	styles, err := LoadStyles(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if styles["polaroid"].PageWidth != 800 {
		t.Fatalf("file entry must replace the preset: %+v", styles["polaroid"])
	}
	if _, ok := styles["classic"]; !ok {
		t.Fatalf("untouched presets must survive")
	}
	if styles["minimal"].GridColumns != 2 {
		t.Fatalf("new style not loaded: %+v", styles["minimal"])
	}
}

func TestLoadStylesEmptyPathReturnsDefaults(t *testing.T) {
	styles, err := LoadStyles("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(styles) != 2 {
		t.Fatalf("expected the two presets, got %d", len(styles))
	}
}

func TestPickFallsBack(t *testing.T) {
	styles := DefaultStyles()
	if Pick(styles, "nope").Name != "polaroid" {
		t.Fatalf("unknown style must fall back to polaroid")
	}
	if Pick(styles, "classic").Name != "classic" {
		t.Fatalf("known style must be returned")
	}
}
