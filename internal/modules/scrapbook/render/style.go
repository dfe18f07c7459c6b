package render

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Style controls the look of rendered album pages. Styles ship as
// built-in presets and can be overridden from a YAML file so designers
// can tune layout without a code change.
type Style struct {
	Name        string  `yaml:"name"`
	PageWidth   int     `yaml:"page_width"`
	PageHeight  int     `yaml:"page_height"`
	Background  string  `yaml:"background"`
	Accent      string  `yaml:"accent"`
	TextColor   string  `yaml:"text_color"`
	FontPath    string  `yaml:"font_path"`
	TitleSize   float64 `yaml:"title_size"`
	CaptionSize float64 `yaml:"caption_size"`
	GridColumns int     `yaml:"grid_columns"`
	Margin      float64 `yaml:"margin"`
	TileGap     float64 `yaml:"tile_gap"`
	TileBorder  float64 `yaml:"tile_border"`
}

// DefaultStyles returns the built-in presets keyed by name.
func DefaultStyles() map[string]Style {
	return map[string]Style{
		"polaroid": {
			Name:        "polaroid",
			PageWidth:   1240,
			PageHeight:  1754,
			Background:  "#f6f1e7",
			Accent:      "#c8a96a",
			TextColor:   "#3a3a3a",
			TitleSize:   56,
			CaptionSize: 22,
			GridColumns: 2,
			Margin:      80,
			TileGap:     36,
			TileBorder:  14,
		},
		"classic": {
			Name:        "classic",
			PageWidth:   1240,
			PageHeight:  1754,
			Background:  "#ffffff",
			Accent:      "#2c3e50",
			TextColor:   "#222222",
			TitleSize:   48,
			CaptionSize: 20,
			GridColumns: 3,
			Margin:      60,
			TileGap:     24,
			TileBorder:  0,
		},
	}
}

type styleFile struct {
	Styles []Style `yaml:"styles"`
}

// LoadStyles merges styles from a YAML file over the built-in presets.
// A file entry with a preset's name replaces that preset wholesale.
func LoadStyles(path string) (map[string]Style, error) {
	out := DefaultStyles()
	if path == "" {
		return out, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file %q: %w", path, err)
	}
	var f styleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse style file %q: %w", path, err)
	}
	for _, s := range f.Styles {
		if s.Name == "" {
			return nil, fmt.Errorf("style entry without a name in %q", path)
		}
		out[s.Name] = s
	}
	return out, nil
}

// Pick returns the named style, falling back to "polaroid".
func Pick(styles map[string]Style, name string) Style {
	if s, ok := styles[name]; ok {
		return s
	}
	return styles["polaroid"]
}
