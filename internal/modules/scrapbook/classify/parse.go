package classify

import (
	"encoding/json"
	"regexp"
	"strings"

	pkgerrors "github.com/liveon/scrapbook-backend/internal/pkg/errors"
)

// ParseKind records which tier recovered chapter titles from the
// oracle's reply. Callers log it so degraded output is visible.
type ParseKind int

const (
	ParseFailed ParseKind = iota
	ParsedStructured
	ParsedEmbeddedFragment
	ParsedHeuristicLines
)

func (k ParseKind) String() string {
	switch k {
	case ParsedStructured:
		return "structured"
	case ParsedEmbeddedFragment:
		return "embedded_fragment"
	case ParsedHeuristicLines:
		return "heuristic_lines"
	default:
		return "failed"
	}
}

const (
	maxChapters   = 12
	minTitleLen   = 3
	maxTitleRunes = 80
)

// ParseChapterTitles recovers an ordered title list from untrusted
// oracle text. Tiers, in order: the whole reply as a JSON object with a
// "chapters" array; the first {...} fragment embedded in prose; plain
// line extraction. Every tier drops exact duplicate titles and caps the
// list. The reply is never trusted to be well formed.
func ParseChapterTitles(raw string) ([]string, ParseKind, error) {
	body := stripCodeFences(raw)
	if strings.TrimSpace(body) == "" {
		return nil, ParseFailed, pkgerrors.ErrOracleContract
	}

	if titles := titlesFromJSON(body); len(titles) > 0 {
		return titles, ParsedStructured, nil
	}

	if frag := firstObjectFragment(body); frag != "" {
		if titles := titlesFromJSON(frag); len(titles) > 0 {
			return titles, ParsedEmbeddedFragment, nil
		}
	}

	if titles := titlesFromLines(body); len(titles) > 0 {
		return titles, ParsedHeuristicLines, nil
	}

	return nil, ParseFailed, pkgerrors.ErrOracleContract
}

func stripCodeFences(s string) string {
	out := strings.TrimSpace(s)
	if !strings.HasPrefix(out, "```") {
		return out
	}
	out = strings.TrimPrefix(out, "```")
	if i := strings.Index(out, "\n"); i >= 0 {
		// drop a language tag like ```json
		first := strings.TrimSpace(out[:i])
		if first != "" && !strings.ContainsAny(first, "{}[]") {
			out = out[i+1:]
		}
	}
	out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	return strings.TrimSpace(out)
}

func titlesFromJSON(s string) []string {
	var entries []any
	var obj struct {
		Chapters []any `json:"chapters"`
	}
	if err := json.Unmarshal([]byte(s), &obj); err == nil && len(obj.Chapters) > 0 {
		entries = obj.Chapters
	} else if err := json.Unmarshal([]byte(s), &entries); err != nil {
		return nil
	}
	out := []string{}
	seen := map[string]bool{}
	for _, entry := range entries {
		title := ""
		switch v := entry.(type) {
		case string:
			title = v
		case map[string]any:
			if t, ok := v["title"].(string); ok {
				title = t
			} else if t, ok := v["name"].(string); ok {
				title = t
			}
		}
		if t, ok := acceptTitle(title, seen); ok {
			out = append(out, t)
			if len(out) == maxChapters {
				break
			}
		}
	}
	return out
}

// firstObjectFragment returns the first balanced {...} run in s, or "".
func firstObjectFragment(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

var (
	reBulletPrefix  = regexp.MustCompile(`^\s*(?:[-*•–]|\d+[.)])\s+`)
	reChapterPrefix = regexp.MustCompile(`(?i)^chapter\s*\d+\s*[:.\-]?\s*`)
	reQuotedLine    = regexp.MustCompile(`^["'“](.+)["'”]$`)
)

// titlesFromLines is the last-resort extractor for replies that ignored
// the output contract entirely. Only lines shaped like a title qualify:
// a "Chapter N:" prefix, a bullet/number prefix, or a fully quoted
// line. Everything else is conversational filler, which is exactly what
// prose replies are padded with.
func titlesFromLines(s string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		candidate := ""
		switch {
		case reChapterPrefix.MatchString(line):
			candidate = reChapterPrefix.ReplaceAllString(line, "")
		case reBulletPrefix.MatchString(line):
			candidate = reBulletPrefix.ReplaceAllString(line, "")
			candidate = reChapterPrefix.ReplaceAllString(candidate, "")
		case reQuotedLine.MatchString(line):
			candidate = reQuotedLine.FindStringSubmatch(line)[1]
		default:
			continue
		}

		if strings.ContainsAny(candidate, "{}[]") {
			continue
		}
		if t, ok := acceptTitle(candidate, seen); ok {
			out = append(out, t)
			if len(out) == maxChapters {
				break
			}
		}
	}
	return out
}

var junkTitles = map[string]bool{
	"none": true, "null": true, "undefined": true, "n/a": true,
}

func acceptTitle(title string, seen map[string]bool) (string, bool) {
	title = strings.Trim(strings.TrimSpace(title), `"'“”`)
	if len([]rune(title)) < minTitleLen || len([]rune(title)) > maxTitleRunes {
		return "", false
	}
	// Dedupe is exact-match: titles differing in case stay distinct.
	if junkTitles[strings.ToLower(title)] || seen[title] {
		return "", false
	}
	seen[title] = true
	return title, true
}
