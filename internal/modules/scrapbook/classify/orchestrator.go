package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/liveon/scrapbook-backend/internal/clients/openai"
	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/pkg/ctxutil"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

// Constraints bound what the assignment oracle may hand back. They are
// enforced locally as well; the oracle is only asked to respect them.
type Constraints struct {
	MaxPerChapter    int
	MinPerChapter    int
	MaxImagesPerItem int
}

// Suggestion is the outcome of the two-call chapter planning flow.
type Suggestion struct {
	Titles         []string
	ProfileSummary string
	Kind           ParseKind
}

// SubstituteRequest asks for a replacement item for one chapter. Every
// canonical key in ExcludeKeys is already on display (or was just
// swapped out) and must not come back.
type SubstituteRequest struct {
	Chapter     string
	Pool        []domain.Item
	ExcludeKeys map[string]bool
	KeyFor      func(domain.ImageRef) string
	Timestamp   string
}

// Orchestrator drives the classification oracle. All of its outputs are
// treated as untrusted: parsed defensively, bounds-checked, and capped.
type Orchestrator struct {
	log    *logger.Logger
	client openai.Client
}

func NewOrchestrator(log *logger.Logger, client openai.Client) (*Orchestrator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("openai client required")
	}
	return &Orchestrator{
		log:    log.With("service", "ClassifyOrchestrator"),
		client: client,
	}, nil
}

const (
	profileSystemPrompt = "You study a person's exported posts and summarize who they are: " +
		"recurring people, places, activities and life phases. Three sentences, warm but factual."

	themesSystemPrompt = "You name scrapbook chapters. Reply with a JSON object " +
		`{"chapters":["Title", ...]} and nothing else. 4 to 10 titles, each short and evocative.`

	assignSystemPrompt = "You assign posts to scrapbook chapters. Use only the chapter titles " +
		"given, reference posts by their index, and never invent indices."

	substituteSystemPrompt = "You pick the single post from a candidate list that best fits a " +
		"scrapbook chapter. Reference candidates by index only."
)

const digestItemCap = 200

// itemDigest renders items as an index-addressed plain text list the
// oracle can reason over without ever seeing raw URLs.
func itemDigest(items []domain.Item) string {
	var b strings.Builder
	for i, it := range items {
		if i == digestItemCap {
			fmt.Fprintf(&b, "(and %d more)\n", len(items)-digestItemCap)
			break
		}
		caption := it.Caption()
		if caption == "" {
			caption = "(no caption)"
		}
		fmt.Fprintf(&b, "[%d] %s", i, caption)
		if it.Timestamp != "" {
			fmt.Fprintf(&b, " (%s)", it.Timestamp)
		}
		fmt.Fprintf(&b, " images=%d\n", len(it.Images))
	}
	return b.String()
}

// SuggestChapters runs the planning flow: a profile summary first, then
// a themes call grounded on that summary. The themes reply goes through
// the tiered parser; a ParseFailed reply surfaces as ErrOracleContract.
func (o *Orchestrator) SuggestChapters(ctx context.Context, items []domain.Item) (Suggestion, error) {
	ctx = ctxutil.Default(ctx)

	digest := itemDigest(items)
	summary, err := o.client.GenerateText(ctx, profileSystemPrompt,
		"Here are the posts:\n"+digest)
	if err != nil {
		return Suggestion{}, fmt.Errorf("profile summary: %w", err)
	}
	summary = strings.TrimSpace(summary)

	raw, err := o.client.GenerateText(ctx, themesSystemPrompt,
		"Profile:\n"+summary+"\n\nPosts:\n"+digest+"\n\nName the chapters.")
	if err != nil {
		return Suggestion{}, fmt.Errorf("chapter themes: %w", err)
	}

	titles, kind, err := ParseChapterTitles(raw)
	if err != nil {
		return Suggestion{}, err
	}
	if kind != ParsedStructured {
		o.log.Warn("chapter titles recovered from degraded reply", "tier", kind.String())
	}
	return Suggestion{Titles: titles, ProfileSummary: summary, Kind: kind}, nil
}

var assignSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"assignments": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"chapter": map[string]any{"type": "string"},
					"items": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"index": map[string]any{"type": "integer"},
								"image_indices": map[string]any{
									"type":  "array",
									"items": map[string]any{"type": "integer"},
								},
							},
							"required":             []string{"index", "image_indices"},
							"additionalProperties": false,
						},
					},
				},
				"required":             []string{"chapter", "items"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"assignments"},
	"additionalProperties": false,
}

// AssignItems asks the oracle to map items onto the given chapters and
// rebuilds the reply into a RawMapping. Out-of-range indices, unknown
// chapter titles and overlong image lists are dropped silently; the
// result is still untrusted and must go through global allocation.
func (o *Orchestrator) AssignItems(ctx context.Context, titles []string, items []domain.Item, c Constraints) (domain.RawMapping, error) {
	ctx = ctxutil.Default(ctx)
	if len(titles) == 0 {
		return nil, fmt.Errorf("no chapter titles to assign into")
	}

	user := fmt.Sprintf("Chapters:\n%s\nPosts:\n%s\nAssign at most %d posts per chapter and at most %d images per post. Keep possibly fewer images than a post has.",
		"- "+strings.Join(titles, "\n- ")+"\n", itemDigest(items), c.MaxPerChapter, c.MaxImagesPerItem)
	if c.MinPerChapter > 0 {
		user += fmt.Sprintf(" Give every chapter at least %d posts when the material allows it.", c.MinPerChapter)
	}

	obj, err := o.client.GenerateJSON(ctx, assignSystemPrompt, user, "chapter_assignments", assignSchema)
	if err != nil {
		return nil, fmt.Errorf("assignment call: %w", err)
	}

	known := map[string]string{}
	for _, t := range titles {
		known[strings.ToLower(strings.TrimSpace(t))] = t
	}

	mapping := domain.RawMapping{}
	rawAssignments, _ := obj["assignments"].([]any)
	for _, ra := range rawAssignments {
		entry, ok := ra.(map[string]any)
		if !ok {
			continue
		}
		chapterRaw, _ := entry["chapter"].(string)
		chapter, ok := known[strings.ToLower(strings.TrimSpace(chapterRaw))]
		if !ok {
			o.log.Debug("oracle invented a chapter", "chapter", chapterRaw)
			continue
		}
		rawItems, _ := entry["items"].([]any)
		for _, ri := range rawItems {
			picked, ok := o.pickItem(ri, items, c.MaxImagesPerItem)
			if !ok {
				continue
			}
			mapping[chapter] = append(mapping[chapter], picked)
		}
	}

	if len(mapping) == 0 {
		return nil, fmt.Errorf("assignment reply contained nothing usable")
	}
	return mapping, nil
}

// pickItem resolves one {"index":n,"image_indices":[...]} entry against
// the real item list. The image list is a selection, not an order swap:
// kept images stay in their original relative order.
func (o *Orchestrator) pickItem(raw any, items []domain.Item, maxImages int) (domain.Item, bool) {
	entry, ok := raw.(map[string]any)
	if !ok {
		return domain.Item{}, false
	}
	idxF, ok := entry["index"].(float64)
	if !ok {
		return domain.Item{}, false
	}
	idx := int(idxF)
	if idx < 0 || idx >= len(items) {
		return domain.Item{}, false
	}
	src := items[idx]

	out := src
	out.Images = append([]domain.ImageRef(nil), src.Images...)

	if rawIdx, present := entry["image_indices"].([]any); present && len(rawIdx) > 0 {
		keep := map[int]bool{}
		for _, v := range rawIdx {
			f, ok := v.(float64)
			if !ok {
				continue
			}
			j := int(f)
			if j >= 0 && j < len(src.Images) {
				keep[j] = true
			}
		}
		if len(keep) > 0 {
			trimmed := []domain.ImageRef{}
			for j, img := range src.Images {
				if keep[j] {
					trimmed = append(trimmed, img)
				}
			}
			out.Images = trimmed
		}
	}

	if maxImages > 0 && len(out.Images) > maxImages {
		out.Images = out.Images[:maxImages]
	}
	return out, true
}

var substituteSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"index": map[string]any{"type": "integer"},
	},
	"required":             []string{"index"},
	"additionalProperties": false,
}

// Substitute returns a pool item carrying at least one image whose
// canonical key is not excluded, or nil when no candidate qualifies.
// The oracle only ranks locally pre-filtered candidates; it can never
// reintroduce an excluded image.
func (o *Orchestrator) Substitute(ctx context.Context, req SubstituteRequest) (*domain.Item, error) {
	ctx = ctxutil.Default(ctx)

	type candidate struct {
		item   domain.Item
		images []domain.ImageRef
	}
	candidates := []candidate{}
	for _, it := range req.Pool {
		fresh := []domain.ImageRef{}
		for _, img := range it.Images {
			if key := req.KeyFor(img); key != "" && !req.ExcludeKeys[key] {
				fresh = append(fresh, img)
			}
		}
		if len(fresh) > 0 {
			candidates = append(candidates, candidate{item: it, images: fresh})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var b strings.Builder
	for i, c := range candidates {
		caption := c.item.Caption()
		if caption == "" {
			caption = "(no caption)"
		}
		fmt.Fprintf(&b, "[%d] %s", i, caption)
		if c.item.Timestamp != "" {
			fmt.Fprintf(&b, " (%s)", c.item.Timestamp)
		}
		b.WriteString("\n")
	}
	user := fmt.Sprintf("Chapter: %s\n", req.Chapter)
	if req.Timestamp != "" {
		user += fmt.Sprintf("The outgoing photo was taken around %s; prefer a similar period.\n", req.Timestamp)
	}
	user += "Candidates:\n" + b.String() + "Pick the best candidate index."

	chosen := 0
	obj, err := o.client.GenerateJSON(ctx, substituteSystemPrompt, user, "substitute_choice", substituteSchema)
	if err != nil {
		return nil, fmt.Errorf("substitute call: %w", err)
	}
	if f, ok := obj["index"].(float64); ok && int(f) >= 0 && int(f) < len(candidates) {
		chosen = int(f)
	} else {
		o.log.Debug("substitute index out of range, using first candidate")
	}

	picked := candidates[chosen].item
	picked.Images = candidates[chosen].images
	return &picked, nil
}
