package render

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/liveon/scrapbook-backend/internal/domain"
	"github.com/liveon/scrapbook-backend/internal/pkg/ctxutil"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
)

// Composer renders a curated classification into an album archive: one
// PNG per page plus a JSON manifest, zipped.
type Composer interface {
	Compose(ctx context.Context, c domain.Classification, summary string, style Style) ([]byte, error)
}

type composer struct {
	log   *logger.Logger
	fetch ImageFetcher
}

func NewComposer(log *logger.Logger, fetch ImageFetcher) Composer {
	return &composer{
		log:   log.With("service", "AlbumComposer"),
		fetch: fetch,
	}
}

const tilesPerPageRows = 3

type manifestEntry struct {
	Page    int    `json:"page"`
	Chapter string `json:"chapter,omitempty"`
}

func (cp *composer) Compose(ctx context.Context, c domain.Classification, summary string, style Style) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	if c.IsEmpty() {
		return nil, fmt.Errorf("nothing to render")
	}

	pages := [][]byte{}
	manifest := []manifestEntry{}

	cover, err := cp.coverPage(c, summary, style)
	if err != nil {
		return nil, err
	}
	pages = append(pages, cover)
	manifest = append(manifest, manifestEntry{Page: 1})

	for _, title := range c.Order {
		chapterPages, err := cp.chapterPages(ctx, title, c.Chapters[title], style, len(pages)+1)
		if err != nil {
			return nil, err
		}
		for _, p := range chapterPages {
			pages = append(pages, p)
			manifest = append(manifest, manifestEntry{Page: len(pages), Chapter: title})
		}
	}

	return zipAlbum(pages, manifest)
}

func (cp *composer) coverPage(c domain.Classification, summary string, style Style) ([]byte, error) {
	dc := gg.NewContext(style.PageWidth, style.PageHeight)
	dc.SetHexColor(style.Background)
	dc.Clear()

	w := float64(style.PageWidth)
	h := float64(style.PageHeight)

	dc.SetHexColor(style.Accent)
	dc.DrawRectangle(0, h*0.18, w, 8)
	dc.Fill()

	dc.SetFontFace(loadFace(style.FontPath, style.TitleSize))
	dc.SetHexColor(style.TextColor)
	dc.DrawStringAnchored("Scrapbook", w/2, h*0.13, 0.5, 0.5)

	dc.SetFontFace(loadFace(style.FontPath, style.CaptionSize))
	y := h * 0.25
	if s := strings.TrimSpace(summary); s != "" {
		for _, line := range wrapText(dc, s, w-2*style.Margin) {
			dc.DrawStringAnchored(line, w/2, y, 0.5, 0.5)
			y += style.CaptionSize * 1.6
		}
		y += style.CaptionSize * 2
	}

	dc.SetFontFace(loadFace(style.FontPath, style.CaptionSize*1.3))
	for i, title := range c.Order {
		dc.DrawStringAnchored(fmt.Sprintf("%d. %s", i+1, title), w/2, y, 0.5, 0.5)
		y += style.CaptionSize * 2.2
	}

	return encodePage(dc)
}

func (cp *composer) chapterPages(ctx context.Context, title string, items []domain.Item, style Style, firstPage int) ([][]byte, error) {
	type tile struct {
		ref     domain.ImageRef
		caption string
	}
	tiles := []tile{}
	for _, it := range items {
		caption := it.Caption()
		if len(it.Images) == 0 {
			tiles = append(tiles, tile{caption: caption})
			continue
		}
		for _, img := range it.Images {
			tiles = append(tiles, tile{ref: img, caption: caption})
		}
	}

	cols := style.GridColumns
	if cols < 1 {
		cols = 2
	}
	perPage := cols * tilesPerPageRows

	pages := [][]byte{}
	for start := 0; start < len(tiles); start += perPage {
		end := start + perPage
		if end > len(tiles) {
			end = len(tiles)
		}

		dc := gg.NewContext(style.PageWidth, style.PageHeight)
		dc.SetHexColor(style.Background)
		dc.Clear()

		w := float64(style.PageWidth)
		headerH := style.TitleSize * 2.2
		dc.SetFontFace(loadFace(style.FontPath, style.TitleSize*0.8))
		dc.SetHexColor(style.TextColor)
		dc.DrawStringAnchored(title, w/2, headerH/2+style.Margin/2, 0.5, 0.5)

		gridTop := headerH + style.Margin
		gridW := w - 2*style.Margin
		gridH := float64(style.PageHeight) - gridTop - style.Margin
		cellW := (gridW - float64(cols-1)*style.TileGap) / float64(cols)
		cellH := (gridH - float64(tilesPerPageRows-1)*style.TileGap) / float64(tilesPerPageRows)
		captionH := style.CaptionSize * 2.4
		imgH := cellH - captionH

		dc.SetFontFace(loadFace(style.FontPath, style.CaptionSize))
		for i, tl := range tiles[start:end] {
			col := i % cols
			row := i / cols
			x := style.Margin + float64(col)*(cellW+style.TileGap)
			y := gridTop + float64(row)*(cellH+style.TileGap)

			cp.drawTile(ctx, dc, tl.ref, x, y, cellW, imgH, style)

			if tl.caption != "" {
				lines := wrapText(dc, tl.caption, cellW)
				if len(lines) > 2 {
					lines = lines[:2]
					lines[1] = truncateLine(dc, lines[1]+"…", cellW)
				}
				cy := y + imgH + style.CaptionSize
				dc.SetHexColor(style.TextColor)
				for _, line := range lines {
					dc.DrawStringAnchored(line, x+cellW/2, cy, 0.5, 0.5)
					cy += style.CaptionSize * 1.4
				}
			}
		}

		dc.SetHexColor(style.Accent)
		dc.DrawStringAnchored(fmt.Sprintf("%d", firstPage+len(pages)),
			w/2, float64(style.PageHeight)-style.Margin/2, 0.5, 0.5)

		page, err := encodePage(dc)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// drawTile paints one image cell. A fetch or decode failure degrades to
// a placeholder tile rather than failing the whole album.
func (cp *composer) drawTile(ctx context.Context, dc *gg.Context, ref domain.ImageRef, x, y, w, h float64, style Style) {
	if style.TileBorder > 0 {
		dc.SetHexColor("#ffffff")
		dc.DrawRectangle(x-style.TileBorder, y-style.TileBorder, w+2*style.TileBorder, h+2*style.TileBorder)
		dc.Fill()
	}

	if ref != "" {
		img, err := cp.fetch.Fetch(ctx, ref)
		if err == nil {
			dc.DrawImage(scaleCover(img, int(w), int(h)), int(x), int(y))
			return
		}
		cp.log.Warn("image unavailable, rendering placeholder", "ref", ref.String(), "error", err)
	}

	dc.SetHexColor("#d8d4ca")
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()
	dc.SetHexColor(style.Accent)
	dc.DrawStringAnchored("photo unavailable", x+w/2, y+h/2, 0.5, 0.5)
}

// scaleCover scales img to fill a w×h cell, cropping overflow around
// the center.
func scaleCover(img image.Image, w, h int) image.Image {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	sb := img.Bounds()
	srcW, srcH := sb.Dx(), sb.Dy()
	if srcW == 0 || srcH == 0 {
		return image.NewRGBA(image.Rect(0, 0, w, h))
	}

	scale := float64(w) / float64(srcW)
	if s := float64(h) / float64(srcH); s > scale {
		scale = s
	}
	scaledW := int(float64(srcW)*scale + 0.5)
	scaledH := int(float64(srcH)*scale + 0.5)

	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, sb, draw.Over, nil)

	offX := (scaledW - w) / 2
	offY := (scaledH - h) / 2
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), scaled, image.Pt(offX, offY), draw.Src)
	return out
}

func encodePage(dc *gg.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	return buf.Bytes(), nil
}

func zipAlbum(pages [][]byte, manifest []manifestEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for i, page := range pages {
		f, err := zw.Create(fmt.Sprintf("page-%03d.png", i+1))
		if err != nil {
			return nil, err
		}
		if _, err := f.Write(page); err != nil {
			return nil, err
		}
	}

	mf, err := zw.Create("manifest.json")
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(mf).Encode(manifest); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func loadFace(fontPath string, size float64) font.Face {
	if fontPath != "" {
		if raw, err := os.ReadFile(fontPath); err == nil {
			if f, err := truetype.Parse(raw); err == nil {
				return truetype.NewFace(f, &truetype.Options{Size: size})
			}
		}
	}
	return basicfont.Face7x13
}

func wrapText(dc *gg.Context, s string, maxWidth float64) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	lines := []string{}
	current := words[0]
	for _, word := range words[1:] {
		candidate := current + " " + word
		if w, _ := dc.MeasureString(candidate); w > maxWidth {
			lines = append(lines, current)
			current = word
			continue
		}
		current = candidate
	}
	return append(lines, current)
}

func truncateLine(dc *gg.Context, s string, maxWidth float64) string {
	runes := []rune(s)
	for len(runes) > 1 {
		if w, _ := dc.MeasureString(string(runes)); w <= maxWidth {
			break
		}
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}
