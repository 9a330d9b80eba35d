package core

import (
	"fmt"
	"os"
	"unicode"

	"github.com/gekko3d/raypick/pickrt/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

type GlyphInfo struct {
	Min [2]float32 // relative to the pen, font space (y down)
	Max [2]float32
	Adv float32
}

// TextLayout turns strings into pickable glyph quads in model space: x to
// the right, y up, baseline of the first line at the origin.
type TextLayout struct {
	Face       font.Face
	Glyphs     map[rune]GlyphInfo
	LineHeight float32
}

// LoadFace parses an OpenType/TrueType file at the given pixel size.
func LoadFace(fontPath string, fontSize float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}

	f, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create face: %w", err)
	}
	return face, nil
}

// NewTextLayout caches metrics for printable ASCII. A nil face uses the
// built-in 7x13 bitmap face.
func NewTextLayout(face font.Face) *TextLayout {
	if face == nil {
		face = basicfont.Face7x13
	}
	glyphs := make(map[rune]GlyphInfo)
	for r := rune(32); r < 127; r++ {
		bounds, adv, ok := face.GlyphBounds(r)
		if !ok {
			continue
		}
		glyphs[r] = GlyphInfo{
			Min: [2]float32{fixedToFloat(bounds.Min.X), fixedToFloat(bounds.Min.Y)},
			Max: [2]float32{fixedToFloat(bounds.Max.X), fixedToFloat(bounds.Max.Y)},
			Adv: fixedToFloat(adv),
		}
	}
	return &TextLayout{
		Face:       face,
		Glyphs:     glyphs,
		LineHeight: float32(face.Metrics().Height.Ceil()),
	}
}

func fixedToFloat(v fixed.Int26_6) float32 {
	return float32(v) / 64.0
}

// Spans lays out text starting at origin. LetterIndex is the rune index in
// text; whitespace and unknown runes advance the pen without emitting a quad.
func (tl *TextLayout) Spans(text string, origin mgl32.Vec3, scale float32) []layout.GlyphSpan {
	spans := make([]layout.GlyphSpan, 0, len(text))
	penX := origin.X()
	baseY := origin.Y()
	z := origin.Z()

	letter := uint32(0)
	for _, r := range text {
		idx := letter
		letter++
		if r == '\n' {
			penX = origin.X()
			baseY -= tl.LineHeight * scale
			continue
		}
		g, ok := tl.Glyphs[r]
		if !ok {
			continue
		}
		if !unicode.IsSpace(r) && g.Max[0] > g.Min[0] && g.Max[1] > g.Min[1] {
			x0 := penX + g.Min[0]*scale
			x1 := penX + g.Max[0]*scale
			y0 := baseY - g.Max[1]*scale
			y1 := baseY - g.Min[1]*scale
			spans = append(spans, layout.GlyphSpan{
				P0:          mgl32.Vec4{x0, y0, z, 1},
				P1:          mgl32.Vec4{x1, y0, z, 1},
				P2:          mgl32.Vec4{x1, y1, z, 1},
				P3:          mgl32.Vec4{x0, y1, z, 1},
				LetterIndex: idx,
			})
		}
		penX += g.Adv * scale
	}
	return spans
}

// Measure returns the width of the widest line and the total height.
func (tl *TextLayout) Measure(text string, scale float32) (float32, float32) {
	maxW := float32(0)
	currentW := float32(0)
	lines := 1
	for _, r := range text {
		if r == '\n' {
			maxW = max(maxW, currentW)
			currentW = 0
			lines++
			continue
		}
		if g, ok := tl.Glyphs[r]; ok {
			currentW += g.Adv * scale
		}
	}
	return max(maxW, currentW), tl.LineHeight * scale * float32(lines)
}
