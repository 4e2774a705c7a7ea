package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Panel geometry. Rows are 2048 bytes, a multiple of the 256-byte copy
// alignment.
const (
	PanelWidth  = 512
	PanelHeight = 184

	padding    = 6
	lineHeight = 13
	maxLines   = (PanelHeight - 2*padding) / lineHeight
)

var (
	// Premultiplied, so they can be blended without conversion.
	panelBackground = color.RGBA{R: 0, G: 0, B: 0, A: 176}
	statsColor      = color.RGBA{R: 200, G: 220, B: 200, A: 255}
	errorColor      = color.RGBA{R: 255, G: 110, B: 96, A: 255}
	noticeColor     = color.RGBA{R: 250, G: 210, B: 90, A: 255}
)

type line struct {
	text string
	col  color.RGBA
}

// panel rasterizes text lines into an RGBA image with basicfont.
type panel struct {
	img  *image.RGBA
	face font.Face
	cols int
}

func newPanel() *panel {
	face := basicfont.Face7x13
	return &panel{
		img:  image.NewRGBA(image.Rect(0, 0, PanelWidth, PanelHeight)),
		face: face,
		cols: (PanelWidth - 2*padding) / face.Advance,
	}
}

// wrap splits s into lines of at most p.cols glyphs.
func (p *panel) wrap(s string, col color.RGBA) []line {
	var out []line
	for _, raw := range strings.Split(s, "\n") {
		r := []rune(raw)
		for len(r) > p.cols {
			out = append(out, line{string(r[:p.cols]), col})
			r = r[p.cols:]
		}
		out = append(out, line{string(r), col})
	}
	return out
}

// draw clears the panel and renders up to maxLines lines. Excess lines are
// replaced by an ellipsis on the last row.
func (p *panel) draw(lines []line) {
	draw.Draw(p.img, p.img.Bounds(), image.NewUniform(color.RGBA{}), image.Point{}, draw.Src)
	if len(lines) == 0 {
		return
	}
	if len(lines) > maxLines {
		lines = append(lines[:maxLines-1:maxLines-1], line{"...", lines[maxLines-1].col})
	}
	h := min(PanelHeight, 2*padding+len(lines)*lineHeight)
	draw.Draw(p.img, image.Rect(0, 0, PanelWidth, h), image.NewUniform(panelBackground), image.Point{}, draw.Src)

	d := &font.Drawer{Dst: p.img, Face: p.face}
	ascent := p.face.Metrics().Ascent.Ceil()
	for i, l := range lines {
		d.Src = image.NewUniform(l.col)
		d.Dot = fixed.P(padding, padding+ascent+i*lineHeight)
		d.DrawString(l.text)
	}
}

// used returns the panel height covered by n lines.
func used(n int) uint32 {
	if n == 0 {
		return 0
	}
	return uint32(min(PanelHeight, 2*padding+min(n, maxLines)*lineHeight))
}
