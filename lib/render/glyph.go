package render

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Every glyph is drawn centered into a transparent cell of this size before
// it is rotated onto the canvas. Both glyph sources fill the same cell, so
// the layout looks the same whichever one is in use.
const (
	cellWidth  = 28
	cellHeight = 34

	glyphSize = 24

	// bitmapScale enlarges the 7x13 bitmap face to roughly the size of the
	// scalable glyphs.
	bitmapScale = 2
)

type glyphSource interface {
	cell(ch rune, ink color.Color) *image.RGBA
}

type scalableGlyphs struct {
	face font.Face
}

func (g scalableGlyphs) cell(ch rune, ink color.Color) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, cellWidth, cellHeight))
	drawCentered(dst, g.face, ch, ink)
	return dst
}

type bitmapGlyphs struct{}

func (bitmapGlyphs) cell(ch rune, ink color.Color) *image.RGBA {
	small := image.NewRGBA(image.Rect(0, 0, cellWidth/bitmapScale, cellHeight/bitmapScale))
	drawCentered(small, basicfont.Face7x13, ch, ink)

	dst := image.NewRGBA(image.Rect(0, 0, cellWidth, cellHeight))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), small, small.Bounds(), draw.Src, nil)
	return dst
}

// drawCentered draws ch so the center of its ink bounds sits on the center
// of dst.
func drawCentered(dst *image.RGBA, face font.Face, ch rune, ink color.Color) {
	bounds, _ := font.BoundString(face, string(ch))
	size := dst.Bounds().Size()

	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(ink),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(size.X)/2 - (bounds.Min.X+bounds.Max.X)/2,
			Y: fixed.I(size.Y)/2 - (bounds.Min.Y+bounds.Max.Y)/2,
		},
	}
	d.DrawString(string(ch))
}
