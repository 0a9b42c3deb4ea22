// Package render draws challenge answers as distorted PNG images.
//
// Each image is a light background crossed by thin noise lines, one rotated
// and jittered glyph per character in a random ink color, then sprinkled
// with light dots.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wpgarts/captcha"
	"golang.org/x/image/draw"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/vector"
)

var ErrEmptyText = errors.New("render: nothing to draw")

var renderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "captcha_render_duration_seconds",
	Help:    "Time taken to draw and encode a challenge image",
	Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
})

const (
	noiseLines = 6
	noiseDots  = 100

	maxRotation = 15 * math.Pi / 180
	jitter      = 5
	glyphOffset = 10
)

var (
	background = color.RGBA{245, 245, 245, 255}
	lineColor  = color.RGBA{200, 200, 200, 255}
	inks       = []color.RGBA{
		{50, 50, 150, 255},
		{150, 50, 50, 255},
		{50, 150, 50, 255},
		{150, 100, 50, 255},
	}
)

type Options struct {
	// Width and Height of the image in pixels, default 180x60.
	Width  int
	Height int

	// FontPath points at a TrueType or OpenType font. Empty selects the
	// embedded Go Bold face. A font that fails to load falls back to a
	// fixed-size bitmap face.
	FontPath string

	// Seed makes every Render call with the same text produce the same
	// bytes. Nil draws fresh randomness per call.
	Seed *uint64
}

// Renderer is safe for concurrent use.
type Renderer struct {
	width, height int
	font          *opentype.Font
	seed          *uint64
}

func New(opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = captcha.DefaultImageWidth
	}
	if opts.Height <= 0 {
		opts.Height = captcha.DefaultImageHeight
	}

	r := &Renderer{
		width:  opts.Width,
		height: opts.Height,
		seed:   opts.Seed,
	}

	f, err := loadFont(opts.FontPath)
	if err != nil {
		slog.Warn("can't load challenge font, falling back to bitmap glyphs", "path", opts.FontPath, "err", err)
	} else {
		r.font = f
	}

	return r
}

func loadFont(path string) (*opentype.Font, error) {
	data := gobold.TTF
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	return opentype.Parse(data)
}

// Scalable reports whether glyphs come from a scalable font rather than the
// bitmap fallback.
func (r *Renderer) Scalable() bool {
	return r.font != nil
}

// Render draws text and returns the PNG encoding of the image.
func (r *Renderer) Render(text string) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	start := time.Now()
	defer func() { renderDuration.Observe(time.Since(start).Seconds()) }()

	rng := r.rand()

	g, err := r.glyphs()
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	r.drawLines(img, rng)
	r.drawText(img, g, []rune(text), rng)
	r.drawDots(img, rng)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("render: can't encode png: %w", err)
	}

	return buf.Bytes(), nil
}

func (r *Renderer) rand() *rand.Rand {
	if r.seed != nil {
		return rand.New(rand.NewPCG(*r.seed, *r.seed))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// glyphs returns a fresh glyph source. Scalable faces cache rasterization
// state, so each call gets its own.
func (r *Renderer) glyphs() (glyphSource, error) {
	if r.font == nil {
		return bitmapGlyphs{}, nil
	}

	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size: glyphSize,
		DPI:  72,
	})
	if err != nil {
		return nil, fmt.Errorf("render: can't size font: %w", err)
	}

	return scalableGlyphs{face: face}, nil
}

func (r *Renderer) drawLines(img *image.RGBA, rng *rand.Rand) {
	z := vector.NewRasterizer(r.width, r.height)

	for range noiseLines {
		x1, y1 := rng.Float32()*float32(r.width), rng.Float32()*float32(r.height)
		x2, y2 := rng.Float32()*float32(r.width), rng.Float32()*float32(r.height)
		strokeSegment(z, x1, y1, x2, y2)
	}

	z.Draw(img, img.Bounds(), image.NewUniform(lineColor), image.Point{})
}

// strokeSegment adds a one pixel wide quad along the segment to z.
func strokeSegment(z *vector.Rasterizer, x1, y1, x2, y2 float32) {
	dx, dy := x2-x1, y2-y1
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length < 1 {
		dx, dy, length = 1, 0, 1
	}

	nx, ny := -dy/length*0.5, dx/length*0.5

	z.MoveTo(x1+nx, y1+ny)
	z.LineTo(x2+nx, y2+ny)
	z.LineTo(x2-nx, y2-ny)
	z.LineTo(x1-nx, y1-ny)
	z.ClosePath()
}

func (r *Renderer) drawText(img *image.RGBA, g glyphSource, text []rune, rng *rand.Rand) {
	step := float64(r.width) / float64(len(text)+1)

	for i, ch := range text {
		x := step*float64(i+1) - glyphOffset + float64(rng.IntN(2*jitter+1)-jitter)
		y := float64(r.height)/2 - glyphOffset + float64(rng.IntN(2*jitter+1)-jitter)
		angle := (rng.Float64()*2 - 1) * maxRotation
		ink := inks[rng.IntN(len(inks))]

		cell := g.cell(ch, ink)
		draw.BiLinear.Transform(img, rotateInto(cell.Bounds(), x, y, angle), cell, cell.Bounds(), draw.Over, nil)
	}
}

// rotateInto maps a glyph cell onto the canvas with its top-left corner at
// (x, y), rotated by angle radians around the cell center.
func rotateInto(cell image.Rectangle, x, y, angle float64) f64.Aff3 {
	sin, cos := math.Sincos(angle)
	cx, cy := float64(cell.Dx())/2, float64(cell.Dy())/2

	return f64.Aff3{
		cos, -sin, -cos*cx + sin*cy + cx + x,
		sin, cos, -sin*cx - cos*cy + cy + y,
	}
}

func (r *Renderer) drawDots(img *image.RGBA, rng *rand.Rand) {
	for range noiseDots {
		img.SetRGBA(rng.IntN(r.width), rng.IntN(r.height), color.RGBA{
			R: uint8(200 + rng.IntN(56)),
			G: uint8(200 + rng.IntN(56)),
			B: uint8(200 + rng.IntN(56)),
			A: 255,
		})
	}
}
