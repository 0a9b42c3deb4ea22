package render

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func seed(n uint64) *uint64 { return &n }

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	return img
}

// inkedPixels counts pixels darker than anything the noise layers draw.
func inkedPixels(img image.Image) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if min(r, g, bl)>>8 < 160 {
				n++
			}
		}
	}
	return n
}

func TestRender(t *testing.T) {
	garbage := filepath.Join(t.TempDir(), "broken.ttf")
	if err := os.WriteFile(garbage, []byte("this is not a font"), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name     string
		opts     Options
		text     string
		scalable bool
		width    int
		height   int
	}{
		{
			name:     "defaults",
			opts:     Options{},
			text:     "7K9XZ",
			scalable: true,
			width:    180,
			height:   60,
		},
		{
			name:     "bitmap fallback",
			opts:     Options{FontPath: garbage},
			text:     "ABCDE",
			scalable: false,
			width:    180,
			height:   60,
		},
		{
			name:     "missing font file",
			opts:     Options{FontPath: filepath.Join(t.TempDir(), "nope.ttf")},
			text:     "HJKMN",
			scalable: false,
			width:    180,
			height:   60,
		},
		{
			name:     "custom size",
			opts:     Options{Width: 240, Height: 80},
			text:     "PQRSTUVW",
			scalable: true,
			width:    240,
			height:   80,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.opts)
			if r.Scalable() != tt.scalable {
				t.Fatalf("Scalable() = %v, want %v", r.Scalable(), tt.scalable)
			}

			data, err := r.Render(tt.text)
			if err != nil {
				t.Fatal(err)
			}

			img := decode(t, data)
			if got := img.Bounds().Size(); got.X != tt.width || got.Y != tt.height {
				t.Errorf("image is %dx%d, want %dx%d", got.X, got.Y, tt.width, tt.height)
			}

			if n := inkedPixels(img); n < 30 {
				t.Errorf("only %d inked pixels, glyphs were probably not drawn", n)
			}
		})
	}
}

func TestRenderEmpty(t *testing.T) {
	if _, err := New(Options{}).Render(""); !errors.Is(err, ErrEmptyText) {
		t.Errorf("wanted ErrEmptyText, got: %v", err)
	}
}

func TestRenderDeterministicWithSeed(t *testing.T) {
	a, err := New(Options{Seed: seed(1337)}).Render("7K9XZ")
	if err != nil {
		t.Fatal(err)
	}

	b, err := New(Options{Seed: seed(1337)}).Render("7K9XZ")
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(a, b) {
		t.Error("same seed and text produced different images")
	}

	c, err := New(Options{Seed: seed(1338)}).Render("7K9XZ")
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(a, c) {
		t.Error("different seeds produced identical images")
	}
}

func TestRenderRandomByDefault(t *testing.T) {
	r := New(Options{})

	a, err := r.Render("7K9XZ")
	if err != nil {
		t.Fatal(err)
	}

	b, err := r.Render("7K9XZ")
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(a, b) {
		t.Error("two unseeded renders were byte-identical")
	}
}

func TestBitmapCellMatchesScalableCell(t *testing.T) {
	r := New(Options{})
	g, err := r.glyphs()
	if err != nil {
		t.Fatal(err)
	}

	scalable := g.cell('W', inks[0]).Bounds()
	bitmap := bitmapGlyphs{}.cell('W', inks[0]).Bounds()

	if scalable != bitmap {
		t.Errorf("glyph cells differ: scalable %v, bitmap %v", scalable, bitmap)
	}
}

func BenchmarkRender(b *testing.B) {
	r := New(Options{})

	b.ReportAllocs()
	for b.Loop() {
		if _, err := r.Render("7K9XZ"); err != nil {
			b.Fatal(err)
		}
	}
}
