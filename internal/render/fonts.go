package render

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/foxzi/serverbot/internal/game"
)

type fontSet struct {
	headline *opentype.Font
	small    *opentype.Font
}

func loadFonts(v game.Variant) (*fontSet, error) {
	headlineTTF := gobold.TTF
	if v.Modern() {
		headlineTTF = gomedium.TTF
	}

	headline, err := opentype.Parse(headlineTTF)
	if err != nil {
		return nil, fmt.Errorf("parse headline font: %w", err)
	}
	small, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse badge font: %w", err)
	}
	return &fontSet{headline: headline, small: small}, nil
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// drawText draws s in white with its top-left corner at (x, y)
func (fs *fontSet) drawText(dst draw.Image, f *opentype.Font, size, x, y float64, s string) {
	if s == "" || size < 1 {
		return
	}
	face, err := newFace(f, size)
	if err != nil {
		return
	}
	defer face.Close()

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y*64) + face.Metrics().Ascent},
	}
	d.DrawString(s)
}

// drawBadge draws a star followed by the favorites count
func (fs *fontSet) drawBadge(dst draw.Image, size, x, y float64, favorites string) {
	if size < 1 {
		return
	}
	r := float32(size / 2.2)
	drawStar(dst, float32(x)+r, float32(y+size/2), r)
	fs.drawText(dst, fs.small, size, x+size, y, favorites)
}

// drawStar fills a five-pointed star centered on (cx, cy)
func drawStar(dst draw.Image, cx, cy, radius float32) {
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())

	for i := 0; i < 10; i++ {
		r := radius
		if i%2 == 1 {
			r = radius * 0.4
		}
		angle := -math.Pi/2 + float64(i)*math.Pi/5
		px := cx + r*float32(math.Cos(angle)) - float32(b.Min.X)
		py := cy + r*float32(math.Sin(angle)) - float32(b.Min.Y)
		if i == 0 {
			z.MoveTo(px, py)
		} else {
			z.LineTo(px, py)
		}
	}
	z.ClosePath()
	z.Draw(dst, b, image.White, image.Point{})
}
