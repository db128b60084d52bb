/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"galstage/internal/script"
	"galstage/internal/textlayout"
)

// PNGOptions controls dialogue frame rendering. Zero colors get defaults.
// Face defaults to basicfont.Face7x13, which only has Latin glyphs.
type PNGOptions struct {
	Width      int
	Height     int
	Background Color
	BoxFill    Color
	BoxStroke  Color
	NameColor  Color
	TextColor  Color
	Face       font.Face
}

func (o PNGOptions) withDefaults() PNGOptions {
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = 640, 240
	}
	if o.Background.isZero() {
		o.Background = Color{R: 30, G: 30, B: 40, A: 255}
	}
	if o.BoxFill.isZero() {
		o.BoxFill = Color{R: 250, G: 250, B: 255, A: 255}
	}
	if o.BoxStroke.isZero() {
		o.BoxStroke = Color{R: 90, G: 90, B: 120, A: 255}
	}
	if o.NameColor.isZero() {
		o.NameColor = Color{R: 40, G: 80, B: 160, A: 255}
	}
	if o.TextColor.isZero() {
		o.TextColor = Color{A: 255}
	}
	if o.Face == nil {
		o.Face = basicfont.Face7x13
	}
	return o
}

// RenderBlockPNG draws b as a dialogue frame and encodes it to w.
// Black screen text is drawn centered on the background without a box.
func RenderBlockPNG(w io.Writer, b script.Block, opt PNGOptions) error {
	opt = opt.withDefaults()
	img := image.NewRGBA(image.Rect(0, 0, opt.Width, opt.Height))
	bg := toRGBA(opt.Background)
	if b.Kind == script.KindBlackText {
		bg = color.RGBA{A: 255}
	}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	m := textlayout.FaceMeasurer{Face: opt.Face}
	lineH := int(m.LineHeight())
	pad := 12
	ascent := opt.Face.Metrics().Ascent.Round()

	if b.Kind == script.KindBlackText {
		box := textlayout.Wrap(m, b.Message, float32(opt.Width-2*pad))
		y := (opt.Height-len(box.Lines)*lineH)/2 + ascent
		for _, l := range box.Lines {
			drawText(img, opt.Face, color.RGBA{R: 255, G: 255, B: 255, A: 255}, (opt.Width-int(l.Width))/2, y, l.Text)
			y += lineH
		}
		return encodePNG(w, img)
	}

	// dialogue box in the lower half
	bx0, by0 := pad, opt.Height/2
	bx1, by1 := opt.Width-pad-1, opt.Height-pad-1
	fillRect(img, bx0, by0, bx1, by1, toRGBA(opt.BoxFill))
	strokeRect(img, bx0, by0, bx1, by1, toRGBA(opt.BoxStroke))

	d := textlayout.LayoutBlock(m, b, float32(bx1-bx0-2*pad))
	if d.Speaker != "" {
		nw := int(m.Advance(d.Speaker)) + 2*pad
		ny0 := by0 - lineH - pad/2
		fillRect(img, bx0, ny0, bx0+nw, by0-1, toRGBA(opt.BoxFill))
		strokeRect(img, bx0, ny0, bx0+nw, by0-1, toRGBA(opt.BoxStroke))
		drawText(img, opt.Face, toRGBA(opt.NameColor), bx0+pad, ny0+pad/4+ascent, d.Speaker)
	}
	x, y := bx0+pad, by0+pad+ascent
	for _, l := range d.Lines() {
		if y > by1 {
			break
		}
		drawText(img, opt.Face, toRGBA(opt.TextColor), x, y, l.Text)
		y += lineH
	}
	return encodePNG(w, img)
}

// ExportBlockFrames writes one PNG per block as block-NNN.png under outDir and returns the count.
func ExportBlockFrames(t Transcript, outDir string, opt PNGOptions) (int, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("ensure out dir: %w", err)
	}
	for i, b := range t.Blocks {
		name := filepath.Join(outDir, fmt.Sprintf("block-%03d.png", i+1))
		f, err := os.Create(name)
		if err != nil {
			return i, fmt.Errorf("create png: %w", err)
		}
		if err := RenderBlockPNG(f, b, opt); err != nil {
			_ = f.Close()
			return i, err
		}
		if err := f.Close(); err != nil {
			return i, fmt.Errorf("close png: %w", err)
		}
	}
	return len(t.Blocks), nil
}

func encodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

func drawText(img *image.RGBA, face font.Face, col color.RGBA, x, y int, s string) {
	d := &font.Drawer{Dst: img, Src: image.NewUniform(col), Face: face, Dot: fixed.P(x, y)}
	d.DrawString(s)
}

func toRGBA(c Color) color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

// strokeRect draws a 1px axis-aligned rectangle border inclusive of endpoints.
func strokeRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	for x := x0; x <= x1; x++ {
		img.SetRGBA(x, y0, col)
		img.SetRGBA(x, y1, col)
	}
	for y := y0; y <= y1; y++ {
		img.SetRGBA(x0, y, col)
		img.SetRGBA(x1, y, col)
	}
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			img.SetRGBA(x, y, col)
		}
	}
}
