/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package render rasterizes wrapped text into an image and encodes it.
//
// Text is drawn on a canvas Supersample times larger than the output and
// scaled down, which smooths glyph edges the same way for every format.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	applog "txt2img/internal/log"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Supersample is the canvas scale factor.
const Supersample = 2

// Limits on request values.
const (
	MaxImageWidth = 8000
	MaxFontSize   = 512
	MaxTextRunes  = 100_000
)

// ErrInvalidParams is wrapped by every validation failure.
var ErrInvalidParams = errors.New("invalid render parameters")

// Params is one render job. Colours are "#RRGGBB".
type Params struct {
	Text       string
	Format     string
	FontSize   int
	Background string
	Foreground string
	Width      int
}

// Options configure a Renderer.
type Options struct {
	// FontFile is a TTF/OTF/TTC used for all text. Empty or unreadable falls
	// back to the built-in Go Regular face.
	FontFile string
}

// Renderer draws text images. It is safe for concurrent use.
type Renderer struct {
	font     *opentype.Font
	fontName string
	log      *slog.Logger
}

// New loads the configured font. A bad font file is logged, not fatal.
func New(opts Options) *Renderer {
	r := &Renderer{log: applog.WithComponent("render")}
	if p := strings.TrimSpace(opts.FontFile); p != "" {
		f, err := LoadFont(p)
		if err != nil {
			r.log.Warn("font unavailable, using built-in", slog.String("path", p), slog.Any("err", err))
		} else {
			r.font, r.fontName = f, p
		}
	}
	if r.font == nil {
		r.font, r.fontName = builtinFont(), "go-regular"
	}
	return r
}

// FontName identifies the font in use.
func (r *Renderer) FontName() string { return r.fontName }

// Validate checks p and returns the parsed colours.
func Validate(p Params) (bg, fg color.RGBA, err error) {
	if p.Text == "" {
		return bg, fg, fmt.Errorf("%w: text is empty", ErrInvalidParams)
	}
	if utf8.RuneCountInString(p.Text) > MaxTextRunes {
		return bg, fg, fmt.Errorf("%w: text longer than %d characters", ErrInvalidParams, MaxTextRunes)
	}
	if p.FontSize <= 0 || p.FontSize > MaxFontSize {
		return bg, fg, fmt.Errorf("%w: font size %d out of range 1..%d", ErrInvalidParams, p.FontSize, MaxFontSize)
	}
	if p.Width <= 0 || p.Width > MaxImageWidth {
		return bg, fg, fmt.Errorf("%w: image width %d out of range 1..%d", ErrInvalidParams, p.Width, MaxImageWidth)
	}
	if bg, err = ParseHexColor(p.Background); err != nil {
		return bg, fg, fmt.Errorf("%w: background: %v", ErrInvalidParams, err)
	}
	if fg, err = ParseHexColor(p.Foreground); err != nil {
		return bg, fg, fmt.Errorf("%w: foreground: %v", ErrInvalidParams, err)
	}
	return bg, fg, nil
}

// ParseHexColor parses "#RRGGBB" or "RRGGBB".
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("colour %q is not #RRGGBB", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("colour %q is not #RRGGBB", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Rasterize draws p and returns the output-sized image.
func (r *Renderer) Rasterize(p Params) (*image.RGBA, error) {
	bg, fg, err := Validate(p)
	if err != nil {
		return nil, err
	}
	s := Supersample
	face := newFace(r.font, float64(p.FontSize*s))
	defer func() { _ = face.Close() }()

	lineHeight := face.Metrics().Ascent.Ceil() + lineSpacing*s
	x0 := (marginLeft + lineSpacing) * s
	wrapWidth := p.Width*s - x0 - marginRight*s
	if wrapWidth < 1 {
		wrapWidth = 1
	}
	paras := wrapText(face, p.Text, wrapWidth)

	cw := p.Width * s
	ch := canvasHeight(paras, lineHeight, s)
	if ch < MinHeight*s {
		ch = MinHeight * s
	}
	canvas := image.NewRGBA(image.Rect(0, 0, cw, ch))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: canvas, Src: &image.Uniform{C: fg}, Face: face}
	ascent := face.Metrics().Ascent.Ceil()
	y := (marginTop + lineSpacing) * s
	for _, para := range paras {
		if len(para.lines) == 0 {
			y += lineHeight + marginBottom*s
			continue
		}
		for _, line := range para.lines {
			d.Dot = fixed.P(x0, y+ascent)
			d.DrawString(line)
			y += lineHeight
		}
		y += marginBottom * s
	}

	oh := ch / s
	if oh < MinHeight {
		oh = MinHeight
	}
	out := image.NewRGBA(image.Rect(0, 0, p.Width, oh))
	draw.CatmullRom.Scale(out, out.Bounds(), canvas, canvas.Bounds(), draw.Src, nil)
	r.log.Debug("rasterized", slog.Int("width", p.Width), slog.Int("height", oh), slog.Int("paragraphs", len(paras)))
	return out, nil
}

// Render rasterizes p and encodes it in p.Format.
func (r *Renderer) Render(p Params) (Image, error) {
	img, err := r.Rasterize(p)
	if err != nil {
		return Image{}, err
	}
	return Encode(img, p.Format)
}
