/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/font/basicfont"
)

func params(text string) Params {
	return Params{Text: text, Format: "png", FontSize: 24, Background: "#FFFFFF", Foreground: "#000000", Width: 400}
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#1A2b3C")
	if err != nil || c != (color.RGBA{R: 0x1a, G: 0x2b, B: 0x3c, A: 0xff}) {
		t.Fatalf("got %v, %v", c, err)
	}
	if _, err := ParseHexColor("00ff00"); err != nil {
		t.Fatalf("bare hex rejected: %v", err)
	}
	for _, bad := range []string{"", "#fff", "#GGGGGG", "red", "#1234567"} {
		if _, err := ParseHexColor(bad); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestValidateRejectsBadParams(t *testing.T) {
	cases := map[string]func(*Params){
		"empty text": func(p *Params) { p.Text = "" },
		"zero font":  func(p *Params) { p.FontSize = 0 },
		"huge font":  func(p *Params) { p.FontSize = MaxFontSize + 1 },
		"zero width": func(p *Params) { p.Width = 0 },
		"huge width": func(p *Params) { p.Width = MaxImageWidth + 1 },
		"bad bg":     func(p *Params) { p.Background = "white" },
		"bad fg":     func(p *Params) { p.Foreground = "#12" },
		"long text":  func(p *Params) { p.Text = strings.Repeat("a", MaxTextRunes+1) },
	}
	for name, mut := range cases {
		p := params("hi")
		mut(&p)
		if _, _, err := Validate(p); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}

func TestRasterizeSizeAndColours(t *testing.T) {
	r := New(Options{})
	img, err := r.Rasterize(Params{Text: "x", Format: "png", FontSize: 24, Background: "#FF0000", Foreground: "#0000FF", Width: 300})
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 300 || b.Dy() != MinHeight {
		t.Fatalf("bounds = %v", b)
	}
	if c := img.RGBAAt(299, MinHeight-1); c != (color.RGBA{R: 255, A: 255}) {
		t.Fatalf("corner = %v, want background", c)
	}
	foundInk := false
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y && !foundInk; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if c := img.RGBAAt(x, y); c.B > 128 && c.R < 128 {
				foundInk = true
				break
			}
		}
	}
	if !foundInk {
		t.Fatalf("no foreground pixels drawn")
	}
}

func TestLongTextGrowsImage(t *testing.T) {
	r := New(Options{})
	short, err := r.Rasterize(params("one line"))
	if err != nil {
		t.Fatalf("short: %v", err)
	}
	long, err := r.Rasterize(params(strings.Repeat("several words wrap across lines ", 40) + "\n\n" + strings.Repeat("more ", 50)))
	if err != nil {
		t.Fatalf("long: %v", err)
	}
	if long.Bounds().Dy() <= short.Bounds().Dy() {
		t.Fatalf("long text height %d <= short %d", long.Bounds().Dy(), short.Bounds().Dy())
	}
	if long.Bounds().Dx() != 400 {
		t.Fatalf("width changed: %d", long.Bounds().Dx())
	}
}

func TestWrapParagraphFitsWidth(t *testing.T) {
	face := basicfont.Face7x13
	lines := wrapParagraph(face, "the quick brown fox jumps over the lazy dog", 70)
	if len(lines) < 2 {
		t.Fatalf("expected wrapping, got %q", lines)
	}
	for _, l := range lines {
		if measure(face, l) > 70 {
			t.Fatalf("line %q is %dpx wide", l, measure(face, l))
		}
	}
	if strings.Join(lines, " ") != "the quick brown fox jumps over the lazy dog" {
		t.Fatalf("words lost: %q", lines)
	}
}

func TestWrapBreaksTextWithoutSpaces(t *testing.T) {
	face := basicfont.Face7x13
	lines := wrapParagraph(face, strings.Repeat("x", 30), 70) // 7px per glyph, 10 per line
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	for _, l := range lines {
		if len(l) != 10 {
			t.Fatalf("line %q has %d runes", l, len(l))
		}
	}
}

func TestWrapTextKeepsEmptyParagraphs(t *testing.T) {
	paras := wrapText(basicfont.Face7x13, "a\n\nb\r\nc", 1000)
	if len(paras) != 4 {
		t.Fatalf("paragraphs = %d", len(paras))
	}
	if len(paras[1].lines) != 0 || paras[3].lines[0] != "c" {
		t.Fatalf("paragraphs = %+v", paras)
	}
}

func TestEncodeFormats(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for _, tc := range []struct {
		format, mime string
		decode       func([]byte) (image.Image, error)
	}{
		{"png", "image/png", func(b []byte) (image.Image, error) { return png.Decode(bytes.NewReader(b)) }},
		{"jpg", "image/jpeg", func(b []byte) (image.Image, error) { return jpeg.Decode(bytes.NewReader(b)) }},
		{"bmp", "image/bmp", func(b []byte) (image.Image, error) { return bmp.Decode(bytes.NewReader(b)) }},
	} {
		img, err := Encode(src, tc.format)
		if err != nil {
			t.Fatalf("%s: %v", tc.format, err)
		}
		if img.MIME != tc.mime {
			t.Fatalf("%s: mime %q", tc.format, img.MIME)
		}
		dec, err := tc.decode(img.Data)
		if err != nil {
			t.Fatalf("%s decode: %v", tc.format, err)
		}
		if dec.Bounds().Dx() != 20 || dec.Bounds().Dy() != 10 {
			t.Fatalf("%s: bounds %v", tc.format, dec.Bounds())
		}
	}
}

func TestEncodePDF(t *testing.T) {
	img, err := Encode(image.NewRGBA(image.Rect(0, 0, 50, 40)), "pdf")
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if img.MIME != "application/pdf" || !bytes.HasPrefix(img.Data, []byte("%PDF-")) {
		t.Fatalf("not a pdf: %q", img.Data[:min(8, len(img.Data))])
	}
}

func TestUnknownFormatFallsBackToPNG(t *testing.T) {
	if NormalizeFormat("gif") != "png" || NormalizeFormat(" JPEG ") != "jpeg" {
		t.Fatalf("normalize mismatch")
	}
}

func TestRenderDataURI(t *testing.T) {
	r := New(Options{})
	p := params("hello")
	p.Format = "jpeg"
	img, err := r.Render(p)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	uri := img.DataURI()
	prefix := "data:image/jpeg;base64,"
	if !strings.HasPrefix(uri, prefix) {
		t.Fatalf("uri prefix = %q", uri[:30])
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil || !bytes.Equal(raw, img.Data) {
		t.Fatalf("payload mismatch: %v", err)
	}
}

func TestBadFontFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.ttf")
	if err := os.WriteFile(path, []byte("not a font"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(Options{FontFile: path})
	if r.FontName() != "go-regular" {
		t.Fatalf("font = %q", r.FontName())
	}
	if _, err := LoadFont(filepath.Join(t.TempDir(), "missing.ttc")); err == nil {
		t.Fatalf("missing font loaded")
	}
	if _, err := r.Render(params("still works")); err != nil {
		t.Fatalf("Render: %v", err)
	}
}
