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
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/image/bmp"
)

// Formats lists the supported output formats.
var Formats = []string{"png", "jpeg", "bmp", "pdf"}

// Image is an encoded render.
type Image struct {
	Format string // normalized format name
	MIME   string
	Data   []byte
	Width  int
	Height int
}

// DataURI returns "data:<mime>;base64,<data>".
func (i Image) DataURI() string { return DataURI(i.Format, i.Data) }

// NormalizeFormat maps aliases to a supported name. Unknown formats become png.
func NormalizeFormat(f string) string {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case "jpeg", "jpg":
		return "jpeg"
	case "bmp":
		return "bmp"
	case "pdf":
		return "pdf"
	default:
		return "png"
	}
}

// MIME returns the media type for a format name.
func MIME(format string) string {
	switch NormalizeFormat(format) {
	case "jpeg":
		return "image/jpeg"
	case "bmp":
		return "image/bmp"
	case "pdf":
		return "application/pdf"
	default:
		return "image/png"
	}
}

// DataURI encodes data of the given format as a base64 data URI.
func DataURI(format string, data []byte) string {
	return "data:" + MIME(format) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Encode writes img in format.
func Encode(img image.Image, format string) (Image, error) {
	format = NormalizeFormat(format)
	b := img.Bounds()
	out := Image{Format: format, MIME: MIME(format), Width: b.Dx(), Height: b.Dy()}
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	case "bmp":
		err = bmp.Encode(&buf, img)
	case "pdf":
		err = encodePDF(&buf, img)
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return Image{}, fmt.Errorf("encode %s: %w", format, err)
	}
	out.Data = buf.Bytes()
	return out, nil
}

// encodePDF places img on a single page of the same size in points.
func encodePDF(buf *bytes.Buffer, img image.Image) error {
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		return err
	}
	w := float64(img.Bounds().Dx())
	h := float64(img.Bounds().Dy())
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: w, Ht: h},
	})
	pdf.SetCreator("txt2img", false)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPageFormat("", gofpdf.SizeType{Wd: w, Ht: h})
	opt := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader("render", opt, &pngBuf)
	pdf.ImageOptions("render", 0, 0, w, h, false, opt, 0, "")
	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(buf)
}
