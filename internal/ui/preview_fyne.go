//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"image"
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"

	"txt2img/internal/app"
	"txt2img/internal/viewport"
)

// Pointer is the part of app.Controller the preview forwards input to.
type Pointer interface {
	Wheel(deltaY float64) float64
	PointerDown(button int, x, y float64)
	PointerMove(x, y float64)
	PointerUp()
}

// PreviewCanvas shows the current image with the viewport's zoom and pan.
// Wheel zooms; dragging with the primary button pans.
type PreviewCanvas struct {
	widget.BaseWidget

	view    *viewport.Controller
	pointer Pointer

	img   image.Image
	note  string
	dirty bool
}

var (
	_ fyne.Scrollable   = (*PreviewCanvas)(nil)
	_ desktop.Mouseable = (*PreviewCanvas)(nil)
	_ desktop.Hoverable = (*PreviewCanvas)(nil)
)

func NewPreviewCanvas(view *viewport.Controller, pointer Pointer) *PreviewCanvas {
	p := &PreviewCanvas{view: view, pointer: pointer}
	p.ExtendBaseWidget(p)
	return p
}

// SetImage replaces the displayed image. Call on the UI goroutine.
func (p *PreviewCanvas) SetImage(img image.Image) {
	p.img, p.note, p.dirty = img, "", true
	p.Refresh()
}

// SetNote shows text instead of an image, e.g. for formats that cannot be
// previewed.
func (p *PreviewCanvas) SetNote(text string) {
	p.img, p.note, p.dirty = nil, text, true
	p.Refresh()
}

func (p *PreviewCanvas) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(color.RGBA{R: 238, G: 238, B: 238, A: 255})
	pic := canvas.NewImageFromImage(nil)
	pic.FillMode = canvas.ImageFillStretch
	pic.ScaleMode = canvas.ImageScaleSmooth
	pic.Hide()
	note := canvas.NewText("", color.RGBA{R: 90, G: 90, B: 90, A: 255})
	note.Alignment = fyne.TextAlignCenter
	return &previewRenderer{p: p, bg: bg, pic: pic, note: note, objects: []fyne.CanvasObject{bg, pic, note}}
}

func (p *PreviewCanvas) MinSize() fyne.Size { return fyne.NewSize(320, 240) }

func (p *PreviewCanvas) Scrolled(e *fyne.ScrollEvent) {
	if p.pointer != nil {
		p.pointer.Wheel(wheelDelta(e.Scrolled.DY))
	}
}

func (p *PreviewCanvas) MouseDown(e *desktop.MouseEvent) {
	if p.pointer != nil {
		p.pointer.PointerDown(buttonOf(e.Button), float64(e.Position.X), float64(e.Position.Y))
	}
}

func (p *PreviewCanvas) MouseUp(*desktop.MouseEvent) {
	if p.pointer != nil {
		p.pointer.PointerUp()
	}
}

func (p *PreviewCanvas) MouseIn(*desktop.MouseEvent) {}

func (p *PreviewCanvas) MouseMoved(e *desktop.MouseEvent) {
	if p.pointer != nil {
		p.pointer.PointerMove(float64(e.Position.X), float64(e.Position.Y))
	}
}

// MouseOut ends a drag; the release may happen outside the widget.
func (p *PreviewCanvas) MouseOut() {
	if p.pointer != nil {
		p.pointer.PointerUp()
	}
}

func buttonOf(b desktop.MouseButton) int {
	switch {
	case b&desktop.MouseButtonPrimary != 0:
		return app.ButtonLeft
	case b&desktop.MouseButtonTertiary != 0:
		return app.ButtonMiddle
	default:
		return app.ButtonRight
	}
}

type previewRenderer struct {
	p       *PreviewCanvas
	bg      *canvas.Rectangle
	pic     *canvas.Image
	note    *canvas.Text
	objects []fyne.CanvasObject
}

func (r *previewRenderer) Destroy()                     {}
func (r *previewRenderer) Objects() []fyne.CanvasObject { return r.objects }
func (r *previewRenderer) MinSize() fyne.Size           { return r.p.MinSize() }
func (r *previewRenderer) Refresh()                     { r.Layout(r.p.Size()); canvas.Refresh(r.p) }

func (r *previewRenderer) Layout(size fyne.Size) {
	r.bg.Resize(size)
	r.bg.Move(fyne.NewPos(0, 0))

	if r.p.dirty {
		r.pic.Image = r.p.img
		r.note.Text = r.p.note
		r.p.dirty = false
		r.pic.Refresh()
	}
	r.note.Resize(fyne.NewSize(size.Width, r.note.MinSize().Height))
	r.note.Move(fyne.NewPos(0, (size.Height-r.note.MinSize().Height)/2))

	if r.p.img == nil {
		r.pic.Hide()
		return
	}
	b := r.p.img.Bounds()
	pl := Place(float64(size.Width), float64(size.Height), float64(b.Dx()), float64(b.Dy()), r.p.view.State())
	r.pic.Resize(fyne.NewSize(float32(pl.W), float32(pl.H)))
	r.pic.Move(fyne.NewPos(float32(pl.X), float32(pl.Y)))
	r.pic.Show()
}
