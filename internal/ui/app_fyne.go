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
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"strconv"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	fstorage "fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	_ "golang.org/x/image/bmp"

	"txt2img/internal/app"
	"txt2img/internal/backend"
	"txt2img/internal/crash"
	applog "txt2img/internal/log"
	"txt2img/internal/notify"
	"txt2img/internal/preview"
	"txt2img/internal/render"
	"txt2img/internal/saveflow"
	"txt2img/internal/settings"
	"txt2img/internal/viewport"
)

// Run opens the main window around c and blocks until it is closed. The
// backend handshake runs in the background; actions stay disabled until it
// succeeds.
func Run(ctx context.Context, c *app.Controller, opts Options) error {
	l := applog.WithComponent("ui")
	l.Info("starting UI")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fa := fyneapp.NewWithID("txt2img")
	w := fa.NewWindow("Text to Image")
	prefs := fa.Preferences()
	winW := max(prefs.IntWithFallback("window.width", 1100), 800)
	winH := max(prefs.IntWithFallback("window.height", 700), 500)
	w.Resize(fyne.NewSize(float32(winW), float32(winH)))

	applyTheme := func(name string) {
		v := theme.VariantLight
		if name == settings.ThemeDark {
			v = theme.VariantDark
		}
		fa.Settings().SetTheme(variantTheme{Theme: theme.DefaultTheme(), variant: v})
	}

	canvasView := NewPreviewCanvas(c.View, c)
	c.View.OnChange(func(viewport.State) { fyne.Do(canvasView.Refresh) })

	in := newInputs(ctx, c)

	var history []string
	historyList := widget.NewList(
		func() int { return len(history) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			if i >= 0 && i < len(history) {
				o.(*widget.Label).SetText(history[i])
			}
		},
	)

	message := widget.NewLabel("")
	message.Wrapping = fyne.TextWrapWord
	status := widget.NewLabel(statusText(backend.StatePending))

	generateBtn := widget.NewButton("Generate image", func() {
		f := in.form()
		crash.Go(opts.CrashDir, func() { _, _ = c.Generate(ctx, f) })
	})
	generateBtn.Importance = widget.HighImportance
	saveCfgBtn := widget.NewButton("Save config", func() {
		f := in.form()
		crash.Go(opts.CrashDir, func() { _ = c.SaveConfig(ctx, f) })
	})
	themeBtn := widget.NewButton("Toggle theme", func() { applyTheme(c.ToggleTheme()) })
	var retryBtn *widget.Button
	retryBtn = widget.NewButton("Retry", func() {
		retryBtn.Hide()
		crash.Go(opts.CrashDir, func() { _ = c.Reacquire(ctx) })
	})
	retryBtn.Hide()
	actions := []*widget.Button{generateBtn, saveCfgBtn}
	for _, b := range actions {
		b.Disable()
	}

	c.SetChooser(dialogChooser(w))
	c.OnStatus(func(st backend.State) {
		fyne.Do(func() {
			status.SetText(statusText(st))
			for _, b := range actions {
				if st == backend.StateReady {
					b.Enable()
				} else {
					b.Disable()
				}
			}
			if st == backend.StateUnavailable {
				retryBtn.Show()
			}
		})
	})
	c.Board.Subscribe(func(m notify.Message) {
		fyne.Do(func() {
			message.Importance = importanceOf(m)
			message.SetText(m.Text)
		})
	})
	c.Store.OnChange(func(cfg settings.Config) {
		fyne.Do(func() {
			history = cfg.History
			historyList.Refresh()
		})
	})
	c.Pipeline.OnImage(func(cur preview.Current) {
		img, err := decodePreview(cur.Image)
		fyne.Do(func() {
			if err != nil {
				l.Debug("preview not displayable", slog.String("format", cur.Request.Format), slog.Any("err", err))
				canvasView.SetNote("no preview for " + cur.Request.Format)
				return
			}
			canvasView.SetImage(img)
		})
	})

	top := container.NewVBox(
		in.content(),
		container.NewGridWithColumns(3, generateBtn, saveCfgBtn, themeBtn),
		widget.NewSeparator(),
		widget.NewLabel("Recent files"),
	)
	bottom := container.NewVBox(message, container.NewBorder(nil, nil, nil, retryBtn, status))
	left := container.NewBorder(top, bottom, nil, nil, historyList)
	split := container.NewHSplit(left, canvasView)
	split.SetOffset(0.4)
	w.SetContent(split)

	w.SetCloseIntercept(func() {
		sz := w.Canvas().Size()
		prefs.SetInt("window.width", int(sz.Width))
		prefs.SetInt("window.height", int(sz.Height))
		cancel()
		w.Close()
	})

	crash.Go(opts.CrashDir, func() {
		err := c.Start(ctx)
		if err != nil && !errors.Is(err, settings.ErrConfigLoadFailed) {
			l.Error("backend start failed", slog.Any("err", err))
			return
		}
		cfg := c.Store.Current()
		fyne.Do(func() {
			in.fill(cfg)
			history = cfg.History
			historyList.Refresh()
			applyTheme(cfg.Theme)
		})
	})

	w.ShowAndRun()
	c.Close()
	return nil
}

// inputs is the text and style form. Every field change requests a preview.
type inputs struct {
	text     *widget.Entry
	format   *widget.Select
	fontSize *widget.Entry
	bg       *widget.Entry
	fg       *widget.Entry
	width    *widget.Entry
}

func newInputs(ctx context.Context, c *app.Controller) *inputs {
	in := &inputs{
		text:     widget.NewMultiLineEntry(),
		format:   widget.NewSelect(render.Formats, nil),
		fontSize: widget.NewEntry(),
		bg:       widget.NewEntry(),
		fg:       widget.NewEntry(),
		width:    widget.NewEntry(),
	}
	in.text.SetPlaceHolder("Enter text")
	in.text.Wrapping = fyne.TextWrapWord
	in.text.SetMinRowsVisible(6)
	in.fill(settings.Config{})

	changed := func(string) { _ = c.InputChanged(ctx, in.form()) }
	in.text.OnChanged = changed
	in.format.OnChanged = changed
	in.fontSize.OnChanged = changed
	in.bg.OnChanged = changed
	in.fg.OnChanged = changed
	in.width.OnChanged = changed
	return in
}

func (in *inputs) form() app.Form {
	return app.Form{
		Text:            in.text.Text,
		Format:          in.format.Selected,
		FontSize:        formInt(in.fontSize.Text),
		BackgroundColor: in.bg.Text,
		ForegroundColor: in.fg.Text,
		ImageWidth:      formInt(in.width.Text),
	}
}

func (in *inputs) fill(cfg settings.Config) {
	f := app.FormFrom(cfg)
	in.format.SetSelected(f.Format)
	in.fontSize.SetText(strconv.Itoa(f.FontSize))
	in.bg.SetText(f.BackgroundColor)
	in.fg.SetText(f.ForegroundColor)
	in.width.SetText(strconv.Itoa(f.ImageWidth))
}

func (in *inputs) content() *widget.Form {
	return widget.NewForm(
		widget.NewFormItem("Text", in.text),
		widget.NewFormItem("Format", in.format),
		widget.NewFormItem("Font size", in.fontSize),
		widget.NewFormItem("Background", in.bg),
		widget.NewFormItem("Text colour", in.fg),
		widget.NewFormItem("Width", in.width),
	)
}

// dialogChooser asks for a destination with the native save dialog. The
// dialog creates the file; the save flow then replaces it.
func dialogChooser(w fyne.Window) backend.PathChooser {
	return backend.ChooserFunc(func(ctx context.Context, name string) (backend.PathChoice, error) {
		type result struct {
			path string
			err  error
		}
		ch := make(chan result, 1)
		fyne.Do(func() {
			d := dialog.NewFileSave(func(uc fyne.URIWriteCloser, err error) {
				if err != nil {
					ch <- result{err: err}
					return
				}
				if uc == nil {
					ch <- result{}
					return
				}
				p := uc.URI().Path()
				_ = uc.Close()
				ch <- result{path: p}
			}, w)
			d.SetFileName(name)
			if ext := filepath.Ext(name); ext != "" {
				d.SetFilter(fstorage.NewExtensionFileFilter([]string{ext}))
			}
			d.Show()
		})
		select {
		case r := <-ch:
			if r.err != nil {
				return backend.PathChoice{}, r.err
			}
			return backend.PathChoice{Success: true, Path: r.path}, nil
		case <-ctx.Done():
			return backend.PathChoice{}, ctx.Err()
		}
	})
}

func decodePreview(dataURI string) (image.Image, error) {
	data, err := saveflow.DecodeDataURI(dataURI)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func statusText(st backend.State) string {
	switch st {
	case backend.StateReady:
		return "Backend ready"
	case backend.StateUnavailable:
		return app.MsgBackendUnavailable
	default:
		return "Connecting to backend…"
	}
}

func importanceOf(m notify.Message) widget.Importance {
	if m.Text == "" {
		return widget.MediumImportance
	}
	switch m.Severity {
	case notify.Success:
		return widget.SuccessImportance
	case notify.Warning:
		return widget.WarningImportance
	default:
		return widget.DangerImportance
	}
}

// variantTheme pins the default theme to one variant regardless of the OS
// preference.
type variantTheme struct {
	fyne.Theme
	variant fyne.ThemeVariant
}

func (t variantTheme) Color(n fyne.ThemeColorName, _ fyne.ThemeVariant) color.Color {
	return t.Theme.Color(n, t.variant)
}
