/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package app wires the backend handle, settings, preview, viewport and save
// flow together and maps UI events onto them. UI toolkits only talk to
// Controller.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"txt2img/internal/backend"
	applog "txt2img/internal/log"
	"txt2img/internal/notify"
	"txt2img/internal/preview"
	"txt2img/internal/saveflow"
	"txt2img/internal/settings"
	"txt2img/internal/telemetry"
	"txt2img/internal/viewport"
)

// ErrConfigSaveFailed is returned when persisting the config fails.
var ErrConfigSaveFailed = errors.New("failed to save config")

// User-facing messages.
const (
	MsgBackendUnavailable = "backend unavailable, restart to retry"
	MsgConfigLoadFailed   = "failed to load config"
	MsgPreviewFailed      = "preview generation failed"
	MsgImageSaved         = "image saved"
	MsgThemeSwitched      = "theme switched"
	MsgConfigSaved        = "config saved"
)

// Pointer buttons, numbered like DOM MouseEvent.button.
const (
	ButtonLeft   = 0
	ButtonMiddle = 1
	ButtonRight  = 2
)

// Form is what the input widgets currently hold.
type Form struct {
	Text            string
	Format          string
	FontSize        int
	BackgroundColor string
	ForegroundColor string
	ImageWidth      int
}

// Edits returns the style part of the form.
func (f Form) Edits() settings.StyleEdits {
	return settings.StyleEdits{
		Format:          f.Format,
		FontSize:        f.FontSize,
		BackgroundColor: f.BackgroundColor,
		ForegroundColor: f.ForegroundColor,
		ImageWidth:      f.ImageWidth,
	}
}

// FormFrom fills a form with the style of c, as after the initial load.
func FormFrom(c settings.Config) Form {
	c = settings.WithDefaults(c)
	return Form{
		Format:          c.Format,
		FontSize:        c.FontSize,
		BackgroundColor: c.BackgroundColor,
		ForegroundColor: c.ForegroundColor,
		ImageWidth:      c.ImageWidth,
	}
}

// Controller owns one of each component. All methods are safe to call from
// any goroutine.
type Controller struct {
	Handle   *backend.Handle
	Store    *settings.Store
	View     *viewport.Controller
	Pipeline *preview.Pipeline
	Saver    *saveflow.Flow
	Board    *notify.Board

	events telemetry.Sink
	log    *slog.Logger

	mu       sync.Mutex
	chooser  backend.PathChooser
	onStatus []func(backend.State)
}

// Options customize New.
type Options struct {
	// Chooser overrides the backend's ChooseSavePath, e.g. with a native dialog.
	Chooser backend.PathChooser
	// Writer persists saved images; nil writes files to disk.
	Writer saveflow.Writer
	Board  *notify.Board
	Events telemetry.Sink
}

// New builds a controller around h. Nothing talks to the backend until Start.
func New(h *backend.Handle, opts Options) *Controller {
	c := &Controller{
		Handle:  h,
		Store:   settings.NewStore(),
		View:    viewport.NewController(),
		Board:   opts.Board,
		events:  opts.Events,
		chooser: opts.Chooser,
		log:     applog.WithComponent("app"),
	}
	if c.Board == nil {
		c.Board = notify.NewBoard(notify.DefaultTTL)
	}
	if c.events == nil {
		c.events = telemetry.SinkFunc(func(string, map[string]any) {})
	}
	live := liveAPI{c: c}
	c.Pipeline = preview.New(live, c.View)
	c.Saver = saveflow.New(c.Pipeline, live, opts.Writer, c.Store)
	c.Pipeline.OnError(func(err error) {
		c.events.Event(telemetry.EventPreviewFailed, nil)
		c.Board.Error(err.Error())
	})
	c.Pipeline.OnImage(func(cur preview.Current) {
		c.events.Event(telemetry.EventPreviewRendered, map[string]any{"format": cur.Request.Format})
	})
	return c
}

// liveAPI resolves the backend on every call so the pipeline and save flow
// can be built before the handshake finishes.
type liveAPI struct{ c *Controller }

func (l liveAPI) RenderImage(ctx context.Context, req backend.RenderRequest) (backend.RenderResult, error) {
	api, err := l.c.Handle.API()
	if err != nil {
		return backend.RenderResult{}, err
	}
	return api.RenderImage(ctx, req)
}

func (l liveAPI) ChooseSavePath(ctx context.Context, name string) (backend.PathChoice, error) {
	l.c.mu.Lock()
	ch := l.c.chooser
	l.c.mu.Unlock()
	if ch != nil {
		return ch.ChooseSavePath(ctx, name)
	}
	api, err := l.c.Handle.API()
	if err != nil {
		return backend.PathChoice{}, err
	}
	return api.ChooseSavePath(ctx, name)
}

// SetChooser replaces the save dialog used by Generate.
func (c *Controller) SetChooser(ch backend.PathChooser) {
	c.mu.Lock()
	c.chooser = ch
	c.mu.Unlock()
}

// OnStatus registers fn to be told about handshake state changes.
func (c *Controller) OnStatus(fn func(backend.State)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onStatus = append(c.onStatus, fn)
	c.mu.Unlock()
}

func (c *Controller) emitStatus(st backend.State) {
	c.mu.Lock()
	ls := append([]func(backend.State){}, c.onStatus...)
	c.mu.Unlock()
	for _, fn := range ls {
		fn(st)
	}
}

// Start runs the handshake and loads the config. A handshake failure is
// returned as ErrBackendUnavailable and leaves the store uninitialized. A
// failed load is shown and returned wrapped in settings.ErrConfigLoadFailed,
// but the controller stays usable.
func (c *Controller) Start(ctx context.Context) error {
	l := applog.WithOperation(c.log, "start")
	c.emitStatus(backend.StatePending)
	api, err := c.Handle.Acquire(ctx)
	if err != nil {
		c.emitStatus(backend.StateUnavailable)
		if errors.Is(err, backend.ErrBackendUnavailable) && ctx.Err() == nil {
			c.events.Event(telemetry.EventBackendUnavailable, nil)
			c.Board.Error(MsgBackendUnavailable)
		}
		return err
	}
	c.emitStatus(backend.StateReady)
	c.events.Event(telemetry.EventStarted, nil)

	cfg, err := api.LoadConfig(ctx)
	if err != nil {
		l.Error("load config failed", slog.Any("err", err))
		c.Board.Error(MsgConfigLoadFailed)
		return fmt.Errorf("%w: %v", settings.ErrConfigLoadFailed, err)
	}
	c.Store.Initialize(cfg)
	l.Info("config loaded", slog.String("theme", c.Store.Theme()))
	return nil
}

// Reacquire repeats Start after a terminal handshake failure.
func (c *Controller) Reacquire(ctx context.Context) error { return c.Start(ctx) }

// Available reports whether backend-dependent actions are enabled.
func (c *Controller) Available() bool { return c.Handle.State() == backend.StateReady }

func (c *Controller) gate() error {
	if c.Available() {
		return nil
	}
	c.Board.Error(MsgBackendUnavailable)
	return backend.ErrBackendUnavailable
}

// Request builds the render request for f, falling back to the stored style
// for fields the form leaves empty.
func (c *Controller) Request(f Form) backend.RenderRequest {
	r := backend.RequestFrom(f.Text, c.Store.Current())
	if f.Format != "" {
		r.Format = f.Format
	}
	if f.FontSize > 0 {
		r.FontSize = f.FontSize
	}
	if f.BackgroundColor != "" {
		r.BackgroundColor = f.BackgroundColor
	}
	if f.ForegroundColor != "" {
		r.ForegroundColor = f.ForegroundColor
	}
	if f.ImageWidth > 0 {
		r.ImageWidth = f.ImageWidth
	}
	return r
}

// InputChanged starts a preview for f without waiting for it. Empty text does
// nothing.
func (c *Controller) InputChanged(ctx context.Context, f Form) error {
	if f.Text == "" {
		return nil
	}
	if err := c.gate(); err != nil {
		return err
	}
	c.Pipeline.Trigger(ctx, c.Request(f))
	return nil
}

// Generate renders f, asks for a destination and writes the image.
func (c *Controller) Generate(ctx context.Context, f Form) (saveflow.Outcome, error) {
	if f.Text == "" {
		c.Board.Error(saveflow.ErrEmptyText.Error())
		return saveflow.Outcome{}, saveflow.ErrEmptyText
	}
	if err := c.gate(); err != nil {
		return saveflow.Outcome{}, err
	}
	req := c.Request(f)
	out, err := c.Saver.Save(ctx, req, saveflow.DefaultFilename(req.Format))
	switch {
	case err == nil:
		c.events.Event(telemetry.EventImageSaved, map[string]any{"format": req.Format, "bytes": out.Bytes})
		c.Board.Succeed(MsgImageSaved)
	case errors.Is(err, saveflow.ErrSaveCancelled):
		c.Board.Warn(saveflow.ErrSaveCancelled.Error())
	case errors.Is(err, preview.ErrRenderFailed):
		c.events.Event(telemetry.EventPreviewFailed, nil)
		c.Board.Error(err.Error())
	default:
		c.Board.Error(err.Error())
	}
	return out, err
}

// SaveConfig copies the form style into the config and persists it.
func (c *Controller) SaveConfig(ctx context.Context, f Form) error {
	if err := c.gate(); err != nil {
		return err
	}
	api, err := c.Handle.API()
	if err != nil {
		return err
	}
	c.Store.ApplyEdits(f.Edits())
	st, err := api.SaveConfig(ctx, c.Store.SnapshotForSave())
	if err != nil {
		applog.WithOperation(c.log, "save_config").Error("save config failed", slog.Any("err", err))
		c.Board.Error(ErrConfigSaveFailed.Error())
		return fmt.Errorf("%w: %v", ErrConfigSaveFailed, err)
	}
	if !st.Success {
		msg := st.Message
		if msg == "" {
			msg = ErrConfigSaveFailed.Error()
		}
		c.Board.Error(msg)
		return fmt.Errorf("%w: %s", ErrConfigSaveFailed, msg)
	}
	msg := st.Message
	if msg == "" {
		msg = MsgConfigSaved
	}
	c.events.Event(telemetry.EventConfigSaved, nil)
	c.Board.Succeed(msg)
	return nil
}

// ToggleTheme flips the theme in memory. It is persisted with the next
// SaveConfig.
func (c *Controller) ToggleTheme() string {
	theme := c.Store.ToggleTheme()
	c.Board.Succeed(MsgThemeSwitched)
	return theme
}

// Wheel zooms the preview and returns the new zoom.
func (c *Controller) Wheel(deltaY float64) float64 { return c.View.Zoom(deltaY) }

// PointerDown starts a drag for the left button only.
func (c *Controller) PointerDown(button int, x, y float64) {
	if button != ButtonLeft {
		return
	}
	c.View.BeginDrag(x, y)
}

// PointerMove pans while a drag is active.
func (c *Controller) PointerMove(x, y float64) { c.View.UpdateDrag(x, y) }

// PointerUp ends the drag, also when the pointer leaves the preview.
func (c *Controller) PointerUp() { c.View.EndDrag() }

// Close stops timers and waits for background previews.
func (c *Controller) Close() {
	c.Pipeline.Wait()
	c.Board.Close()
}
