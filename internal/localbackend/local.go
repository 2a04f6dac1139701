/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package localbackend implements backend.API in-process: text is rendered
// by internal/render and settings live in the SQLite settings database.
package localbackend

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"txt2img/internal/backend"
	applog "txt2img/internal/log"
	"txt2img/internal/render"
	"txt2img/internal/settings"
	"txt2img/internal/storage"
)

// Messages returned to the user.
const (
	MsgConfigSaved  = "config saved"
	msgRenderFailed = "image generation failed: "
	msgConfigFailed = "failed to save config: "
	msgNoWindow     = "no active window"
	msgChooseFailed = "failed to choose save path: "
)

// Options configure a Backend.
type Options struct {
	Renderer *render.Renderer
	// DB stores settings and caches renders. Nil keeps settings in memory.
	DB      *storage.DB
	Chooser backend.PathChooser
	// CacheBytes caps the render cache; zero disables caching.
	CacheBytes int64
}

// Backend is the in-process backend.
type Backend struct {
	r          *render.Renderer
	db         *storage.DB
	chooser    backend.PathChooser
	cacheBytes int64
	log        *slog.Logger

	mu  sync.Mutex
	mem settings.Config // used when db is nil
}

var _ backend.API = (*Backend)(nil)

func New(opts Options) *Backend {
	r := opts.Renderer
	if r == nil {
		r = render.New(render.Options{})
	}
	return &Backend{
		r:          r,
		db:         opts.DB,
		chooser:    opts.Chooser,
		cacheBytes: opts.CacheBytes,
		log:        applog.WithComponent("localbackend"),
	}
}

// Probe is ready immediately; there is nothing to wait for in-process.
func (b *Backend) Probe() backend.Probe { return backend.Static(b) }

// SetChooser replaces the save dialog.
func (b *Backend) SetChooser(c backend.PathChooser) {
	b.mu.Lock()
	b.chooser = c
	b.mu.Unlock()
}

// Params converts a wire request into render parameters.
func Params(req backend.RenderRequest) render.Params {
	return render.Params{
		Text:       req.Text,
		Format:     render.NormalizeFormat(req.Format),
		FontSize:   req.FontSize,
		Background: req.BackgroundColor,
		Foreground: req.ForegroundColor,
		Width:      req.ImageWidth,
	}
}

// RenderImage renders req. Bad parameters and render errors come back as a
// failed result, not as an error, so the message reaches the user.
func (b *Backend) RenderImage(ctx context.Context, req backend.RenderRequest) (backend.RenderResult, error) {
	l := applog.WithOperation(b.log, "render")
	p := Params(req)
	key := ""
	if b.db != nil && b.cacheBytes > 0 {
		if k, err := storage.CacheKey(p); err == nil {
			key = k
			if format, blob, err := b.db.GetRender(ctx, key); err != nil {
				l.WarnContext(ctx, "render cache read failed", slog.Any("err", err))
			} else if blob != nil {
				l.DebugContext(ctx, "render cache hit")
				return backend.Ok(render.DataURI(format, blob)), nil
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return backend.RenderResult{}, err
	}
	img, err := b.r.Render(p)
	if err != nil {
		l.WarnContext(ctx, "render failed", slog.Any("err", err))
		return backend.Failed(msgRenderFailed + err.Error()), nil
	}
	if key != "" {
		if err := b.db.PutRender(ctx, key, img.Format, img.Data, b.cacheBytes); err != nil {
			l.WarnContext(ctx, "render cache write failed", slog.Any("err", err))
		}
	}
	l.DebugContext(ctx, "image generated", slog.String("format", img.Format), slog.Int("bytes", len(img.Data)))
	return backend.Ok(img.DataURI()), nil
}

// LoadConfig returns the stored settings with defaults. A document that no
// longer parses is replaced by defaults, matching a missing one; only I/O
// failures are returned as errors.
func (b *Backend) LoadConfig(ctx context.Context) (settings.Config, error) {
	if b.db == nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		return settings.WithDefaults(b.mem), nil
	}
	cfg, found, err := b.db.Load(ctx)
	if errors.Is(err, storage.ErrInvalidConfig) {
		b.log.Warn("stored settings unreadable, using defaults", slog.Any("err", err))
		return settings.WithDefaults(settings.Config{}), nil
	}
	if err != nil {
		return settings.Config{}, err
	}
	if !found {
		b.log.Info("no saved settings, using defaults")
	}
	return settings.WithDefaults(cfg), nil
}

// SaveConfig persists cfg atomically.
func (b *Backend) SaveConfig(ctx context.Context, cfg settings.Config) (backend.Status, error) {
	if b.db == nil {
		b.mu.Lock()
		b.mem = cfg
		b.mu.Unlock()
		return backend.Status{Success: true, Message: MsgConfigSaved}, nil
	}
	if err := b.db.Save(ctx, cfg); err != nil {
		b.log.Error("save config failed", slog.Any("err", err))
		return backend.Status{Success: false, Message: msgConfigFailed + err.Error()}, nil
	}
	b.log.Info("config saved")
	return backend.Status{Success: true, Message: MsgConfigSaved}, nil
}

// ChooseSavePath asks the configured chooser. Without one there is no window
// to host a dialog.
func (b *Backend) ChooseSavePath(ctx context.Context, suggestedName string) (backend.PathChoice, error) {
	b.mu.Lock()
	ch := b.chooser
	b.mu.Unlock()
	if ch == nil {
		b.log.Error("no active window for save dialog")
		return backend.PathChoice{Success: false, Message: msgNoWindow}, nil
	}
	choice, err := ch.ChooseSavePath(ctx, suggestedName)
	if err != nil {
		b.log.Error("choose save path failed", slog.Any("err", err))
		return backend.PathChoice{Success: false, Message: msgChooseFailed + err.Error()}, nil
	}
	b.log.Info("save path selected", slog.String("path", choice.Path))
	return choice, nil
}
