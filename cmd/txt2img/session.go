/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"txt2img/internal/app"
	"txt2img/internal/backend"
	"txt2img/internal/config"
	applog "txt2img/internal/log"
	"txt2img/internal/localbackend"
	"txt2img/internal/render"
	"txt2img/internal/storage"
	"txt2img/internal/telemetry"
)

// legacyConfigName is the settings file written by earlier releases.
const legacyConfigName = "config.json"

// session is a controller wired to the backend selected in cfg.
type session struct {
	ctrl *app.Controller
	db   *storage.DB // local mode only
}

func openSession(ctx context.Context, cfg config.AppConfig, token string, opts app.Options) (*session, error) {
	s := &session{}
	var probe backend.Probe
	switch cfg.Backend.Mode {
	case config.ModeHTTP:
		probe = backend.NewClient(cfg.Backend.BaseURL, token, cfg.Backend.Timeout(), nil).Probe
	default:
		db, err := openSettingsDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.db = db
		local := localbackend.New(localbackend.Options{
			Renderer:   render.New(render.Options{FontFile: cfg.Storage.FontFile}),
			DB:         db,
			CacheBytes: storage.MaxCacheBytesFromEnv(),
		})
		probe = local.Probe()
	}
	if opts.Events == nil {
		opts.Events = telemetry.Default()
	}
	h := backend.NewHandle(probe, cfg.Backend.MaxProbeAttempts(), cfg.Backend.ProbeInterval())
	s.ctrl = app.New(h, opts)
	return s, nil
}

// openSettingsDB opens the local settings database and imports a config.json
// lying next to it on first use.
func openSettingsDB(ctx context.Context, cfg config.AppConfig) (*storage.DB, error) {
	path, err := cfg.SettingsDBPath()
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	legacy := filepath.Join(filepath.Dir(path), legacyConfigName)
	if _, err := db.ImportJSONFile(ctx, legacy); err != nil {
		applog.WithComponent("cli").Warn("legacy settings not imported", slog.String("path", legacy), slog.Any("err", err))
	}
	return db, nil
}

func (s *session) Close() {
	s.ctrl.Close()
	if s.db != nil {
		_ = s.db.Close()
	}
}
