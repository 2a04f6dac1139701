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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"txt2img/internal/app"
	"txt2img/internal/backend"
	"txt2img/internal/config"
	"txt2img/internal/localbackend"
	"txt2img/internal/render"
	"txt2img/internal/server"
	"txt2img/internal/settings"
	"txt2img/internal/storage"
	"txt2img/internal/ui"
)

// cmdRender runs the generate flow headlessly: the save dialog is replaced by
// -out, or by the suggested file name in the working directory.
func cmdRender(ctx context.Context, cfg config.AppConfig, token string, args []string, p *printer) int {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(p.err)
	text := fs.String("text", "", "text to render")
	in := fs.String("in", "", "read the text from a file, - for stdin")
	format := fs.String("format", "", "png, jpeg, bmp or pdf (default from settings)")
	fontSize := fs.Int("font-size", 0, "font size in px")
	bg := fs.String("bg", "", "background colour, #RRGGBB")
	fg := fs.String("fg", "", "text colour, #RRGGBB")
	width := fs.Int("width", 0, "image width in px")
	out := fs.String("out", "", "output file (default output.<format>)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	body := *text
	if body == "" && *in != "" {
		b, err := readInput(*in)
		if err != nil {
			p.error(err.Error())
			return 1
		}
		body = string(b)
	}
	if body == "" && fs.NArg() > 0 {
		body = strings.Join(fs.Args(), " ")
	}

	chooser := backend.ChooserFunc(func(_ context.Context, suggested string) (backend.PathChoice, error) {
		path := *out
		if path == "" {
			path = suggested
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return backend.PathChoice{}, err
		}
		return backend.PathChoice{Success: true, Path: abs}, nil
	})
	s, err := openSession(ctx, cfg, token, app.Options{Chooser: chooser})
	if err != nil {
		p.error(err.Error())
		return 1
	}
	defer s.Close()
	s.ctrl.Board.Subscribe(p.message)

	if err := s.ctrl.Start(ctx); err != nil && !errors.Is(err, settings.ErrConfigLoadFailed) {
		return 1
	}
	res, err := s.ctrl.Generate(ctx, app.Form{
		Text:            body,
		Format:          *format,
		FontSize:        *fontSize,
		BackgroundColor: *bg,
		ForegroundColor: *fg,
		ImageWidth:      *width,
	})
	if err != nil {
		return 1
	}
	p.info(fmt.Sprintf("%s (%d bytes)", res.Path, res.Bytes))
	return 0
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

// cmdServe serves the HTTP API until interrupted. Without -dsn the local
// settings database doubles as the server repository.
func cmdServe(ctx context.Context, cfg config.AppConfig, token string, args []string, p *printer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(p.err)
	addr := fs.String("addr", cfg.Server.Addr, "listen address")
	dsn := fs.String("dsn", cfg.Server.DSN, "postgres:// DSN or SQLite file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	target := strings.TrimSpace(*dsn)
	if target == "" {
		path, err := cfg.SettingsDBPath()
		if err != nil {
			p.error(err.Error())
			return 1
		}
		target = path
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := server.OpenRepository(ctx, target)
	if err != nil {
		p.error("open repository: " + err.Error())
		return 1
	}
	defer func() { _ = repo.Close() }()

	opts := localbackend.Options{Renderer: render.New(render.Options{FontFile: cfg.Storage.FontFile})}
	if db, ok := repo.(*storage.DB); ok {
		opts.DB = db
		opts.CacheBytes = storage.MaxCacheBytesFromEnv()
	}
	if token == "" {
		p.warn("no backend token configured; the API is unauthenticated")
	}
	p.ok("listening on " + *addr)
	if err := server.New(localbackend.New(opts), repo, token).ListenAndServe(ctx, *addr); err != nil {
		p.error(err.Error())
		return 1
	}
	return 0
}

func cmdUI(ctx context.Context, cfg config.AppConfig, token string, p *printer) int {
	s, err := openSession(ctx, cfg, token, app.Options{})
	if err != nil {
		p.error(err.Error())
		return 1
	}
	defer s.Close()
	if err := ui.Run(ctx, s.ctrl, ui.Options{CrashDir: crashDir()}); err != nil {
		p.error(err.Error())
		return 1
	}
	return 0
}

func cmdToken(args []string, p *printer) int {
	switch {
	case len(args) == 2 && args[0] == "set":
		if err := config.SetToken(strings.TrimSpace(args[1])); err != nil {
			p.error("store token: " + err.Error())
			return 1
		}
		p.ok("token stored")
	case len(args) == 1 && args[0] == "clear":
		if err := config.ClearToken(); err != nil {
			p.error("clear token: " + err.Error())
			return 1
		}
		p.ok("token cleared")
	default:
		p.error("usage: txt2img token set <value>|clear")
		return 2
	}
	return 0
}

func cmdRevisions(ctx context.Context, cfg config.AppConfig, p *printer) int {
	db, err := openSettingsDB(ctx, cfg)
	if err != nil {
		p.error(err.Error())
		return 1
	}
	defer func() { _ = db.Close() }()
	revs, err := db.Revisions(ctx)
	if err != nil {
		p.error(err.Error())
		return 1
	}
	if len(revs) == 0 {
		p.info("no saved settings")
		return 0
	}
	for _, r := range revs {
		c := settings.WithDefaults(r.Config)
		p.info(fmt.Sprintf("#%d  %s  %s %dpx %s/%s w=%d theme=%s history=%d",
			r.ID, r.SavedAt.Local().Format(time.DateTime), c.Format, c.FontSize,
			c.ForegroundColor, c.BackgroundColor, c.ImageWidth, c.Theme, len(c.History)))
	}
	return 0
}
