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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"txt2img/internal/config"
	"txt2img/internal/crash"
	applog "txt2img/internal/log"
	"txt2img/internal/telemetry"
	"txt2img/internal/version"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "txt2img: render text to images")
	fmt.Fprintf(w, "Version: %s\n", version.String())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  txt2img version|-v|--version          Show version")
	fmt.Fprintln(w, "  txt2img render [flags] [text...]      Render text to a file without the UI")
	fmt.Fprintln(w, "  txt2img serve [-addr a] [-dsn d]      Run the HTTP render server")
	fmt.Fprintln(w, "  txt2img ui                            Launch desktop UI (build with -tags fyne)")
	fmt.Fprintln(w, "  txt2img token set <value>|clear       Manage the backend token in the OS keyring")
	fmt.Fprintln(w, "  txt2img revisions                     List saved settings revisions")
}

func main() {
	defer crash.Recover(crashDir())
	if code := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); code != 0 {
		os.Exit(code)
	}
}

func crashDir() string {
	dir, err := config.ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "crash")
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	p := newPrinter(stdout, stderr)
	cfg, token, err := config.Load()
	if err != nil {
		p.error("config: " + err.Error())
		return 1
	}
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
		Writer:    stderr,
	})
	l := applog.WithComponent("cli")
	telemetry.Configure(cfg.General.TelemetryOptIn)
	defer func() {
		fctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		telemetry.Flush(fctx)
	}()

	if len(args) == 0 {
		usage(stdout)
		return 0
	}
	l.Debug("start", slog.String("cmd", args[0]), slog.String("backend", cfg.Backend.Mode))
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, version.String())
		return 0
	case "render":
		return cmdRender(ctx, cfg, token, args[1:], p)
	case "serve":
		return cmdServe(ctx, cfg, token, args[1:], p)
	case "ui":
		return cmdUI(ctx, cfg, token, p)
	case "token":
		return cmdToken(args[1:], p)
	case "revisions":
		return cmdRevisions(ctx, cfg, p)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	}
	p.error("unknown command: " + args[0])
	usage(stderr)
	return 2
}
