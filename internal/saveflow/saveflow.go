/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package saveflow implements "generate": render a preview, ask the user for a
// destination and write exactly the bytes that preview produced.
package saveflow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"txt2img/internal/backend"
	applog "txt2img/internal/log"
	"txt2img/internal/preview"
	"txt2img/internal/settings"
)

var (
	// ErrEmptyText aborts a save before anything is rendered.
	ErrEmptyText = errors.New("please enter text")
	// ErrSaveCancelled means the dialog was dismissed. Shown as a warning.
	ErrSaveCancelled = errors.New("no save path chosen")
	// ErrSaveFailed wraps chooser, decode and write failures.
	ErrSaveFailed = errors.New("save failed")
)

// Outcome describes a completed save.
type Outcome struct {
	Path  string
	Seq   uint64 // sequence number of the preview whose bytes were written
	Bytes int
}

// Flow sequences preview, path selection and write.
type Flow struct {
	pipe    *preview.Pipeline
	chooser backend.PathChooser
	writer  Writer
	store   *settings.Store
	log     *slog.Logger
}

// New wires a flow. writer may be nil to write files atomically to disk;
// store may be nil when history is not tracked.
func New(pipe *preview.Pipeline, chooser backend.PathChooser, writer Writer, store *settings.Store) *Flow {
	if writer == nil {
		writer = FileWriter{}
	}
	return &Flow{pipe: pipe, chooser: chooser, writer: writer, store: store, log: applog.WithComponent("saveflow")}
}

// DefaultFilename is the name suggested to the dialog for format.
func DefaultFilename(format string) string {
	format = strings.TrimSpace(format)
	if format == "" {
		format = settings.DefaultFormat
	}
	return "output." + format
}

// Save renders req, asks for a path and writes the rendered image there.
// The bytes written are those returned by this call's render even if a newer
// preview has replaced it on screen meanwhile.
func (f *Flow) Save(ctx context.Context, req backend.RenderRequest, desiredFilename string) (Outcome, error) {
	l := applog.WithOperation(f.log, "save")
	if req.Text == "" {
		return Outcome{}, ErrEmptyText
	}
	out, err := f.pipe.Request(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if out.Err != nil {
		// overtaken on screen, but this save still failed
		return Outcome{}, out.Err
	}
	if out.Image == "" {
		return Outcome{}, fmt.Errorf("%w: no image produced", ErrSaveFailed)
	}

	if desiredFilename == "" {
		desiredFilename = DefaultFilename(req.Format)
	}
	if f.chooser == nil {
		return Outcome{}, fmt.Errorf("%w: no save dialog available", ErrSaveFailed)
	}
	choice, err := f.chooser.ChooseSavePath(ctx, desiredFilename)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrSaveFailed, err.Error())
	}
	if !choice.Success {
		return Outcome{}, &FailedError{Reason: choice.Message}
	}
	if choice.Path == "" {
		l.Info("save cancelled")
		return Outcome{}, ErrSaveCancelled
	}

	data, err := DecodeDataURI(out.Image)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrSaveFailed, err.Error())
	}
	if err := f.writer.WriteImage(ctx, choice.Path, data); err != nil {
		l.Error("write image failed", slog.String("path", choice.Path), slog.Any("err", err))
		return Outcome{}, fmt.Errorf("%w: %s", ErrSaveFailed, err.Error())
	}
	if f.store != nil {
		f.store.RecordHistory(choice.Path)
	}
	l.Info("image saved", slog.String("path", choice.Path), slog.Int("bytes", len(data)), slog.Uint64("seq", out.Seq))
	return Outcome{Path: choice.Path, Seq: out.Seq, Bytes: len(data)}, nil
}

// FailedError carries the chooser's reason verbatim.
type FailedError struct{ Reason string }

func (e *FailedError) Error() string {
	if e.Reason == "" {
		return ErrSaveFailed.Error()
	}
	return e.Reason
}

func (e *FailedError) Is(target error) bool { return target == ErrSaveFailed }

// DecodeDataURI returns the payload of a base64 data URI. A bare base64
// string is accepted as well.
func DecodeDataURI(uri string) ([]byte, error) {
	payload := uri
	if strings.HasPrefix(uri, "data:") {
		i := strings.IndexByte(uri, ',')
		if i < 0 {
			return nil, errors.New("malformed data URI")
		}
		if !strings.HasSuffix(uri[:i], ";base64") {
			return nil, errors.New("data URI is not base64 encoded")
		}
		payload = uri[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}
