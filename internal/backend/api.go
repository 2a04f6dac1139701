/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package backend defines the contract between the front-end controller and
// whatever renders images and persists settings, plus the startup handshake
// that waits for such a backend to come up.
package backend

import (
	"context"
	"errors"
	"strings"

	"txt2img/internal/settings"
)

// ErrBackendUnavailable is terminal: the backend did not become ready within
// the handshake budget. Nothing retries automatically.
var ErrBackendUnavailable = errors.New("backend unavailable")

// RenderRequest is the exact parameter set sent to RenderImage. It is
// comparable; two requests are equal iff all fields are equal.
type RenderRequest struct {
	Text            string `json:"text"`
	Format          string `json:"format"`
	FontSize        int    `json:"font_size"`
	BackgroundColor string `json:"bg_color"`
	ForegroundColor string `json:"font_color"`
	ImageWidth      int    `json:"image_width"`
}

// RequestFrom builds a request from text and the style fields of c.
func RequestFrom(text string, c settings.Config) RenderRequest {
	c = settings.WithDefaults(c)
	return RenderRequest{
		Text:            text,
		Format:          c.Format,
		FontSize:        c.FontSize,
		BackgroundColor: c.BackgroundColor,
		ForegroundColor: c.ForegroundColor,
		ImageWidth:      c.ImageWidth,
	}
}

// RenderResult is either Ok(ImageData) or Failed(Message); never both.
type RenderResult struct {
	Success   bool   `json:"success"`
	ImageData string `json:"image_data,omitempty"`
	Message   string `json:"message,omitempty"`
}

func Ok(imageData string) RenderResult  { return RenderResult{Success: true, ImageData: imageData} }
func Failed(reason string) RenderResult { return RenderResult{Success: false, Message: reason} }

// Valid reports whether the result is well-formed: success with data, or
// failure without data.
func (r RenderResult) Valid() bool {
	if r.Success {
		return strings.TrimSpace(r.ImageData) != ""
	}
	return r.ImageData == ""
}

// Status is the reply to SaveConfig.
type Status struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PathChoice is the reply to ChooseSavePath. Success with an empty Path means
// the user dismissed the dialog.
type PathChoice struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
}

// PathChooser asks the user for a destination.
type PathChooser interface {
	ChooseSavePath(ctx context.Context, suggestedName string) (PathChoice, error)
}

// ChooserFunc adapts a function to PathChooser.
type ChooserFunc func(ctx context.Context, suggestedName string) (PathChoice, error)

func (f ChooserFunc) ChooseSavePath(ctx context.Context, suggestedName string) (PathChoice, error) {
	return f(ctx, suggestedName)
}

// API is the backend capability set. All methods may block on I/O and may
// fail independently; messages are meant for the user and are passed through
// untouched.
type API interface {
	RenderImage(ctx context.Context, req RenderRequest) (RenderResult, error)
	LoadConfig(ctx context.Context) (settings.Config, error)
	SaveConfig(ctx context.Context, cfg settings.Config) (Status, error)
	PathChooser
}
