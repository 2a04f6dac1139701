/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package settings holds the user's rendering settings and save history as an
// in-memory mirror of what the backend persists.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	ThemeLight = "light"
	ThemeDark  = "dark"

	// MaxHistory bounds Config.History.
	MaxHistory = 10

	DefaultFormat          = "png"
	DefaultFontSize        = 24
	DefaultBackgroundColor = "#FFFFFF"
	DefaultForegroundColor = "#000000"
	DefaultImageWidth      = 800
)

// ErrConfigLoadFailed reports that the initial load from the backend failed.
// The UI keeps working with defaults.
var ErrConfigLoadFailed = errors.New("config load failed")

// Config is the persisted settings document. JSON keys match the config.json
// written by earlier releases so existing files load unchanged.
type Config struct {
	Format          string   `json:"default_format,omitempty"`
	FontSize        int      `json:"font_size,omitempty"`
	BackgroundColor string   `json:"bg_color,omitempty"`
	ForegroundColor string   `json:"font_color,omitempty"`
	ImageWidth      int      `json:"image_width,omitempty"`
	Theme           string   `json:"theme,omitempty"`
	History         []string `json:"history"`
}

// UnmarshalJSON accepts numeric fields encoded as strings ("24"), which older
// clients wrote straight from form inputs.
func (c *Config) UnmarshalJSON(b []byte) error {
	type alias Config
	var raw struct {
		alias
		FontSize   flexInt `json:"font_size"`
		ImageWidth flexInt `json:"image_width"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Config(raw.alias)
	c.FontSize = int(raw.FontSize)
	c.ImageWidth = int(raw.ImageWidth)
	return nil
}

type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		*f = flexInt(n)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := n.Float64()
	if err != nil {
		return err
	}
	*f = flexInt(int(v))
	return nil
}

// WithDefaults returns a copy of c with every missing optional field filled.
func WithDefaults(c Config) Config {
	out := c.clone()
	if strings.TrimSpace(out.Format) == "" {
		out.Format = DefaultFormat
	}
	if out.FontSize <= 0 {
		out.FontSize = DefaultFontSize
	}
	if strings.TrimSpace(out.BackgroundColor) == "" {
		out.BackgroundColor = DefaultBackgroundColor
	}
	if strings.TrimSpace(out.ForegroundColor) == "" {
		out.ForegroundColor = DefaultForegroundColor
	}
	if out.ImageWidth <= 0 {
		out.ImageWidth = DefaultImageWidth
	}
	if out.Theme != ThemeDark {
		out.Theme = ThemeLight
	}
	if out.History == nil {
		out.History = []string{}
	}
	if len(out.History) > MaxHistory {
		out.History = out.History[:MaxHistory]
	}
	return out
}

func (c Config) clone() Config {
	out := c
	if c.History != nil {
		out.History = append([]string(nil), c.History...)
	}
	return out
}
