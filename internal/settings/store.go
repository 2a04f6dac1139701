/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package settings

import (
	"log/slog"
	"strings"
	"sync"

	applog "txt2img/internal/log"
)

// StyleEdits are the form values copied into the Config on an explicit
// "save config". Theme and history are not part of it.
type StyleEdits struct {
	Format          string
	FontSize        int
	BackgroundColor string
	ForegroundColor string
	ImageWidth      int
}

// Store owns the single Config instance. It is safe for concurrent use.
//
// Until Initialize runs the store is empty: reads fall back to defaults and
// writes (history, theme) still succeed, so a failed load degrades features
// instead of breaking them.
type Store struct {
	mu          sync.Mutex
	cfg         Config
	initialized bool
	listeners   []func(Config)
	log         *slog.Logger
}

func NewStore() *Store {
	return &Store{log: applog.WithComponent("settings")}
}

// Initialize seeds the store from the backend-loaded config and fills defaults.
func (s *Store) Initialize(loaded Config) {
	s.mu.Lock()
	s.cfg = WithDefaults(loaded)
	s.initialized = true
	snap := s.cfg.clone()
	s.mu.Unlock()
	s.log.Debug("settings initialized", slog.String("theme", snap.Theme), slog.Int("history", len(snap.History)))
	s.notify(snap)
}

// Initialized reports whether Initialize has run.
func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Current returns the config with defaults applied for any unset field.
func (s *Store) Current() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return WithDefaults(s.cfg)
}

// RecordHistory prepends path and trims the list to MaxHistory. Empty paths
// are ignored. Duplicates are kept. It reports whether history changed.
func (s *Store) RecordHistory(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	s.mu.Lock()
	h := make([]string, 0, MaxHistory)
	h = append(h, path)
	h = append(h, s.cfg.History...)
	if len(h) > MaxHistory {
		h = h[:MaxHistory]
	}
	s.cfg.History = h
	snap := s.cfg.clone()
	s.mu.Unlock()
	s.notify(snap)
	return true
}

// History returns a copy of the history, most recent first.
func (s *Store) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.cfg.History...)
}

// Theme returns the current theme, light when unset.
func (s *Store) Theme() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Theme == ThemeDark {
		return ThemeDark
	}
	return ThemeLight
}

// ToggleTheme flips between light and dark and returns the new value.
func (s *Store) ToggleTheme() string {
	s.mu.Lock()
	if s.cfg.Theme == ThemeDark {
		s.cfg.Theme = ThemeLight
	} else {
		s.cfg.Theme = ThemeDark
	}
	snap := s.cfg.clone()
	s.mu.Unlock()
	s.notify(snap)
	return snap.Theme
}

// ApplyEdits copies form values into the config. Zero values leave the
// stored field untouched.
func (s *Store) ApplyEdits(e StyleEdits) {
	s.mu.Lock()
	if f := strings.TrimSpace(e.Format); f != "" {
		s.cfg.Format = f
	}
	if e.FontSize > 0 {
		s.cfg.FontSize = e.FontSize
	}
	if c := strings.TrimSpace(e.BackgroundColor); c != "" {
		s.cfg.BackgroundColor = c
	}
	if c := strings.TrimSpace(e.ForegroundColor); c != "" {
		s.cfg.ForegroundColor = c
	}
	if e.ImageWidth > 0 {
		s.cfg.ImageWidth = e.ImageWidth
	}
	snap := s.cfg.clone()
	s.mu.Unlock()
	s.notify(snap)
}

// SnapshotForSave returns a deep copy of the full config for the persistence
// call. It does not persist anything itself.
func (s *Store) SnapshotForSave() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.cfg.clone()
	if snap.History == nil {
		snap.History = []string{}
	}
	return snap
}

// OnChange registers fn to receive a copy of the config after every mutation.
// Listeners run on the mutating goroutine, outside the store lock.
func (s *Store) OnChange(fn func(Config)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify(c Config) {
	s.mu.Lock()
	ls := append([]func(Config){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range ls {
		fn(c.clone())
	}
}
