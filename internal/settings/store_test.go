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
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
)

func TestInitializeAppliesDefaults(t *testing.T) {
	s := NewStore()
	if s.Initialized() {
		t.Fatalf("new store must not be initialized")
	}
	s.Initialize(Config{Format: "jpeg", FontSize: 30})
	got := s.Current()
	want := Config{Format: "jpeg", FontSize: 30, BackgroundColor: "#FFFFFF", ForegroundColor: "#000000", ImageWidth: 800, Theme: ThemeLight, History: []string{}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Current() = %#v, want %#v", got, want)
	}
	if !s.Initialized() {
		t.Fatalf("Initialized() = false after Initialize")
	}
}

func TestRecordHistoryBoundedMostRecentFirst(t *testing.T) {
	s := NewStore()
	s.Initialize(Config{})
	for i := 1; i <= 15; i++ {
		s.RecordHistory(fmt.Sprintf("/out/%02d.png", i))
	}
	h := s.History()
	if len(h) != MaxHistory {
		t.Fatalf("len(history) = %d, want %d", len(h), MaxHistory)
	}
	for i, p := range h {
		if want := fmt.Sprintf("/out/%02d.png", 15-i); p != want {
			t.Fatalf("history[%d] = %q, want %q", i, p, want)
		}
	}
}

func TestRecordHistoryIgnoresEmpty(t *testing.T) {
	s := NewStore()
	s.Initialize(Config{History: []string{"/a.png"}})
	if s.RecordHistory("") || s.RecordHistory("   ") {
		t.Fatalf("empty path reported as a change")
	}
	if h := s.History(); len(h) != 1 || h[0] != "/a.png" {
		t.Fatalf("history changed: %v", h)
	}
}

func TestRecordHistoryKeepsDuplicates(t *testing.T) {
	s := NewStore()
	s.RecordHistory("/a.png")
	s.RecordHistory("/a.png")
	if h := s.History(); len(h) != 2 {
		t.Fatalf("duplicates dropped: %v", h)
	}
}

func TestToggleTheme(t *testing.T) {
	s := NewStore()
	if got := s.ToggleTheme(); got != ThemeDark {
		t.Fatalf("first toggle = %q, want dark", got)
	}
	if got := s.ToggleTheme(); got != ThemeLight {
		t.Fatalf("second toggle = %q, want light", got)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := NewStore()
	s.Initialize(Config{History: []string{"/a.png"}})
	snap := s.SnapshotForSave()
	snap.History[0] = "mutated"
	if s.History()[0] != "/a.png" {
		t.Fatalf("snapshot aliases store state")
	}
}

func TestSnapshotOfEmptyStoreHasNonNilHistory(t *testing.T) {
	snap := NewStore().SnapshotForSave()
	if snap.History == nil {
		t.Fatalf("history must encode as [] not null")
	}
}

func TestApplyEditsOnlyOnExplicitCall(t *testing.T) {
	s := NewStore()
	s.Initialize(Config{Theme: ThemeDark})
	s.ApplyEdits(StyleEdits{Format: "bmp", FontSize: 40, BackgroundColor: "#111111", ImageWidth: 1024})
	c := s.SnapshotForSave()
	if c.Format != "bmp" || c.FontSize != 40 || c.BackgroundColor != "#111111" || c.ForegroundColor != "#000000" || c.ImageWidth != 1024 {
		t.Fatalf("edits not applied: %#v", c)
	}
	if c.Theme != ThemeDark {
		t.Fatalf("ApplyEdits must not touch theme")
	}
}

func TestOnChangeReceivesCopies(t *testing.T) {
	s := NewStore()
	var seen [][]string
	s.OnChange(func(c Config) { seen = append(seen, c.History) })
	s.RecordHistory("/x.png")
	s.RecordHistory("")
	if len(seen) != 1 || seen[0][0] != "/x.png" {
		t.Fatalf("unexpected notifications: %v", seen)
	}
}

func TestUnmarshalAcceptsStringNumbers(t *testing.T) {
	raw := `{"theme":"dark","default_format":"png","font_size":"32","bg_color":"#FFFFFF","font_color":"#000000","image_width":640,"history":["/a.png"]}`
	var c Config
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.FontSize != 32 || c.ImageWidth != 640 || c.Theme != ThemeDark || len(c.History) != 1 {
		t.Fatalf("decoded config wrong: %#v", c)
	}
}

func TestUnmarshalRejectsGarbageNumbers(t *testing.T) {
	var c Config
	if err := json.Unmarshal([]byte(`{"font_size":"big"}`), &c); err == nil {
		t.Fatalf("expected error for non-numeric font_size")
	}
}

func TestWithDefaultsTruncatesOversizedHistory(t *testing.T) {
	h := make([]string, 12)
	for i := range h {
		h[i] = fmt.Sprintf("/%d", i)
	}
	c := WithDefaults(Config{History: h})
	if len(c.History) != MaxHistory || c.History[0] != "/0" {
		t.Fatalf("history not truncated: %v", c.History)
	}
}
