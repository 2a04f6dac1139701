/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"txt2img/internal/settings"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "cfg", DefaultFileName))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoadEmptyDatabase(t *testing.T) {
	db := openTemp(t)
	cfg, found, err := db.Load(context.Background())
	if err != nil || found {
		t.Fatalf("Load = %+v, %v, %v", cfg, found, err)
	}
	v, err := db.SchemaVersion(context.Background())
	if err != nil || v != schemaVersion {
		t.Fatalf("schema = %d, %v", v, err)
	}
}

func TestSaveLoadRoundTripAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	ctx := context.Background()
	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := settings.Config{Format: "bmp", FontSize: 30, BackgroundColor: "#000000", ForegroundColor: "#ffffff", ImageWidth: 640, Theme: "dark", History: []string{"/a.bmp"}}
	if err := db.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = db.Close()

	db, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	got, found, err := db.Load(ctx)
	if err != nil || !found {
		t.Fatalf("Load: %v %v", found, err)
	}
	if got.Format != want.Format || got.FontSize != 30 || got.Theme != "dark" || len(got.History) != 1 || got.History[0] != "/a.bmp" {
		t.Fatalf("got %+v", got)
	}
}

func TestSaveRejectsInvalidDocument(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	good := settings.WithDefaults(settings.Config{})
	if err := db.Save(ctx, good); err != nil {
		t.Fatalf("Save good: %v", err)
	}
	bad := good
	bad.BackgroundColor = "blue"
	if err := db.Save(ctx, bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	long := good
	long.History = make([]string, settings.MaxHistory+1)
	for i := range long.History {
		long.History[i] = fmt.Sprintf("/p%d.png", i)
	}
	if err := db.Save(ctx, long); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("history err = %v", err)
	}
	got, _, _ := db.Load(ctx)
	if got.BackgroundColor != settings.DefaultBackgroundColor {
		t.Fatalf("rejected save was persisted: %+v", got)
	}
}

func TestNilHistoryIsStoredAsList(t *testing.T) {
	db := openTemp(t)
	if err := db.Save(context.Background(), settings.Config{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _, err := db.Load(context.Background())
	if err != nil || got.History == nil {
		t.Fatalf("history = %#v, %v", got.History, err)
	}
}

func TestRevisionsArePruned(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	for i := 1; i <= KeepRevisions+3; i++ {
		if err := db.Save(ctx, settings.Config{FontSize: i}); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	revs, err := db.Revisions(ctx)
	if err != nil {
		t.Fatalf("Revisions: %v", err)
	}
	if len(revs) != KeepRevisions {
		t.Fatalf("revisions = %d", len(revs))
	}
	if revs[0].Config.FontSize != KeepRevisions+3 {
		t.Fatalf("newest revision = %+v", revs[0].Config)
	}
}

func TestMigratesVersionOneDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	raw, err := sql.Open("sqlite", "file:"+filepath.ToSlash(path))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, q := range []string{
		`CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`,
		`CREATE TABLE version (id INTEGER PRIMARY KEY CHECK(id=1), schema INTEGER NOT NULL, app TEXT, created_at TEXT NOT NULL, updated_at TEXT NOT NULL);`,
		`INSERT INTO version VALUES(1, 1, 'old', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z');`,
		`CREATE TABLE settings (id INTEGER PRIMARY KEY CHECK(id=1), doc TEXT NOT NULL, updated_at TEXT NOT NULL);`,
		`INSERT INTO settings VALUES(1, '{"font_size":"18","history":[]}', '2024-01-01T00:00:00Z');`,
	} {
		if _, err := raw.ExecContext(ctx, q); err != nil {
			t.Fatalf("seed v1: %v (q=%s)", err, q)
		}
	}
	_ = raw.Close()

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if v, _ := db.SchemaVersion(ctx); v != schemaVersion {
		t.Fatalf("schema = %d", v)
	}
	got, found, err := db.Load(ctx)
	if err != nil || !found || got.FontSize != 18 {
		t.Fatalf("Load = %+v %v %v", got, found, err)
	}
	if err := db.Save(ctx, got); err != nil {
		t.Fatalf("Save after migration: %v", err)
	}
}

func TestCorruptDatabaseFailsToOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, bytes.Repeat([]byte("THIS IS NOT SQLITE "), 256), 0o644); err != nil {
		t.Fatal(err)
	}
	if db, err := Open(context.Background(), path); err == nil {
		_ = db.Close()
		t.Fatalf("expected error for corrupt database")
	}
}

func TestImportJSONFile(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	dir := t.TempDir()
	legacy := filepath.Join(dir, "config.json")

	if ok, err := db.ImportJSONFile(ctx, legacy); ok || err != nil {
		t.Fatalf("missing file: %v %v", ok, err)
	}
	doc := `{"theme":"dark","default_format":"jpeg","font_size":"28","bg_color":"#FFFFFF","font_color":"#000000","image_width":"500","history":["C:/out.jpeg"]}`
	if err := os.WriteFile(legacy, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	ok, err := db.ImportJSONFile(ctx, legacy)
	if err != nil || !ok {
		t.Fatalf("import: %v %v", ok, err)
	}
	got, _, _ := db.Load(ctx)
	if got.Theme != "dark" || got.FontSize != 28 || got.ImageWidth != 500 || got.History[0] != "C:/out.jpeg" {
		t.Fatalf("imported %+v", got)
	}
	if ok, _ := db.ImportJSONFile(ctx, legacy); ok {
		t.Fatalf("imported twice")
	}
}

func TestValidateDocument(t *testing.T) {
	if err := ValidateDocument([]byte(`{"history":[]}`)); err != nil {
		t.Fatalf("minimal doc: %v", err)
	}
	for _, bad := range []string{
		`{}`,
		`{"history":[],"theme":"blue"}`,
		`{"history":[],"font_size":0}`,
		`{"history":[""]}`,
		`not json`,
	} {
		if err := ValidateDocument([]byte(bad)); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: err = %v", bad, err)
		}
	}
}
