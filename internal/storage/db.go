/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	applog "txt2img/internal/log"
	"txt2img/internal/settings"
	"txt2img/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// DefaultFileName is the database file inside the config dir.
	DefaultFileName = "settings.sqlite"

	// schemaVersion tracks the SQLite schema. Bump it together with a new
	// step in runMigrations.
	schemaVersion = 3

	// KeepRevisions bounds the config_revisions table.
	KeepRevisions = 5
)

// DB is the settings database. It is safe for concurrent use; SQLite writes
// are serialized through a single connection.
type DB struct {
	db   *sql.DB
	path string
	log  *slog.Logger
}

// Open creates or opens the database at path, enables WAL and brings the
// schema up to date.
func Open(ctx context.Context, path string) (*DB, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "open").With(slog.String("path", path))
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("settings db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.Error("create dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create settings dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure meta/version failed", slog.Any("err", err))
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure schema failed", slog.Any("err", err))
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}
	l.Debug("settings db ready")
	return &DB{db: db, path: path, log: applog.WithComponent("storage")}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var cur int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// fresh databases start at schema 1 and migrate forward
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 1, ?, ?, ?)`, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	q := `CREATE TABLE IF NOT EXISTS settings (
		id          INTEGER PRIMARY KEY CHECK(id=1),
		doc         TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);`
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create settings table: %w", err)
	}
	return nil
}

// runMigrations applies schema steps up to schemaVersion. Newer databases
// are left alone.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for cur < schemaVersion {
		next := cur + 1
		var stmts []string
		switch next {
		case 2:
			stmts = []string{
				`CREATE TABLE IF NOT EXISTS config_revisions (
					id        INTEGER PRIMARY KEY AUTOINCREMENT,
					doc       TEXT NOT NULL,
					saved_at  TEXT NOT NULL
				);`,
				`CREATE INDEX IF NOT EXISTS idx_config_revisions_saved ON config_revisions(saved_at);`,
			}
		case 3:
			stmts = []string{
				`CREATE TABLE IF NOT EXISTS render_cache (
					key          TEXT PRIMARY KEY,
					format       TEXT NOT NULL,
					blob         BLOB NOT NULL,
					size         INTEGER NOT NULL,
					created_at   TEXT NOT NULL,
					last_access  TEXT
				);`,
				`CREATE INDEX IF NOT EXISTS idx_render_cache_access ON render_cache(last_access);`,
			}
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	return nil
}

// SchemaVersion returns the schema version stored in the database.
func (d *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := d.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&v)
	return v, err
}

// Load returns the stored settings. found is false when nothing was saved
// yet; the returned Config is then empty and the caller applies defaults.
func (d *DB) Load(ctx context.Context) (cfg settings.Config, found bool, err error) {
	var doc string
	err = d.db.QueryRowContext(ctx, `SELECT doc FROM settings WHERE id=1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.Config{}, false, nil
	}
	if err != nil {
		return settings.Config{}, false, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
		return settings.Config{}, true, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, true, nil
}

// Save validates cfg and replaces the stored document in one transaction,
// recording a revision and pruning old ones.
func (d *DB) Save(ctx context.Context, cfg settings.Config) error {
	l := applog.WithOperation(d.log, "save")
	if cfg.History == nil {
		cfg.History = []string{}
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := ValidateDocument(doc); err != nil {
		l.Warn("settings rejected", slog.Any("err", err))
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO settings (id, doc, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`, string(doc), now); err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO config_revisions (doc, saved_at) VALUES (?, ?)`, string(doc), now); err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM config_revisions WHERE id NOT IN (
		SELECT id FROM config_revisions ORDER BY id DESC LIMIT ?)`, KeepRevisions); err != nil {
		return fmt.Errorf("prune revisions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	l.Debug("settings saved", slog.Int("bytes", len(doc)))
	return nil
}

// Revision is a previously saved document.
type Revision struct {
	ID      int64
	SavedAt time.Time
	Config  settings.Config
}

// Revisions returns saved documents, newest first.
func (d *DB) Revisions(ctx context.Context) ([]Revision, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, doc, saved_at FROM config_revisions ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()
	var out []Revision
	for rows.Next() {
		var (
			r       Revision
			doc, ts string
		)
		if err := rows.Scan(&r.ID, &doc, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(doc), &r.Config); err != nil {
			return nil, fmt.Errorf("%w: revision %d: %v", ErrInvalidConfig, r.ID, err)
		}
		r.SavedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ImportJSONFile saves the config.json written by earlier releases if the
// database is still empty. It reports whether anything was imported.
func (d *DB) ImportJSONFile(ctx context.Context, path string) (bool, error) {
	if _, found, err := d.Load(ctx); err != nil || found {
		return false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg settings.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, filepath.Base(path), err)
	}
	if err := d.Save(ctx, settings.WithDefaults(cfg)); err != nil {
		return false, err
	}
	d.log.Info("imported legacy settings", slog.String("path", path))
	return true, nil
}
