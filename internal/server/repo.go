/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package server exposes the renderer and a settings repository over HTTP so
// that desktop clients in http mode can share one backend.
package server

import (
	"context"
	"strings"

	"txt2img/internal/settings"
	"txt2img/internal/storage"
)

// Repository stores the settings document served under /api/config.
type Repository interface {
	// Load returns the stored document; found is false when nothing was saved.
	Load(ctx context.Context) (cfg settings.Config, found bool, err error)
	Save(ctx context.Context, cfg settings.Config) error
	Close() error
}

// pinger is implemented by repositories whose readiness can change at runtime.
type pinger interface {
	Ping(ctx context.Context) error
}

var _ Repository = (*storage.DB)(nil)

// IsPostgresDSN reports whether dsn addresses a Postgres server.
func IsPostgresDSN(dsn string) bool {
	d := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://")
}

// OpenRepository opens Postgres for postgres:// DSNs and treats anything else
// as a SQLite file path.
func OpenRepository(ctx context.Context, dsn string) (Repository, error) {
	if IsPostgresDSN(dsn) {
		return OpenPG(ctx, dsn)
	}
	return storage.Open(ctx, dsn)
}
