/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0.
 */

package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultCacheBytes caps the render cache unless T2I_RENDER_CACHE_BYTES
// overrides it. Zero or negative disables eviction.
const DefaultCacheBytes int64 = 32 << 20

// accessLayout has a fixed width so last_access sorts as text.
const accessLayout = "2006-01-02T15:04:05.000000000Z"

// CacheKey hashes any JSON-encodable request into a cache key.
func CacheKey(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MaxCacheBytesFromEnv reads T2I_RENDER_CACHE_BYTES.
func MaxCacheBytesFromEnv() int64 {
	v := strings.TrimSpace(os.Getenv("T2I_RENDER_CACHE_BYTES"))
	if v == "" {
		return DefaultCacheBytes
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return DefaultCacheBytes
	}
	return n
}

// GetRender returns the cached bytes for key and marks them recently used.
// A miss returns nil, nil.
func (d *DB) GetRender(ctx context.Context, key string) (format string, blob []byte, err error) {
	err = d.db.QueryRowContext(ctx, `SELECT format, blob FROM render_cache WHERE key=?`, key).Scan(&format, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("query render cache: %w", err)
	}
	now := time.Now().UTC().Format(accessLayout)
	_, _ = d.db.ExecContext(ctx, `UPDATE render_cache SET last_access=? WHERE key=?`, now, key)
	return format, blob, nil
}

// PutRender stores blob under key and evicts least recently used entries
// until the cache fits capBytes.
func (d *DB) PutRender(ctx context.Context, key, format string, blob []byte, capBytes int64) error {
	now := time.Now().UTC().Format(accessLayout)
	if _, err := d.db.ExecContext(ctx, `INSERT INTO render_cache(key, format, blob, size, created_at, last_access)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET format=excluded.format, blob=excluded.blob, size=excluded.size, last_access=excluded.last_access`,
		key, format, blob, len(blob), now, now); err != nil {
		return fmt.Errorf("upsert render cache: %w", err)
	}
	if capBytes > 0 {
		return d.evictToFit(ctx, capBytes)
	}
	return nil
}

// CacheSize returns the number of entries and their total size.
func (d *DB) CacheSize(ctx context.Context) (entries int, bytes int64, err error) {
	err = d.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size),0) FROM render_cache`).Scan(&entries, &bytes)
	return entries, bytes, err
}

func (d *DB) evictToFit(ctx context.Context, capBytes int64) error {
	var total int64
	if err := d.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM render_cache`).Scan(&total); err != nil {
		return fmt.Errorf("sum render cache: %w", err)
	}
	if total <= capBytes {
		return nil
	}
	rows, err := d.db.QueryContext(ctx, `SELECT key, size FROM render_cache ORDER BY
		CASE WHEN last_access IS NULL THEN 0 ELSE 1 END ASC, last_access ASC`)
	if err != nil {
		return fmt.Errorf("select victims: %w", err)
	}
	var victims []any
	cur := total
	for rows.Next() {
		var key string
		var sz int64
		if err := rows.Scan(&key, &sz); err != nil {
			_ = rows.Close()
			return err
		}
		victims = append(victims, key)
		cur -= sz
		if cur <= capBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	// the single connection must be released before writing
	if err := rows.Close(); err != nil {
		return err
	}
	if len(victims) == 0 {
		return nil
	}
	q := `DELETE FROM render_cache WHERE key IN (?` + strings.Repeat(",?", len(victims)-1) + `)`
	if _, err := d.db.ExecContext(ctx, q, victims...); err != nil {
		return fmt.Errorf("evict render cache: %w", err)
	}
	return nil
}
