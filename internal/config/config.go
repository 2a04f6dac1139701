/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package config holds the application-level configuration: which backend to
// talk to, how long to wait for it, where local data lives and how to log.
// It is distinct from the user's rendering settings (see package settings),
// which are owned by the backend and persisted through it.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend modes.
const (
	ModeLocal = "local"
	ModeHTTP  = "http"
)

type BackendConfig struct {
	Mode      string `yaml:"mode"` // "local" | "http"
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
	// ProbeAttempts and ProbeIntervalMs bound the startup handshake.
	ProbeAttempts   int `yaml:"probe_attempts"`
	ProbeIntervalMs int `yaml:"probe_interval_ms"`
	// Token is not stored on disk; it lives in the OS keychain.
}

type StorageConfig struct {
	// SettingsDB is the SQLite file used by the local backend. Empty means the
	// default location next to config.yaml.
	SettingsDB string `yaml:"settings_db"`
	// FontFile optionally points at a TTF/OTF used for rendering.
	FontFile string `yaml:"font_file"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// DSN selects the config repository: postgres://... uses pgx, anything
	// else is treated as a SQLite path.
	DSN string `yaml:"dsn"`
}

type GeneralConfig struct {
	TelemetryOptIn bool `yaml:"telemetry_opt_in"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Backend       BackendConfig `yaml:"backend"`
	Storage       StorageConfig `yaml:"storage"`
	Server        ServerConfig  `yaml:"server"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Backend: BackendConfig{
			Mode:            ModeLocal,
			BaseURL:         "http://localhost:8080",
			TimeoutMs:       15000,
			ProbeAttempts:   20,
			ProbeIntervalMs: 300,
		},
		Server:  ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvBackendMode      = "T2I_BACKEND_MODE"
	EnvBackendURL       = "T2I_BACKEND_URL"
	EnvBackendTimeoutMs = "T2I_BACKEND_TIMEOUT_MS"
	EnvProbeAttempts    = "T2I_PROBE_ATTEMPTS"
	EnvProbeIntervalMs  = "T2I_PROBE_INTERVAL_MS"
	EnvSettingsDB       = "T2I_SETTINGS_DB"
	EnvFontFile         = "T2I_FONT_FILE"
	EnvServerAddr       = "T2I_SERVER_ADDR"
	EnvServerDSN        = "T2I_SERVER_DSN"
	EnvTelemetryOptIn   = "T2I_TELEMETRY_OPT_IN"
	EnvLogLevel         = "T2I_LOG_LEVEL"
	EnvLogFormat        = "T2I_LOG_FORMAT"
	EnvLogSource        = "T2I_LOG_SOURCE"
	EnvLogFile          = "T2I_LOG_FILE"
	// EnvBackendToken takes precedence over the keyring, for headless hosts.
	EnvBackendToken = "T2I_BACKEND_TOKEN"
	// EnvConfigDir relocates config.yaml; mostly useful for tests and portable installs.
	EnvConfigDir = "T2I_CONFIG_DIR"
)

// ConfigDir returns the per-user directory holding config.yaml and local data.
func ConfigDir() (string, error) {
	if d := strings.TrimSpace(os.Getenv(EnvConfigDir)); d != "" {
		return d, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "Txt2Img")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "Txt2Img")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "txt2img")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "txt2img")
		}
	}
	if base == "" || base == "txt2img" {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// SettingsDBPath resolves the SQLite settings file, falling back to the config dir.
func (c AppConfig) SettingsDBPath() (string, error) {
	if p := strings.TrimSpace(c.Storage.SettingsDB); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.sqlite"), nil
}

// Load reads the user config file (if present), applies defaults, and merges
// environment overrides. The backend token comes from the keyring and is
// returned separately.
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, "", err
		}
		mergeInto(&cfg, &fileCfg)
	}
	applyEnvOverrides(&cfg)
	if tok := strings.TrimSpace(os.Getenv(EnvBackendToken)); tok != "" {
		return cfg, tok, nil
	}
	tok, _ := tokenStore.Get(keyringService, keyringToken)
	return cfg, tok, nil
}

// Save writes the user config YAML and stores a non-empty token in the keyring.
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		if err := tokenStore.Set(keyringService, keyringToken, token); err != nil {
			return err
		}
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn

	if m := strings.ToLower(strings.TrimSpace(src.Backend.Mode)); m == ModeLocal || m == ModeHTTP {
		dst.Backend.Mode = m
	}
	if strings.TrimSpace(src.Backend.BaseURL) != "" {
		dst.Backend.BaseURL = strings.TrimSpace(src.Backend.BaseURL)
	}
	if src.Backend.TimeoutMs > 0 {
		dst.Backend.TimeoutMs = src.Backend.TimeoutMs
	}
	if src.Backend.ProbeAttempts > 0 {
		dst.Backend.ProbeAttempts = src.Backend.ProbeAttempts
	}
	if src.Backend.ProbeIntervalMs > 0 {
		dst.Backend.ProbeIntervalMs = src.Backend.ProbeIntervalMs
	}

	if strings.TrimSpace(src.Storage.SettingsDB) != "" {
		dst.Storage.SettingsDB = strings.TrimSpace(src.Storage.SettingsDB)
	}
	if strings.TrimSpace(src.Storage.FontFile) != "" {
		dst.Storage.FontFile = strings.TrimSpace(src.Storage.FontFile)
	}
	if strings.TrimSpace(src.Server.Addr) != "" {
		dst.Server.Addr = strings.TrimSpace(src.Server.Addr)
	}
	if strings.TrimSpace(src.Server.DSN) != "" {
		dst.Server.DSN = strings.TrimSpace(src.Server.DSN)
	}

	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func parseBool(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func envInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.ToLower(strings.TrimSpace(os.Getenv(EnvBackendMode))); v == ModeLocal || v == ModeHTTP {
		cfg.Backend.Mode = v
	}
	envString(EnvBackendURL, &cfg.Backend.BaseURL)
	envInt(EnvBackendTimeoutMs, &cfg.Backend.TimeoutMs)
	envInt(EnvProbeAttempts, &cfg.Backend.ProbeAttempts)
	envInt(EnvProbeIntervalMs, &cfg.Backend.ProbeIntervalMs)
	envString(EnvSettingsDB, &cfg.Storage.SettingsDB)
	envString(EnvFontFile, &cfg.Storage.FontFile)
	envString(EnvServerAddr, &cfg.Server.Addr)
	envString(EnvServerDSN, &cfg.Server.DSN)
	if v := os.Getenv(EnvTelemetryOptIn); strings.TrimSpace(v) != "" {
		cfg.General.TelemetryOptIn = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogSource); strings.TrimSpace(v) != "" {
		cfg.Logging.Source = parseBool(v)
	}
	envString(EnvLogFile, &cfg.Logging.File)
}

// Timeout returns the per-call HTTP timeout, falling back to the default.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// ProbeInterval returns the handshake polling interval.
func (b BackendConfig) ProbeInterval() time.Duration {
	if b.ProbeIntervalMs <= 0 {
		return time.Duration(Defaults().Backend.ProbeIntervalMs) * time.Millisecond
	}
	return time.Duration(b.ProbeIntervalMs) * time.Millisecond
}

// MaxProbeAttempts returns the handshake attempt budget.
func (b BackendConfig) MaxProbeAttempts() int {
	if b.ProbeAttempts <= 0 {
		return Defaults().Backend.ProbeAttempts
	}
	return b.ProbeAttempts
}
