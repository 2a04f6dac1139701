/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry sends opt-in anonymous usage events (preview rendered,
// image saved, backend unavailable) and optional crash uploads. Events are
// queued, batched and posted as a JSON array; properties outside a fixed
// allow-list are dropped so user text and file paths never leave the machine.
package telemetry

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	applog "txt2img/internal/log"
	"txt2img/internal/version"
)

// Config holds runtime configuration for telemetry and crash uploads.
// All telemetry is strictly opt-in and disabled by default.
//
// Environment variables (read by FromEnv):
//   - T2I_TELEMETRY_OPT_IN: "1", "true", "yes" to enable events
//   - T2I_TELEMETRY_URL: URL to POST event batches to
//   - T2I_CRASH_UPLOAD_URL: URL to POST crash reports to
//   - T2I_TELEMETRY_TIMEOUT_MS: request timeout, default 1500ms
//   - T2I_TELEMETRY_DEBUG: if set, logs send attempts
//
// If no URLs are set, events are dropped, even if opt-in is true.
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
	// FlushEvery is the batch interval; zero means two seconds.
	FlushEvery time.Duration
}

func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv("T2I_TELEMETRY_OPT_IN")),
		EventsURL:    strings.TrimSpace(os.Getenv("T2I_TELEMETRY_URL")),
		CrashURL:     strings.TrimSpace(os.Getenv("T2I_CRASH_UPLOAD_URL")),
		Timeout:      1500 * time.Millisecond,
		DebugLogging: os.Getenv("T2I_TELEMETRY_DEBUG") != "",
	}
	if ms := strings.TrimSpace(os.Getenv("T2I_TELEMETRY_TIMEOUT_MS")); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil {
			cfg.Timeout = v
		}
	}
	return cfg
}

// Event names.
const (
	EventStarted            = "app_started"
	EventPreviewRendered    = "preview_rendered"
	EventPreviewFailed      = "preview_failed"
	EventImageSaved         = "image_saved"
	EventBackendUnavailable = "backend_unavailable"
	EventConfigSaved        = "config_saved"
)

const (
	queueSize = 64
	maxBatch  = 16
)

// allowedProps lists the only property keys that are sent.
var allowedProps = map[string]bool{
	"format": true,
	"bytes":  true,
	"mode":   true,
}

// Sink receives events. *Client implements it; tests use fakes.
type Sink interface {
	Event(name string, props map[string]any)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(name string, props map[string]any)

func (f SinkFunc) Event(name string, props map[string]any) { f(name, props) }

// Default returns a Sink backed by the package default client.
func Default() Sink { return SinkFunc(Event) }

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// record is one queued event as it goes over the wire.
type record struct {
	Name    string         `json:"name"`
	TS      string         `json:"ts"`
	Session string         `json:"session"`
	Version string         `json:"version"`
	OS      string         `json:"os"`
	Arch    string         `json:"arch"`
	Props   map[string]any `json:"props,omitempty"`
}

// Client batches events in a background goroutine. Sending never blocks the
// caller; a full queue drops the event.
type Client struct {
	cfg     Config
	log     *slog.Logger
	cli     *http.Client
	session string

	q      chan record
	flush  chan chan struct{}
	once   sync.Once
	closed chan struct{}
	done   chan struct{}
}

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// InitDefault installs a default client from env unless one exists.
func InitDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		defaultClient = New(FromEnv())
	}
}

// NewDefault replaces the default client with one built from cfg.
func NewDefault(cfg Config) {
	c := New(cfg)
	defaultMu.Lock()
	prev := defaultClient
	defaultClient = c
	defaultMu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

func current() *Client {
	InitDefault()
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultClient
}

// Configure installs the default client from env, enabling it when optIn is
// set in the user config even if the env var is not.
func Configure(optIn bool) {
	cfg := FromEnv()
	cfg.OptIn = cfg.OptIn || optIn
	NewDefault(cfg)
}

// New constructs a client and starts its sender.
func New(cfg Config) *Client {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 2 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		log:     applog.WithComponent("telemetry"),
		cli:     &http.Client{Timeout: cfg.Timeout},
		session: newSession(),
		q:       make(chan record, queueSize),
		flush:   make(chan chan struct{}),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.loop()
	return c
}

func newSession() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}

// Enabled reports whether anonymous telemetry is enabled and an endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Enabled reports whether the default client is enabled.
func Enabled() bool { return current().Enabled() }

// Event queues an event if enabled. Safe to call from anywhere.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || name == "" {
		return
	}
	r := record{
		Name:    name,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Session: c.session,
		Version: version.String(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		Props:   scrub(props),
	}
	select {
	case c.q <- r:
	default:
	}
}

// Event queues on the default client.
func Event(name string, props map[string]any) { current().Event(name, props) }

func scrub(props map[string]any) map[string]any {
	var out map[string]any
	for k, v := range props {
		if !allowedProps[k] {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(props))
		}
		out[k] = v
	}
	return out
}

// Flush sends everything queued so far and waits for the post to finish or
// ctx to end.
func (c *Client) Flush(ctx context.Context) {
	if c == nil {
		return
	}
	ack := make(chan struct{})
	select {
	case c.flush <- ack:
	case <-c.done:
		return
	case <-ctx.Done():
		return
	}
	select {
	case <-ack:
	case <-ctx.Done():
	}
}

// Close stops the sender. Queued events are dropped; call Flush first to
// keep them.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.once.Do(func() { close(c.closed) })
}

func (c *Client) loop() {
	defer close(c.done)
	tick := time.NewTicker(c.cfg.FlushEvery)
	defer tick.Stop()

	var batch []record
	send := func() {
		if len(batch) > 0 {
			c.post(batch)
			batch = nil
		}
	}
	for {
		select {
		case <-c.closed:
			return
		case r := <-c.q:
			batch = append(batch, r)
			if len(batch) >= maxBatch {
				send()
			}
		case <-tick.C:
			send()
		case ack := <-c.flush:
		drain:
			for {
				select {
				case r := <-c.q:
					batch = append(batch, r)
				default:
					break drain
				}
			}
			send()
			close(ack)
		}
	}
}

func (c *Client) post(batch []record) {
	buf, err := json.Marshal(batch)
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, c.cfg.EventsURL, bytes.NewReader(buf))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.cli.Do(req)
	if err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("telemetry send failed", slog.Int("events", len(batch)), slog.Any("err", err))
		}
		return
	}
	_ = resp.Body.Close()
	if c.cfg.DebugLogging {
		c.log.Debug("telemetry batch sent", slog.Int("events", len(batch)), slog.Int("status", resp.StatusCode))
	}
}

// UploadCrash posts a crash report to the configured crash URL if opted in.
// The session header ties it to the events of the same run.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	go func(b []byte) {
		req, err := http.NewRequest(http.MethodPost, c.cfg.CrashURL, bytes.NewReader(b))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		req.Header.Set("X-T2I-Session", c.session)
		resp, err := c.cli.Do(req)
		if err != nil {
			if c.cfg.DebugLogging {
				c.log.Debug("crash upload failed", slog.Any("err", err))
			}
			return
		}
		_ = resp.Body.Close()
	}(append([]byte(nil), report...))
}

// UploadCrash uploads with the default client.
func UploadCrash(report []byte) { current().UploadCrash(report) }

// Flush flushes the default client.
func Flush(ctx context.Context) { current().Flush(ctx) }
