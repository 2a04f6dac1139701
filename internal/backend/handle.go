/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	applog "txt2img/internal/log"
)

// Handshake defaults.
const (
	DefaultMaxAttempts = 20
	DefaultInterval    = 300 * time.Millisecond
)

// Probe reports whether the backend is ready and, if so, returns it. It is
// called once per polling tick and must not block for long.
type Probe func(ctx context.Context) (API, bool)

// Static returns a probe that is ready immediately with api.
func Static(api API) Probe {
	return func(context.Context) (API, bool) { return api, api != nil }
}

// Acquire polls probe every interval until it reports ready, at most
// maxAttempts times. It returns ErrBackendUnavailable once the budget is spent
// and ctx.Err() if ctx ends first. The ticker is stopped on every path, so no
// polling survives the return.
func Acquire(ctx context.Context, probe Probe, maxAttempts int, interval time.Duration) (API, error) {
	if probe == nil {
		return nil, fmt.Errorf("%w: no probe", ErrBackendUnavailable)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := applog.WithOperation(applog.WithComponent("backend"), "acquire")

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tick.C:
		}
		if api, ok := probe(ctx); ok && api != nil {
			l.Info("backend ready", slog.Int("attempt", attempt))
			return api, nil
		}
		if attempt >= maxAttempts {
			l.Error("backend not ready", slog.Int("attempts", attempt), slog.Duration("interval", interval))
			return nil, fmt.Errorf("%w after %d attempts", ErrBackendUnavailable, attempt)
		}
	}
}

// State of a Handle.
type State int

const (
	StatePending State = iota
	StateReady
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return "pending"
	}
}

// Handle keeps the result of the handshake. Before it is ready every caller
// gets ErrBackendUnavailable from API.
type Handle struct {
	probe       Probe
	maxAttempts int
	interval    time.Duration

	mu    sync.Mutex
	api   API
	state State
	err   error
}

func NewHandle(probe Probe, maxAttempts int, interval time.Duration) *Handle {
	return &Handle{probe: probe, maxAttempts: maxAttempts, interval: interval}
}

// Acquire runs the handshake and records its outcome. It is meant to be
// called once at startup and again only on an explicit user restart.
func (h *Handle) Acquire(ctx context.Context) (API, error) {
	h.mu.Lock()
	h.state = StatePending
	h.api, h.err = nil, nil
	h.mu.Unlock()

	api, err := Acquire(ctx, h.probe, h.maxAttempts, h.interval)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		if !errors.Is(err, ErrBackendUnavailable) {
			err = fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		h.state, h.err = StateUnavailable, err
		return nil, err
	}
	h.state, h.api = StateReady, api
	return api, nil
}

// API returns the resolved backend or ErrBackendUnavailable.
func (h *Handle) API() (API, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady || h.api == nil {
		if h.err != nil {
			return nil, h.err
		}
		return nil, ErrBackendUnavailable
	}
	return h.api, nil
}

// State returns the handshake state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
