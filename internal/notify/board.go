/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package notify is the transient message area shown under the toolbar.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	applog "txt2img/internal/log"
)

// Severity selects the message colour.
type Severity int

const (
	Success Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "success"
	}
}

// DefaultTTL is how long a message stays visible.
const DefaultTTL = 3 * time.Second

// Message is what the UI renders. The zero value means "nothing to show".
type Message struct {
	Text     string
	Severity Severity
}

// Board holds at most one message and clears it after the TTL. A newer
// message replaces the old one and restarts the timer.
type Board struct {
	ttl time.Duration
	log *slog.Logger

	mu        sync.Mutex
	cur       Message
	gen       uint64
	timer     *time.Timer
	listeners []func(Message)
}

func NewBoard(ttl time.Duration) *Board {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Board{ttl: ttl, log: applog.WithComponent("notify")}
}

// Show displays text with the given severity.
func (b *Board) Show(text string, sev Severity) {
	msg := Message{Text: text, Severity: sev}
	b.mu.Lock()
	b.cur = msg
	b.gen++
	gen := b.gen
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.ttl, func() { b.expire(gen) })
	ls := append([]func(Message){}, b.listeners...)
	b.mu.Unlock()

	lvl := slog.LevelInfo
	switch sev {
	case Warning:
		lvl = slog.LevelWarn
	case Error:
		lvl = slog.LevelError
	}
	b.log.Log(context.Background(), lvl, "message", slog.String("text", text), slog.String("severity", sev.String()))
	for _, fn := range ls {
		fn(msg)
	}
}

func (b *Board) Succeed(text string) { b.Show(text, Success) }
func (b *Board) Warn(text string)    { b.Show(text, Warning) }
func (b *Board) Error(text string)   { b.Show(text, Error) }

func (b *Board) expire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.cur = Message{}
	b.timer = nil
	ls := append([]func(Message){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range ls {
		fn(Message{})
	}
}

// Current returns the visible message.
func (b *Board) Current() Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// Subscribe registers fn to be called with every new message and with the
// zero Message when it clears. Calls may come from a timer goroutine.
func (b *Board) Subscribe(fn func(Message)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Close stops the pending clear timer.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
