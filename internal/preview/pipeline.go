/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package preview renders on demand and decides which result is shown.
//
// Every request is numbered when it is issued. Calls run concurrently and are
// applied in the order they complete, except that a result is dropped when a
// request issued later has already been applied. Nothing waits on another
// request; ordering comes from the numbers alone.
package preview

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"txt2img/internal/backend"
	applog "txt2img/internal/log"
	"txt2img/internal/viewport"
)

// ErrRenderFailed matches every *RenderError.
var ErrRenderFailed = errors.New("render failed")

// RenderError carries the user-facing reason unchanged.
type RenderError struct {
	Reason string
	Err    error // transport error, nil when the backend reported the failure
}

func (e *RenderError) Error() string        { return e.Reason }
func (e *RenderError) Unwrap() error        { return e.Err }
func (e *RenderError) Is(target error) bool { return target == ErrRenderFailed }

// Renderer is the part of backend.API the pipeline needs.
type Renderer interface {
	RenderImage(ctx context.Context, req backend.RenderRequest) (backend.RenderResult, error)
}

// Status says what happened to a request.
type Status int

const (
	// Skipped: empty text, no backend call.
	Skipped Status = iota
	// Applied: result became the current image.
	Applied
	// Stale: a later request was applied first; result dropped silently.
	Stale
	// Failed: the backend reported an error; nothing changed.
	Failed
)

func (s Status) String() string {
	switch s {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Failed:
		return "failed"
	default:
		return "skipped"
	}
}

// Outcome describes one Request. Image is set for Applied and Stale results.
// Err holds the *RenderError of a stale failure, which Request does not
// return as an error.
type Outcome struct {
	Seq    uint64
	Status Status
	Image  string
	Err    error
}

// Current is the image on screen and the request that produced it.
type Current struct {
	Seq     uint64
	Image   string
	Request backend.RenderRequest
}

// Pipeline owns the "current image" state.
type Pipeline struct {
	r    Renderer
	view *viewport.Controller
	log  *slog.Logger

	mu          sync.Mutex
	next        uint64
	lastApplied uint64
	cur         Current
	onImage     []func(Current)
	onError     []func(error)

	// applyMu orders the apply step (state swap, viewport reset, listeners)
	// so listeners see images in the order they were applied.
	applyMu sync.Mutex
	wg      sync.WaitGroup
}

// New returns a pipeline rendering through r. view may be nil.
func New(r Renderer, view *viewport.Controller) *Pipeline {
	return &Pipeline{r: r, view: view, log: applog.WithComponent("preview")}
}

// Request renders req and applies the result if it is not stale.
// Returned errors are *RenderError; stale failures are reported as Stale
// with a nil error and the failure in Outcome.Err.
func (p *Pipeline) Request(ctx context.Context, req backend.RenderRequest) (Outcome, error) {
	if req.Text == "" {
		return Outcome{Status: Skipped}, nil
	}

	p.mu.Lock()
	p.next++
	seq := p.next
	p.mu.Unlock()

	ctx = applog.ContextWith(ctx, slog.Uint64("seq", seq))
	p.log.DebugContext(ctx, "render issued", slog.String("format", req.Format), slog.Int("chars", len(req.Text)))

	res, err := p.r.RenderImage(ctx, req)
	if err == nil && !res.Valid() {
		res = backend.Failed("backend returned an invalid image result")
	}

	var rerr *RenderError
	if err != nil || !res.Success {
		rerr = &RenderError{Reason: res.Message, Err: err}
		if err != nil {
			rerr.Reason = "preview generation failed: " + err.Error()
		} else if rerr.Reason == "" {
			rerr.Reason = "preview generation failed"
		}
	}

	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	p.mu.Lock()
	superseded := seq < p.lastApplied
	if superseded {
		last := p.lastApplied
		p.mu.Unlock()
		p.log.DebugContext(ctx, "render result discarded", slog.Uint64("last_applied", last))
		out := Outcome{Seq: seq, Status: Stale}
		if rerr != nil {
			out.Err = rerr
		} else {
			out.Image = res.ImageData
		}
		return out, nil
	}
	if rerr != nil {
		p.mu.Unlock()
		p.log.WarnContext(ctx, "render failed", slog.String("reason", rerr.Reason))
		return Outcome{Seq: seq, Status: Failed}, rerr
	}
	p.lastApplied = seq
	p.cur = Current{Seq: seq, Image: res.ImageData, Request: req}
	cur := p.cur
	listeners := append([]func(Current){}, p.onImage...)
	p.mu.Unlock()

	if p.view != nil {
		p.view.Reset()
	}
	for _, fn := range listeners {
		fn(cur)
	}
	p.log.DebugContext(ctx, "render applied")
	return Outcome{Seq: seq, Status: Applied, Image: res.ImageData}, nil
}

// Trigger runs Request in the background, as input events do. Errors go to
// the OnError listeners.
func (p *Pipeline) Trigger(ctx context.Context, req backend.RenderRequest) {
	if req.Text == "" {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.Request(ctx, req); err != nil {
			p.mu.Lock()
			ls := append([]func(error){}, p.onError...)
			p.mu.Unlock()
			for _, fn := range ls {
				fn(err)
			}
		}
	}()
}

// Wait blocks until every Trigger call has finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Current returns the image on screen. ok is false before the first success.
func (p *Pipeline) Current() (Current, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur, p.cur.Seq != 0
}

// LastApplied returns the sequence number of the current image, 0 if none.
func (p *Pipeline) LastApplied() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastApplied
}

// OnImage registers fn to be called after each applied result.
func (p *Pipeline) OnImage(fn func(Current)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.onImage = append(p.onImage, fn)
	p.mu.Unlock()
}

// OnError registers fn for failures of background requests.
func (p *Pipeline) OnError(fn func(error)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.onError = append(p.onError, fn)
	p.mu.Unlock()
}
