/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package viewport tracks zoom and pan for the preview image and turns wheel
// and pointer input into a translate-then-scale transform.
package viewport

import (
	"fmt"
	"math"
	"strconv"
	"sync"
)

const (
	MinZoom = 0.5
	MaxZoom = 5.0
	// WheelFactor converts wheel deltaY into a zoom step. Negative deltaY
	// (wheel up) zooms in.
	WheelFactor = 0.001
)

// State is the viewport as seen by a renderer.
type State struct {
	Zoom float64
	PanX float64
	PanY float64
}

// Identity is the state after Reset.
var Identity = State{Zoom: 1}

// drag is alive only between BeginDrag and EndDrag.
type drag struct {
	active           bool
	anchorX, anchorY float64
}

// Controller owns one State and at most one drag session. Safe for concurrent use.
type Controller struct {
	mu        sync.Mutex
	st        State
	drag      drag
	listeners []func(State)
}

func NewController() *Controller { return &Controller{st: Identity} }

// State returns the current zoom and pan.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// Dragging reports whether a drag session is open.
func (c *Controller) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drag.active
}

// Reset returns to zoom 1 and no pan. A drag in progress keeps going from the
// new origin.
func (c *Controller) Reset() {
	c.update(func(st *State) { *st = Identity })
}

// Zoom applies one wheel event. The result saturates at MinZoom/MaxZoom;
// non-finite deltas are ignored.
func (c *Controller) Zoom(deltaY float64) float64 {
	if math.IsNaN(deltaY) || math.IsInf(deltaY, 0) {
		return c.State().Zoom
	}
	var z float64
	c.update(func(st *State) {
		st.Zoom = clamp(st.Zoom+(-deltaY*WheelFactor), MinZoom, MaxZoom)
		z = st.Zoom
	})
	return z
}

// BeginDrag opens the drag session, anchoring the pointer relative to the
// current pan. A second BeginDrag re-anchors the same session.
func (c *Controller) BeginDrag(x, y float64) {
	c.mu.Lock()
	c.drag = drag{active: true, anchorX: x - c.st.PanX, anchorY: y - c.st.PanY}
	c.mu.Unlock()
}

// UpdateDrag moves the pan with the pointer. No-op without an open session.
func (c *Controller) UpdateDrag(x, y float64) bool {
	c.mu.Lock()
	if !c.drag.active {
		c.mu.Unlock()
		return false
	}
	c.st.PanX = x - c.drag.anchorX
	c.st.PanY = y - c.drag.anchorY
	snap, ls := c.st, c.snapshotListeners()
	c.mu.Unlock()
	emit(ls, snap)
	return true
}

// EndDrag closes the session. Safe to call when none is open.
func (c *Controller) EndDrag() {
	c.mu.Lock()
	c.drag = drag{}
	c.mu.Unlock()
}

// OnChange registers fn to receive the state after each change to zoom or pan.
func (c *Controller) OnChange(fn func(State)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Controller) update(fn func(*State)) {
	c.mu.Lock()
	fn(&c.st)
	snap, ls := c.st, c.snapshotListeners()
	c.mu.Unlock()
	emit(ls, snap)
}

func (c *Controller) snapshotListeners() []func(State) {
	return append([]func(State){}, c.listeners...)
}

func emit(ls []func(State), st State) {
	for _, fn := range ls {
		fn(st)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Affine is a 2x3 matrix mapping (x, y) to (A*x + C*y + E, B*x + D*y + F).
type Affine struct {
	A, B, C, D, E, F float64
}

// Transform returns translate(PanX, PanY) composed with scale(Zoom), applied
// to the image in that order as CSS does: p' = T * S * p.
func (s State) Transform() Affine {
	return Affine{A: s.Zoom, D: s.Zoom, E: s.PanX, F: s.PanY}
}

// Apply maps an image-local point to container coordinates.
func (m Affine) Apply(x, y float64) (float64, float64) {
	return m.A*x + m.C*y + m.E, m.B*x + m.D*y + m.F
}

// CSS renders the transform in the form used by web front ends.
func (s State) CSS() string {
	return fmt.Sprintf("translate(%spx, %spx) scale(%s)", num(s.PanX), num(s.PanY), num(s.Zoom))
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
