/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"txt2img/internal/notify"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// printer writes user-facing lines. Board listeners may call it from timer
// goroutines, hence the lock.
type printer struct {
	mu       sync.Mutex
	out, err io.Writer
}

func newPrinter(out, err io.Writer) *printer { return &printer{out: out, err: err} }

func (p *printer) line(w io.Writer, s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(w, s)
}

func (p *printer) ok(s string)    { p.line(p.out, okStyle.Render(s)) }
func (p *printer) info(s string)  { p.line(p.out, dimStyle.Render(s)) }
func (p *printer) warn(s string)  { p.line(p.err, warnStyle.Render(s)) }
func (p *printer) error(s string) { p.line(p.err, errStyle.Render(s)) }

// message prints a board message with the style of its severity. The clear
// event is ignored.
func (p *printer) message(m notify.Message) {
	if m.Text == "" {
		return
	}
	switch m.Severity {
	case notify.Success:
		p.ok(m.Text)
	case notify.Warning:
		p.warn(m.Text)
	default:
		p.error(m.Text)
	}
}
