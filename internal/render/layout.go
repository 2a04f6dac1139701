/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"strings"

	"golang.org/x/image/font"
)

// Layout constants in output pixels; the canvas is drawn at Supersample times
// these values.
const (
	marginLeft   = 20
	marginTop    = 20
	marginRight  = 20
	marginBottom = 40
	lineSpacing  = 10
	// MinHeight is the smallest output height.
	MinHeight = 200
)

// paragraph is one input line after wrapping. Empty paragraphs keep their
// vertical space.
type paragraph struct {
	lines []string
}

// wrapText splits text on newlines and breaks each paragraph to maxWidth
// pixels. Words are split on spaces; a word wider than maxWidth, or a run of
// text without spaces such as CJK, is broken between runes.
func wrapText(face font.Face, text string, maxWidth int) []paragraph {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []paragraph
	for _, p := range strings.Split(text, "\n") {
		if strings.TrimSpace(p) == "" {
			out = append(out, paragraph{})
			continue
		}
		out = append(out, paragraph{lines: wrapParagraph(face, p, maxWidth)})
	}
	return out
}

func wrapParagraph(face font.Face, p string, maxWidth int) []string {
	var lines []string
	cur := ""
	for _, word := range strings.Fields(p) {
		cand := word
		if cur != "" {
			cand = cur + " " + word
		}
		if measure(face, cand) <= maxWidth {
			cur = cand
			continue
		}
		if cur != "" {
			lines = append(lines, cur)
			cur = ""
		}
		if measure(face, word) <= maxWidth {
			cur = word
			continue
		}
		chunks := breakRunes(face, word, maxWidth)
		lines = append(lines, chunks[:len(chunks)-1]...)
		cur = chunks[len(chunks)-1]
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// breakRunes splits s into pieces no wider than maxWidth. Every piece holds at
// least one rune.
func breakRunes(face font.Face, s string, maxWidth int) []string {
	var out []string
	var b strings.Builder
	for _, r := range s {
		if b.Len() > 0 && measure(face, b.String()+string(r)) > maxWidth {
			out = append(out, b.String())
			b.Reset()
		}
		b.WriteRune(r)
	}
	if b.Len() > 0 || len(out) == 0 {
		out = append(out, b.String())
	}
	return out
}

func measure(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

// canvasHeight is the supersampled canvas height for paras. lineHeight and
// the margins are already scaled.
func canvasHeight(paras []paragraph, lineHeight, scale int) int {
	h := (marginTop+marginBottom)*scale + lineSpacing*2*scale
	for _, p := range paras {
		n := len(p.lines)
		if n == 0 {
			n = 1
		}
		h += n*lineHeight + marginBottom*scale
	}
	return h
}
