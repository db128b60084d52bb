/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package textlayout wraps dialogue text into dialogue box lines.
//
// Latin text breaks on spaces. East Asian text has no spaces and breaks
// between any two wide runes, except that closing punctuation never starts a line.
package textlayout

import (
	"strings"
	"unicode"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/text/width"
)

// Measurer measures a single line of text.
type Measurer interface {
	Advance(s string) float32
	LineHeight() float32
}

// FaceMeasurer measures in pixels with a font face. A nil Face uses basicfont.Face7x13.
type FaceMeasurer struct{ Face font.Face }

func (m FaceMeasurer) face() font.Face {
	if m.Face == nil {
		return basicfont.Face7x13
	}
	return m.Face
}

func (m FaceMeasurer) Advance(s string) float32 {
	return float32(font.MeasureString(m.face(), s) >> 6) // fixed.Int26_6 to px
}

func (m FaceMeasurer) LineHeight() float32 {
	return float32(m.face().Metrics().Height.Round())
}

// Cells measures in terminal columns. Wide and fullwidth runes take two columns.
type Cells struct{}

func (Cells) Advance(s string) float32 {
	var n float32
	for _, r := range s {
		n += runeCells(r)
	}
	return n
}

func (Cells) LineHeight() float32 { return 1 }

func runeCells(r rune) float32 {
	if unicode.IsControl(r) || unicode.Is(unicode.Mn, r) {
		return 0
	}
	if isWide(r) {
		return 2
	}
	return 1
}

func isWide(r rune) bool {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return true
	}
	return false
}

// Line is a single wrapped line.
type Line struct {
	Text  string
	Width float32
}

// TextBox is the result of wrapping text into a box width.
type TextBox struct {
	Lines  []Line
	Width  float32
	Height float32
}

// String joins the lines with newlines.
func (b TextBox) String() string {
	parts := make([]string, len(b.Lines))
	for i, l := range b.Lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, "\n")
}

// closing punctuation that must stay on the line of the rune before it
const noLineStart = "，。、！？；：」』）】》〉…ー～,.!?;:)]}"

// Wrap breaks text into lines no wider than maxWidth. Explicit newlines always break.
// A maxWidth <= 0 disables wrapping. Words wider than the box are broken between runes.
func Wrap(m Measurer, text string, maxWidth float32) TextBox {
	if m == nil {
		m = FaceMeasurer{}
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var box TextBox
	for _, para := range strings.Split(text, "\n") {
		for _, l := range wrapParagraph(m, para, maxWidth) {
			box.Lines = append(box.Lines, l)
			if l.Width > box.Width {
				box.Width = l.Width
			}
		}
	}
	box.Height = float32(len(box.Lines)) * m.LineHeight()
	return box
}

func wrapParagraph(m Measurer, para string, maxWidth float32) []Line {
	var (
		lines []Line
		cur   strings.Builder
		curW  float32
	)
	flush := func() {
		s := strings.TrimRightFunc(cur.String(), unicode.IsSpace)
		lines = append(lines, Line{Text: s, Width: m.Advance(s)})
		cur.Reset()
		curW = 0
	}
	fits := func(w float32) bool { return maxWidth <= 0 || curW+w <= maxWidth }

	for _, u := range units(para) {
		if strings.TrimSpace(u) == "" {
			if cur.Len() > 0 {
				cur.WriteString(u)
				curW += m.Advance(u)
			}
			continue
		}
		w := m.Advance(u)
		if cur.Len() > 0 && !fits(w) {
			flush()
		}
		if fits(w) {
			cur.WriteString(u)
			curW += w
			continue
		}
		for _, r := range u {
			rs := string(r)
			rw := m.Advance(rs)
			if cur.Len() > 0 && !fits(rw) {
				flush()
			}
			cur.WriteString(rs)
			curW += rw
		}
	}
	if cur.Len() > 0 || len(lines) == 0 {
		flush()
	}
	return lines
}

const (
	unitNone = iota
	unitSpace
	unitWord
	unitWide
)

// units splits a paragraph into breakable pieces: runs of spaces, runs of narrow
// non-space runes, and single wide runes. Closing punctuation joins the piece before it.
func units(s string) []string {
	var (
		out  []string
		cur  []rune
		kind = unitNone
	)
	emit := func(next int) {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
		kind = next
	}
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if kind != unitSpace {
				emit(unitSpace)
			}
		case strings.ContainsRune(noLineStart, r) && kind != unitNone && kind != unitSpace:
		case isWide(r):
			emit(unitWide)
		default:
			if kind != unitWord {
				emit(unitWord)
			}
		}
		cur = append(cur, r)
	}
	emit(unitNone)
	return out
}

// Measure returns the width of text as a single line and the line height.
func Measure(m Measurer, text string) (w, h float32) {
	if m == nil {
		m = FaceMeasurer{}
	}
	return m.Advance(text), m.LineHeight()
}
