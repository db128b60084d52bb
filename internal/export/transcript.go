/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export renders parsed scripts to reading copies: a PDF transcript,
// one PNG dialogue frame per block, and a JSON dump.
package export

import (
	"sort"
	"strings"
	"unicode"

	"galstage/internal/script"
)

// Color is an 8-bit RGBA color.
type Color struct{ R, G, B, A uint8 }

func (c Color) isZero() bool { return c == Color{} }

// Transcript is a parsed script ready for export.
type Transcript struct {
	Title  string              `json:"title"`
	Blocks []script.Block      `json:"blocks"`
	Status script.StatusRecord `json:"status,omitempty"`
}

// FromScript parses text into a Transcript.
func FromScript(title, text string) Transcript {
	t := Transcript{Title: title, Blocks: script.ParseBlocks(text)}
	if st, ok := script.ParseStatusBlock(text); ok {
		t.Status = st
	}
	return t
}

var statusOrder = []string{
	script.StatusLocation,
	script.StatusRelationship,
	script.StatusMood,
	script.StatusAside,
	script.StatusTodo,
	script.StatusSkit,
}

// statusLines lists the well-known labels first, then the rest sorted.
func statusLines(st script.StatusRecord) []string {
	var out []string
	seen := map[string]bool{}
	for _, k := range statusOrder {
		if v, ok := st[k]; ok {
			out = append(out, k+": "+v)
			seen[k] = true
		}
	}
	var rest []string
	for k := range st {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		out = append(out, k+": "+st[k])
	}
	return out
}

// fileBase turns a title into a file name stem.
func fileBase(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if s == "" {
		return "transcript"
	}
	return s
}
