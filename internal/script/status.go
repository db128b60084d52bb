/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"regexp"
	"strings"
	"unicode"
)

var reStatusBlock = regexp.MustCompile(`(?i)<StatusBlock>([\s\S]*?)</StatusBlock>`)

// ParseStatusBlock extracts the key/value record from the first <StatusBlock> section of text.
// It reports false when there is no section or no field could be read from it.
//
// Fields are read as "key: value" runs, where a value ends at the next line that starts
// with a key or at the end of the section. When that yields nothing, every line is split
// at its first colon instead.
func ParseStatusBlock(text string) (StatusRecord, bool) {
	m := reStatusBlock.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	content := strings.TrimSpace(m[1])

	rec := StatusRecord{}
	for _, f := range scanFields([]rune(content)) {
		if f[0] != "" && f[1] != "" {
			rec[f[0]] = f[1]
		}
	}
	if len(rec) == 0 {
		for _, line := range strings.Split(content, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			i := strings.Index(line, ":")
			if i <= 0 {
				continue
			}
			key := strings.TrimSpace(line[:i])
			val := strings.TrimSpace(line[i+1:])
			if key != "" && val != "" {
				rec[key] = val
			}
		}
	}
	if len(rec) == 0 {
		return nil, false
	}
	return rec, true
}

// scanFields finds successive non-overlapping key/value matches, leftmost first.
// A key is a run of non-space runes followed by ':'. The value is the shortest
// single-line run that is followed either by a newline and another key, or by
// trailing newlines up to the end of the content.
func scanFields(r []rune) [][2]string {
	var out [][2]string
	for pos := 0; pos < len(r); {
		found := false
		for i := pos; i < len(r) && !found; i++ {
			key, val, end, ok := matchField(r, i)
			if ok {
				out = append(out, [2]string{strings.TrimSpace(key), strings.TrimSpace(val)})
				pos = end
				found = true
			}
		}
		if !found {
			break
		}
	}
	return out
}

func matchField(r []rune, i int) (key, val string, end int, ok bool) {
	n := len(r)
	for j := i; j < n && !unicode.IsSpace(r[j]); j++ {
		if j == i || r[j] != ':' {
			continue
		}
		ws := j + 1
		for ws < n && unicode.IsSpace(r[ws]) {
			ws++
		}
		// greedy whitespace first, then give back one rune at a time
		for k := ws; k >= j+1; k-- {
			for e := k + 1; e <= n; e++ {
				if isLineBreak(r[e-1]) {
					break
				}
				if valueEndsAt(r, e) {
					return string(r[i:j]), string(r[k:e]), e, true
				}
			}
		}
	}
	return "", "", 0, false
}

func valueEndsAt(r []rune, e int) bool {
	n := len(r)
	if e < n && r[e] == '\n' {
		for q := e + 1; q < n && !unicode.IsSpace(r[q]); q++ {
			if q > e+1 && r[q] == ':' {
				return true
			}
		}
	}
	for q := e; q < n; q++ {
		if r[q] != '\n' {
			return false
		}
	}
	return true
}

func isLineBreak(c rune) bool {
	return c == '\n' || c == '\r' || c == '\u2028' || c == '\u2029'
}
