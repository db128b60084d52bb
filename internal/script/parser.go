/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package script parses authored dialogue text into typed scene blocks.
//
// Supported tokens:
//   - [[character||name||text]]
//   - [[character||name||scene||text]]  (CG line)
//   - [[character||name||scene||motion||expression||text]]
//   - [[narration||scene||message]]
//   - [[blacktext||message]]
//   - [[user||scene||message]]
//   - [[choice||a||b]]  (legacy list) or [[choice||option||name||response]]
//
// Unknown token types and malformed tokens produce no block.
package script

import (
	"regexp"
	"strings"
)

const (
	fieldSep      = "||"
	throughMarker = "*through*"
)

var reToken = regexp.MustCompile(`\[\[(\w+)\|\|([^\]]*)\]\]`)

// ParseBlocks returns the blocks of text in token order. Text outside tokens is dropped.
func ParseBlocks(text string) []Block {
	var blocks []Block
	for _, m := range reToken.FindAllStringSubmatch(text, -1) {
		if b, ok := classify(m[1], m[2]); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// ParseSegments returns blocks interleaved with the non-blank plain text between them.
// Tokens of unknown type are dropped along with their text.
func ParseSegments(text string) []Segment {
	var segs []Segment
	last := 0
	addText := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			segs = append(segs, Segment{Text: s})
		}
	}
	for _, loc := range reToken.FindAllStringSubmatchIndex(text, -1) {
		addText(text[last:loc[0]])
		last = loc[1]
		if b, ok := classify(text[loc[2]:loc[3]], text[loc[4]:loc[5]]); ok {
			segs = append(segs, Segment{Block: &b})
		}
	}
	addText(text[last:])
	return segs
}

func classify(kind, payload string) (Block, bool) {
	switch Kind(kind) {
	case KindCharacter:
		return parseCharacter(splitTrim(payload))
	case KindNarration, KindUser:
		parts := splitTrim(payload)
		msg := strings.Join(parts[1:], fieldSep)
		if msg == "" {
			msg = parts[0]
		}
		return Block{Kind: Kind(kind), Scene: parts[0], Message: msg}, true
	case KindBlackText:
		return Block{Kind: KindBlackText, Message: payload}, true
	case KindChoice:
		return parseChoice(payload)
	default:
		return Block{}, false
	}
}

func parseCharacter(parts []string) (Block, bool) {
	if len(parts) < 2 {
		return Block{}, false
	}
	b := Block{Kind: KindCharacter, Character: parts[0]}
	switch {
	case len(parts) == 2:
		b.Text = parts[1]
	case len(parts) == 3:
		b.Scene = parts[1]
		b.Text = parts[2]
		b.IsCG = true
	default:
		b.Scene = parts[1]
		b.Motion = parts[2]
		b.Expression = parts[3]
		b.Text = strings.Join(parts[4:], fieldSep)
		b.IsCG = b.Motion == "" && b.Expression == ""
	}
	if strings.Contains(b.Text, throughMarker) {
		b.IsThrough = true
		b.Text = strings.TrimSpace(strings.ReplaceAll(b.Text, throughMarker, ""))
	}
	if b.Character == "" || b.Text == "" {
		return Block{}, false
	}
	return b, true
}

func parseChoice(payload string) (Block, bool) {
	var parts []string
	for _, p := range strings.Split(payload, fieldSep) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	switch {
	case len(parts) >= 3:
		return Block{
			Kind:            KindChoice,
			ChoiceText:      parts[0],
			ChoiceCharacter: parts[1],
			ChoiceResponse:  strings.Join(parts[2:], fieldSep),
		}, true
	case len(parts) > 0:
		return Block{Kind: KindChoice, Choices: parts}, true
	default:
		return Block{}, false
	}
}

func splitTrim(payload string) []string {
	parts := strings.Split(payload, fieldSep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
