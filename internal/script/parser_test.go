/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParseCharacterTwoParts(t *testing.T) {
	bs := ParseBlocks("[[character||A||B]]")
	if len(bs) != 1 {
		t.Fatalf("expected 1 block, got %d", len(bs))
	}
	want := Block{Kind: KindCharacter, Character: "A", Text: "B"}
	if !reflect.DeepEqual(bs[0], want) {
		t.Fatalf("got %+v, want %+v", bs[0], want)
	}
}

func TestParseCharacterThreePartsIsCG(t *testing.T) {
	bs := ParseBlocks("[[character||A||B||C]]")
	want := Block{Kind: KindCharacter, Character: "A", Scene: "B", Text: "C", IsCG: true}
	if len(bs) != 1 || !reflect.DeepEqual(bs[0], want) {
		t.Fatalf("got %+v, want %+v", bs, want)
	}
}

func TestParseCharacterFullForm(t *testing.T) {
	bs := ParseBlocks("[[character|| Alice || 教室 || wave || smile || Hello there ]]")
	if len(bs) != 1 {
		t.Fatalf("expected 1 block, got %d", len(bs))
	}
	b := bs[0]
	if b.Character != "Alice" || b.Scene != "教室" || b.Motion != "wave" || b.Expression != "smile" || b.Text != "Hello there" {
		t.Fatalf("unexpected fields: %+v", b)
	}
	if b.IsCG {
		t.Fatalf("motion and expression set, IsCG must be false")
	}
}

func TestParseCharacterBlankMotionAndExpressionIsCG(t *testing.T) {
	b := ParseBlocks("[[character||A||S||||||T]]")[0]
	if !b.IsCG || b.Motion != "" || b.Expression != "" || b.Text != "T" {
		t.Fatalf("expected CG line, got %+v", b)
	}
	// only one of the two blank is not CG
	b = ParseBlocks("[[character||A||S||wave||||T]]")[0]
	if b.IsCG {
		t.Fatalf("motion present, IsCG must be false: %+v", b)
	}
}

func TestParseCharacterRejoinsTrailingFields(t *testing.T) {
	b := ParseBlocks("[[character||A||S||M||E||one|| two ||three]]")[0]
	if b.Text != "one||two||three" {
		t.Fatalf("text = %q", b.Text)
	}
}

func TestParseCharacterThrough(t *testing.T) {
	b := ParseBlocks("[[character||A||  *through* passing by *through*  ]]")[0]
	if !b.IsThrough || b.Text != "passing by" {
		t.Fatalf("through not handled: %+v", b)
	}
	b = ParseBlocks("[[character||A||plain]]")[0]
	if b.IsThrough {
		t.Fatalf("IsThrough set without marker")
	}
}

func TestParseCharacterDiscardsEmpty(t *testing.T) {
	cases := []string{
		"[[character||OnlyName]]",
		"[[character||||text]]",
		"[[character||A||   ]]",
		"[[character||A||S||M||E]]",
		"[[character||A||*through*]]",
	}
	for _, in := range cases {
		if bs := ParseBlocks(in); len(bs) != 0 {
			t.Fatalf("%q: expected no blocks, got %+v", in, bs)
		}
	}
}

func TestParseNarrationAndUser(t *testing.T) {
	bs := ParseBlocks("[[narration||夜晚||月光||洒落]] [[user||街道||你好]] [[narration||独白]]")
	if len(bs) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(bs))
	}
	if bs[0].Kind != KindNarration || bs[0].Scene != "夜晚" || bs[0].Message != "月光||洒落" {
		t.Fatalf("unexpected narration: %+v", bs[0])
	}
	if bs[1].Kind != KindUser || bs[1].Scene != "街道" || bs[1].Message != "你好" {
		t.Fatalf("unexpected user: %+v", bs[1])
	}
	if bs[2].Scene != "独白" || bs[2].Message != "独白" {
		t.Fatalf("single part must fall back to scene: %+v", bs[2])
	}
}

func TestParseBlackTextVerbatim(t *testing.T) {
	bs := ParseBlocks("[[blacktext||  three years later || ... ]]")
	if len(bs) != 1 || bs[0].Kind != KindBlackText || bs[0].Message != "  three years later || ... " {
		t.Fatalf("unexpected blacktext: %+v", bs)
	}
}

func TestParseChoiceForms(t *testing.T) {
	bs := ParseBlocks("[[choice||X||Y||Z]][[choice||X||Y]][[choice|| || ]]")
	if len(bs) != 2 {
		t.Fatalf("expected 2 blocks, got %+v", bs)
	}
	if bs[0].ChoiceText != "X" || bs[0].ChoiceCharacter != "Y" || bs[0].ChoiceResponse != "Z" || bs[0].IsLegacyChoice() {
		t.Fatalf("unexpected new-style choice: %+v", bs[0])
	}
	if !reflect.DeepEqual(bs[1].Choices, []string{"X", "Y"}) {
		t.Fatalf("unexpected legacy choice: %+v", bs[1])
	}
	b := ParseBlocks("[[choice||Go left||||Mia||Follow me||quickly]]")[0]
	if b.ChoiceText != "Go left" || b.ChoiceCharacter != "Mia" || b.ChoiceResponse != "Follow me||quickly" {
		t.Fatalf("empties must be dropped before classification: %+v", b)
	}
}

func TestChoiceOptions(t *testing.T) {
	legacy := Block{Kind: KindChoice, Choices: []string{"a", "b"}}
	opts := legacy.Options()
	if len(opts) != 2 || opts[1].ID != "1" || opts[1].Text != "b" {
		t.Fatalf("unexpected legacy options: %+v", opts)
	}
	resp := Block{Kind: KindChoice, ChoiceText: "t", ChoiceCharacter: "c", ChoiceResponse: "r"}
	opts = resp.Options()
	if len(opts) != 1 || opts[0].Response != "r" || opts[0].Character != "c" {
		t.Fatalf("unexpected response options: %+v", opts)
	}
	if (Block{Kind: KindNarration}).Options() != nil {
		t.Fatalf("non-choice must have no options")
	}
}

func TestParseIgnoresUnknownAndMalformed(t *testing.T) {
	in := "hello [[unknown||x]] [[character A||B]] [[character||]] [[narration||s||m]] tail"
	bs := ParseBlocks(in)
	if len(bs) != 1 || bs[0].Kind != KindNarration {
		t.Fatalf("expected only the narration block, got %+v", bs)
	}
}

func TestParsePreservesOrderAndDuplicates(t *testing.T) {
	in := "[[blacktext||a]]text[[character||A||hi]][[blacktext||a]]"
	bs := ParseBlocks(in)
	if len(bs) != 3 || bs[0].Kind != KindBlackText || bs[1].Kind != KindCharacter || bs[2].Kind != KindBlackText {
		t.Fatalf("unexpected order: %+v", bs)
	}
}

func TestParseSegmentsKeepsPlainText(t *testing.T) {
	segs := ParseSegments("  intro \n[[character||A||hi]] middle [[bogus||x]][[blacktext||end]]")
	if len(segs) != 4 {
		t.Fatalf("expected 4 segments, got %+v", segs)
	}
	if segs[0].Text != "intro" || segs[1].Block == nil || segs[2].Text != "middle" || segs[3].Block.Kind != KindBlackText {
		t.Fatalf("unexpected segments: %+v", segs)
	}
}

func TestBlockJSONShape(t *testing.T) {
	b := ParseBlocks("[[character||A||S||||||T *through*]]")[0]
	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "character" || m["isCG"] != true || m["isThrough"] != true {
		t.Fatalf("unexpected json: %s", raw)
	}
	if _, ok := m["motion"]; ok {
		t.Fatalf("empty motion should be omitted: %s", raw)
	}
}
