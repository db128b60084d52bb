/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import "strconv"

// Kind names the variant of a Block. The values match the token type in
// [[type||...]] and the "type" field of the JSON form.
type Kind string

const (
	KindCharacter Kind = "character"
	KindNarration Kind = "narration"
	KindBlackText Kind = "blacktext"
	KindUser      Kind = "user"
	KindChoice    Kind = "choice"
)

// Block is one parsed unit of authored dialogue. Only the fields of its Kind are set.
//
// Character: Character, Scene, Motion, Expression, Text, IsThrough, IsCG.
// Narration and User: Scene, Message.
// BlackText: Message.
// Choice: either Choices (legacy, display-only) or ChoiceText/ChoiceCharacter/ChoiceResponse.
type Block struct {
	Kind Kind `json:"type"`

	Character  string `json:"character,omitempty"`
	Scene      string `json:"scene,omitempty"`
	Motion     string `json:"motion,omitempty"`
	Expression string `json:"expression,omitempty"`
	Text       string `json:"text,omitempty"`
	Message    string `json:"message,omitempty"`
	IsThrough  bool   `json:"isThrough,omitempty"`
	IsCG       bool   `json:"isCG,omitempty"`

	Choices         []string `json:"choices,omitempty"`
	ChoiceText      string   `json:"choiceText,omitempty"`
	ChoiceCharacter string   `json:"choiceCharacter,omitempty"`
	ChoiceResponse  string   `json:"choiceResponse,omitempty"`
}

// Option is one selectable entry of a choice block.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Character string `json:"character,omitempty"`
	Response  string `json:"response,omitempty"`
}

// IsLegacyChoice reports whether b is a display-only choice list.
func (b Block) IsLegacyChoice() bool { return b.Kind == KindChoice && len(b.Choices) > 0 }

// Options returns the selectable options of a choice block, nil for other kinds.
// Legacy options are numbered "0".."n-1"; a response-style choice has the single option "0".
func (b Block) Options() []Option {
	if b.Kind != KindChoice {
		return nil
	}
	if b.IsLegacyChoice() {
		out := make([]Option, len(b.Choices))
		for i, c := range b.Choices {
			out[i] = Option{ID: strconv.Itoa(i), Text: c}
		}
		return out
	}
	return []Option{{ID: "0", Text: b.ChoiceText, Character: b.ChoiceCharacter, Response: b.ChoiceResponse}}
}

// Speaker returns the name shown in the dialogue box name plate.
func (b Block) Speaker() string {
	switch b.Kind {
	case KindCharacter:
		return b.Character
	case KindChoice:
		return b.ChoiceCharacter
	default:
		return ""
	}
}

// Body returns the primary display text of the block.
func (b Block) Body() string {
	switch b.Kind {
	case KindCharacter:
		return b.Text
	case KindChoice:
		if b.IsLegacyChoice() {
			return ""
		}
		return b.ChoiceText
	default:
		return b.Message
	}
}

// Segment is either a parsed block or a run of plain text found between tokens.
type Segment struct {
	Block *Block `json:"block,omitempty"`
	Text  string `json:"text,omitempty"`
}

// StatusRecord is the key/value side channel carried in a <StatusBlock> section.
type StatusRecord map[string]string

// Well-known status labels.
const (
	StatusLocation     = "地点"
	StatusRelationship = "关系"
	StatusMood         = "心情"
	StatusAside        = "吐槽"
	StatusTodo         = "待办"
	StatusSkit         = "小剧场"
)

func (s StatusRecord) Location() string     { return s[StatusLocation] }
func (s StatusRecord) Relationship() string { return s[StatusRelationship] }
func (s StatusRecord) Mood() string         { return s[StatusMood] }
func (s StatusRecord) Aside() string        { return s[StatusAside] }
func (s StatusRecord) Todo() string         { return s[StatusTodo] }
func (s StatusRecord) Skit() string         { return s[StatusSkit] }
