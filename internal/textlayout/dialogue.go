/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

import (
	"strconv"

	"galstage/internal/script"
)

// Dialogue is one block laid out for a dialogue box.
type Dialogue struct {
	Speaker string
	Scene   string
	Body    TextBox
	// Options holds one wrapped box per selectable entry of a choice block.
	Options []TextBox
	// Response is what the choice character answers once the option is picked.
	Response TextBox
	// Centered is set for black screen text.
	Centered bool
}

// Lines returns the body lines followed by the option lines. The response is not included.
func (d Dialogue) Lines() []Line {
	out := append([]Line(nil), d.Body.Lines...)
	for _, o := range d.Options {
		out = append(out, o.Lines...)
	}
	return out
}

// LayoutBlock wraps b for a dialogue box maxWidth wide.
func LayoutBlock(m Measurer, b script.Block, maxWidth float32) Dialogue {
	d := Dialogue{Speaker: b.Speaker(), Scene: b.Scene}
	switch b.Kind {
	case script.KindChoice:
		if !b.IsLegacyChoice() {
			d.Response = Wrap(m, b.ChoiceResponse, maxWidth)
		}
		for i, o := range b.Options() {
			d.Options = append(d.Options, Wrap(m, strconv.Itoa(i+1)+". "+o.Text, maxWidth))
		}
	case script.KindBlackText:
		d.Centered = true
		d.Body = Wrap(m, b.Message, maxWidth)
	default:
		d.Body = Wrap(m, b.Body(), maxWidth)
	}
	return d
}
