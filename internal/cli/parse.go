/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"galstage/internal/script"
	"galstage/internal/telemetry"
)

func init() {
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse a dialogue script into blocks",
		Long:  "Parse a dialogue script into blocks. The script is read from the file argument or stdin.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runParse,
	}
	cmd.Flags().Bool("segments", false, "Keep plain text between tokens as text segments")
	cmd.Flags().Bool("status", false, "Also parse the <StatusBlock> section")

	RootCmd.AddCommand(cmd)
}

type parseOutput struct {
	Blocks   []script.Block      `json:"blocks"`
	Segments []script.Segment    `json:"segments,omitempty"`
	Status   script.StatusRecord `json:"status,omitempty"`
}

func runParse(cmd *cobra.Command, args []string) {
	segments, _ := cmd.Flags().GetBool("segments")
	withStatus, _ := cmd.Flags().GetBool("status")

	text, err := readInput(cmd, args)
	if err != nil {
		exitErr("read script", err)
	}
	out := parseOutput{Blocks: script.ParseBlocks(text)}
	if out.Blocks == nil {
		out.Blocks = []script.Block{}
	}
	if segments {
		out.Segments = script.ParseSegments(text)
	}
	if withStatus {
		out.Status, _ = script.ParseStatusBlock(text)
	}
	telemetry.Default().ScriptParsed(len(out.Blocks), countChoices(out.Blocks))

	if textFormat() {
		w := cmd.OutOrStdout()
		for i, b := range out.Blocks {
			fmt.Fprintf(w, "%3d %s\n", i, describeBlock(b))
		}
		if len(out.Status) > 0 {
			fmt.Fprintln(w)
			writeStatus(w, out.Status)
		}
		return
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		exitErr("write output", err)
	}
}

func countChoices(blocks []script.Block) int {
	n := 0
	for _, b := range blocks {
		if b.Kind == script.KindChoice {
			n++
		}
	}
	return n
}

// describeBlock renders b on one line.
func describeBlock(b script.Block) string {
	switch b.Kind {
	case script.KindCharacter:
		var tags []string
		if b.IsCG {
			tags = append(tags, "cg")
		}
		if b.Motion != "" {
			tags = append(tags, "motion="+b.Motion)
		}
		if b.Expression != "" {
			tags = append(tags, "expression="+b.Expression)
		}
		if b.IsThrough {
			tags = append(tags, "through")
		}
		s := fmt.Sprintf("%-10s %s: %s", b.Kind, b.Character, b.Text)
		if len(tags) > 0 {
			s += " (" + strings.Join(tags, ", ") + ")"
		}
		return s
	case script.KindChoice:
		if b.IsLegacyChoice() {
			return fmt.Sprintf("%-10s %s", b.Kind, strings.Join(b.Choices, " | "))
		}
		return fmt.Sprintf("%-10s %s -> %s: %s", b.Kind, b.ChoiceText, b.ChoiceCharacter, b.ChoiceResponse)
	case script.KindBlackText:
		return fmt.Sprintf("%-10s %s", b.Kind, b.Message)
	default:
		return fmt.Sprintf("%-10s [%s] %s", b.Kind, b.Scene, b.Message)
	}
}

func writeStatus(w io.Writer, st script.StatusRecord) {
	for _, k := range sortedKeys(st) {
		fmt.Fprintf(w, "%s: %s\n", k, st[k])
	}
}
