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
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"galstage/internal/export"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export a script as PDF, PNG frames or JSON",
		Args:  cobra.ExactArgs(1),
		Run:   runExport,
	}
	cmd.Flags().StringP("preset", "p", string(export.PresetReading), "Preset: reading, storyboard or archive")
	cmd.Flags().StringSlice("formats", nil, "Formats to write (pdf, png, json); overrides the preset")
	cmd.Flags().StringP("out", "o", "", "Output directory (default exports/<preset>)")
	cmd.Flags().String("title", "", "Transcript title (default file name)")
	cmd.Flags().String("font", "", "TTF font for the PDF, needed for non-Latin scripts")
	cmd.Flags().Bool("status", false, "Include the status block in the PDF")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	preset, _ := cmd.Flags().GetString("preset")
	formats, _ := cmd.Flags().GetStringSlice("formats")
	out, _ := cmd.Flags().GetString("out")
	title, _ := cmd.Flags().GetString("title")
	font, _ := cmd.Flags().GetString("font")

	text, err := readInput(cmd, args)
	if err != nil {
		exitErr("read script", err)
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}
	t := export.FromScript(title, text)

	opt := export.BatchOptions{
		Preset:   export.PresetName(preset),
		Formats:  formats,
		FontPath: font,
		OutDir:   out,
	}
	if cmd.Flags().Changed("status") {
		st, _ := cmd.Flags().GetBool("status")
		opt.IncludeStatus = &st
	}
	res, err := export.BatchExport(t, opt)
	if err != nil {
		exitErr("export", err)
	}
	if textFormat() {
		for _, f := range res.Files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return
	}
	if err := printJSON(cmd.OutOrStdout(), res.Files); err != nil {
		exitErr("write output", err)
	}
}
