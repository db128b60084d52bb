/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package cli

import (
	"errors"
	"sort"

	"github.com/spf13/cobra"

	"galstage/internal/script"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status [file]",
		Short: "Parse the <StatusBlock> section of a script",
		Args:  cobra.MaximumNArgs(1),
		Run:   runStatus,
	}
	RootCmd.AddCommand(cmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	text, err := readInput(cmd, args)
	if err != nil {
		exitErr("read script", err)
	}
	st, ok := script.ParseStatusBlock(text)
	if !ok {
		exitErr("status", errors.New("no status block found"))
	}
	if textFormat() {
		writeStatus(cmd.OutOrStdout(), st)
		return
	}
	if err := printJSON(cmd.OutOrStdout(), st); err != nil {
		exitErr("write output", err)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
