/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"galstage/internal/config"
)

func init() {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the API token kept in the OS keychain",
	}
	set := &cobra.Command{
		Use:   "set [token]",
		Short: "Store a token; without an argument one line is read from stdin",
		Args:  cobra.MaximumNArgs(1),
		Run:   runTokenSet,
	}
	set.Flags().Bool("generate", false, "Generate a random token and print it")
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored token",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := config.ClearToken(); err != nil {
				exitErr("clear token", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), `{"ok":true}`)
		},
	}
	tokenCmd.AddCommand(set, clearCmd)
	RootCmd.AddCommand(tokenCmd)
}

func runTokenSet(cmd *cobra.Command, args []string) {
	generate, _ := cmd.Flags().GetBool("generate")
	var tok string
	switch {
	case generate:
		tok = strings.ToLower(ulid.Make().String())
	case len(args) > 0:
		tok = args[0]
	default:
		sc := bufio.NewScanner(cmd.InOrStdin())
		if sc.Scan() {
			tok = sc.Text()
		}
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		exitErr("set token", errors.New("token is empty"))
	}
	if err := config.SaveToken(tok); err != nil {
		exitErr("set token", err)
	}
	if generate {
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), `{"ok":true}`)
}
