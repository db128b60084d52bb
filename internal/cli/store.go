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
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"galstage/internal/filestore"
	"galstage/internal/telemetry"
)

func init() {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Manage stored model files",
	}

	put := &cobra.Command{
		Use:   "put <owner> <file>...",
		Short: "Store files under an owner",
		Args:  cobra.MinimumNArgs(2),
		Run:   runStorePut,
	}
	put.Flags().String("name", "", "Store a single file under this filename")
	put.Flags().String("base", "", "Keep paths relative to this directory as filenames")

	get := &cobra.Command{
		Use:   "get <owner> <filename>",
		Short: "Write a stored file to stdout or --out",
		Args:  cobra.ExactArgs(2),
		Run:   runStoreGet,
	}
	get.Flags().StringP("out", "o", "", "Output path")

	ls := &cobra.Command{
		Use:   "ls [owner]",
		Short: "List stored files",
		Args:  cobra.MaximumNArgs(1),
		Run:   runStoreLs,
	}

	rm := &cobra.Command{
		Use:   "rm <owner> [filename]",
		Short: "Delete one file, or every file of an owner",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runStoreRm,
	}

	owners := &cobra.Command{
		Use:   "owners",
		Short: "List owners with stored files",
		Run:   runStoreOwners,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored file",
		Run:   runStoreClear,
	}
	clearCmd.Flags().Bool("yes", false, "Confirm deletion")

	storeCmd.AddCommand(put, get, ls, rm, owners, clearCmd)
	RootCmd.AddCommand(storeCmd)
}

type putResult struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Size int    `json:"size"`
}

func runStorePut(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")
	base, _ := cmd.Flags().GetString("base")
	owner, paths := args[0], args[1:]
	if name != "" && len(paths) > 1 {
		exitErr("put", errors.New("--name needs exactly one file"))
	}

	s, err := openStore(cmd.Context(), nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	var results []putResult
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			exitErr("read file", err)
		}
		filename := name
		if filename == "" {
			filename = filepath.Base(p)
			if base != "" {
				if rel, err := filepath.Rel(base, p); err == nil {
					filename = filepath.ToSlash(rel)
				}
			}
		}
		id, err := s.Store(cmd.Context(), owner, filename, data)
		if err != nil {
			exitErr("put", err)
		}
		results = append(results, putResult{ID: id, URL: filestore.StoreURL(owner, filename), Size: len(data)})
	}

	if textFormat() {
		for _, r := range results {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", r.ID, r.Size, r.URL)
		}
		return
	}
	if err := printJSON(cmd.OutOrStdout(), results); err != nil {
		exitErr("write output", err)
	}
}

func runStoreGet(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")

	s, err := openStore(cmd.Context(), nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	f, err := s.Retrieve(cmd.Context(), filestore.FileID(args[0], args[1]))
	if err != nil {
		exitErr("get", err)
	}
	if f == nil {
		exitErr("get", fmt.Errorf("%s/%s not found", args[0], args[1]))
	}
	if out == "" {
		if _, err := cmd.OutOrStdout().Write(f.Data); err != nil {
			exitErr("write output", err)
		}
		return
	}
	if err := os.WriteFile(out, f.Data, 0o644); err != nil {
		exitErr("write file", err)
	}
}

func runStoreLs(cmd *cobra.Command, args []string) {
	owner := ""
	if len(args) > 0 {
		owner = args[0]
	}
	s, err := openStore(cmd.Context(), nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	files, err := s.ListFiles(cmd.Context(), owner)
	if err != nil {
		exitErr("ls", err)
	}
	if textFormat() {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tSIZE\tMODIFIED")
		for _, f := range files {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.ID, f.MimeType, f.Size, f.LastModified.Local().Format(time.DateTime))
		}
		_ = tw.Flush()
		return
	}
	if err := printJSON(cmd.OutOrStdout(), files); err != nil {
		exitErr("write output", err)
	}
}

func runStoreRm(cmd *cobra.Command, args []string) {
	s, err := openStore(cmd.Context(), nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if len(args) == 2 {
		id := filestore.FileID(args[0], args[1])
		if err := s.DeleteOne(cmd.Context(), id); err != nil {
			exitErr("rm", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", id)
		return
	}
	n, err := s.DeleteAllForOwner(cmd.Context(), args[0])
	if err != nil {
		exitErr("rm", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"owner":%q,"deleted":%d}`+"\n", args[0], n)
}

func runStoreOwners(cmd *cobra.Command, _ []string) {
	s, err := openStore(cmd.Context(), nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	owners, err := s.ListOwners(cmd.Context())
	if err != nil {
		exitErr("owners", err)
	}
	if textFormat() {
		for _, o := range owners {
			fmt.Fprintln(cmd.OutOrStdout(), o)
		}
		return
	}
	if err := printJSON(cmd.OutOrStdout(), owners); err != nil {
		exitErr("write output", err)
	}
}

func runStoreClear(cmd *cobra.Command, _ []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		exitErr("clear", errors.New("refusing to delete every stored file without --yes"))
	}
	s, err := openStore(cmd.Context(), nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.ClearAll(cmd.Context())
	if err != nil {
		exitErr("clear", err)
	}
	telemetry.Default().StoreCleared(res.Count, res.TotalBytes)
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		exitErr("write output", err)
	}
}
