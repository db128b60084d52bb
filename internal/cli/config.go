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

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"galstage/internal/config"
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise the configuration file",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration and its environment overrides",
		Run:   runConfigShow,
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the current settings to the config file",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := config.Save(appCfg, ""); err != nil {
				exitErr("save config", err)
			}
			path, _ := config.ConfigPath()
			fmt.Fprintln(cmd.OutOrStdout(), path)
		},
	}
	configCmd.AddCommand(show, initCmd)
	RootCmd.AddCommand(configCmd)
}

var overrideKeys = []string{
	"general.telemetry_opt_in",
	"server.addr",
	"server.public_base_url",
	"server.transient_ttl_ms",
	"store.backend",
	"store.sqlite_path",
	"store.postgres_dsn",
	"store.redis_addr",
	"cache.max_size",
	"cache.catalog_path",
	"player.auto_play_delay_ms",
	"logging.level",
	"logging.format",
	"logging.source",
	"logging.file",
}

func runConfigShow(cmd *cobra.Command, _ []string) {
	w := cmd.OutOrStdout()
	path, _ := config.ConfigPath()
	fmt.Fprintf(w, "# %s\n", path)
	data, err := yaml.Marshal(appCfg)
	if err != nil {
		exitErr("encode config", err)
	}
	if _, err := w.Write(data); err != nil {
		exitErr("write output", err)
	}
	for _, k := range overrideKeys {
		if env, ok := config.EnvOverrideFor(k); ok {
			fmt.Fprintf(w, "# %s overridden by %s\n", k, env)
		}
	}
	if appToken != "" {
		fmt.Fprintln(w, "# api token: set (keychain)")
	} else {
		fmt.Fprintln(w, "# api token: not set")
	}
}
