/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package cli implements the galstage commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"galstage/internal/config"
	"galstage/internal/filestore"
	applog "galstage/internal/log"
	"galstage/internal/telemetry"
)

var (
	formatFlag  string
	backendFlag string

	appCfg   config.AppConfig
	appToken string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "galstage",
	Short: "Visual novel script player and Live2D model stage",
	Long: "galstage parses [[type||...]] dialogue scripts, stores Live2D model files, " +
		"plays scripts in the terminal and serves a stage for browser views.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "File store backend: sqlite, postgres, redis or memory (default from config)")
}

// setup loads the configuration and initialises logging and telemetry for every command.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, tok, err := config.Load()
	if err != nil {
		applog.WithComponent("cli").Warn("config not loaded, using defaults", slog.Any("err", err))
	}
	appCfg, appToken = cfg, tok

	opts := applog.FromEnv()
	if os.Getenv(config.EnvLogLevel) == "" {
		opts.Level = cfg.Logging.Level
	}
	if os.Getenv(config.EnvLogFormat) == "" {
		opts.Format = cfg.Logging.Format
	}
	if os.Getenv(config.EnvLogFile) == "" {
		opts.File = cfg.Logging.File
	}
	opts.AddSource = opts.AddSource || cfg.Logging.Source
	opts.Console = cmd.ErrOrStderr()
	applog.Init(opts)

	tcfg := telemetry.FromEnv()
	tcfg.OptIn = tcfg.OptIn || cfg.General.TelemetryOptIn
	telemetry.SetDefault(telemetry.New(tcfg))
	return nil
}

// Flush sends queued telemetry before the process exits.
func Flush(ctx context.Context) {
	telemetry.Default().Flush(ctx)
}

func openStore(ctx context.Context, reg *filestore.TransientRegistry) (*filestore.Store, error) {
	kind := appCfg.Store.Backend
	if backendFlag != "" {
		kind = backendFlag
	}
	b, err := filestore.OpenBackend(ctx, filestore.BackendConfig{
		Kind:        kind,
		SQLitePath:  appCfg.Store.SQLitePath,
		PostgresDSN: appCfg.Store.PostgresDSN,
		RedisAddr:   appCfg.Store.RedisAddr,
		RedisPrefix: appCfg.Store.RedisPrefix,
	})
	if err != nil {
		return nil, err
	}
	var opts []filestore.Option
	if reg != nil {
		opts = append(opts, filestore.WithTransient(reg))
	}
	return filestore.New(b, opts...), nil
}

// readInput returns the contents of the file named by the first argument, or stdin when
// there is none or it is "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		b, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func textFormat() bool { return strings.EqualFold(formatFlag, "text") }

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
