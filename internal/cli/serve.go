/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"galstage/internal/filestore"
	"galstage/internal/live2d"
	applog "galstage/internal/log"
	"galstage/internal/modelcache"
	"galstage/internal/player"
	"galstage/internal/script"
	"galstage/internal/server"
	"galstage/internal/stage"
	"galstage/internal/telemetry"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve [script]",
		Short: "Serve the stage API, websocket and model files",
		Long: "Serve the stage API, websocket and model files. An optional script is loaded " +
			"into the player at start; views connect to /ws and receive model commands.",
		Args: cobra.MaximumNArgs(1),
		Run:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default from config)")
	cmd.Flags().String("catalog", "", "Model catalog file (default from config)")
	cmd.Flags().Int("cache-size", 0, "Maximum number of live models (default from config)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	l := applog.WithComponent("serve")

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = appCfg.Server.Addr
	}
	catalogPath, _ := cmd.Flags().GetString("catalog")
	if catalogPath == "" {
		catalogPath = appCfg.Cache.CatalogPath
	}
	cacheSize, _ := cmd.Flags().GetInt("cache-size")
	if cacheSize <= 0 {
		cacheSize = appCfg.Cache.MaxSize
	}

	var blocks []script.Block
	if len(args) > 0 {
		text, err := readInput(cmd, args)
		if err != nil {
			exitErr("read script", err)
		}
		blocks = script.ParseBlocks(text)
		telemetry.Default().ScriptParsed(len(blocks), countChoices(blocks))
	}

	catalog, err := live2d.NewCatalog()
	if err != nil {
		exitErr("catalog", err)
	}
	if catalogPath != "" {
		if catalog, err = live2d.LoadCatalog(catalogPath); err != nil {
			exitErr("load catalog", err)
		}
		l.Info("catalog loaded", slog.String("path", catalogPath), slog.Int("models", catalog.Len()))
	}

	transient := filestore.NewTransientRegistry(appCfg.Server.PublicBaseURL, appCfg.Server.TransientTTL())
	files, err := openStore(ctx, transient)
	if err != nil {
		exitErr("open store", err)
	}
	defer files.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := server.NewHub()
	cache := modelcache.New(timedLoader(live2d.NewRemoteLoader(files, hub)),
		modelcache.WithMaxSize(cacheSize),
		modelcache.WithRegistry(reg),
	)
	defer cache.Clear()

	p := player.New(blocks,
		player.WithAutoPlay(appCfg.Player.AutoPlay),
		player.WithAutoPlayDelay(appCfg.Player.AutoPlayDelay()),
		player.WithBlackScreenExtra(appCfg.Player.BlackScreenExtra()),
	)
	director := stage.NewDirector(catalog, cache, hub, stage.WithPreloadAhead(appCfg.Cache.PreloadAhead))

	srv := server.New(server.Deps{
		Files:     files,
		Transient: transient,
		Cache:     cache,
		Catalog:   catalog,
		Hub:       hub,
		Registry:  reg,
		Player:    p,
		Director:  director,
		Token:     appToken,
	})
	if appToken == "" {
		l.Warn("no api token set, /api and /ws are open", slog.String("hint", "galstage token set"))
	}
	if err := srv.Run(ctx, addr); err != nil {
		exitErr("serve", err)
	}
}

// timedLoader reports load durations to telemetry.
func timedLoader(next live2d.Loader) live2d.Loader {
	return live2d.LoaderFunc(func(ctx context.Context, url string, opts live2d.LoadOptions) (live2d.Model, error) {
		start := time.Now()
		m, err := next.Load(ctx, url, opts)
		telemetry.Default().ModelLoaded(time.Since(start), err == nil)
		return m, err
	})
}
