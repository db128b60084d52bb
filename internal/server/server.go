/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package server exposes the player, the file store and the model cache over
// HTTP and streams stage commands to browser views over a websocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"galstage/internal/filestore"
	"galstage/internal/live2d"
	applog "galstage/internal/log"
	"galstage/internal/modelcache"
	"galstage/internal/player"
	"galstage/internal/stage"

	"github.com/prometheus/client_golang/prometheus"
)

// Deps are the services the server exposes.
type Deps struct {
	Files     *filestore.Store
	Transient *filestore.TransientRegistry
	Cache     *modelcache.Cache
	Catalog   *live2d.Catalog
	Hub       *Hub
	Registry  *prometheus.Registry
	Player    *player.Player
	Director  *stage.Director

	// Token enables bearer authentication on /api and /ws when set.
	Token string
}

// Server owns the HTTP surface.
type Server struct {
	files     *filestore.Store
	transient *filestore.TransientRegistry
	cache     *modelcache.Cache
	catalog   *live2d.Catalog
	hub       *Hub
	registry  *prometheus.Registry
	player    *player.Player
	director  *stage.Director
	token     string
	log       *slog.Logger
}

// New wires the server. Missing hub, registry and player are created.
func New(d Deps) *Server {
	s := &Server{
		files:     d.Files,
		transient: d.Transient,
		cache:     d.Cache,
		catalog:   d.Catalog,
		hub:       d.Hub,
		registry:  d.Registry,
		player:    d.Player,
		director:  d.Director,
		token:     d.Token,
		log:       applog.WithComponent("server"),
	}
	if s.hub == nil {
		s.hub = NewHub()
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if s.player == nil {
		s.player = player.New(nil)
	}
	s.player.Subscribe(s.hub.PublishEvent)
	s.hub.OnMessage(s.handleFrame)
	return s
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Player returns the player driven by the API.
func (s *Server) Player() *player.Player { return s.player }

// Run starts the background loops and serves addr until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)
	if s.transient != nil {
		go s.transient.RunSweeper(ctx, time.Minute)
	}
	if s.director != nil {
		s.director.Attach(ctx, s.player)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		s.player.Close()
		return err
	case <-ctx.Done():
	}
	s.player.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("stopped")
	return nil
}
