/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package stage puts the speaking character's model on screen as the player
// moves through a script.
package stage

import (
	"context"
	"log/slog"
	"sync"

	"galstage/internal/live2d"
	applog "galstage/internal/log"
	"galstage/internal/modelcache"
	"galstage/internal/player"
	"galstage/internal/script"
)

const eventBacklog = 64

// Director reacts to player transitions: it loads the speaker's model through
// the cache, shows it and plays the line's motion and expression.
type Director struct {
	catalog      *live2d.Catalog
	cache        *modelcache.Cache
	sink         live2d.CommandSink
	preloadAhead int
	log          *slog.Logger

	events chan player.Event
	src    *player.Player

	mu      sync.Mutex
	current string
	shown   live2d.Model
}

// Option configures a Director.
type Option func(*Director)

// WithPreloadAhead sets how many upcoming distinct characters are warmed per line.
func WithPreloadAhead(n int) Option { return func(d *Director) { d.preloadAhead = max(0, n) } }

// NewDirector returns a director. sink receives show commands and may be nil.
func NewDirector(catalog *live2d.Catalog, cache *modelcache.Cache, sink live2d.CommandSink, opts ...Option) *Director {
	d := &Director{
		catalog:      catalog,
		cache:        cache,
		sink:         sink,
		preloadAhead: 2,
		log:          applog.WithComponent("stage"),
		events:       make(chan player.Event, eventBacklog),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Attach subscribes to p and handles its events on a single goroutine until ctx ends.
func (d *Director) Attach(ctx context.Context, p *player.Player) {
	d.mu.Lock()
	d.src = p
	d.mu.Unlock()
	p.Subscribe(func(ev player.Event) {
		select {
		case d.events <- ev:
		default:
			d.log.Warn("stage backlog full, dropping event", slog.String("kind", string(ev.Kind)), slog.Int("index", ev.State.Index))
		}
	})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-d.events:
				d.Handle(ctx, ev)
			}
		}
	}()
}

// Current returns the id of the model on screen.
func (d *Director) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Handle applies one event. Failures are logged and never stop the script.
func (d *Director) Handle(ctx context.Context, ev player.Event) {
	b := ev.State.Block
	if b == nil || b.Kind != script.KindCharacter {
		return
	}
	defer d.warm(ctx, ev.State.Index)

	cfg, ok := d.catalog.ForCharacter(b.Character)
	if !ok {
		d.log.DebugContext(ctx, "no model for character", slog.String("character", b.Character))
		return
	}
	m, err := d.cache.GetOrLoad(ctx, cfg)
	if err != nil {
		d.log.WarnContext(ctx, "model unavailable", slog.String("character", b.Character), slog.Any("err", err))
		return
	}
	d.show(ctx, cfg.ID, m)
	if b.IsCG || !live2d.HasMotionAndExpression(cfg, b.Motion, b.Expression) {
		return
	}
	group, index, _ := cfg.MotionIndex(b.Motion)
	if err := m.PlayMotion(group, index); err != nil {
		d.log.WarnContext(ctx, "motion failed", slog.String("model", cfg.ID), slog.String("motion", b.Motion), slog.Any("err", err))
	}
	if err := m.PlayExpression(b.Expression); err != nil {
		d.log.WarnContext(ctx, "expression failed", slog.String("model", cfg.ID), slog.String("expression", b.Expression), slog.Any("err", err))
	}
}

// show pins id in the cache and tells the view to display it. A reloaded model
// is shown again even when the id did not change.
func (d *Director) show(ctx context.Context, id string, m live2d.Model) {
	d.cache.Pin(id)
	d.mu.Lock()
	changed := d.current != id || d.shown != m
	d.current, d.shown = id, m
	d.mu.Unlock()
	if !changed || d.sink == nil {
		return
	}
	if err := d.sink.Send(ctx, live2d.Command{Type: live2d.CmdShow, Model: id}); err != nil {
		d.log.WarnContext(ctx, "show failed", slog.String("model", id), slog.Any("err", err))
	}
}

// warm starts loading the models of the next distinct speakers after index.
// It leaves one cache slot for the model on screen.
func (d *Director) warm(ctx context.Context, index int) {
	d.mu.Lock()
	p := d.src
	d.mu.Unlock()
	n := min(d.preloadAhead, d.cache.MaxSize()-1)
	if p == nil || n <= 0 {
		return
	}
	cfgs := Upcoming(p.Blocks(), index, n, d.catalog)
	if len(cfgs) > 0 {
		d.cache.PreloadAll(ctx, cfgs)
	}
}

// Upcoming returns the models of up to n distinct characters speaking after
// index, skipping the speaker at index and characters without a model.
func Upcoming(blocks []script.Block, index, n int, catalog *live2d.Catalog) []live2d.ModelConfig {
	seen := map[string]bool{}
	if index >= 0 && index < len(blocks) {
		seen[blocks[index].Character] = true
	}
	var out []live2d.ModelConfig
	for i := index + 1; i < len(blocks) && len(out) < n; i++ {
		b := blocks[i]
		if b.Kind != script.KindCharacter || seen[b.Character] {
			continue
		}
		seen[b.Character] = true
		if cfg, ok := catalog.ForCharacter(b.Character); ok {
			out = append(out, cfg)
		}
	}
	return out
}
