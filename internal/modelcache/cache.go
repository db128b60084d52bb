/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package modelcache keeps a bounded set of loaded models and collapses
// concurrent loads of the same model into one loader call.
package modelcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"galstage/internal/live2d"
	applog "galstage/internal/log"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMaxSize is the capacity used when none is configured.
const DefaultMaxSize = 5

// LoadError wraps a loader failure for one model id.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load model %s: %v", e.ID, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// CachedModel is one resident model.
type CachedModel struct {
	ID       string
	Handle   live2d.Model
	Config   live2d.ModelConfig
	LastUsed time.Time
}

// ticket is an in-flight load. done is closed once model/err are final.
// wanted is set when a GetOrLoad caller waits on it; guarded by Cache.mu.
type ticket struct {
	done   chan struct{}
	model  live2d.Model
	err    error
	wanted bool
}

// Cache is an LRU of loaded models. It is safe for concurrent use.
type Cache struct {
	loader live2d.Loader
	now    func() time.Time
	log    *slog.Logger
	m      *metrics

	mu      sync.Mutex
	maxSize int
	pinned  string
	models  map[string]*CachedModel
	loading map[string]*ticket
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	now     func() time.Time
	maxSize int
	reg     prometheus.Registerer
}

// WithClock overrides the time source used for LastUsed.
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// WithMaxSize sets the capacity. Values below 1 are clamped to 1.
func WithMaxSize(n int) Option { return func(c *config) { c.maxSize = n } }

// WithRegistry registers the cache collectors on reg.
func WithRegistry(reg prometheus.Registerer) Option { return func(c *config) { c.reg = reg } }

// New returns an empty cache that loads through loader.
func New(loader live2d.Loader, opts ...Option) *Cache {
	cfg := config{now: time.Now, maxSize: DefaultMaxSize}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.reg == nil {
		cfg.reg = prometheus.NewRegistry()
	}
	c := &Cache{
		loader:  loader,
		now:     cfg.now,
		log:     applog.WithComponent("modelcache"),
		maxSize: max(1, cfg.maxSize),
		models:  map[string]*CachedModel{},
		loading: map[string]*ticket{},
	}
	c.m = newMetrics(cfg.reg, c.size)
	return c
}

func (c *Cache) size() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(len(c.models))
}

// Preload ensures cfg is resident. It returns once the model is cached or the
// load failed; a load already in flight is awaited instead of repeated.
// A preload never evicts the pinned model: when nothing else can make room,
// the preloaded model is destroyed instead of cached.
func (c *Cache) Preload(ctx context.Context, cfg live2d.ModelConfig) error {
	_, err := c.acquire(ctx, cfg, false)
	return err
}

// PreloadAll starts loading every config in the background and returns at once.
// Failures are logged.
func (c *Cache) PreloadAll(ctx context.Context, cfgs []live2d.ModelConfig) {
	bg := context.WithoutCancel(ctx)
	for _, cfg := range cfgs {
		go func(cfg live2d.ModelConfig) {
			if err := c.Preload(bg, cfg); err != nil {
				c.log.WarnContext(bg, "preload failed", slog.String("model", cfg.ID), slog.Any("err", err))
			}
		}(cfg)
	}
}

// GetCached returns a resident model and refreshes its LastUsed.
func (c *Cache) GetCached(id string) (live2d.Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.models[id]
	if !ok {
		c.m.miss()
		return nil, false
	}
	e.LastUsed = c.now()
	c.m.hit()
	return e.Handle, true
}

// GetOrLoad returns the resident model for cfg.ID or loads it. Concurrent callers
// for the same id share one load and see the same model or the same *LoadError.
// Cancelling ctx stops the wait but not the load.
func (c *Cache) GetOrLoad(ctx context.Context, cfg live2d.ModelConfig) (live2d.Model, error) {
	return c.acquire(ctx, cfg, true)
}

func (c *Cache) acquire(ctx context.Context, cfg live2d.ModelConfig, wanted bool) (live2d.Model, error) {
	c.mu.Lock()
	if e, ok := c.models[cfg.ID]; ok {
		e.LastUsed = c.now()
		c.m.hit()
		c.mu.Unlock()
		return e.Handle, nil
	}
	c.m.miss()
	t, inflight := c.loading[cfg.ID]
	if !inflight {
		t = &ticket{done: make(chan struct{})}
		c.loading[cfg.ID] = t
		c.m.load()
		go c.run(context.WithoutCancel(ctx), cfg, t)
	}
	t.wanted = t.wanted || wanted
	c.mu.Unlock()

	select {
	case <-t.done:
		return t.model, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) run(ctx context.Context, cfg live2d.ModelConfig, t *ticket) {
	start := c.now()
	model, err := c.callLoader(ctx, cfg)

	c.mu.Lock()
	if c.loading[cfg.ID] == t {
		delete(c.loading, cfg.ID)
	}
	if err != nil {
		c.m.failure()
		c.mu.Unlock()
		t.err = &LoadError{ID: cfg.ID, Err: err}
		close(t.done)
		c.log.WarnContext(ctx, "model load failed", slog.String("model", cfg.ID), slog.Any("err", err))
		return
	}
	var victims []*CachedModel
	if existing, ok := c.models[cfg.ID]; ok {
		// A load started after Clear won the race; keep the resident one.
		existing.LastUsed = c.now()
		victims = append(victims, &CachedModel{ID: cfg.ID, Handle: model})
		model = existing.Handle
	} else {
		for len(c.models) >= c.maxSize {
			v := c.evictOldestLocked(t.wanted)
			if v == nil {
				break
			}
			victims = append(victims, v)
		}
		if len(c.models) < c.maxSize {
			c.models[cfg.ID] = &CachedModel{ID: cfg.ID, Handle: model, Config: cfg, LastUsed: c.now()}
		} else {
			// Only the pinned model is left and nobody asked for this one.
			victims = append(victims, &CachedModel{ID: cfg.ID, Handle: model})
			model = nil
		}
	}
	c.mu.Unlock()

	c.destroy(ctx, victims)
	t.model = model
	close(t.done)
	if model == nil {
		c.log.DebugContext(ctx, "preloaded model dropped, cache holds the pinned model only", slog.String("model", cfg.ID))
		return
	}
	c.log.DebugContext(ctx, "model loaded", slog.String("model", cfg.ID), slog.Duration("took", c.now().Sub(start)))
}

func (c *Cache) callLoader(ctx context.Context, cfg live2d.ModelConfig) (m live2d.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("loader panic: %v", r)
		}
	}()
	m, err = c.loader.Load(ctx, cfg.ModelURL(), live2d.LoadOptions{Config: cfg})
	if err == nil && m == nil {
		err = errors.New("loader returned no model")
	}
	return m, err
}

// evictOldestLocked removes the entry with the smallest LastUsed. Ties go to the
// smallest id. The pinned entry is only taken when allowPinned is set and it is
// the last one left. It returns nil when nothing can be evicted. Callers hold c.mu.
func (c *Cache) evictOldestLocked(allowPinned bool) *CachedModel {
	var oldest *CachedModel
	for _, e := range c.models {
		if e.ID == c.pinned {
			continue
		}
		if oldest == nil || e.LastUsed.Before(oldest.LastUsed) ||
			(e.LastUsed.Equal(oldest.LastUsed) && e.ID < oldest.ID) {
			oldest = e
		}
	}
	if oldest == nil && allowPinned {
		oldest = c.models[c.pinned]
	}
	if oldest == nil {
		return nil
	}
	delete(c.models, oldest.ID)
	c.m.eviction()
	return oldest
}

func (c *Cache) destroy(ctx context.Context, victims []*CachedModel) {
	for _, v := range victims {
		if err := v.Handle.Destroy(); err != nil {
			c.log.WarnContext(ctx, "destroy failed", slog.String("model", v.ID), slog.Any("err", err))
			continue
		}
		c.log.DebugContext(ctx, "model destroyed", slog.String("model", v.ID))
	}
}

// Clear destroys every resident model and forgets in-flight loads. Loads that
// are still running complete for their waiters and are cached afterwards.
func (c *Cache) Clear() {
	c.mu.Lock()
	victims := make([]*CachedModel, 0, len(c.models))
	for _, e := range c.models {
		victims = append(victims, e)
	}
	c.models = map[string]*CachedModel{}
	c.loading = map[string]*ticket{}
	c.mu.Unlock()
	c.destroy(context.Background(), victims)
}

// SetMaxSize changes the capacity, evicting least recently used models as needed.
func (c *Cache) SetMaxSize(n int) {
	n = max(1, n)
	c.mu.Lock()
	c.maxSize = n
	var victims []*CachedModel
	for len(c.models) > n {
		victims = append(victims, c.evictOldestLocked(true))
	}
	c.mu.Unlock()
	c.destroy(context.Background(), victims)
}

// Pin protects the model with id from eviction by other models until another
// id is pinned. An empty id removes the pin. A GetOrLoad that finds no other
// room still evicts the pinned model.
func (c *Cache) Pin(id string) {
	c.mu.Lock()
	c.pinned = id
	c.mu.Unlock()
}

// MaxSize returns the current capacity.
func (c *Cache) MaxSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// ModelStat describes one resident model.
type ModelStat struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	LastUsed time.Time `json:"lastUsed"`
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Cached    int         `json:"cached"`
	Loading   int         `json:"loading"`
	MaxSize   int         `json:"maxSize"`
	Pinned    string      `json:"pinned,omitempty"`
	Hits      int64       `json:"hits"`
	Misses    int64       `json:"misses"`
	Loads     int64       `json:"loads"`
	Failures  int64       `json:"failures"`
	Evictions int64       `json:"evictions"`
	Models    []ModelStat `json:"models"`
}

// Stats returns counters and the resident models, most recently used first.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	s := Stats{Cached: len(c.models), Loading: len(c.loading), MaxSize: c.maxSize, Pinned: c.pinned}
	s.Models = make([]ModelStat, 0, len(c.models))
	for _, e := range c.models {
		s.Models = append(s.Models, ModelStat{ID: e.ID, Name: e.Config.Name, LastUsed: e.LastUsed})
	}
	c.mu.Unlock()
	sort.Slice(s.Models, func(i, j int) bool {
		if !s.Models[i].LastUsed.Equal(s.Models[j].LastUsed) {
			return s.Models[i].LastUsed.After(s.Models[j].LastUsed)
		}
		return s.Models[i].ID < s.Models[j].ID
	})
	s.Hits, s.Misses, s.Loads, s.Failures, s.Evictions = c.m.snapshot()
	return s
}
