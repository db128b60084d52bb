/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package modelcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

// metrics mirrors every counter into a Prometheus collector so Stats can be
// served without a registry round trip.
type metrics struct {
	hits, misses, loads, failures, evictions atomic.Int64

	promHits      prometheus.Counter
	promMisses    prometheus.Counter
	promLoads     prometheus.Counter
	promFailures  prometheus.Counter
	promEvictions prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, size func() float64) *metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: "galstage", Subsystem: "modelcache", Name: name, Help: help})
	}
	m := &metrics{
		promHits:      counter("hits_total", "Lookups served from the cache."),
		promMisses:    counter("misses_total", "Lookups that had to wait for a load."),
		promLoads:     counter("loads_total", "Loader calls started."),
		promFailures:  counter("load_failures_total", "Loader calls that failed."),
		promEvictions: counter("evictions_total", "Models evicted to make room."),
	}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "galstage", Subsystem: "modelcache", Name: "models",
		Help: "Models currently resident.",
	}, size)
	return m
}

func (m *metrics) hit()      { m.hits.Inc(); m.promHits.Inc() }
func (m *metrics) miss()     { m.misses.Inc(); m.promMisses.Inc() }
func (m *metrics) load()     { m.loads.Inc(); m.promLoads.Inc() }
func (m *metrics) failure()  { m.failures.Inc(); m.promFailures.Inc() }
func (m *metrics) eviction() { m.evictions.Inc(); m.promEvictions.Inc() }

func (m *metrics) snapshot() (hits, misses, loads, failures, evictions int64) {
	return m.hits.Load(), m.misses.Load(), m.loads.Load(), m.failures.Load(), m.evictions.Load()
}
