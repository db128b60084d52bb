/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu      sync.Mutex
	events  []Payload
	crashes [][]byte
}

func (c *collector) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		c.mu.Lock()
		c.events = append(c.events, p)
		c.mu.Unlock()
	})
	mux.HandleFunc("/crash", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.crashes = append(c.crashes, b)
		c.mu.Unlock()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClientSendsDomainEvents(t *testing.T) {
	col := &collector{}
	srv := col.server(t)
	c := New(Config{OptIn: true, EventsURL: srv.URL + "/events", CrashURL: srv.URL + "/crash", Timeout: 2 * time.Second})
	defer c.Close()

	c.ScriptParsed(12, 2)
	c.StoreCleared(3, 2048)
	c.Flush(context.Background())
	waitFor(t, func() bool { return c.Stats().Sent == 2 })

	col.mu.Lock()
	first := col.events[0]
	col.mu.Unlock()
	if first.Name != EventScriptParsed || first.TS == "" || first.Props["blocks"] != float64(12) {
		t.Fatalf("unexpected event %+v", first)
	}

	c.UploadCrash([]byte("STACKTRACE"))
	waitFor(t, func() bool {
		col.mu.Lock()
		defer col.mu.Unlock()
		return len(col.crashes) == 1 && string(col.crashes[0]) == "STACKTRACE"
	})
}

func TestClientDisabledSendsNothing(t *testing.T) {
	col := &collector{}
	srv := col.server(t)
	c := New(Config{OptIn: false, EventsURL: srv.URL + "/events", CrashURL: srv.URL + "/crash", Timeout: time.Second})
	defer c.Close()
	if c.Enabled() {
		t.Fatalf("expected disabled client")
	}
	c.ModelLoaded(time.Second, true)
	c.UploadCrash([]byte("ignored"))

	on := New(Config{OptIn: true, EventsURL: srv.URL + "/events", Timeout: time.Second})
	defer on.Close()
	on.Event("", nil)
	on.Flush(nil)
	time.Sleep(50 * time.Millisecond)

	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.events) != 0 || len(col.crashes) != 0 {
		t.Fatalf("expected no requests, got %d events %d crashes", len(col.events), len(col.crashes))
	}
	if s := on.Stats(); s.Queued != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestSendFailuresAreCounted(t *testing.T) {
	c := New(Config{OptIn: true, EventsURL: "http://127.0.0.1:1/events", Timeout: 50 * time.Millisecond, DebugLogging: true})
	defer c.Close()
	c.Event("err", map[string]any{"a": 1})
	waitFor(t, func() bool { return c.Stats().Failed == 1 })
}

func TestFromEnvAndDefault(t *testing.T) {
	t.Setenv("GAL_TELEMETRY_OPT_IN", "yes")
	t.Setenv("GAL_TELEMETRY_URL", "http://127.0.0.1:0")
	t.Setenv("GAL_CRASH_UPLOAD_URL", "")
	t.Setenv("GAL_TELEMETRY_TIMEOUT_MS", "100")

	cfg := FromEnv()
	if !cfg.OptIn || cfg.EventsURL == "" || cfg.Timeout != 100*time.Millisecond {
		t.Fatalf("FromEnv = %+v", cfg)
	}
	c := New(cfg)
	defer c.Close()
	prev := SetDefault(c)
	defer SetDefault(prev)
	if !Default().Enabled() {
		t.Fatalf("default client should be enabled")
	}
}
