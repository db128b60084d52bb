/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry is an opt-in, anonymous event sender with optional crash
// report upload. Nothing is sent unless the user opted in and an endpoint is set.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	applog "galstage/internal/log"
	"galstage/internal/version"

	"go.uber.org/atomic"
)

// Event names.
const (
	EventScriptParsed = "script_parsed"
	EventModelLoaded  = "model_loaded"
	EventStoreCleared = "store_cleared"
)

// Config controls the sender.
//
// Environment variables (read by FromEnv):
//   - GAL_TELEMETRY_OPT_IN: 1/true/yes/on enables events
//   - GAL_TELEMETRY_URL: endpoint receiving JSON events
//   - GAL_CRASH_UPLOAD_URL: endpoint receiving crash reports
//   - GAL_TELEMETRY_TIMEOUT_MS: request timeout, default 1500
//   - GAL_TELEMETRY_DEBUG: log every send attempt
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
}

func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv("GAL_TELEMETRY_OPT_IN")),
		EventsURL:    strings.TrimSpace(os.Getenv("GAL_TELEMETRY_URL")),
		CrashURL:     strings.TrimSpace(os.Getenv("GAL_CRASH_UPLOAD_URL")),
		Timeout:      1500 * time.Millisecond,
		DebugLogging: os.Getenv("GAL_TELEMETRY_DEBUG") != "",
	}
	if ms := strings.TrimSpace(os.Getenv("GAL_TELEMETRY_TIMEOUT_MS")); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil {
			cfg.Timeout = v
		}
	}
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// Payload is the JSON body of one event.
type Payload struct {
	Name    string         `json:"name"`
	TS      string         `json:"ts"`
	Version string         `json:"version"`
	OS      string         `json:"os"`
	Arch    string         `json:"arch"`
	Props   map[string]any `json:"props,omitempty"`
}

// Stats counts what the client did with queued events.
type Stats struct {
	Queued  int64
	Sent    int64
	Failed  int64
	Dropped int64
}

// Client sends events from a bounded queue on its own goroutine and drops
// events when the queue is full or a send fails.
type Client struct {
	cfg    Config
	log    *slog.Logger
	cli    *http.Client
	q      chan Payload
	once   sync.Once
	closed chan struct{}

	queued, sent, failed, dropped atomic.Int64
}

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// Default returns the package client, building it from the environment on first use.
func Default() *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		defaultClient = New(FromEnv())
	}
	return defaultClient
}

// SetDefault installs c as the package client and returns the previous one.
func SetDefault(c *Client) *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultClient
	defaultClient = c
	return prev
}

func New(cfg Config) *Client {
	c := &Client{
		cfg:    cfg,
		log:    applog.WithComponent("telemetry"),
		cli:    &http.Client{Timeout: cfg.Timeout},
		q:      make(chan Payload, 64),
		closed: make(chan struct{}),
	}
	go c.loop()
	return c
}

// Enabled reports whether events will be sent.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Event queues name with props. Props must not carry personal data.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || name == "" {
		return
	}
	p := Payload{
		Name:    name,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Version: version.String(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
	if len(props) > 0 {
		p.Props = make(map[string]any, len(props))
		for k, v := range props {
			p.Props[k] = v
		}
	}
	select {
	case c.q <- p:
		c.queued.Inc()
	default:
		c.dropped.Inc()
	}
}

// ScriptParsed records the size of a parsed script.
func (c *Client) ScriptParsed(blocks, choices int) {
	c.Event(EventScriptParsed, map[string]any{"blocks": blocks, "choices": choices})
}

// ModelLoaded records a model load duration.
func (c *Client) ModelLoaded(took time.Duration, ok bool) {
	c.Event(EventModelLoaded, map[string]any{"ms": took.Milliseconds(), "ok": ok})
}

// StoreCleared records how much a ClearAll removed.
func (c *Client) StoreCleared(files int, bytes int64) {
	c.Event(EventStoreCleared, map[string]any{"files": files, "bytes": bytes})
}

// Stats returns the client's counters.
func (c *Client) Stats() Stats {
	return Stats{Queued: c.queued.Load(), Sent: c.sent.Load(), Failed: c.failed.Load(), Dropped: c.dropped.Load()}
}

// Flush waits up to 500ms for the queue to drain.
func (c *Client) Flush(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.Now().Add(500 * time.Millisecond)
	for {
		if len(c.q) == 0 || time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Close stops the sender goroutine.
func (c *Client) Close() { c.once.Do(func() { close(c.closed) }) }

func (c *Client) loop() {
	for {
		select {
		case <-c.closed:
			return
		case p := <-c.q:
			c.send(p)
		}
	}
}

func (c *Client) post(url, contentType string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.cli.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Client) send(p Payload) {
	buf, err := json.Marshal(p)
	if err == nil {
		err = c.post(c.cfg.EventsURL, "application/json", buf)
	}
	if err != nil {
		c.failed.Inc()
		if c.cfg.DebugLogging {
			c.log.Debug("telemetry send failed", slog.String("event", p.Name), slog.Any("err", err))
		}
		return
	}
	c.sent.Inc()
	if c.cfg.DebugLogging {
		c.log.Debug("telemetry event sent", slog.String("event", p.Name))
	}
}

// UploadCrash posts a crash report in the background when opted in.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	go func(b []byte) {
		if err := c.post(c.cfg.CrashURL, "text/plain; charset=utf-8", b); err != nil {
			if c.cfg.DebugLogging {
				c.log.Debug("crash upload failed", slog.Any("err", err))
			}
			return
		}
		if c.cfg.DebugLogging {
			c.log.Debug("crash report uploaded")
		}
	}(append([]byte(nil), report...))
}

// Event sends through the default client.
func Event(name string, props map[string]any) { Default().Event(name, props) }

// UploadCrash uploads through the default client.
func UploadCrash(report []byte) { Default().UploadCrash(report) }
