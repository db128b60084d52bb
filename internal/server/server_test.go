/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"galstage/internal/filestore"
	"galstage/internal/live2d"
	"galstage/internal/modelcache"
	"galstage/internal/player"

	"github.com/gorilla/websocket"
)

const scenarioScript = `<StatusBlock>
地点: 海边
心情: 开心
</StatusBlock>
[[character||Alice||hello]]
[[blacktext||three days later]]
[[choice||go outside||Alice||let's go]]
[[character||Alice||bye]]`

type nopModel struct{ id string }

func (m nopModel) ID() string                { return m.id }
func (nopModel) SetPosition(_, _ float64)     {}
func (nopModel) SetScale(float64)             {}
func (nopModel) PlayMotion(string, int) error { return nil }
func (nopModel) PlayExpression(string) error  { return nil }
func (nopModel) Destroy() error               { return nil }

func newTestServer(t *testing.T, token string) (*Server, *httptest.Server) {
	t.Helper()
	reg := filestore.NewTransientRegistry("http://placeholder", time.Minute)
	files := filestore.New(filestore.NewMemory(), filestore.WithTransient(reg))
	cache := modelcache.New(live2d.LoaderFunc(func(_ context.Context, _ string, o live2d.LoadOptions) (live2d.Model, error) {
		return nopModel{id: o.Config.ID}, nil
	}))
	s := New(Deps{
		Files:     files,
		Transient: reg,
		Cache:     cache,
		Player:    player.New(nil, player.WithScheduler(noTimers{})),
		Token:     token,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go s.Hub().Run(ctx)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return s, srv
}

type noTimers struct{}

type stoppedTimer struct{}

func (stoppedTimer) Stop() bool { return false }

func (noTimers) AfterFunc(time.Duration, func()) player.Timer { return stoppedTimer{} }

func do(t *testing.T, method, url, token string, body io.Reader, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndMetrics(t *testing.T) {
	_, srv := newTestServer(t, "")
	var h map[string]any
	if code := do(t, http.MethodGet, srv.URL+"/healthz", "", nil, &h); code != http.StatusOK || h["status"] != "ok" {
		t.Fatalf("healthz: %d %v", code, h)
	}
	if code := do(t, http.MethodGet, srv.URL+"/metrics", "", nil, nil); code != http.StatusOK {
		t.Fatalf("metrics: %d", code)
	}
}

func TestParseEndpoint(t *testing.T) {
	_, srv := newTestServer(t, "")
	var resp parseResponse
	code := do(t, http.MethodPost, srv.URL+"/api/parse?segments=true", "", strings.NewReader(scenarioScript), &resp)
	if code != http.StatusOK {
		t.Fatalf("parse: %d", code)
	}
	if len(resp.Blocks) != 4 || resp.Blocks[2].ChoiceResponse != "let's go" {
		t.Fatalf("blocks = %+v", resp.Blocks)
	}
	if resp.Status.Location() != "海边" || resp.Status.Mood() != "开心" {
		t.Fatalf("status = %v", resp.Status)
	}
	if len(resp.Segments) == 0 {
		t.Fatalf("segments requested but missing")
	}
}

func TestPlayerFlowOverHTTP(t *testing.T) {
	_, srv := newTestServer(t, "")
	body, _ := json.Marshal(map[string]string{"script": scenarioScript})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/player/load", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var st player.State
	_ = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if st.Total != 4 || st.Mode != player.ModePlaying {
		t.Fatalf("after load = %+v", st)
	}

	var mv moveResponse
	do(t, http.MethodPost, srv.URL+"/api/player/advance", "", nil, &mv)
	if !mv.Moved || mv.State.Mode != player.ModeBlackScreen {
		t.Fatalf("advance = %+v", mv)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/player/choice", "", strings.NewReader(`{"id":"0"}`), nil); code != http.StatusConflict {
		t.Fatalf("choice outside choice block: %d", code)
	}
	do(t, http.MethodPost, srv.URL+"/api/player/advance", "", nil, &mv)
	if mv.State.Mode != player.ModeChoicePending {
		t.Fatalf("second advance = %+v", mv)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/player/choice", "", strings.NewReader(`{"id":"9"}`), nil); code != http.StatusBadRequest {
		t.Fatalf("unknown choice: %d", code)
	}
	var cr choiceResponse
	if code := do(t, http.MethodPost, srv.URL+"/api/player/choice", "", strings.NewReader(`{"id":"0"}`), &cr); code != http.StatusOK {
		t.Fatalf("choice: %d", code)
	}
	if cr.State.Index != 3 || cr.Result.Option.Response != "let's go" {
		t.Fatalf("choice = %+v", cr)
	}
	do(t, http.MethodPost, srv.URL+"/api/player/advance", "", nil, &mv)
	if mv.Moved {
		t.Fatalf("advance at the end should not move")
	}
	do(t, http.MethodPost, srv.URL+"/api/player/autoplay", "", strings.NewReader(`{"enabled":true,"delayMs":1500}`), &st)
	if !st.AutoPlay || st.AutoPlayDelayMs != 1500 {
		t.Fatalf("autoplay = %+v", st)
	}
}

func TestAuthRequired(t *testing.T) {
	_, srv := newTestServer(t, "s3cret")
	if code := do(t, http.MethodGet, srv.URL+"/api/player/state", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", code)
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/player/state", "wrong", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", code)
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/player/state", "s3cret", nil, nil); code != http.StatusOK {
		t.Fatalf("valid token: %d", code)
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/player/state?token=s3cret", "", nil, nil); code != http.StatusOK {
		t.Fatalf("query token: %d", code)
	}
	if code := do(t, http.MethodGet, srv.URL+"/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz must stay open: %d", code)
	}
}

func TestStoreAndBlobEndpoints(t *testing.T) {
	_, srv := newTestServer(t, "")
	var put map[string]any
	code := do(t, http.MethodPut, srv.URL+"/api/store/hiyori/tex/0.png", "", strings.NewReader("\x89PNG\r\n\x1a\nrest"), &put)
	if code != http.StatusCreated || put["url"] != "store://hiyori/tex/0.png" {
		t.Fatalf("put: %d %v", code, put)
	}
	var owners []string
	do(t, http.MethodGet, srv.URL+"/api/store/owners", "", nil, &owners)
	if len(owners) != 1 || owners[0] != "hiyori" {
		t.Fatalf("owners = %v", owners)
	}
	var files []filestore.StoredFile
	do(t, http.MethodGet, srv.URL+"/api/store/hiyori", "", nil, &files)
	if len(files) != 1 || files[0].MimeType != "image/png" {
		t.Fatalf("files = %+v", files)
	}

	var got map[string]string
	if code := do(t, http.MethodGet, srv.URL+"/api/store/hiyori/tex/0.png", "", nil, &got); code != http.StatusOK {
		t.Fatalf("get: %d", code)
	}
	tok, ok := filestore.TokenFromURL(got["url"])
	if !ok {
		t.Fatalf("not a transient url: %q", got["url"])
	}
	resp, err := http.Get(srv.URL + filestore.BlobPath + tok)
	if err != nil {
		t.Fatalf("blob: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" || !strings.HasSuffix(string(data), "rest") {
		t.Fatalf("blob: %d %q %q", resp.StatusCode, resp.Header.Get("Content-Type"), data)
	}
	if code := do(t, http.MethodGet, srv.URL+filestore.BlobPath+"nope", "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown blob: %d", code)
	}

	if code := do(t, http.MethodPut, srv.URL+"/api/store/a::b/x.png", "", strings.NewReader("x"), nil); code != http.StatusBadRequest {
		t.Fatalf("ambiguous owner: %d", code)
	}
	var del map[string]int
	do(t, http.MethodDelete, srv.URL+"/api/store/hiyori", "", nil, &del)
	if del["deleted"] != 1 {
		t.Fatalf("delete owner = %v", del)
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/store/hiyori/tex/0.png", "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("deleted file: %d", code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	s, srv := newTestServer(t, "")
	if _, err := s.cache.GetOrLoad(context.Background(), live2d.ModelConfig{ID: "a", Name: "A", ModelPath: "a.model3.json"}); err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	var st modelcache.Stats
	do(t, http.MethodGet, srv.URL+"/api/cache/stats", "", nil, &st)
	if st.Cached != 1 || st.Models[0].Name != "A" {
		t.Fatalf("stats = %+v", st)
	}
	do(t, http.MethodPut, srv.URL+"/api/cache/size", "", strings.NewReader(`{"maxSize":3}`), &st)
	if st.MaxSize != 3 {
		t.Fatalf("resize = %+v", st)
	}
	if code := do(t, http.MethodDelete, srv.URL+"/api/cache", "", nil, nil); code != http.StatusNoContent {
		t.Fatalf("clear: %d", code)
	}
	if s.cache.Stats().Cached != 0 {
		t.Fatalf("cache not cleared")
	}
}

func TestWebsocketStreamsPlayerEventsAndCommands(t *testing.T) {
	s, srv := newTestServer(t, "tok")
	// A model loaded before the view connects is replayed on connect.
	if err := s.Hub().Send(context.Background(), live2d.Command{Type: live2d.CmdLoad, Model: "alice", URL: "http://x/blob/1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=tok"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	// The broadcast may reach the hub before or after the view registers;
	// replay covers the second case, so read until the load command shows up.
	var env Envelope
	for {
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		if env.Type == MsgCommand {
			break
		}
	}
	var cmd live2d.Command
	if err := json.Unmarshal(env.Data, &cmd); err != nil || cmd.Type != live2d.CmdLoad || cmd.Model != "alice" {
		t.Fatalf("command = %+v, %v", cmd, err)
	}

	s.Player().Load(nil)
	for {
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		if env.Type == MsgPlayer {
			break
		}
	}
	var ev player.Event
	if err := json.Unmarshal(env.Data, &ev); err != nil || ev.Kind != player.EventLoad {
		t.Fatalf("event = %+v, %v", ev, err)
	}

	if err := conn.WriteJSON(Envelope{Type: "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		if env.Type == MsgError {
			break
		}
	}
}

func TestWebsocketRequiresToken(t *testing.T) {
	_, srv := newTestServer(t, "tok")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v", resp)
	}
}

// testClock is a settable time source shared with the HTTP goroutines.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestReplayedLoadResolvesAfterTTL(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := &testClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := filestore.NewTransientRegistry("http://placeholder", time.Minute)
	reg.SetClock(clk.now)
	files := filestore.New(filestore.NewMemory(), filestore.WithTransient(reg))
	for name, data := range map[string]string{
		"alice.model3.json": `{"Version":3,"FileReferences":{"Moc":"alice.moc3"}}`,
		"alice.moc3":        "moc",
	} {
		if _, err := files.Store(ctx, "alice", name, []byte(data)); err != nil {
			t.Fatalf("Store %s: %v", name, err)
		}
	}
	hub := NewHub()
	go hub.Run(ctx)
	cache := modelcache.New(live2d.NewRemoteLoader(files, hub))
	s := New(Deps{Files: files, Transient: reg, Cache: cache, Hub: hub,
		Player: player.New(nil, player.WithScheduler(noTimers{}))})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	cfg := live2d.ModelConfig{ID: "alice", Name: "Alice", ModelPath: "alice.model3.json", BasePath: "store://alice/"}
	if _, err := cache.GetOrLoad(ctx, cfg); err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	clk.add(time.Hour)
	reg.Sweep()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var cmd live2d.Command
	for cmd.Type != live2d.CmdLoad {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		if env.Type == MsgCommand {
			if err := json.Unmarshal(env.Data, &cmd); err != nil {
				t.Fatalf("decode command: %v", err)
			}
		}
	}

	tok, ok := filestore.TokenFromURL(cmd.URL)
	if !ok {
		t.Fatalf("replayed url %q", cmd.URL)
	}
	resp, err := http.Get(srv.URL + filestore.BlobPath + tok)
	if err != nil {
		t.Fatalf("get manifest: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replayed manifest status %d after the TTL", resp.StatusCode)
	}
	var doc struct{ FileReferences struct{ Moc string } }
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	mocTok, _ := filestore.TokenFromURL(doc.FileReferences.Moc)
	if code := do(t, http.MethodGet, srv.URL+filestore.BlobPath+mocTok, "", nil, nil); code != http.StatusOK {
		t.Fatalf("moc status %d after the TTL", code)
	}

	cache.Clear()
	if code := do(t, http.MethodGet, srv.URL+filestore.BlobPath+tok, "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("manifest still served after the model was destroyed: %d", code)
	}
}
