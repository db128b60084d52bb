/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package stage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"galstage/internal/live2d"
	"galstage/internal/modelcache"
	"galstage/internal/player"
	"galstage/internal/script"
)

type call struct{ op, arg string }

type stubModel struct {
	id        string
	mu        sync.Mutex
	calls     []call
	destroyed bool
}

func (m *stubModel) ID() string               { return m.id }
func (m *stubModel) SetPosition(_, _ float64) {}
func (m *stubModel) SetScale(float64)         {}
func (m *stubModel) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = true
	return nil
}

func (m *stubModel) isDestroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}
func (m *stubModel) PlayMotion(group string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{"motion", group})
	return nil
}
func (m *stubModel) PlayExpression(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{"expression", name})
	return nil
}

func (m *stubModel) recorded() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.calls...)
}

type stubLoader struct {
	mu     sync.Mutex
	models map[string]*stubModel
	loads  map[string]int
	// gates holds loads of an id until the channel is closed.
	gates map[string]chan struct{}
}

func (l *stubLoader) Load(_ context.Context, _ string, opts live2d.LoadOptions) (live2d.Model, error) {
	id := opts.Config.ID
	l.mu.Lock()
	gate := l.gates[id]
	l.mu.Unlock()
	if gate != nil {
		<-gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads[id]++
	if id == "broken" {
		return nil, errors.New("moc missing")
	}
	m := &stubModel{id: id}
	l.models[id] = m
	return m, nil
}

func (l *stubLoader) model(id string) *stubModel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.models[id]
}

func (l *stubLoader) loadCount(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[id]
}

type sinkRecorder struct {
	mu   sync.Mutex
	cmds []live2d.Command
}

func (s *sinkRecorder) Send(_ context.Context, c live2d.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, c)
	return nil
}

func testCatalog(t *testing.T) *live2d.Catalog {
	t.Helper()
	c, err := live2d.NewCatalog(
		live2d.ModelConfig{ID: "alice", Name: "Alice", ModelPath: "alice.model3.json",
			Motions: []live2d.Motion{{Group: "Idle", Name: "idle"}, {Group: "Tap", Name: "wave"}}, Expressions: []string{"smile"}},
		live2d.ModelConfig{ID: "bob", Name: "Bob", ModelPath: "bob.model3.json"},
		live2d.ModelConfig{ID: "broken", Name: "Carol", ModelPath: "carol.model3.json"},
	)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func setup(t *testing.T) (*Director, *stubLoader, *sinkRecorder) {
	l := &stubLoader{models: map[string]*stubModel{}, loads: map[string]int{}}
	sink := &sinkRecorder{}
	d := NewDirector(testCatalog(t), modelcache.New(l), sink, WithPreloadAhead(0))
	return d, l, sink
}

func event(b script.Block) player.Event {
	return player.Event{Kind: player.EventAdvance, State: player.State{Block: &b, Mode: player.ModeFor(b)}}
}

func TestHandlePlaysMotionAndExpression(t *testing.T) {
	d, l, sink := setup(t)
	d.Handle(context.Background(), event(script.Block{Kind: script.KindCharacter, Character: "Alice", Motion: "wave", Expression: "smile", Text: "hi"}))
	if d.Current() != "alice" {
		t.Fatalf("Current = %q", d.Current())
	}
	got := l.models["alice"].recorded()
	want := []call{{"motion", "Tap"}, {"expression", "smile"}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if len(sink.cmds) != 1 || sink.cmds[0].Type != live2d.CmdShow {
		t.Fatalf("sink = %+v", sink.cmds)
	}

	// Same speaker again: no second show command, no second load.
	d.Handle(context.Background(), event(script.Block{Kind: script.KindCharacter, Character: "Alice", Text: "again", IsCG: true}))
	if len(sink.cmds) != 1 || l.loadCount("alice") != 1 {
		t.Fatalf("repeat line reloaded or reshowed: cmds=%d loads=%d", len(sink.cmds), l.loadCount("alice"))
	}
}

func TestHandleSkipsCGAndMissingAnimations(t *testing.T) {
	d, l, _ := setup(t)
	ctx := context.Background()
	d.Handle(ctx, event(script.Block{Kind: script.KindCharacter, Character: "Alice", Scene: "beach", Text: "cg", IsCG: true}))
	d.Handle(ctx, event(script.Block{Kind: script.KindCharacter, Character: "Alice", Motion: "dance", Expression: "smile", Text: "x"}))
	if got := l.models["alice"].recorded(); len(got) != 0 {
		t.Fatalf("unexpected calls %v", got)
	}
}

func TestHandleToleratesFailures(t *testing.T) {
	d, _, sink := setup(t)
	ctx := context.Background()
	d.Handle(ctx, event(script.Block{Kind: script.KindCharacter, Character: "Carol", Text: "x"}))
	d.Handle(ctx, event(script.Block{Kind: script.KindCharacter, Character: "Nobody", Text: "x"}))
	d.Handle(ctx, event(script.Block{Kind: script.KindNarration, Message: "rain"}))
	if d.Current() != "" || len(sink.cmds) != 0 {
		t.Fatalf("nothing should be shown: current=%q cmds=%v", d.Current(), sink.cmds)
	}
}

func TestUpcoming(t *testing.T) {
	blocks := []script.Block{
		{Kind: script.KindCharacter, Character: "Alice"},
		{Kind: script.KindNarration},
		{Kind: script.KindCharacter, Character: "Alice"},
		{Kind: script.KindCharacter, Character: "Nobody"},
		{Kind: script.KindCharacter, Character: "Bob"},
		{Kind: script.KindCharacter, Character: "Carol"},
	}
	got := Upcoming(blocks, 0, 1, testCatalog(t))
	if len(got) != 1 || got[0].ID != "bob" {
		t.Fatalf("Upcoming = %+v", got)
	}
	if got := Upcoming(blocks, 0, 5, testCatalog(t)); len(got) != 2 {
		t.Fatalf("Upcoming(5) = %+v", got)
	}
}

func TestAttachFollowsPlayer(t *testing.T) {
	l := &stubLoader{models: map[string]*stubModel{}, loads: map[string]int{}}
	cache := modelcache.New(l)
	d := NewDirector(testCatalog(t), cache, nil, WithPreloadAhead(2))
	blocks := []script.Block{
		{Kind: script.KindNarration, Message: "morning"},
		{Kind: script.KindCharacter, Character: "Alice", Text: "hi"},
		{Kind: script.KindCharacter, Character: "Bob", Text: "yo"},
	}
	p := player.New(blocks)
	defer p.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Attach(ctx, p)
	p.Advance()

	deadline := time.Now().Add(2 * time.Second)
	for d.Current() != "alice" || l.loadCount("bob") != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("director did not follow: current=%q bob loads=%d", d.Current(), l.loadCount("bob"))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestLateWarmLoadKeepsModelOnScreen(t *testing.T) {
	bobGate := make(chan struct{})
	l := &stubLoader{models: map[string]*stubModel{}, loads: map[string]int{}, gates: map[string]chan struct{}{"bob": bobGate}}
	cache := modelcache.New(l, modelcache.WithMaxSize(1))
	sink := &sinkRecorder{}
	d := NewDirector(testCatalog(t), cache, sink, WithPreloadAhead(2))
	ctx := context.Background()

	bob, _ := testCatalog(t).ByID("bob")
	warmed := make(chan error, 1)
	go func() { warmed <- cache.Preload(ctx, bob) }()

	d.Handle(ctx, event(script.Block{Kind: script.KindCharacter, Character: "Alice", Text: "hi"}))
	close(bobGate)
	if err := <-warmed; err != nil {
		t.Fatalf("Preload: %v", err)
	}

	if d.Current() != "alice" {
		t.Fatalf("Current = %q", d.Current())
	}
	if l.model("alice").isDestroyed() {
		t.Fatalf("model on screen was destroyed by a warm load")
	}
	if _, ok := cache.GetCached("alice"); !ok {
		t.Fatalf("alice no longer cached")
	}
	if !l.model("bob").isDestroyed() {
		t.Fatalf("warm load without room should be released")
	}

	// Bob speaking takes the only slot.
	d.Handle(ctx, event(script.Block{Kind: script.KindCharacter, Character: "Bob", Text: "yo"}))
	if d.Current() != "bob" || !l.model("alice").isDestroyed() {
		t.Fatalf("current=%q alice destroyed=%v", d.Current(), l.model("alice").isDestroyed())
	}
}

func TestWarmLeavesRoomForModelOnScreen(t *testing.T) {
	l := &stubLoader{models: map[string]*stubModel{}, loads: map[string]int{}}
	cache := modelcache.New(l, modelcache.WithMaxSize(1))
	d := NewDirector(testCatalog(t), cache, nil, WithPreloadAhead(2))
	p := player.New([]script.Block{
		{Kind: script.KindCharacter, Character: "Alice", Text: "hi"},
		{Kind: script.KindCharacter, Character: "Bob", Text: "yo"},
	})
	defer p.Close()
	d.mu.Lock()
	d.src = p
	d.mu.Unlock()

	d.Handle(context.Background(), event(p.Blocks()[0]))
	time.Sleep(20 * time.Millisecond)
	if n := l.loadCount("bob"); n != 0 {
		t.Fatalf("bob warmed %d times with a single slot", n)
	}
	if l.model("alice").isDestroyed() {
		t.Fatalf("alice destroyed")
	}
}

func TestReloadedModelIsShownAgain(t *testing.T) {
	l := &stubLoader{models: map[string]*stubModel{}, loads: map[string]int{}}
	cache := modelcache.New(l)
	sink := &sinkRecorder{}
	d := NewDirector(testCatalog(t), cache, sink, WithPreloadAhead(0))
	ctx := context.Background()
	line := script.Block{Kind: script.KindCharacter, Character: "Alice", Text: "hi"}

	d.Handle(ctx, event(line))
	cache.Clear()
	d.Handle(ctx, event(line))
	if l.loadCount("alice") != 2 {
		t.Fatalf("loads = %d", l.loadCount("alice"))
	}
	if len(sink.cmds) != 2 || sink.cmds[1].Type != live2d.CmdShow || sink.cmds[1].Model != "alice" {
		t.Fatalf("sink = %+v", sink.cmds)
	}
}
