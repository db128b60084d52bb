/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package player

import (
	"errors"
	"sync"
	"testing"
	"time"

	"galstage/internal/script"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// pending returns timers that have not been stopped.
func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

func scenario() []script.Block {
	return []script.Block{
		{Kind: script.KindCharacter, Character: "A", Text: "hello"},
		{Kind: script.KindBlackText, Message: "three days later"},
		{Kind: script.KindChoice, ChoiceText: "go outside", ChoiceCharacter: "A", ChoiceResponse: "let's go"},
		{Kind: script.KindCharacter, Character: "A", Text: "bye"},
	}
}

func TestScenarioWalkthrough(t *testing.T) {
	p := New(scenario(), WithScheduler(&fakeScheduler{}))
	if s := p.State(); s.Index != 0 || s.Mode != ModePlaying || s.Total != 4 {
		t.Fatalf("start = %+v", s)
	}
	p.Advance()
	if s := p.State(); s.Index != 1 || s.Mode != ModeBlackScreen {
		t.Fatalf("after advance = %+v", s)
	}
	p.Advance()
	if s := p.State(); s.Index != 2 || s.Mode != ModeChoicePending {
		t.Fatalf("after second advance = %+v", s)
	}
	res, err := p.SelectChoice("0")
	if err != nil {
		t.Fatalf("SelectChoice: %v", err)
	}
	if res.BlockIndex != 2 || res.Option.Response != "let's go" || res.Option.Character != "A" {
		t.Fatalf("choice result = %+v", res)
	}
	if s := p.State(); s.Index != 3 || s.Mode != ModePlaying {
		t.Fatalf("after choice = %+v", s)
	}
}

func TestBoundsAreNoOps(t *testing.T) {
	p := New(scenario(), WithScheduler(&fakeScheduler{}))
	if p.Retreat() {
		t.Fatalf("Retreat at 0 should be a no-op")
	}
	for p.State().Index < 2 {
		p.Advance()
	}
	if _, err := p.SelectChoice("go outside"); err != nil {
		t.Fatalf("choice by text: %v", err)
	}
	if p.Advance() {
		t.Fatalf("Advance at last index should be a no-op")
	}
	if s := p.State(); s.Index != 3 {
		t.Fatalf("index = %d", s.Index)
	}

	empty := New(nil, WithScheduler(&fakeScheduler{}))
	if empty.Advance() || empty.Retreat() {
		t.Fatalf("empty player must not move")
	}
	if s := empty.State(); s.Block != nil || s.Mode != ModePlaying {
		t.Fatalf("empty state = %+v", s)
	}
}

func TestSelectChoiceOutsideChoiceLeavesState(t *testing.T) {
	p := New(scenario(), WithScheduler(&fakeScheduler{}))
	before := p.State()
	if _, err := p.SelectChoice("0"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
	if after := p.State(); after.Index != before.Index || after.Mode != before.Mode {
		t.Fatalf("state changed: %+v -> %+v", before, after)
	}
	p.Advance()
	p.Advance()
	if _, err := p.SelectChoice("7"); !errors.Is(err, ErrUnknownChoice) {
		t.Fatalf("want ErrUnknownChoice, got %v", err)
	}
	if s := p.State(); s.Index != 2 {
		t.Fatalf("unknown choice moved the player to %d", s.Index)
	}
}

func TestLegacyChoiceOptions(t *testing.T) {
	blocks := []script.Block{
		{Kind: script.KindChoice, Choices: []string{"left", "right"}},
		{Kind: script.KindNarration, Message: "you walk"},
	}
	p := New(blocks, WithScheduler(&fakeScheduler{}))
	res, err := p.SelectChoice("1")
	if err != nil || res.Option.Text != "right" {
		t.Fatalf("SelectChoice = %+v, %v", res, err)
	}
}

func TestAutoPlaySchedulesWithBlackScreenExtra(t *testing.T) {
	sched := &fakeScheduler{}
	p := New(scenario(), WithScheduler(sched), WithAutoPlay(true), WithAutoPlayDelay(time.Second), WithBlackScreenExtra(500*time.Millisecond))
	timers := sched.pending()
	if len(timers) != 1 || timers[0].d != time.Second {
		t.Fatalf("initial timers = %+v", timers)
	}
	timers[0].f()
	if s := p.State(); s.Index != 1 || s.Mode != ModeBlackScreen {
		t.Fatalf("after auto step = %+v", s)
	}
	timers = sched.pending()
	if len(timers) != 1 || timers[0].d != 1500*time.Millisecond {
		t.Fatalf("black screen timer = %+v", timers)
	}
	timers[0].f()
	if s := p.State(); s.Mode != ModeChoicePending {
		t.Fatalf("expected choice, got %+v", s)
	}
	if n := len(sched.pending()); n != 0 {
		t.Fatalf("nothing should be scheduled on a choice, got %d", n)
	}
	if _, err := p.SelectChoice("0"); err != nil {
		t.Fatalf("SelectChoice: %v", err)
	}
	if n := len(sched.pending()); n != 0 {
		t.Fatalf("nothing should be scheduled on the last block, got %d", n)
	}
}

func TestStaleTimerIsIgnored(t *testing.T) {
	sched := &fakeScheduler{}
	p := New(scenario(), WithScheduler(sched), WithAutoPlay(true))
	stale := sched.pending()[0]
	p.Advance()
	if !stale.stopped {
		t.Fatalf("manual advance must cancel the pending timer")
	}
	// A callback that already escaped Stop must not move the player.
	stale.f()
	if s := p.State(); s.Index != 1 {
		t.Fatalf("stale timer advanced to %d", s.Index)
	}
	p.Retreat()
	if n := len(sched.pending()); n != 1 {
		t.Fatalf("retreat should reschedule, pending = %d", n)
	}
}

func TestSetAutoPlay(t *testing.T) {
	sched := &fakeScheduler{}
	p := New(scenario(), WithScheduler(sched))
	if n := len(sched.pending()); n != 0 {
		t.Fatalf("auto-play off schedules nothing, got %d", n)
	}
	p.SetAutoPlay(true, 250*time.Millisecond)
	timers := sched.pending()
	if len(timers) != 1 || timers[0].d != 250*time.Millisecond {
		t.Fatalf("timers = %+v", timers)
	}
	if s := p.State(); !s.AutoPlay || s.AutoPlayDelayMs != 250 {
		t.Fatalf("state = %+v", s)
	}
	p.SetAutoPlay(false, 0)
	if n := len(sched.pending()); n != 0 {
		t.Fatalf("disabling must cancel, pending = %d", n)
	}
	if s := p.State(); s.AutoPlayDelayMs != 250 {
		t.Fatalf("zero delay should keep the current one, got %d", s.AutoPlayDelayMs)
	}
}

func TestSetAutoPlayOnBlackScreenAndChoice(t *testing.T) {
	sched := &fakeScheduler{}
	p := New(scenario(), WithScheduler(sched))
	p.Advance()
	p.SetAutoPlay(true, 100*time.Millisecond)
	timers := sched.pending()
	if len(timers) != 1 || timers[0].d != 100*time.Millisecond+DefaultBlackScreenExtra {
		t.Fatalf("black screen timers = %+v", timers)
	}
	p.SetAutoPlay(false, 0)
	p.Advance()
	p.SetAutoPlay(true, 0)
	if n := len(sched.pending()); n != 0 {
		t.Fatalf("pending choice scheduled %d timers", n)
	}
}

func TestListenersSeeEveryTransition(t *testing.T) {
	var kinds []EventKind
	p := New(scenario(), WithScheduler(&fakeScheduler{}), WithListener(func(e Event) { kinds = append(kinds, e.Kind) }))
	p.Advance()
	p.Retreat()
	p.Load(scenario()[:2])
	p.Advance()
	want := []EventKind{EventAdvance, EventRetreat, EventLoad, EventAdvance}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}
	if s := p.State(); s.Total != 2 || s.Index != 1 {
		t.Fatalf("after Load = %+v", s)
	}
}

func TestEventsArriveInTransitionOrder(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	seen := make(chan int, 4)
	var once sync.Once
	p := New(scenario(), WithScheduler(&fakeScheduler{}), WithListener(func(e Event) {
		if e.State.Index == 1 {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
		seen <- e.State.Index
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Advance()
	}()
	<-entered
	// The first listener call is still running; this transition must queue behind it.
	if !p.Advance() {
		t.Fatalf("second Advance refused")
	}
	close(release)
	<-done

	var got []int
	for len(got) < 2 {
		select {
		case i := <-seen:
			got = append(got, i)
		case <-time.After(2 * time.Second):
			t.Fatalf("listener saw only %v", got)
		}
	}
	if got[0] != 1 || got[1] != 2 {
		t.Fatalf("listener saw indices %v, want [1 2]", got)
	}
	if s := p.State(); s.Index != got[len(got)-1] {
		t.Fatalf("last delivered index %d != current %d", got[len(got)-1], s.Index)
	}
}

func TestListenerMayCallBack(t *testing.T) {
	var p *Player
	var states []int
	p = New(scenario(), WithScheduler(&fakeScheduler{}), WithListener(func(e Event) {
		states = append(states, p.State().Index)
		if e.State.Index == 1 {
			p.Advance()
		}
	}))
	p.Advance()
	// The nested step is delivered after the outer listener returns.
	if len(states) != 2 || states[0] != 1 || states[1] != 2 {
		t.Fatalf("states seen = %v", states)
	}
}

func TestCloseStopsAutoPlay(t *testing.T) {
	sched := &fakeScheduler{}
	p := New(scenario(), WithScheduler(sched), WithAutoPlay(true))
	timer := sched.pending()[0]
	p.Close()
	timer.f()
	if s := p.State(); s.Index != 0 {
		t.Fatalf("closed player advanced to %d", s.Index)
	}
}

func TestRealTimerAdvances(t *testing.T) {
	done := make(chan Event, 1)
	p := New(scenario(), WithAutoPlay(true), WithAutoPlayDelay(5*time.Millisecond),
		WithListener(func(e Event) {
			if e.Auto {
				select {
				case done <- e:
				default:
				}
			}
		}))
	defer p.Close()
	select {
	case e := <-done:
		if e.State.Index != 1 {
			t.Fatalf("auto step landed on %d", e.State.Index)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("auto-play did not fire")
	}
}
