/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package player steps through a parsed dialogue script. The current mode is
// always derived from the block under the cursor.
package player

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	applog "galstage/internal/log"
	"galstage/internal/script"
)

// Mode is the presentation state of the current block.
type Mode string

const (
	ModePlaying       Mode = "playing"
	ModeBlackScreen   Mode = "blackscreen"
	ModeChoicePending Mode = "choice"
)

const (
	DefaultAutoPlayDelay    = 3 * time.Second
	DefaultBlackScreenExtra = 2 * time.Second
)

var (
	// ErrInvalidTransition is returned when an operation does not apply to the current mode.
	ErrInvalidTransition = errors.New("player: invalid transition")
	// ErrUnknownChoice is returned when a choice id is not an option of the current block.
	ErrUnknownChoice = errors.New("player: unknown choice")
)

// ModeFor returns the mode a block puts the player in.
func ModeFor(b script.Block) Mode {
	switch b.Kind {
	case script.KindBlackText:
		return ModeBlackScreen
	case script.KindChoice:
		return ModeChoicePending
	default:
		return ModePlaying
	}
}

// State is a snapshot of the player.
type State struct {
	Index           int           `json:"index"`
	Total           int           `json:"total"`
	Mode            Mode          `json:"mode"`
	Block           *script.Block `json:"block,omitempty"`
	AutoPlay        bool          `json:"autoPlay"`
	AutoPlayDelayMs int64         `json:"autoPlayDelayMs"`
}

// ChoiceResult is what the reader sees after picking an option.
type ChoiceResult struct {
	BlockIndex int           `json:"blockIndex"`
	Option     script.Option `json:"option"`
}

// EventKind names what caused a transition.
type EventKind string

const (
	EventLoad     EventKind = "load"
	EventAdvance  EventKind = "advance"
	EventRetreat  EventKind = "retreat"
	EventChoice   EventKind = "choice"
	EventAutoPlay EventKind = "autoplay"
)

// Event is delivered to listeners after every transition.
type Event struct {
	Kind   EventKind     `json:"kind"`
	Auto   bool          `json:"auto,omitempty"`
	State  State         `json:"state"`
	Choice *ChoiceResult `json:"choice,omitempty"`
}

// Listener observes transitions. Events reach listeners one at a time and in the
// order the transitions happened. A listener runs on the goroutine of the
// transition that started delivery, which may be an earlier one than its own;
// it may call back into the player.
type Listener func(Event)

// Timer is a cancellable scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Option configures a Player.
type Option func(*Player)

func WithScheduler(s Scheduler) Option { return func(p *Player) { p.sched = s } }

func WithAutoPlay(enabled bool) Option { return func(p *Player) { p.autoPlay = enabled } }

func WithAutoPlayDelay(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.delay = d
		}
	}
}

// WithBlackScreenExtra sets the time added to the delay on black-screen blocks.
func WithBlackScreenExtra(d time.Duration) Option {
	return func(p *Player) {
		if d >= 0 {
			p.blackExtra = d
		}
	}
}

func WithListener(l Listener) Option { return func(p *Player) { p.listeners = append(p.listeners, l) } }

// Player is the dialogue state machine. It is safe for concurrent use.
type Player struct {
	sched      Scheduler
	log        *slog.Logger
	listeners  []Listener
	blackExtra time.Duration

	mu       sync.Mutex
	blocks   []script.Block
	index    int
	autoPlay bool
	delay    time.Duration
	timer    Timer
	gen      uint64
	closed   bool

	// queue holds events not yet delivered; delivering is set while a
	// goroutine drains it.
	queue      []Event
	delivering bool
}

// New returns a player positioned on the first block.
func New(blocks []script.Block, opts ...Option) *Player {
	p := &Player{
		sched:      realScheduler{},
		log:        applog.WithComponent("player"),
		blackExtra: DefaultBlackScreenExtra,
		delay:      DefaultAutoPlayDelay,
		blocks:     append([]script.Block(nil), blocks...),
	}
	for _, o := range opts {
		o(p)
	}
	p.mu.Lock()
	p.scheduleLocked()
	p.mu.Unlock()
	return p
}

// Blocks returns a copy of the loaded script.
func (p *Player) Blocks() []script.Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]script.Block(nil), p.blocks...)
}

// Subscribe adds a listener.
func (p *Player) Subscribe(l Listener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Player) stateLocked() State {
	s := State{
		Index:           p.index,
		Total:           len(p.blocks),
		Mode:            ModePlaying,
		AutoPlay:        p.autoPlay,
		AutoPlayDelayMs: p.delay.Milliseconds(),
	}
	if p.index < len(p.blocks) {
		b := p.blocks[p.index]
		s.Block = &b
		s.Mode = ModeFor(b)
	}
	return s
}

func (p *Player) modeLocked() Mode {
	if p.index >= len(p.blocks) {
		return ModePlaying
	}
	return ModeFor(p.blocks[p.index])
}

func (p *Player) atEndLocked() bool { return p.index >= len(p.blocks)-1 }

// cancelLocked stops the pending timer. Bumping gen also neutralises a timer
// whose callback is already waiting for the lock.
func (p *Player) cancelLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Player) scheduleLocked() {
	p.cancelLocked()
	if !p.autoPlay || p.closed || p.atEndLocked() {
		return
	}
	mode := p.modeLocked()
	if mode == ModeChoicePending {
		return
	}
	d := p.delay
	if mode == ModeBlackScreen {
		d += p.blackExtra
	}
	gen := p.gen
	p.timer = p.sched.AfterFunc(d, func() { p.fire(gen) })
}

func (p *Player) fire(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.closed {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	if p.atEndLocked() {
		p.mu.Unlock()
		return
	}
	p.index++
	p.scheduleLocked()
	p.enqueueLocked(Event{Kind: EventAdvance, Auto: true, State: p.stateLocked()})
	p.mu.Unlock()
	p.deliver()
}

// enqueueLocked records ev for delivery. Callers hold p.mu, so queue order is
// transition order.
func (p *Player) enqueueLocked(ev Event) {
	p.queue = append(p.queue, ev)
}

// deliver drains the queue unless another goroutine already does.
func (p *Player) deliver() {
	p.mu.Lock()
	if p.delivering {
		p.mu.Unlock()
		return
	}
	p.delivering = true
	for len(p.queue) > 0 {
		ev := p.queue[0]
		p.queue = p.queue[1:]
		ls := append([]Listener(nil), p.listeners...)
		p.mu.Unlock()
		for _, l := range ls {
			l(ev)
		}
		p.mu.Lock()
	}
	p.delivering = false
	p.mu.Unlock()
}

// Advance moves to the next block. It reports false at the last block.
func (p *Player) Advance() bool {
	p.mu.Lock()
	if p.atEndLocked() {
		p.mu.Unlock()
		return false
	}
	p.index++
	p.scheduleLocked()
	p.enqueueLocked(Event{Kind: EventAdvance, State: p.stateLocked()})
	p.mu.Unlock()
	p.deliver()
	return true
}

// Retreat moves to the previous block. It reports false at the first block.
func (p *Player) Retreat() bool {
	p.mu.Lock()
	if p.index == 0 {
		p.mu.Unlock()
		return false
	}
	p.index--
	p.scheduleLocked()
	p.enqueueLocked(Event{Kind: EventRetreat, State: p.stateLocked()})
	p.mu.Unlock()
	p.deliver()
	return true
}

// SelectChoice picks an option of the current choice block and moves past it.
// id is an option id or its text. A choice on the last block resolves without moving.
func (p *Player) SelectChoice(id string) (ChoiceResult, error) {
	p.mu.Lock()
	if p.modeLocked() != ModeChoicePending {
		idx := p.index
		p.mu.Unlock()
		p.log.Warn("choice outside choice block", slog.Int("index", idx), slog.String("choice", id))
		return ChoiceResult{}, ErrInvalidTransition
	}
	var (
		opt   script.Option
		found bool
	)
	for _, o := range p.blocks[p.index].Options() {
		if o.ID == id || o.Text == id {
			opt, found = o, true
			break
		}
	}
	if !found {
		p.mu.Unlock()
		return ChoiceResult{}, ErrUnknownChoice
	}
	res := ChoiceResult{BlockIndex: p.index, Option: opt}
	if !p.atEndLocked() {
		p.index++
	}
	p.scheduleLocked()
	p.enqueueLocked(Event{Kind: EventChoice, State: p.stateLocked(), Choice: &res})
	p.mu.Unlock()
	p.deliver()
	return res, nil
}

// SetAutoPlay turns auto-play on or off. A zero delay keeps the current delay.
// Enabling it schedules the next step on playing and black screen blocks, the
// latter with the black screen extra added. Nothing is scheduled at a pending
// choice or on the last block.
func (p *Player) SetAutoPlay(enabled bool, delay time.Duration) {
	p.mu.Lock()
	if delay > 0 {
		p.delay = delay
	}
	p.autoPlay = enabled
	p.scheduleLocked()
	p.enqueueLocked(Event{Kind: EventAutoPlay, State: p.stateLocked()})
	p.mu.Unlock()
	p.deliver()
}

// Load replaces the script and rewinds to the first block.
func (p *Player) Load(blocks []script.Block) {
	p.mu.Lock()
	p.blocks = append([]script.Block(nil), blocks...)
	p.index = 0
	p.scheduleLocked()
	p.enqueueLocked(Event{Kind: EventLoad, State: p.stateLocked()})
	p.mu.Unlock()
	p.deliver()
}

// Close stops auto-play for good.
func (p *Player) Close() {
	p.mu.Lock()
	p.closed = true
	p.cancelLocked()
	p.mu.Unlock()
}
