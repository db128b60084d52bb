/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"galstage/internal/player"
	"galstage/internal/script"
	"galstage/internal/telemetry"
	"galstage/internal/textlayout"
)

func init() {
	cmd := &cobra.Command{
		Use:   "play [file]",
		Short: "Play a dialogue script in the terminal",
		Long: "Play a dialogue script in the terminal.\n\n" +
			"Keys (followed by enter): empty or n = next, b = back, a = toggle auto-play,\n" +
			"1..9 = pick a choice option, q = quit.",
		Args: cobra.ExactArgs(1),
		Run:  runPlay,
	}
	cmd.Flags().Int("width", 60, "Dialogue box width in terminal columns")
	cmd.Flags().Bool("auto", false, "Start with auto-play on and exit at the end of the script")
	cmd.Flags().Duration("delay", 0, "Auto-play delay (default from config)")

	RootCmd.AddCommand(cmd)
}

func runPlay(cmd *cobra.Command, args []string) {
	width, _ := cmd.Flags().GetInt("width")
	auto, _ := cmd.Flags().GetBool("auto")
	delay, _ := cmd.Flags().GetDuration("delay")
	if delay <= 0 {
		delay = appCfg.Player.AutoPlayDelay()
	}

	text, err := readInput(cmd, args)
	if err != nil {
		exitErr("read script", err)
	}
	blocks := script.ParseBlocks(text)
	if len(blocks) == 0 {
		exitErr("play", errors.New("script has no blocks"))
	}
	telemetry.Default().ScriptParsed(len(blocks), countChoices(blocks))

	v := &terminalView{w: cmd.OutOrStdout(), width: width, done: make(chan struct{}, 1)}
	p := player.New(blocks,
		player.WithAutoPlay(auto || appCfg.Player.AutoPlay),
		player.WithAutoPlayDelay(delay),
		player.WithBlackScreenExtra(appCfg.Player.BlackScreenExtra()),
		player.WithListener(v.onEvent),
	)
	defer p.Close()
	v.render(p.State())

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-cmd.Context().Done():
			return
		case <-v.done:
			if auto {
				return
			}
		case line, ok := <-lines:
			if !ok {
				st := p.State()
				if st.AutoPlay && !atEnd(st) && st.Mode != player.ModeChoicePending {
					// keep auto-playing without input
					lines = nil
					continue
				}
				return
			}
			if quit := v.handle(p, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func atEnd(st player.State) bool { return st.Index >= st.Total-1 }

// terminalView prints player states. Auto-play events arrive on timer goroutines.
type terminalView struct {
	mu    sync.Mutex
	w     io.Writer
	width int
	done  chan struct{}
}

func (v *terminalView) handle(p *player.Player, in string) bool {
	switch strings.ToLower(in) {
	case "q", "quit":
		return true
	case "", "n":
		// the view only moves past a choice through an option
		if st := p.State(); st.Mode == player.ModeChoicePending || !p.Advance() {
			v.note(p.State())
		}
	case "b":
		if !p.Retreat() {
			v.printf("(already at the first line)\n")
		}
	case "a":
		st := p.State()
		p.SetAutoPlay(!st.AutoPlay, 0)
	default:
		n, err := strconv.Atoi(in)
		if err != nil || n < 1 {
			v.printf("(unknown input %q)\n", in)
			return false
		}
		if _, err := p.SelectChoice(strconv.Itoa(n - 1)); err != nil {
			v.printf("(%v)\n", err)
		}
	}
	return false
}

func (v *terminalView) note(st player.State) {
	switch {
	case st.Mode == player.ModeChoicePending:
		v.printf("(pick an option first)\n")
	case atEnd(st):
		v.printf("(end of script)\n")
	}
}

func (v *terminalView) onEvent(ev player.Event) {
	if ev.Kind == player.EventAutoPlay {
		v.printf("(auto-play %s, %dms)\n", onOff(ev.State.AutoPlay), ev.State.AutoPlayDelayMs)
		return
	}
	if ev.Choice != nil && ev.Choice.Option.Response != "" {
		v.mu.Lock()
		d := textlayout.Wrap(textlayout.Cells{}, ev.Choice.Option.Response, float32(v.width))
		fmt.Fprintf(v.w, "> %s\n【%s】\n%s\n", ev.Choice.Option.Text, ev.Choice.Option.Character, d.String())
		v.mu.Unlock()
	}
	if ev.Choice != nil && ev.Choice.BlockIndex == ev.State.Index {
		// choice on the last block, nothing new to show
		v.signalEnd(ev.State)
		return
	}
	v.render(ev.State)
	v.signalEnd(ev.State)
}

func (v *terminalView) signalEnd(st player.State) {
	if atEnd(st) && st.Mode != player.ModeChoicePending {
		select {
		case v.done <- struct{}{}:
		default:
		}
	}
}

func (v *terminalView) render(st player.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if st.Block == nil {
		fmt.Fprintln(v.w, "(empty script)")
		return
	}
	m := textlayout.Cells{}
	d := textlayout.LayoutBlock(m, *st.Block, float32(v.width))
	rule := strings.Repeat("─", v.width)

	header := fmt.Sprintf("[%d/%d]", st.Index+1, st.Total)
	if d.Scene != "" {
		header += " " + d.Scene
	}
	fmt.Fprintf(v.w, "\n%s\n%s\n", header, rule)
	if d.Speaker != "" {
		fmt.Fprintf(v.w, "【%s】\n", d.Speaker)
	}
	for _, l := range d.Body.Lines {
		if d.Centered {
			pad := (float32(v.width) - l.Width) / 2
			fmt.Fprint(v.w, strings.Repeat(" ", max(0, int(pad))))
		}
		fmt.Fprintln(v.w, l.Text)
	}
	for _, o := range d.Options {
		fmt.Fprintln(v.w, "  "+o.String())
	}
	fmt.Fprintln(v.w, rule)
	switch st.Mode {
	case player.ModeChoicePending:
		fmt.Fprintf(v.w, "pick 1-%d > ", len(d.Options))
	case player.ModeBlackScreen:
		fmt.Fprint(v.w, "(black screen) > ")
	default:
		fmt.Fprint(v.w, "> ")
	}
}

func (v *terminalView) printf(format string, a ...any) {
	v.mu.Lock()
	fmt.Fprintf(v.w, format, a...)
	v.mu.Unlock()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
