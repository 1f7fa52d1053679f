// Copyright 2024 The Warden Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"

	"github.com/warden-proc/warden/rest"
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Full screen live program view",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return runTop(c)
	},
}

type topView struct {
	s      tcell.Screen
	c      *rest.Client
	daemon string
	infos  []*rest.ProgramInfo
	sel    int
	status string
}

func stateStyle(state string) tcell.Style {
	st := tcell.StyleDefault
	switch state {
	case "running":
		return st.Foreground(tcell.ColorGreen)
	case "fatal", "exited":
		return st.Foreground(tcell.ColorRed)
	case "stopped":
		return st.Foreground(tcell.ColorYellow)
	}
	return st
}

func (v *topView) puts(x, y int, style tcell.Style, text string) {
	w, _ := v.s.Size()
	for _, r := range text {
		if x >= w {
			break
		}
		v.s.SetContent(x, y, r, nil, style)
		x++
	}
}

func (v *topView) draw() {
	v.s.Clear()
	w, h := v.s.Size()

	bar := tcell.StyleDefault.Reverse(true)
	title := fmt.Sprintf(" %s - %s ", v.daemon, time.Now().Format("15:04:05"))
	for x := 0; x < w; x++ {
		v.s.SetContent(x, 0, ' ', nil, bar)
	}
	v.puts(0, 0, bar, title)

	hdr := fmt.Sprintf("%-16s %-8s %7s %8s  %s",
		"NAME", "STATE", "PID", "RESTARTS", "STATUS")
	v.puts(0, 1, tcell.StyleDefault.Bold(true), hdr)

	for i, info := range v.infos {
		y := i + 2
		if y >= h-1 {
			break
		}
		pid := "-"
		if info.Pid != 0 {
			pid = fmt.Sprintf("%d", info.Pid)
		}
		line := fmt.Sprintf("%-16s %-8s %7s %8d  %s",
			info.Name, info.State, pid, info.Restarts, info.Status)
		style := stateStyle(info.State)
		if i == v.sel {
			style = style.Reverse(true)
		}
		v.puts(0, y, style, line)
	}

	help := " q:quit  s:start  x:stop  r:restart "
	if v.status != "" {
		help = " " + v.status + " "
	}
	for x := 0; x < w; x++ {
		v.s.SetContent(x, h-1, ' ', nil, bar)
	}
	v.puts(0, h-1, bar, help)
	v.s.Show()
}

func (v *topView) refresh(ctx context.Context) error {
	info, err := v.c.Info(ctx)
	if err != nil {
		return err
	}
	names, err := v.c.Programs(ctx)
	if err != nil {
		return err
	}
	infos := make([]*rest.ProgramInfo, 0, len(names))
	for _, n := range names {
		pi, err := v.c.GetProgram(ctx, n)
		if err != nil {
			continue
		}
		infos = append(infos, pi)
	}
	v.daemon = info.Name
	v.infos = infos
	if v.sel >= len(infos) {
		v.sel = len(infos) - 1
	}
	if v.sel < 0 {
		v.sel = 0
	}
	return nil
}

func (v *topView) selected() string {
	if v.sel < len(v.infos) {
		return v.infos[v.sel].Name
	}
	return ""
}

func (v *topView) act(ctx context.Context, verb string,
	fn func(context.Context, string) error) {

	name := v.selected()
	if name == "" {
		return
	}
	if err := fn(ctx, name); err != nil {
		v.status = fmt.Sprintf("%s %s: %v", verb, name, err)
	} else {
		v.status = fmt.Sprintf("%s: %s", name, verb)
	}
}

func runTop(c *rest.Client) error {
	s, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Fini()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v := &topView{s: s, c: c}
	if err := v.refresh(ctx); err != nil {
		return err
	}
	v.draw()

	events := make(chan tcell.Event, 8)
	go func() {
		for {
			ev := s.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if err := v.refresh(ctx); err != nil {
				v.status = err.Error()
			}
			v.draw()
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventResize:
				s.Sync()
				v.draw()
			case *tcell.EventKey:
				switch {
				case ev.Key() == tcell.KeyEscape,
					ev.Key() == tcell.KeyCtrlC,
					ev.Rune() == 'q':
					return nil
				case ev.Key() == tcell.KeyUp, ev.Rune() == 'k':
					if v.sel > 0 {
						v.sel--
					}
				case ev.Key() == tcell.KeyDown, ev.Rune() == 'j':
					if v.sel < len(v.infos)-1 {
						v.sel++
					}
				case ev.Rune() == 's':
					v.act(ctx, "started", c.StartProgram)
				case ev.Rune() == 'x':
					v.act(ctx, "stopped", c.StopProgram)
				case ev.Rune() == 'r':
					v.act(ctx, "restarted", c.RestartProgram)
				}
				v.refresh(ctx)
				v.draw()
			}
		}
	}
}
