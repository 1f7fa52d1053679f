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

//go:build unix

// These tests spawn real children through /bin/sh, so they only run on
// POSIX systems.

package warden

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func shProgram(name string, priority int, script string) *Program {
	return &Program{
		Name:       name,
		Command:    []string{"/bin/sh", "-c", script},
		Priority:   priority,
		StopSignal: syscall.SIGTERM,
		StopTime:   2 * time.Second,
	}
}

func waitState(p *Process, want State, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return p.State() == want
}

func TestProcessStartStop(t *testing.T) {
	Convey("Start and stop of a long lived child", t,
		WithManager(t, "StartStop", func(m *Manager) {
			p, e := m.Add(shProgram("sleeper", 100, "sleep 3600"))
			So(e, ShouldBeNil)

			So(m.Start("sleeper"), ShouldBeNil)
			So(p.State(), ShouldEqual, StateRunning)
			So(p.Pid(), ShouldBeGreaterThan, 0)

			Convey("Starting again fails", func() {
				So(m.Start("sleeper"), ShouldEqual, ErrIsRunning)
			})

			Convey("Stop terminates the child", func() {
				pid := p.Pid()
				So(m.Stop("sleeper"), ShouldBeNil)
				So(p.State(), ShouldEqual, StateStopped)
				So(p.Pid(), ShouldEqual, 0)

				// The pid must be gone, not orphaned.
				time.Sleep(10 * time.Millisecond)
				e := syscall.Kill(pid, 0)
				So(e, ShouldNotBeNil)
			})
		}))
}

func TestStartAllOrder(t *testing.T) {
	Convey("StartAll launches in ascending priority order", t,
		WithManager(t, "StartAll", func(m *Manager) {
			p3, _ := m.Add(shProgram("third", 300, "sleep 3600"))
			p1, _ := m.Add(shProgram("first", 100, "sleep 3600"))
			p2, _ := m.Add(shProgram("second", 200, "sleep 3600"))

			m.StartAll()
			So(p1.State(), ShouldEqual, StateRunning)
			So(p2.State(), ShouldEqual, StateRunning)
			So(p3.State(), ShouldEqual, StateRunning)

			_, t1 := p1.Status()
			_, t2 := p2.Status()
			_, t3 := p3.Status()
			So(t1.After(t2), ShouldBeFalse)
			So(t2.After(t3), ShouldBeFalse)
		}))
}

func TestProcessExit(t *testing.T) {
	Convey("A child exit is observed with its status", t,
		WithManager(t, "Exit", func(m *Manager) {
			p, _ := m.Add(shProgram("brief", 100, "exit 3"))
			So(m.Start("brief"), ShouldBeNil)

			So(waitState(p, StateExited, 5*time.Second), ShouldBeTrue)
			So(p.LastExit(), ShouldEqual, 3)
			So(p.Restarts(), ShouldEqual, 0)

			Convey("An exited program can be started again", func() {
				So(m.Start("brief"), ShouldBeNil)
			})
		}))
}

func TestProcessAutoRestart(t *testing.T) {
	Convey("Autorestart respawns after every exit", t,
		WithManager(t, "AutoRestart", func(m *Manager) {
			pg := shProgram("flappy", 100, "sleep 0.2; exit 1")
			pg.AutoRestart = true
			p, _ := m.Add(pg)
			So(m.Start("flappy"), ShouldBeNil)

			deadline := time.Now().Add(5 * time.Second)
			for p.Restarts() < 2 && time.Now().Before(deadline) {
				time.Sleep(20 * time.Millisecond)
			}
			So(p.Restarts(), ShouldBeGreaterThanOrEqualTo, 2)

			Convey("Stop wins over the respawn loop", func() {
				So(m.Stop("flappy"), ShouldBeNil)
				So(p.State(), ShouldEqual, StateStopped)
				restarts := p.Restarts()
				time.Sleep(500 * time.Millisecond)
				So(p.Restarts(), ShouldEqual, restarts)
				So(p.State(), ShouldEqual, StateStopped)
			})
		}))
}

func TestProcessSpawnFailure(t *testing.T) {
	Convey("A missing binary surfaces as a spawn failure", t,
		WithManager(t, "SpawnFail", func(m *Manager) {
			pg := &Program{
				Name:     "ghost",
				Command:  []string{"/nonexistent-binary-for-test"},
				Priority: 100,
				StopTime: time.Second,
			}
			p, e := m.Add(pg)
			So(e, ShouldBeNil)
			So(m.Start("ghost"), ShouldNotBeNil)
			So(p.State(), ShouldEqual, StateFatal)
			So(p.LastExit(), ShouldEqual, -1)
			status, _ := p.Status()
			So(status, ShouldContainSubstring, "Spawn failed")
		}))
}

func TestProcessRestart(t *testing.T) {
	Convey("Restart replaces the child", t,
		WithManager(t, "Restart", func(m *Manager) {
			p, _ := m.Add(shProgram("svc", 100, "sleep 3600"))
			So(m.Start("svc"), ShouldBeNil)
			pid := p.Pid()

			So(m.Restart("svc"), ShouldBeNil)
			So(p.State(), ShouldEqual, StateRunning)
			So(p.Pid(), ShouldNotEqual, pid)
			So(p.Pid(), ShouldBeGreaterThan, 0)
		}))
}

func TestProcessStopTimeout(t *testing.T) {
	Convey("A child ignoring its stop signal is killed after the grace period", t,
		WithManager(t, "StopTimeout", func(m *Manager) {
			pg := shProgram("stubborn", 100, "trap '' TERM; sleep 3600")
			pg.StopTime = 500 * time.Millisecond
			p, _ := m.Add(pg)
			So(m.Start("stubborn"), ShouldBeNil)

			// Give the trap a moment to install.
			time.Sleep(100 * time.Millisecond)
			begin := time.Now()
			So(m.Stop("stubborn"), ShouldBeNil)
			So(p.State(), ShouldEqual, StateStopped)
			So(time.Since(begin), ShouldBeGreaterThan, 400*time.Millisecond)
		}))
}

func TestProcessOutputCapture(t *testing.T) {
	Convey("Child output lands in the per-program log", t,
		WithManager(t, "Capture", func(m *Manager) {
			p, _ := m.Add(shProgram("talker", 100,
				"echo out-line; echo err-line 1>&2; sleep 3600"))
			So(m.Start("talker"), ShouldBeNil)

			deadline := time.Now().Add(5 * time.Second)
			var texts []string
			for time.Now().Before(deadline) {
				recs, _ := p.GetLog(0)
				texts = texts[:0]
				for _, r := range recs {
					texts = append(texts, r.Text)
				}
				if len(texts) >= 2 {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			joined := ""
			for _, s := range texts {
				joined += s + "\n"
			}
			So(joined, ShouldContainSubstring, "stdout> out-line")
			So(joined, ShouldContainSubstring, "stderr> err-line")
		}))
}

func TestStartReopensLogTarget(t *testing.T) {
	Convey("A fixed log target clears a fatal program on start", t,
		WithManager(t, "Reopen", func(m *Manager) {
			logdir := filepath.Join(t.TempDir(), "logs")
			pg := shProgram("late", 100, "sleep 3600")
			pg.StdoutLogfile = filepath.Join(logdir, "out.log")
			p, e := m.Add(pg)
			So(e, ShouldBeNil)
			So(p.State(), ShouldEqual, StateFatal)

			Convey("While the directory is missing, start keeps failing", func() {
				So(m.Start("late"), ShouldNotBeNil)
				So(p.State(), ShouldEqual, StateFatal)
				So(p.Pid(), ShouldEqual, 0)
			})

			Convey("Once it exists, start runs with the sink attached", func() {
				So(os.MkdirAll(logdir, 0755), ShouldBeNil)
				So(m.Start("late"), ShouldBeNil)
				So(p.State(), ShouldEqual, StateRunning)
				_, err := os.Stat(pg.StdoutLogfile)
				So(err, ShouldBeNil)
			})
		}))
}

func TestProcessEvents(t *testing.T) {
	Convey("Subscribers see state transitions", t,
		WithManager(t, "Events", func(m *Manager) {
			ch := m.Subscribe()
			Reset(func() {
				m.Unsubscribe(ch)
			})
			m.Add(shProgram("observed", 100, "sleep 3600"))
			So(m.Start("observed"), ShouldBeNil)

			var ev Event
			select {
			case ev = <-ch:
			case <-time.After(5 * time.Second):
				t.Fatalf("no event delivered")
			}
			So(ev.Name, ShouldEqual, "observed")
			So(ev.State, ShouldEqual, "running")
			So(ev.Pid, ShouldBeGreaterThan, 0)
		}))
}
