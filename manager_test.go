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

package warden

import (
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	s := string(p)
	s = strings.Trim(s, "\n")
	tl.t.Log(s)
	return len(p), nil
}

func WithManager(t *testing.T, name string, fn func(m *Manager)) func() {
	return func() {
		m := NewManager(name)
		So(m, ShouldNotBeNil)
		m.SetLogWriter(&testLog{t: t})
		Reset(func() {
			m.Shutdown()
		})
		fn(m)
	}
}

func testProgram(name string, priority int) *Program {
	return &Program{
		Name:     name,
		Command:  []string{"/bin/sleep", "3600"},
		Priority: priority,
		StopTime: time.Second,
	}
}

func TestManagerAdd(t *testing.T) {
	Convey("Adding programs", t,
		WithManager(t, "Add", func(m *Manager) {
			p, e := m.Add(testProgram("one", 100))
			So(e, ShouldBeNil)
			So(p, ShouldNotBeNil)
			So(p.State(), ShouldEqual, StatePending)
			So(m.Find("one"), ShouldEqual, p)
			So(m.Find("nope"), ShouldBeNil)

			Convey("Duplicate names are rejected", func() {
				_, e := m.Add(testProgram("one", 200))
				So(e, ShouldEqual, ErrDuplicate)
			})
		}))
}

func TestManagerOrdering(t *testing.T) {
	Convey("Process table stays in priority order", t,
		WithManager(t, "Ordering", func(m *Manager) {
			m.Add(testProgram("c", 300))
			m.Add(testProgram("a", 100))
			m.Add(testProgram("b", 200))
			m.Add(testProgram("d", 999))

			procs := m.Processes()
			So(len(procs), ShouldEqual, 4)
			So(procs[0].Name(), ShouldEqual, "a")
			So(procs[1].Name(), ShouldEqual, "b")
			So(procs[2].Name(), ShouldEqual, "c")
			So(procs[3].Name(), ShouldEqual, "d")
		}))
}

func TestManagerUnknownProgram(t *testing.T) {
	Convey("Operations on unknown names fail cleanly", t,
		WithManager(t, "Unknown", func(m *Manager) {
			So(m.Start("ghost"), ShouldEqual, ErrNoProgram)
			So(m.Stop("ghost"), ShouldEqual, ErrNoProgram)
			So(m.Restart("ghost"), ShouldEqual, ErrNoProgram)
		}))
}

func TestManagerSerials(t *testing.T) {
	Convey("Serial numbers move on changes", t,
		WithManager(t, "Serials", func(m *Manager) {
			s0 := m.Serial()
			l0 := m.ProgramsSerial()

			m.Add(testProgram("one", 100))
			So(m.Serial(), ShouldBeGreaterThan, s0)
			So(m.ProgramsSerial(), ShouldBeGreaterThan, l0)

			Convey("A zero expire watch just polls", func() {
				So(m.WatchSerial(0, 0), ShouldEqual, m.Serial())
			})

			Convey("Watchers wake on the next change", func() {
				old := m.Serial()
				done := make(chan int64, 1)
				go func() {
					done <- m.WatchSerial(old, 10*time.Second)
				}()
				time.Sleep(10 * time.Millisecond)
				m.Add(testProgram("two", 200))
				select {
				case v := <-done:
					So(v, ShouldBeGreaterThan, old)
				case <-time.After(5 * time.Second):
					t.Fatalf("watch did not wake")
				}
			})
		}))
}

func TestManagerInfo(t *testing.T) {
	Convey("GetInfo snapshots manager state", t,
		WithManager(t, "Info", func(m *Manager) {
			i := m.GetInfo()
			So(i.Name, ShouldEqual, "Info")
			So(i.Serial, ShouldEqual, m.Serial())
			So(i.CreateTime.IsZero(), ShouldBeFalse)
		}))
}

func TestManagerShutdown(t *testing.T) {
	Convey("Shutdown is terminal and idempotent", t, func() {
		m := NewManager("Shutdown")
		m.SetLogWriter(&testLog{t: t})
		m.Add(testProgram("one", 100))
		m.Shutdown()
		m.Shutdown()

		Convey("No adds or starts afterwards", func() {
			_, e := m.Add(testProgram("two", 200))
			So(e, ShouldEqual, ErrShutdown)
			So(m.Start("one"), ShouldEqual, ErrShutdown)
		})

		Convey("Subscribe returns a closed channel", func() {
			ch := m.Subscribe()
			_, open := <-ch
			So(open, ShouldBeFalse)
		})
	})
}

func TestManagerFatalLogTarget(t *testing.T) {
	Convey("An unwritable log target only dooms its own program", t,
		WithManager(t, "FatalLog", func(m *Manager) {
			bad := testProgram("bad", 100)
			bad.StdoutLogfile = "/nonexistent-dir-for-test/out.log"
			p, e := m.Add(bad)
			So(e, ShouldBeNil)
			So(p.State(), ShouldEqual, StateFatal)
			status, _ := p.Status()
			So(status, ShouldContainSubstring, "unwritable")

			good, e := m.Add(testProgram("good", 200))
			So(e, ShouldBeNil)
			So(good.State(), ShouldEqual, StatePending)
		}))
}
