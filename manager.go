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
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"syscall"
	"time"
)

// Level filters the daemon's own messages.  Child output is data, not
// logging, and is never filtered.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// ParseLevel maps a configuration string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warning":
		return LevelWarning
	case "error":
		return LevelError
	}
	return LevelInfo
}

// Event describes one process state transition, as delivered to
// Subscribe channels and the websocket event stream.
type Event struct {
	Name   string    `json:"name"`
	State  string    `json:"state"`
	Reason string    `json:"reason"`
	Pid    int       `json:"pid,omitempty"`
	Time   time.Time `json:"time"`
}

// ManagerInfo is a consistent snapshot of top-level Manager state.
type ManagerInfo struct {
	Name       string
	Serial     int64
	CreateTime time.Time
	UpdateTime time.Time
}

// Manager owns the process table.  It is the single writer of all
// runtime state: every mutation happens under its lock, whether it
// originates from the HTTP API, a signal handler, or a reaper goroutine
// reporting a child exit.
type Manager struct {
	name       string
	procs      []*Process // ascending priority
	byName     map[string]*Process
	router     *Router
	mlog       *MultiLogger
	log        *Log
	deflog     *log.Logger
	level      Level
	cred       *syscall.Credential
	serial     int64
	listSerial int64
	createTime time.Time
	updateTime time.Time
	stopping   bool
	down       bool
	subs       map[chan Event]bool
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

// NewManager returns an empty Manager.  The origin serial number is the
// current time in nanoseconds, so clients that cache across a daemon
// restart always see an invalidation.
func NewManager(name string) *Manager {
	if name == "" {
		name = "warden"
	}
	m := &Manager{
		name:       name,
		serial:     time.Now().UnixNano(),
		byName:     make(map[string]*Process),
		subs:       make(map[chan Event]bool),
		cvs:        make(map[*sync.Cond]bool),
		router:     NewRouter(0, 0),
		mlog:       NewMultiLogger(),
		log:        NewLog(),
		level:      LevelInfo,
		createTime: time.Now(),
	}
	m.listSerial = m.serial
	m.updateTime = m.createTime
	m.mlog.AddLogger(log.New(m.log, "", 0))
	m.deflog = log.New(os.Stderr, "", log.LstdFlags)
	m.mlog.AddLogger(m.deflog)
	return m
}

func (m *Manager) lock()   { m.mx.Lock() }
func (m *Manager) unlock() { m.mx.Unlock() }

// Name returns the name the manager was allocated with.
func (m *Manager) Name() string {
	return m.name
}

// SetLogLevel selects the minimum level for daemon messages.  Call it
// before StartAll; the field is not guarded afterwards.
func (m *Manager) SetLogLevel(lv Level) {
	m.level = lv
}

// SetLogger replaces the default stderr destination.  Useful for tests
// and for embedding.
func (m *Manager) SetLogger(l *log.Logger) {
	if m.deflog != nil {
		m.mlog.RemoveLogger(m.deflog)
	}
	m.deflog = l
	m.mlog.AddLogger(l)
}

// SetLogWriter is SetLogger for a bare io.Writer.
func (m *Manager) SetLogWriter(w io.Writer) {
	m.SetLogger(log.New(w, "", 0))
}

// OpenLogFile adds a rotated file destination for daemon messages.
func (m *Manager) OpenLogFile(path string) error {
	sink, err := m.router.Open(path)
	if err != nil {
		return err
	}
	m.mlog.AddLogger(log.New(sink, "", log.LstdFlags))
	return nil
}

// SetCredential makes children run under the given credentials.  Only
// meaningful when the daemon itself runs as root.
func (m *Manager) SetCredential(c *syscall.Credential) {
	m.cred = c
}

func (m *Manager) logf(lv Level, format string, v ...interface{}) {
	if lv >= m.level {
		m.mlog.Logger().Printf(format, v...)
	}
}

// wakeUp pokes every serial watcher.  Callers hold the lock; without it
// woken goroutines might miss the new serial number.
func (m *Manager) wakeUp() {
	for cv := range m.cvs {
		cv.Broadcast()
	}
}

// bumpSerial increments the global serial and notifies watchers,
// returning the new value so callers can stamp individual processes.
// Call with the lock held.
func (m *Manager) bumpSerial() int64 {
	m.updateTime = time.Now()
	m.serial++
	rv := m.serial
	m.wakeUp()
	return rv
}

// watchSerial blocks until *src differs from old or expire elapses, and
// returns the current value of *src.  An expire of zero makes it a poll.
func (m *Manager) watchSerial(old int64, src *int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&m.mx)
	var timer *time.Timer

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			m.lock()
			expired = true
			cv.Broadcast()
			m.unlock()
		})
	} else {
		expired = true
	}

	m.lock()
	m.cvs[cv] = true
	rv := *src
	for rv == old && !expired {
		cv.Wait()
		rv = *src
	}
	delete(m.cvs, cv)
	m.unlock()

	if timer != nil {
		timer.Stop()
	}
	return rv
}

// WatchSerial monitors for any state change in the manager.
func (m *Manager) WatchSerial(old int64, expire time.Duration) int64 {
	return m.watchSerial(old, &m.serial, expire)
}

// WatchPrograms monitors for a change in the set of programs.
func (m *Manager) WatchPrograms(old int64, expire time.Duration) int64 {
	return m.watchSerial(old, &m.listSerial, expire)
}

// Serial returns the global serial number, incremented on every process
// state change.
func (m *Manager) Serial() int64 {
	m.lock()
	rv := m.serial
	m.unlock()
	return rv
}

// ProgramsSerial returns the serial for the program list itself.
func (m *Manager) ProgramsSerial() int64 {
	m.lock()
	rv := m.listSerial
	m.unlock()
	return rv
}

// GetInfo snapshots top-level manager state under the lock.
func (m *Manager) GetInfo() *ManagerInfo {
	m.lock()
	i := &ManagerInfo{
		Name:       m.name,
		Serial:     m.serial,
		CreateTime: m.createTime,
		UpdateTime: m.updateTime,
	}
	m.unlock()
	return i
}

// Add declares a program.  The process starts out pending; if one of
// its log targets is unwritable it is marked fatal immediately and only
// that program is affected.  Programs must be added before StartAll.
func (m *Manager) Add(pg *Program) (*Process, error) {
	m.lock()
	defer m.unlock()

	if m.down {
		return nil, ErrShutdown
	}
	if _, ok := m.byName[pg.Name]; ok {
		return nil, ErrDuplicate
	}

	p := newProcess(m, pg)
	if err := m.openSinks(p); err != nil {
		p.set(StateFatal, err.Error())
	}

	// Insert keeping ascending priority; equal priorities keep
	// insertion order, which is the file order.
	idx := len(m.procs)
	for i, q := range m.procs {
		if pg.Priority < q.program.Priority {
			idx = i
			break
		}
	}
	m.procs = append(m.procs, nil)
	copy(m.procs[idx+1:], m.procs[idx:])
	m.procs[idx] = p
	m.byName[pg.Name] = p

	m.listSerial = m.bumpSerial()
	p.serial = m.bumpSerial()
	m.logf(LevelInfo, "Added program %s (priority %d)", pg.Name, pg.Priority)
	if p.state == StateFatal {
		m.logf(LevelError, "Program %s unstartable: %s", pg.Name, p.reason)
	}
	return p, nil
}

// openSinks opens any configured file sinks p does not hold yet.  Call
// with the lock held.  It runs at add time and again on every start
// request, so a program marked fatal over an unwritable log target can
// be started normally once the target is fixed; it never runs without
// its configured sinks.
func (m *Manager) openSinks(p *Process) error {
	pg := p.program
	if pg.StdoutLogfile != "" && p.stdout == nil {
		sink, err := m.router.Open(pg.StdoutLogfile)
		if err != nil {
			return err
		}
		p.stdout = sink
	}
	if pg.StderrLogfile != "" && p.stderr == nil {
		sink, err := m.router.Open(pg.StderrLogfile)
		if err != nil {
			return err
		}
		p.stderr = sink
	}
	return nil
}

// Processes returns the table in ascending priority order.
func (m *Manager) Processes() []*Process {
	m.lock()
	rv := append([]*Process{}, m.procs...)
	m.unlock()
	return rv
}

// Find returns the process for a program name, or nil.
func (m *Manager) Find(name string) *Process {
	m.lock()
	rv := m.byName[name]
	m.unlock()
	return rv
}

// StartAll launches every pending program in ascending priority order.
// The loop is sequential: a program is spawned and observed running (or
// marked terminal) before the next one is touched, so a priority-100
// program is always up before a priority-500 program is spawned.  After
// StartAll returns, every declared program is either running or in a
// terminal state with a recorded reason.
func (m *Manager) StartAll() {
	m.lock()
	defer m.unlock()
	m.logf(LevelInfo, "*** %s starting %d programs ***", m.name, len(m.procs))
	for _, p := range m.procs {
		if p.state != StatePending {
			continue
		}
		m.launch(p, "Startup")
	}
}

// Start launches one program on request, for example from the HTTP API.
func (m *Manager) Start(name string) error {
	m.lock()
	defer m.unlock()
	p := m.byName[name]
	if p == nil {
		return ErrNoProgram
	}
	if m.down {
		return ErrShutdown
	}
	if p.stopping {
		return ErrStopping
	}
	if p.state == StateRunning {
		return ErrIsRunning
	}
	if err := m.openSinks(p); err != nil {
		p.set(StateFatal, err.Error())
		return err
	}
	return m.launch(p, "Started on request")
}

// Stop stops one program on request; it does not return until the child
// is gone.
func (m *Manager) Stop(name string) error {
	p := m.Find(name)
	if p == nil {
		return ErrNoProgram
	}
	p.Stop("Stopped on request")
	return nil
}

// Restart stops and relaunches one program.
func (m *Manager) Restart(name string) error {
	p := m.Find(name)
	if p == nil {
		return ErrNoProgram
	}
	p.Stop("Restarting")
	return m.Start(name)
}

// launch spawns p's child.  Call with the lock held.  A spawn failure
// is logged and treated as an exit event: under autorestart it is
// retried (off the stack, so a persistently missing binary cannot wind
// it up), otherwise the program goes fatal.
func (m *Manager) launch(p *Process, detail string) error {
	if e := p.spawn(); e != nil {
		p.logger.Printf("Failed to spawn: %v", e)
		p.lastExit = -1
		if p.program.AutoRestart && !m.stopping && !m.down {
			p.restarts++
			p.set(StatePending, "Spawn failed: "+e.Error())
			m.respawn(p)
		} else {
			p.set(StateFatal, "Spawn failed: "+e.Error())
		}
		return e
	}
	p.set(StateRunning, detail)
	p.logger.Printf("Started pid %d: %s", p.pid, detail)
	return nil
}

func (m *Manager) respawn(p *Process) {
	go func() {
		m.lock()
		defer m.unlock()
		if m.stopping || m.down || p.stopping || p.state != StatePending {
			return
		}
		m.launch(p, "Respawn")
	}()
}

// Shutdown stops all programs in reverse priority order, waiting for
// each before moving to the one below it, then releases the log sinks.
// It is idempotent.
func (m *Manager) Shutdown() {
	m.lock()
	if m.down {
		m.unlock()
		return
	}
	m.stopping = true
	procs := append([]*Process{}, m.procs...)
	m.unlock()

	for i := len(procs) - 1; i >= 0; i-- {
		procs[i].Stop("Shutting down")
	}

	m.lock()
	m.down = true
	m.stopping = false
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
	m.bumpSerial()
	m.unlock()

	m.logf(LevelInfo, "*** %s shut down ***", m.name)
	m.router.Close()
}

// GetLog returns the daemon-wide log ring (lifecycle messages plus all
// child output with per-program prefixes).
func (m *Manager) GetLog(last int64) ([]LogRecord, int64) {
	return m.log.GetRecords(last)
}

// WatchLog blocks until the daemon-wide log changes.
func (m *Manager) WatchLog(old int64, expire time.Duration) int64 {
	return m.log.Watch(old, expire)
}

// Subscribe returns a channel of state-transition events.  Slow
// consumers lose events rather than blocking the supervisor; the
// channel is closed on shutdown.
func (m *Manager) Subscribe() chan Event {
	ch := make(chan Event, 32)
	m.lock()
	if m.down {
		close(ch)
	} else {
		m.subs[ch] = true
	}
	m.unlock()
	return ch
}

// Unsubscribe releases a channel obtained from Subscribe.
func (m *Manager) Unsubscribe(ch chan Event) {
	m.lock()
	if m.subs[ch] {
		delete(m.subs, ch)
		close(ch)
	}
	m.unlock()
}

// publish fans an event out to subscribers.  Call with the lock held.
func (m *Manager) publish(ev Event) {
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Manager) String() string {
	return fmt.Sprintf("%s (%d programs)", m.name, len(m.procs))
}
