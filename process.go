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
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Process pairs one Program with its runtime state: the current child
// (if any), the last exit code, and the restart count.  It is created
// when the program is added and lives until the manager shuts down.
// All mutable fields are guarded by the owning Manager's lock.
type Process struct {
	program *Program
	mgr     *Manager

	cmd      *exec.Cmd
	pid      int
	state    State
	reason   string
	stamp    time.Time
	restarts int
	lastExit int
	serial   int64
	stopping bool

	stdout io.Writer
	stderr io.Writer
	ring   *Log
	mlog   *MultiLogger
	logger *log.Logger
	waiter sync.WaitGroup
}

func newProcess(m *Manager, pg *Program) *Process {
	p := &Process{
		program: pg,
		mgr:     m,
		state:   StatePending,
		reason:  "Declared",
		stamp:   time.Now(),
		ring:    NewLog(),
		mlog:    NewMultiLogger(),
	}
	// Everything a process logs lands in its own ring and, prefixed
	// with the program name, in the daemon-wide log.
	p.mlog.AddLogger(log.New(p.ring, "", 0))
	p.mlog.AddLogger(log.New(m.mlog, "["+pg.Name+"] ", 0))
	p.logger = p.mlog.Logger()
	return p
}

// Name returns the program name.
func (p *Process) Name() string {
	return p.program.Name
}

// Program returns the immutable declaration.
func (p *Process) Program() *Program {
	return p.program
}

// Priority returns the program's start-order key.
func (p *Process) Priority() int {
	return p.program.Priority
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	m := p.mgr
	m.lock()
	rv := p.state
	m.unlock()
	return rv
}

// Pid returns the live child's pid, or zero.
func (p *Process) Pid() int {
	m := p.mgr
	m.lock()
	rv := p.pid
	m.unlock()
	return rv
}

// Status returns the most recent status detail and when it was set.
func (p *Process) Status() (string, time.Time) {
	m := p.mgr
	m.lock()
	defer m.unlock()
	return p.reason, p.stamp
}

// Restarts returns how many times the child has been relaunched.
func (p *Process) Restarts() int {
	m := p.mgr
	m.lock()
	rv := p.restarts
	m.unlock()
	return rv
}

// LastExit returns the exit code recorded at the most recent reap; -1
// means a spawn failure or an abnormal wait.
func (p *Process) LastExit() int {
	m := p.mgr
	m.lock()
	rv := p.lastExit
	m.unlock()
	return rv
}

// Serial returns the serial stamped at the last state change.
func (p *Process) Serial() int64 {
	m := p.mgr
	m.lock()
	rv := p.serial
	m.unlock()
	return rv
}

// Watch blocks until this process's serial differs from old, or expire
// elapses, returning the current serial.
func (p *Process) Watch(old int64, expire time.Duration) int64 {
	return p.mgr.watchSerial(old, &p.serial, expire)
}

// GetLog returns this program's retained log lines (lifecycle plus
// captured stdout/stderr).
func (p *Process) GetLog(last int64) ([]LogRecord, int64) {
	return p.ring.GetRecords(last)
}

// WatchLog blocks until this program's log changes.
func (p *Process) WatchLog(old int64, expire time.Duration) int64 {
	return p.ring.Watch(old, expire)
}

// set records a state transition.  Call with the manager lock held.
func (p *Process) set(state State, reason string) {
	p.state = state
	p.reason = reason
	p.stamp = time.Now()
	p.serial = p.mgr.bumpSerial()
	p.mgr.publish(Event{
		Name:   p.program.Name,
		State:  state.String(),
		Reason: reason,
		Pid:    p.pid,
		Time:   p.stamp,
	})
}

// spawn forks the child and wires up output capture and the reaper.
// Call with the manager lock held.
func (p *Process) spawn() error {
	pg := p.program
	cmd := exec.Command(pg.Command[0], pg.Command[1:]...)
	cmd.Dir = pg.Directory
	cmd.Env = append(os.Environ(), pg.Environment...)
	// A fresh process group lets the stop signal reach anything the
	// child forks, not just the child itself.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if p.mgr.cred != nil {
		cmd.SysProcAttr.Credential = p.mgr.cred
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.waiter.Add(1)
	go p.tee(stdout, p.stdout, "stdout> ")
	go p.tee(stderr, p.stderr, "stderr> ")
	go p.reap(cmd)
	return nil
}

// tee copies one output stream line by line: raw into the file sink,
// prefixed into the log ring.
func (p *Process) tee(r io.Reader, sink io.Writer, prefix string) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if sink != nil {
				io.WriteString(sink, line)
			}
			p.logger.Print(prefix, strings.Trim(line, "\n"))
		}
		if err != nil {
			return
		}
	}
}

// reap blocks until the child exits and reports the exit back into the
// manager.  This is the "wait for next state-change event" half of the
// supervisor loop; there is one reaper per live child.
func (p *Process) reap(cmd *exec.Cmd) {
	err := cmd.Wait()
	p.mgr.reaped(p, cmd, exitStatus(err), err)
	p.waiter.Done()
}

// reaped applies one exit event under the lock: record the exit code,
// then either finish a requested stop, relaunch under autorestart, or
// leave the program terminal.
func (m *Manager) reaped(p *Process, cmd *exec.Cmd, code int, err error) {
	m.lock()
	defer m.unlock()

	if p.cmd != cmd {
		// A stale reaper from an earlier incarnation.
		return
	}
	p.cmd = nil
	p.pid = 0
	p.lastExit = code
	requested := p.stopping
	p.stopping = false

	switch {
	case requested || m.stopping || m.down:
		p.set(StateStopped, fmt.Sprintf("Stopped (exit status %d)", code))
		p.logger.Printf("Stopped with status %d", code)
	case p.program.AutoRestart:
		p.restarts++
		p.logger.Printf("Exited with status %d, restarting", code)
		m.launch(p, fmt.Sprintf("Respawned after exit status %d", code))
	case err != nil:
		p.set(StateExited, fmt.Sprintf("Exited with status %d", code))
		p.logger.Printf("Exited with status %d", code)
	default:
		p.set(StateExited, "Exited normally")
		p.logger.Printf("Exited normally")
	}
}

// Stop takes the child down: stop signal to the process group, grace
// period, then SIGKILL.  It blocks until the child is reaped.  Stopping
// a program that is not running just marks it stopped.
func (p *Process) Stop(detail string) {
	m := p.mgr
	m.lock()
	if p.state != StateRunning || p.cmd == nil {
		if p.state == StatePending {
			p.set(StateStopped, detail)
			p.logger.Printf("Stopped: %s", detail)
		}
		m.unlock()
		return
	}
	if !p.stopping {
		p.stopping = true
		p.logger.Printf("Stopping: %s", detail)
		if e := syscall.Kill(-p.pid, p.program.StopSignal); e != nil {
			p.logger.Printf("Failed sending %v: %v", p.program.StopSignal, e)
		}
	}
	pid := p.pid
	var timer *time.Timer
	if d := p.program.StopTime; d > 0 {
		timer = time.AfterFunc(d, func() {
			p.logger.Printf("Graceful stop timed out, killing")
			syscall.Kill(-pid, syscall.SIGKILL)
		})
	}
	m.unlock()

	p.waiter.Wait()
	if timer != nil {
		timer.Stop()
	}
}

// exitStatus extracts a shell-style exit code from Wait's error: the
// exit status for a normal exit, 128+signal for a signal death, -1 when
// there is no status to report.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal())
			}
			return ws.ExitStatus()
		}
		return ee.ExitCode()
	}
	return -1
}
