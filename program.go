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
	"syscall"
	"time"
)

// Program is the immutable declaration of one supervised process.  It is
// built by the config loader and never modified afterwards; all mutable
// runtime state lives in the Process that the Manager pairs with it.
type Program struct {
	// Name uniquely identifies the program within one Manager.
	Name string

	// Command is the argv of the child; Command[0] is the binary.
	Command []string

	// Environment holds KEY=VALUE entries appended to the daemon's own
	// environment when the child is spawned.
	Environment []string

	// Directory is the working directory for the child, empty meaning
	// the daemon's own.
	Directory string

	// Priority orders startup: lower values start first.  Shutdown
	// walks the same order in reverse.
	Priority int

	// AutoRestart relaunches the child whenever it exits, regardless
	// of exit status, unless the exit was requested.
	AutoRestart bool

	// StdoutLogfile and StderrLogfile are append-mode file targets for
	// the child's output.  Empty means the stream is captured into the
	// in-memory log only.
	StdoutLogfile string
	StderrLogfile string

	// StopSignal is sent to the child's process group when the program
	// is stopped.  StopTime is how long to wait for a clean exit before
	// the group is killed; zero waits forever.
	StopSignal syscall.Signal
	StopTime   time.Duration
}

// State describes where a supervised process is in its lifecycle.
type State int

const (
	// StatePending means the program is declared but has no live child.
	StatePending State = iota

	// StateRunning means a child has been spawned and not yet reaped.
	StateRunning

	// StateExited means the child exited and the restart policy does
	// not bring it back.
	StateExited

	// StateFatal means the program could not be started at all, for
	// example because its log file is unwritable or the binary is
	// missing and autorestart is off.
	StateFatal

	// StateStopped means the program was stopped on request.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateFatal:
		return "fatal"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Terminal reports whether no further transitions happen without an
// explicit start request.
func (s State) Terminal() bool {
	switch s {
	case StateExited, StateFatal, StateStopped:
		return true
	}
	return false
}
