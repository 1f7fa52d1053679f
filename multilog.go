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
	"log"
	"strings"
	"sync"
)

// MultiLogger fans a single log.Logger out to any number of destination
// loggers.  The front logger writes into the MultiLogger itself, which
// splits the payload into lines and replays each line on every
// registered destination.  Destinations keep their own prefix and flags.
type MultiLogger struct {
	front   *log.Logger
	loggers []*log.Logger
	mx      sync.Mutex
}

// NewMultiLogger returns a MultiLogger with no destinations.
func NewMultiLogger() *MultiLogger {
	m := &MultiLogger{}
	m.front = log.New(m, "", 0)
	return m
}

// Logger returns the front logger callers should write through.
func (m *MultiLogger) Logger() *log.Logger {
	return m.front
}

// Write delivers each line of b to every destination.  log.Logger
// always hands over complete lines, so splitting on newlines is safe.
func (m *MultiLogger) Write(b []byte) (int, error) {
	lines := strings.Split(strings.Trim(string(b), "\n"), "\n")
	m.mx.Lock()
	for _, line := range lines {
		for _, l := range m.loggers {
			l.Println(line)
		}
	}
	m.mx.Unlock()
	return len(b), nil
}

// AddLogger registers a destination.  Adding the same destination twice
// is a no-op.
func (m *MultiLogger) AddLogger(l *log.Logger) {
	m.mx.Lock()
	defer m.mx.Unlock()
	for _, x := range m.loggers {
		if x == l {
			return
		}
	}
	m.loggers = append(m.loggers, l)
}

// RemoveLogger drops a destination registered with AddLogger.
func (m *MultiLogger) RemoveLogger(l *log.Logger) {
	m.mx.Lock()
	defer m.mx.Unlock()
	for i, x := range m.loggers {
		if x == l {
			m.loggers = append(m.loggers[:i], m.loggers[i+1:]...)
			return
		}
	}
}
