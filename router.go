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
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Router hands out the file sinks child output is redirected to, and
// releases all of them when the daemon shuts down.  Sinks rotate by size
// so a chatty child cannot fill the disk.
type Router struct {
	maxSizeMB  int
	maxBackups int
	sinks      []io.WriteCloser
	mx         sync.Mutex
}

// NewRouter returns a Router with the given rotation bounds; zero values
// select 50 MB per file and 10 rotated backups.
func NewRouter(maxSizeMB, maxBackups int) *Router {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if maxBackups <= 0 {
		maxBackups = 10
	}
	return &Router{maxSizeMB: maxSizeMB, maxBackups: maxBackups}
}

// Open returns an append-mode sink for path.  The path is probed
// immediately so an unwritable target surfaces at load time rather than
// at the first write; callers treat that as fatal for the one program
// that owns the path.
func (r *Router) Open(path string) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("log file unwritable: %w", err)
	}
	f.Close()

	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    r.maxSizeMB,
		MaxBackups: r.maxBackups,
	}
	r.mx.Lock()
	r.sinks = append(r.sinks, lj)
	r.mx.Unlock()
	return lj, nil
}

// Close releases every sink handed out so far.
func (r *Router) Close() {
	r.mx.Lock()
	sinks := r.sinks
	r.sinks = nil
	r.mx.Unlock()
	for _, s := range sinks {
		s.Close()
	}
}
