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

package rest

import (
	"time"
)

const (
	mimeJSON = "application/json; charset=UTF-8"

	// PollEtagHeader and PollTimeHeader turn a GET into a long poll:
	// the server holds the request until the resource's Etag differs
	// from the one given, or the wait (in seconds) expires.
	PollEtagHeader = "X-Warden-Etag"
	PollTimeHeader = "X-Warden-Wait"

	// maxPollSecs caps how long the server will hold a poll.
	maxPollSecs = 300
)

var ok struct{}

// DaemonInfo mirrors the manager's top-level state.
type DaemonInfo struct {
	Name       string    `json:"name"`
	CreateTime time.Time `json:"created"`
	UpdateTime time.Time `json:"updated"`

	// Etag is filled in by the client from the response header.
	Etag string `json:"-"`
}

// ProgramInfo mirrors one process-table entry.
type ProgramInfo struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Status      string    `json:"status"`
	TimeStamp   time.Time `json:"tstamp"`
	Pid         int       `json:"pid,omitempty"`
	Priority    int       `json:"priority"`
	AutoRestart bool      `json:"autorestart"`
	Restarts    int       `json:"restarts"`
	LastExit    int       `json:"last_exit"`
	Command     []string  `json:"command"`

	Etag string `json:"-"`
}

// Event mirrors warden.Event for the websocket stream.
type Event struct {
	Name   string    `json:"name"`
	State  string    `json:"state"`
	Reason string    `json:"reason"`
	Pid    int       `json:"pid,omitempty"`
	Time   time.Time `json:"time"`
}

// Error is the JSON error body, doubling as a Go error on the client.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
