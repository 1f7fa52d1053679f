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
	"sync"
	"time"
)

// MaxLogRecords bounds the in-memory log ring.
const MaxLogRecords = 1000

// LogRecord is one line of captured output or one daemon message.  The
// ID increases monotonically within a Log instance, which lets clients
// use it as a change marker (it is served as an Etag by the HTTP layer).
type LogRecord struct {
	ID   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Log is a fixed-size ring of LogRecords.  It implements io.Writer so a
// log.Logger can feed it, and it supports blocking watches keyed on the
// last record ID a watcher saw.
type Log struct {
	records []LogRecord
	next    int // total lines ever written; next slot is next % len
	id      int64
	cvs     map[*sync.Cond]bool
	mx      sync.Mutex
}

// NewLog returns an empty ring.  The initial ID is the current time in
// nanoseconds so that a restarted daemon never hands out a marker an old
// client has already seen.
func NewLog() *Log {
	return &Log{
		records: make([]LogRecord, MaxLogRecords),
		id:      time.Now().UnixNano(),
		cvs:     make(map[*sync.Cond]bool),
	}
}

// Write records b line by line.  The trailing newline a log.Logger adds
// is stripped; embedded newlines split into separate records.
func (l *Log) Write(b []byte) (int, error) {
	text := strings.Trim(string(b), "\n")
	l.mx.Lock()
	for _, line := range strings.Split(text, "\n") {
		l.id++
		l.records[l.next%len(l.records)] = LogRecord{
			ID:   l.id,
			Time: time.Now(),
			Text: line,
		}
		l.next++
	}
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.mx.Unlock()
	return len(b), nil
}

// GetRecords returns the retained records in order, along with the ID of
// the newest one.  If last matches that ID the log has not changed and a
// nil slice is returned, so pollers do not re-ship identical data.
func (l *Log) GetRecords(last int64) ([]LogRecord, int64) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.id == last {
		return nil, last
	}
	n := l.next
	if n > len(l.records) {
		n = len(l.records)
	}
	recs := make([]LogRecord, 0, n)
	for i := l.next - n; i < l.next; i++ {
		recs = append(recs, l.records[i%len(l.records)])
	}
	return recs, l.id
}

// Watch blocks until the newest record ID differs from last, or until
// expire elapses.  It returns the current ID either way; expire <= 0
// turns the call into a poll.
func (l *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&l.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			l.mx.Lock()
			expired = true
			cv.Broadcast()
			l.mx.Unlock()
		})
	} else {
		expired = true
	}

	l.mx.Lock()
	l.cvs[cv] = true
	for l.id == last && !expired {
		cv.Wait()
	}
	delete(l.cvs, cv)
	id := l.id
	l.mx.Unlock()

	if timer != nil {
		timer.Stop()
	}
	return id
}
