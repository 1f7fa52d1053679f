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
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/warden-proc/warden"
)

// Handler exposes a Manager over HTTP.  All state reads are served with
// an Etag derived from manager serial numbers, and any GET can be
// turned into a long poll with the poll headers, which is how clients
// watch for changes without busy polling.
type Handler struct {
	m          *warden.Manager
	r          *mux.Router
	username   string
	password   string
	onShutdown func()
}

// NewHandler wraps m in an http.Handler.
func NewHandler(m *warden.Manager) *Handler {
	r := mux.NewRouter()
	h := &Handler{m: m, r: r}
	r.HandleFunc("/", h.getInfo).Methods("GET")
	r.HandleFunc("/programs", h.listPrograms).Methods("GET")
	r.HandleFunc("/programs/{program}", h.getProgram).Methods("GET")
	r.HandleFunc("/programs/{program}/start", h.startProgram).Methods("POST")
	r.HandleFunc("/programs/{program}/stop", h.stopProgram).Methods("POST")
	r.HandleFunc("/programs/{program}/restart", h.restartProgram).Methods("POST")
	r.HandleFunc("/programs/{program}/log", h.getProgramLog).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/events", h.events).Methods("GET")
	r.HandleFunc("/shutdown", h.shutdown).Methods("POST")
	return h
}

// SetAuth requires HTTP basic authentication on every route.
func (h *Handler) SetAuth(username, password string) {
	h.username = username
	h.password = password
}

// SetShutdown installs the callback run when POST /shutdown is
// accepted.  Without one the handler shuts the manager down itself.
func (h *Handler) SetShutdown(fn func()) {
	h.onShutdown = fn
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if h.username != "" {
		u, p, got := req.BasicAuth()
		if !got ||
			subtle.ConstantTimeCompare([]byte(u), []byte(h.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(h.password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="warden"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	h.r.ServeHTTP(w, req)
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, etag string, v interface{}) {
	b, e := json.Marshal(v)
	if e != nil {
		h.internalError(w, e)
		return
	}
	w.Header().Set("Content-Type", mimeJSON)
	if etag != "" {
		w.Header().Set("Etag", etag)
	}
	w.Write(b)
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	b, err := json.Marshal(e)
	if err != nil {
		h.internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeJSON)
	w.WriteHeader(e.Code)
	w.Write(b)
}

func (h *Handler) actionError(w http.ResponseWriter, err error) {
	code := http.StatusBadRequest
	if errors.Is(err, warden.ErrNoProgram) {
		code = http.StatusNotFound
	}
	h.writeError(w, &Error{Code: code, Message: err.Error()})
}

// wait services the poll headers: when both are present, block in the
// given watch function until the serial moves past the client's Etag or
// the requested time expires.  The handler then responds as usual and
// the Etag check below decides between 200 and 304.
func (h *Handler) wait(r *http.Request, watch func(int64, time.Duration) int64) {
	etag := r.Header.Get(PollEtagHeader)
	wait := r.Header.Get(PollTimeHeader)
	if etag == "" || wait == "" {
		return
	}
	old, err := strconv.ParseInt(etag, 10, 64)
	if err != nil {
		return
	}
	secs, err := strconv.Atoi(wait)
	if err != nil || secs <= 0 {
		return
	}
	if secs > maxPollSecs {
		secs = maxPollSecs
	}
	watch(old, time.Duration(secs)*time.Second)
}

func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	if r.Header.Get("If-None-Match") == etag {
		w.Header().Set("Etag", etag)
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	h.wait(r, h.m.WatchSerial)
	mi := h.m.GetInfo()
	etag := strconv.FormatInt(mi.Serial, 10)
	if notModified(w, r, etag) {
		return
	}
	h.writeJSON(w, etag, &DaemonInfo{
		Name:       mi.Name,
		CreateTime: mi.CreateTime,
		UpdateTime: mi.UpdateTime,
	})
}

func (h *Handler) listPrograms(w http.ResponseWriter, r *http.Request) {
	h.wait(r, h.m.WatchPrograms)
	procs := h.m.Processes()
	etag := strconv.FormatInt(h.m.ProgramsSerial(), 10)
	if notModified(w, r, etag) {
		return
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		names = append(names, p.Name())
	}
	h.writeJSON(w, etag, names)
}

func (h *Handler) findProcess(w http.ResponseWriter, r *http.Request) *warden.Process {
	p := h.m.Find(mux.Vars(r)["program"])
	if p == nil {
		h.writeError(w, &Error{Code: http.StatusNotFound,
			Message: "program not found"})
	}
	return p
}

func programInfo(p *warden.Process) *ProgramInfo {
	pg := p.Program()
	info := &ProgramInfo{
		Name:        p.Name(),
		State:       p.State().String(),
		Pid:         p.Pid(),
		Priority:    pg.Priority,
		AutoRestart: pg.AutoRestart,
		Restarts:    p.Restarts(),
		LastExit:    p.LastExit(),
		Command:     pg.Command,
	}
	info.Status, info.TimeStamp = p.Status()
	return info
}

func (h *Handler) getProgram(w http.ResponseWriter, r *http.Request) {
	p := h.findProcess(w, r)
	if p == nil {
		return
	}
	h.wait(r, p.Watch)
	etag := strconv.FormatInt(p.Serial(), 10)
	if notModified(w, r, etag) {
		return
	}
	h.writeJSON(w, etag, programInfo(p))
}

func (h *Handler) startProgram(w http.ResponseWriter, r *http.Request) {
	if err := h.m.Start(mux.Vars(r)["program"]); err != nil {
		h.actionError(w, err)
		return
	}
	h.writeJSON(w, "", ok)
}

func (h *Handler) stopProgram(w http.ResponseWriter, r *http.Request) {
	if err := h.m.Stop(mux.Vars(r)["program"]); err != nil {
		h.actionError(w, err)
		return
	}
	h.writeJSON(w, "", ok)
}

func (h *Handler) restartProgram(w http.ResponseWriter, r *http.Request) {
	if err := h.m.Restart(mux.Vars(r)["program"]); err != nil {
		h.actionError(w, err)
		return
	}
	h.writeJSON(w, "", ok)
}

// serveLog shares the shape of the two log endpoints: If-None-Match is
// the last record ID the client saw.  An unchanged ring costs a 304 and
// no payload; a changed one ships only the records newer than that ID,
// so a follower never receives a line twice.
func (h *Handler) serveLog(w http.ResponseWriter, r *http.Request,
	watch func(int64, time.Duration) int64,
	get func(int64) ([]warden.LogRecord, int64)) {

	h.wait(r, watch)
	last, _ := strconv.ParseInt(r.Header.Get("If-None-Match"), 10, 64)
	recs, id := get(last)
	etag := strconv.FormatInt(id, 10)
	if recs == nil && last != 0 {
		w.Header().Set("Etag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if last != 0 {
		// Records are in ascending ID order.
		for len(recs) > 0 && recs[0].ID <= last {
			recs = recs[1:]
		}
	}
	if recs == nil {
		recs = []warden.LogRecord{}
	}
	h.writeJSON(w, etag, recs)
}

func (h *Handler) getProgramLog(w http.ResponseWriter, r *http.Request) {
	p := h.findProcess(w, r)
	if p == nil {
		return
	}
	h.serveLog(w, r, p.WatchLog, p.GetLog)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	h.serveLog(w, r, h.m.WatchLog, h.m.GetLog)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// events streams state transitions over a websocket until the peer goes
// away or the manager shuts down.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.m.Subscribe()
	defer h.m.Unsubscribe(ch)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *Handler) shutdown(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, "", ok)
	if h.onShutdown != nil {
		go h.onShutdown()
		return
	}
	go h.m.Shutdown()
}
