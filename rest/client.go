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
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/warden-proc/warden"
)

// Client talks to a Handler.  The Watch variants long poll: they block
// server side until the resource moves past the Etag from the previous
// call, so a loop around them follows changes without busy polling.
type Client struct {
	base string
	user string
	pass string
	auth bool
	hc   *http.Client
}

// NewClient returns a client for the given base URI.  The transport may
// be nil for defaults, or set up for TLS and friends.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		base: strings.TrimRight(baseURI, "/"),
		hc:   &http.Client{Transport: t},
	}
}

// SetAuth enables HTTP basic authentication.
func (c *Client) SetAuth(user, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) programURL(name, suffix string) string {
	return c.base + "/programs/" + url.PathEscape(name) + suffix
}

// get issues a GET, optionally as a long poll against etag.  It returns
// the new Etag, or "" when the resource was unchanged (304).
func (c *Client) get(ctx context.Context, u, etag string, waitSecs int, v interface{}) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if waitSecs > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(waitSecs))
		}
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotModified:
		return "", nil
	case res.StatusCode != http.StatusOK:
		return "", &Error{Code: res.StatusCode, Message: res.Status}
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return "", err
	}
	return res.Header.Get("Etag"), nil
}

func (c *Client) post(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u,
		strings.NewReader(""))
	if err != nil {
		return err
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &Error{Code: res.StatusCode, Message: res.Status}
	}
	return nil
}

// Info fetches the daemon's top-level state.
func (c *Client) Info(ctx context.Context) (*DaemonInfo, error) {
	v := &DaemonInfo{}
	etag, err := c.get(ctx, c.base+"/", "", 0, v)
	if err != nil {
		return nil, err
	}
	v.Etag = etag
	return v, nil
}

// WatchInfo long polls the daemon state past etag.  A nil result with a
// nil error means nothing changed before the server gave up.
func (c *Client) WatchInfo(ctx context.Context, etag string) (*DaemonInfo, error) {
	v := &DaemonInfo{}
	next, err := c.get(ctx, c.base+"/", etag, maxPollSecs, v)
	if err != nil {
		return nil, err
	}
	if next == "" {
		return nil, nil
	}
	v.Etag = next
	return v, nil
}

// Programs lists program names in start order.
func (c *Client) Programs(ctx context.Context) ([]string, error) {
	var v []string
	_, err := c.get(ctx, c.base+"/programs", "", 0, &v)
	return v, err
}

// GetProgram fetches one program's status.
func (c *Client) GetProgram(ctx context.Context, name string) (*ProgramInfo, error) {
	v := &ProgramInfo{}
	etag, err := c.get(ctx, c.programURL(name, ""), "", 0, v)
	if err != nil {
		return nil, err
	}
	v.Etag = etag
	return v, nil
}

// WatchProgram long polls one program's status past etag; nil, nil
// means no change.
func (c *Client) WatchProgram(ctx context.Context, name, etag string) (*ProgramInfo, error) {
	v := &ProgramInfo{}
	next, err := c.get(ctx, c.programURL(name, ""), etag, maxPollSecs, v)
	if err != nil {
		return nil, err
	}
	if next == "" {
		return nil, nil
	}
	v.Etag = next
	return v, nil
}

// StartProgram asks the daemon to launch a program.
func (c *Client) StartProgram(ctx context.Context, name string) error {
	return c.post(ctx, c.programURL(name, "/start"))
}

// StopProgram asks the daemon to stop a program.
func (c *Client) StopProgram(ctx context.Context, name string) error {
	return c.post(ctx, c.programURL(name, "/stop"))
}

// RestartProgram asks the daemon to stop and relaunch a program.
func (c *Client) RestartProgram(ctx context.Context, name string) error {
	return c.post(ctx, c.programURL(name, "/restart"))
}

// Shutdown asks the daemon to stop everything and exit.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.post(ctx, c.base+"/shutdown")
}

func (c *Client) logURL(name string) string {
	if name == "" {
		return c.base + "/log"
	}
	return c.programURL(name, "/log")
}

// GetLog fetches the retained log for a program, or the daemon-wide log
// when name is empty.  The second return is the Etag for WatchLog.
func (c *Client) GetLog(ctx context.Context, name string) ([]warden.LogRecord, string, error) {
	var recs []warden.LogRecord
	etag, err := c.get(ctx, c.logURL(name), "", 0, &recs)
	return recs, etag, err
}

// WatchLog long polls the log past etag, returning only records newer
// than it.  Unchanged logs return nil records and the same etag.
func (c *Client) WatchLog(ctx context.Context, name, etag string) ([]warden.LogRecord, string, error) {
	var recs []warden.LogRecord
	next, err := c.get(ctx, c.logURL(name), etag, maxPollSecs, &recs)
	if err != nil {
		return nil, etag, err
	}
	if next == "" {
		return nil, etag, nil
	}
	return recs, next, nil
}

// Events connects to the websocket event stream.  The channel closes
// when the connection drops, the daemon shuts down, or ctx is done.
func (c *Client) Events(ctx context.Context) (<-chan Event, error) {
	u := c.base + "/events"
	if strings.HasPrefix(u, "https:") {
		u = "wss:" + strings.TrimPrefix(u, "https:")
	} else if strings.HasPrefix(u, "http:") {
		u = "ws:" + strings.TrimPrefix(u, "http:")
	}
	var hdr http.Header
	if c.auth {
		hdr = http.Header{}
		hdr.Set("Authorization", "Basic "+
			basicAuth(c.user, c.pass))
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, hdr)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, 32)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
