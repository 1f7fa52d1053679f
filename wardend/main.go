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

// wardend is the warden daemon.  It loads a configuration file, starts
// the programs it declares in priority order, supervises them, and
// serves the REST control API used by wardenctl.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"

	"github.com/warden-proc/warden"
	"github.com/warden-proc/warden/rest"
)

var (
	confFile = flag.String("c", "warden.conf", "configuration file")
	addr     = flag.String("a", "", "listen address (overrides config)")
	name     = flag.String("n", "warden", "daemon name")
)

func credential(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, err
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, err
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}

// launch binds the control listener, then builds the manager and brings
// the programs up.  The bind comes first: an unusable address must fail
// while nothing has been spawned yet, so a startup failure never leaves
// children behind.
func launch(cfg *warden.Config, name string, cred *syscall.Credential) (*warden.Manager, net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.HTTPAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", cfg.HTTPAddress, err)
	}

	m := warden.NewManager(name)
	if cfg.LogLevel != "" {
		m.SetLogLevel(warden.ParseLevel(cfg.LogLevel))
	}
	if cfg.LogFile != "" {
		if err := m.OpenLogFile(cfg.LogFile); err != nil {
			ln.Close()
			m.Shutdown()
			return nil, nil, err
		}
	}
	if cred != nil {
		m.SetCredential(cred)
	}
	for _, pg := range cfg.Programs {
		if _, err := m.Add(pg); err != nil {
			ln.Close()
			m.Shutdown()
			return nil, nil, fmt.Errorf("program %q: %w", pg.Name, err)
		}
	}
	m.StartAll()
	return m, ln, nil
}

func main() {
	flag.Parse()

	cfg, err := warden.LoadConfig(*confFile)
	if err != nil {
		log.Fatalf("wardend: %v", err)
	}
	if *addr != "" {
		cfg.HTTPAddress = *addr
	}
	if cfg.Daemonize {
		// Left to the init system.  We note the request and stay in
		// the foreground so a supervisor above us can see our exit.
		log.Printf("wardend: daemonize requested, staying in foreground")
	}

	var cred *syscall.Credential
	if cfg.User != "" {
		if os.Geteuid() != 0 {
			log.Fatalf("wardend: user %q requires running as root", cfg.User)
		}
		if cred, err = credential(cfg.User); err != nil {
			log.Fatalf("wardend: user %q: %v", cfg.User, err)
		}
	}

	m, ln, err := launch(cfg, *name, cred)
	if err != nil {
		log.Fatalf("wardend: %v", err)
	}
	defer m.Shutdown()

	h := rest.NewHandler(m)
	if cfg.HTTPUsername != "" {
		h.SetAuth(cfg.HTTPUsername, cfg.HTTPPassword)
	}
	done := make(chan struct{}, 1)
	stop := func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}
	h.SetShutdown(stop)

	go func() {
		if err := http.Serve(ln, h); err != nil {
			log.Printf("wardend: http: %v", err)
			stop()
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigs:
		log.Printf("wardend: caught %v, shutting down", sig)
	case <-done:
		log.Printf("wardend: shutdown requested")
	}
	m.Shutdown()
}
