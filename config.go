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
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/shlex"
	"gopkg.in/ini.v1"
)

// Config is the parsed form of a warden configuration file: one optional
// [warden] section for the daemon itself, one optional [http] section for
// the control listener, and any number of [program:<name>] sections, each
// declaring one supervised process.
type Config struct {
	// Daemon settings from [warden].
	LogFile   string
	LogLevel  string
	Daemonize bool
	User      string

	// Control listener settings from [http].
	HTTPAddress  string
	HTTPUsername string
	HTTPPassword string

	// Programs in ascending priority order.  Programs with equal
	// priority keep their file order.
	Programs []*Program
}

// ParseError reports a malformed configuration entry, naming the section
// and, when it applies, the offending key.
type ParseError struct {
	Section string
	Key     string
	Reason  string
}

func (e *ParseError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config: section [%s], key %q: %s",
			e.Section, e.Key, e.Reason)
	}
	return fmt.Sprintf("config: section [%s]: %s", e.Section, e.Reason)
}

const (
	// DefaultPriority applies when a program section has no priority
	// key.  It sorts after any explicitly prioritized program.
	DefaultPriority = 999

	// DefaultStopTime is the grace period between the stop signal and
	// the kill of a process group.
	DefaultStopTime = 10 * time.Second

	// DefaultHTTPAddress is where the control listener binds when the
	// [http] section gives no address.
	DefaultHTTPAddress = "127.0.0.1:9001"
)

var stopSignals = map[string]syscall.Signal{
	"TERM": syscall.SIGTERM,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"KILL": syscall.SIGKILL,
	"HUP":  syscall.SIGHUP,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
}

// LoadConfig reads and validates the configuration at path.  Any
// malformed section or key yields a *ParseError and no partial result;
// the caller is expected to treat that as fatal before anything spawns.
func LoadConfig(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return parseConfig(f)
}

// LoadConfigData parses configuration from memory.  Used by tests and by
// callers that fetch their configuration from somewhere besides a file.
func LoadConfigData(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return parseConfig(f)
}

func parseConfig(f *ini.File) (*Config, error) {
	cfg := &Config{
		LogLevel:    "info",
		HTTPAddress: DefaultHTTPAddress,
	}
	seen := make(map[string]bool)

	for _, sec := range f.Sections() {
		name := sec.Name()
		switch {
		case name == ini.DefaultSection:
			if len(sec.Keys()) != 0 {
				return nil, &ParseError{Section: name,
					Reason: "keys outside of any section"}
			}
		case name == "warden":
			if err := parseDaemon(cfg, sec); err != nil {
				return nil, err
			}
		case name == "http":
			if addr := sec.Key("address").String(); addr != "" {
				cfg.HTTPAddress = addr
			}
			cfg.HTTPUsername = sec.Key("username").String()
			cfg.HTTPPassword = sec.Key("password").String()
		case strings.HasPrefix(name, "program:"):
			p, err := parseProgram(name, sec)
			if err != nil {
				return nil, err
			}
			if seen[p.Name] {
				return nil, &ParseError{Section: name,
					Reason: "duplicate program name"}
			}
			seen[p.Name] = true
			cfg.Programs = append(cfg.Programs, p)
		default:
			return nil, &ParseError{Section: name,
				Reason: "unknown section"}
		}
	}

	sort.SliceStable(cfg.Programs, func(i, j int) bool {
		return cfg.Programs[i].Priority < cfg.Programs[j].Priority
	})
	return cfg, nil
}

func parseDaemon(cfg *Config, sec *ini.Section) error {
	cfg.LogFile = sec.Key("logfile").String()
	if lv := sec.Key("loglevel").String(); lv != "" {
		switch lv {
		case "debug", "info", "warning", "error":
			cfg.LogLevel = lv
		default:
			return &ParseError{Section: sec.Name(), Key: "loglevel",
				Reason: "must be debug, info, warning or error"}
		}
	}
	if sec.HasKey("daemonize") {
		b, err := sec.Key("daemonize").Bool()
		if err != nil {
			return &ParseError{Section: sec.Name(), Key: "daemonize",
				Reason: "must be a boolean"}
		}
		cfg.Daemonize = b
	}
	cfg.User = sec.Key("user").String()
	return nil
}

func parseProgram(section string, sec *ini.Section) (*Program, error) {
	name := strings.TrimPrefix(section, "program:")
	if name == "" {
		return nil, &ParseError{Section: section,
			Reason: "empty program name"}
	}

	raw := sec.Key("command").String()
	if raw == "" {
		return nil, &ParseError{Section: section, Key: "command",
			Reason: "missing command"}
	}
	argv, err := shlex.Split(raw)
	if err != nil {
		return nil, &ParseError{Section: section, Key: "command",
			Reason: "cannot parse command line: " + err.Error()}
	}
	if len(argv) == 0 {
		return nil, &ParseError{Section: section, Key: "command",
			Reason: "empty command line"}
	}

	p := &Program{
		Name:       name,
		Command:    argv,
		Priority:   DefaultPriority,
		StopSignal: syscall.SIGTERM,
		StopTime:   DefaultStopTime,
	}

	if sec.HasKey("priority") {
		n, err := sec.Key("priority").Int()
		if err != nil {
			return nil, &ParseError{Section: section, Key: "priority",
				Reason: "must be an integer"}
		}
		p.Priority = n
	}
	if sec.HasKey("autorestart") {
		b, err := sec.Key("autorestart").Bool()
		if err != nil {
			return nil, &ParseError{Section: section, Key: "autorestart",
				Reason: "must be a boolean"}
		}
		p.AutoRestart = b
	}
	if env := sec.Key("environment").String(); env != "" {
		for _, kv := range strings.Split(env, ",") {
			kv = strings.TrimSpace(kv)
			if kv == "" {
				continue
			}
			if !strings.Contains(kv, "=") {
				return nil, &ParseError{Section: section,
					Key:    "environment",
					Reason: fmt.Sprintf("%q is not KEY=VALUE", kv)}
			}
			p.Environment = append(p.Environment, kv)
		}
	}
	p.Directory = sec.Key("directory").String()
	p.StdoutLogfile = sec.Key("stdout_logfile").String()
	p.StderrLogfile = sec.Key("stderr_logfile").String()
	if sig := sec.Key("stopsignal").String(); sig != "" {
		s, ok := stopSignals[strings.ToUpper(sig)]
		if !ok {
			return nil, &ParseError{Section: section, Key: "stopsignal",
				Reason: "unknown signal " + sig}
		}
		p.StopSignal = s
	}
	if sec.HasKey("stopwaitsecs") {
		n, err := sec.Key("stopwaitsecs").Int()
		if err != nil || n < 0 {
			return nil, &ParseError{Section: section, Key: "stopwaitsecs",
				Reason: "must be a non-negative integer"}
		}
		p.StopTime = time.Duration(n) * time.Second
	}
	return p, nil
}
