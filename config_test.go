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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFull(t *testing.T) {
	cfg, err := LoadConfigData([]byte(`
[warden]
logfile = /var/log/warden.log
loglevel = debug
daemonize = false
user = nobody

[http]
address = 0.0.0.0:9001
username = admin
password = hunter2

[program:web]
command = /usr/bin/web --port 8080
priority = 100
autorestart = true
environment = PORT=8080,MODE=prod
stdout_logfile = /var/log/web.out
stderr_logfile = /var/log/web.err

[program:worker]
command = /usr/bin/worker
priority = 200
directory = /srv/worker
stopsignal = INT
stopwaitsecs = 3
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/log/warden.log", cfg.LogFile)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Daemonize)
	assert.Equal(t, "nobody", cfg.User)
	assert.Equal(t, "0.0.0.0:9001", cfg.HTTPAddress)
	assert.Equal(t, "admin", cfg.HTTPUsername)
	assert.Equal(t, "hunter2", cfg.HTTPPassword)

	require.Len(t, cfg.Programs, 2)
	web, worker := cfg.Programs[0], cfg.Programs[1]

	assert.Equal(t, "web", web.Name)
	assert.Equal(t, []string{"/usr/bin/web", "--port", "8080"}, web.Command)
	assert.Equal(t, 100, web.Priority)
	assert.True(t, web.AutoRestart)
	assert.Equal(t, []string{"PORT=8080", "MODE=prod"}, web.Environment)
	assert.Equal(t, "/var/log/web.out", web.StdoutLogfile)
	assert.Equal(t, "/var/log/web.err", web.StderrLogfile)
	assert.Equal(t, syscall.SIGTERM, web.StopSignal)
	assert.Equal(t, DefaultStopTime, web.StopTime)

	assert.Equal(t, "worker", worker.Name)
	assert.Equal(t, "/srv/worker", worker.Directory)
	assert.Equal(t, syscall.SIGINT, worker.StopSignal)
	assert.Equal(t, 3*time.Second, worker.StopTime)
	assert.False(t, worker.AutoRestart)
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := LoadConfigData([]byte(`
[program:solo]
command = sleep 60
`))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultHTTPAddress, cfg.HTTPAddress)

	require.Len(t, cfg.Programs, 1)
	p := cfg.Programs[0]
	assert.Equal(t, DefaultPriority, p.Priority)
	assert.Equal(t, syscall.SIGTERM, p.StopSignal)
	assert.Equal(t, DefaultStopTime, p.StopTime)
}

func TestConfigPriorityOrder(t *testing.T) {
	cfg, err := LoadConfigData([]byte(`
[program:late]
command = /bin/late
priority = 500

[program:early]
command = /bin/early
priority = 100

[program:middle]
command = /bin/middle
priority = 300

[program:unranked]
command = /bin/unranked
`))
	require.NoError(t, err)
	require.Len(t, cfg.Programs, 4)
	assert.Equal(t, "early", cfg.Programs[0].Name)
	assert.Equal(t, "middle", cfg.Programs[1].Name)
	assert.Equal(t, "late", cfg.Programs[2].Name)
	assert.Equal(t, "unranked", cfg.Programs[3].Name)
}

func TestConfigTiesKeepFileOrder(t *testing.T) {
	cfg, err := LoadConfigData([]byte(`
[program:one]
command = /bin/one
priority = 100

[program:two]
command = /bin/two
priority = 100
`))
	require.NoError(t, err)
	require.Len(t, cfg.Programs, 2)
	assert.Equal(t, "one", cfg.Programs[0].Name)
	assert.Equal(t, "two", cfg.Programs[1].Name)
}

func TestConfigQuotedCommand(t *testing.T) {
	cfg, err := LoadConfigData([]byte(`
[program:quoted]
command = /bin/sh -c "echo 'hello world'"
`))
	require.NoError(t, err)
	require.Len(t, cfg.Programs, 1)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo 'hello world'"},
		cfg.Programs[0].Command)
}

func TestConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
		key  string
	}{
		{"MissingCommand", "[program:x]\npriority = 1\n", "command"},
		{"BadPriority", "[program:x]\ncommand = /bin/x\npriority = soon\n", "priority"},
		{"BadAutorestart", "[program:x]\ncommand = /bin/x\nautorestart = maybe\n", "autorestart"},
		{"BadEnvironment", "[program:x]\ncommand = /bin/x\nenvironment = NOEQUALS\n", "environment"},
		{"BadStopSignal", "[program:x]\ncommand = /bin/x\nstopsignal = FROB\n", "stopsignal"},
		{"BadStopWait", "[program:x]\ncommand = /bin/x\nstopwaitsecs = -1\n", "stopwaitsecs"},
		{"BadLogLevel", "[warden]\nloglevel = chatty\n", "loglevel"},
		{"UnknownSection", "[frobnicator]\nkey = val\n", ""},
		{"DuplicateName", "[program:x]\ncommand = /bin/x\n[program:x]\ncommand = /bin/y\n", ""},
		{"KeysOutsideSection", "stray = 1\n[program:x]\ncommand = /bin/x\n", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfigData([]byte(tc.data))
			require.Error(t, err)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.key, pe.Key)
		})
	}
}
