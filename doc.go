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

// Package warden supervises a fixed set of operating system processes
// declared in an ordered configuration file.  Programs are launched in
// ascending priority order, their output is routed to per-program log
// files, and programs marked autorestart are relaunched whenever they
// exit.  On shutdown children are stopped in reverse priority order,
// with a grace period before stragglers are killed.
//
// The typical arrangement is a container entry point: a handful of
// cooperating daemons (an X server, a VNC server, a protocol bridge, a
// desktop session, and the application itself) that must come up in a
// fixed order and stay up.
//
// The wardend command is the daemon; wardenctl talks to it over the
// HTTP API exposed by the rest package.
package warden
