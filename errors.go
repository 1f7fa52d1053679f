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
	"errors"
)

var (
	ErrNoProgram  = errors.New("no such program")
	ErrDuplicate  = errors.New("program already declared")
	ErrNotRunning = errors.New("program is not running")
	ErrIsRunning  = errors.New("program is already running")
	ErrStopping   = errors.New("program is stopping")
	ErrShutdown   = errors.New("manager is shut down")
)
