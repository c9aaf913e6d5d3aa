// Copyright 2015 The Govisor Authors
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

package daemonvisor

import (
	"time"
)

// Handle is what the supervisor holds for one running (or dead) worker
// process.  A handle is never reused: every restart produces a new one.
// The supervisor promises not to call these methods concurrently.
type Handle interface {
	// Name returns the worker name the handle was spawned for.
	Name() string

	// Pid returns the operating system process identifier.
	Pid() int

	// Started returns when the process was started.
	Started() time.Time

	// Alive reports OS-level liveness.  It must not block.  Once it has
	// returned false it never returns true again.
	Alive() bool

	// Done is closed when the process has exited and been reaped.
	Done() <-chan struct{}

	// Terminate asks the process to exit (SIGTERM).  Terminating a
	// process that has already exited is not an error.
	Terminate() error

	// Kill forcibly ends the process (SIGKILL).
	Kill() error
}

// Spawner starts worker processes.  Spawn returns once the process has
// been started, or has definitively failed to start; it does not wait for
// the worker to do anything.
type Spawner interface {
	Spawn(spec WorkerSpec) (Handle, error)
}

// PIDRecorder records every identifier the supervisor spawns.  The
// LockFile is the usual implementation.
type PIDRecorder interface {
	Append(pid int) error
}
