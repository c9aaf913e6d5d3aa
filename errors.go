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
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrForkFailure     = errors.New("fork failed")
	ErrLockConflict    = errors.New("lockfile held by a live process")
	ErrLockPermission  = errors.New("lockfile permission denied")
	ErrLockUnreadable  = errors.New("lockfile unreadable")
	ErrNoSuchProcess   = errors.New("no such process")
	ErrRestartLimit    = errors.New("restart limit exceeded")
	ErrMissingLockFile = errors.New("missing lock file from config")
	ErrNoProcesses     = errors.New("no processes configured")
	ErrUnknownEntry    = errors.New("unknown worker entry point")
	ErrDuplicateWorker = errors.New("duplicate worker name")
	ErrNotRunning      = errors.New("daemon is not running")
)

// LockConflictError reports the identifiers found alive in an existing
// lockfile.  It matches ErrLockConflict with errors.Is.
type LockConflictError struct {
	Path string
	PIDs []int
}

func (e *LockConflictError) Error() string {
	pids := make([]string, 0, len(e.PIDs))
	for _, pid := range e.PIDs {
		pids = append(pids, strconv.Itoa(pid))
	}
	return fmt.Sprintf("lockfile %s: found existing process with PID: %s",
		e.Path, strings.Join(pids, ", "))
}

func (e *LockConflictError) Unwrap() error {
	return ErrLockConflict
}
