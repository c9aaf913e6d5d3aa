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

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package daemonvisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// ProcessTable is the view of the operating system process table used by
// the lockfile check and by stop.  Tests substitute their own.
type ProcessTable interface {
	// Exists reports whether a process with the identifier exists.
	Exists(pid int) (bool, error)

	// Signal delivers sig to the process.  A process that does not exist
	// yields ErrNoSuchProcess; a process we may not signal yields an
	// error matching os.ErrPermission.
	Signal(pid int, sig syscall.Signal) error
}

// OSProcessTable is the live process table.
type OSProcessTable struct{}

func (OSProcessTable) Exists(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	return process.PidExists(int32(pid))
}

func (OSProcessTable) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return ErrNoSuchProcess
	}
	switch e := unix.Kill(pid, sig); {
	case e == nil:
		return nil
	case errors.Is(e, unix.ESRCH):
		return ErrNoSuchProcess
	case errors.Is(e, unix.EPERM):
		return fmt.Errorf("signal %v to %d: %w", sig, pid, os.ErrPermission)
	default:
		return fmt.Errorf("signal %v to %d: %w", sig, pid, e)
	}
}

// FindByCommand returns the identifiers of processes, other than the
// caller, whose command line mentions name.  It is the fallback used by
// status when no lockfile exists.
func FindByCommand(ctx context.Context, name string) ([]int, error) {
	procs, e := process.ProcessesWithContext(ctx)
	if e != nil {
		return nil, e
	}
	self := int32(os.Getpid())
	var pids []int
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmd, e := p.CmdlineWithContext(ctx)
		if e != nil || cmd == "" {
			continue
		}
		if strings.Contains(cmd, name) {
			pids = append(pids, int(p.Pid))
		}
	}
	return pids, nil
}

// waitGone polls until none of pids exist or the timeout expires.  It
// returns the identifiers still present.
func waitGone(pt ProcessTable, pids []int, timeout time.Duration) []int {
	deadline := time.Now().Add(timeout)
	for {
		var alive []int
		for _, pid := range pids {
			if ok, _ := pt.Exists(pid); ok {
				alive = append(alive, pid)
			}
		}
		if len(alive) == 0 || !time.Now().Before(deadline) {
			return alive
		}
		pids = alive
		time.Sleep(100 * time.Millisecond)
	}
}
