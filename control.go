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
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRestartWait bounds how long restart waits for the old daemon to
// go away when no stop timeout is configured.
const DefaultRestartWait = 10 * time.Second

// Controller operates on a daemon from the outside, using nothing but its
// lockfile and the process table.
type Controller struct {
	Lock  *LockFile
	Table ProcessTable

	// StopTimeout, if positive, is how long Stop waits after SIGTERM
	// before it sends SIGKILL to whatever is still running.
	StopTimeout time.Duration

	Logger logrus.FieldLogger
}

// NewController returns a Controller using the live process table.
func NewController(lock *LockFile, stopTimeout time.Duration, logger logrus.FieldLogger) *Controller {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{
		Lock:        lock,
		Table:       OSProcessTable{},
		StopTimeout: stopTimeout,
		Logger:      logger,
	}
}

// StopResult says what Stop did to each identifier in the lockfile.
type StopResult struct {
	Signalled []int
	Missing   []int
	Killed    []int
}

// Stop sends SIGTERM to every identifier in the lockfile, skipping those
// that no longer exist, and then removes the lockfile and socket.  An
// absent lockfile yields ErrNotRunning.  A permission failure, either
// signalling or removing, aborts the stop with an error matching
// ErrLockPermission.
func (c *Controller) Stop() (*StopResult, error) {
	pids, e := c.Lock.PIDs()
	if e != nil {
		return nil, e
	}
	res := &StopResult{}
	for _, pid := range pids {
		e := c.Table.Signal(pid, syscall.SIGTERM)
		switch {
		case e == nil:
			res.Signalled = append(res.Signalled, pid)
		case errors.Is(e, ErrNoSuchProcess):
			res.Missing = append(res.Missing, pid)
		case errors.Is(e, os.ErrPermission):
			return res, fmt.Errorf("%w: %v", ErrLockPermission, e)
		default:
			return res, e
		}
	}
	c.Logger.WithField("pids", res.Signalled).Debug("Sent SIGTERM")

	if c.StopTimeout > 0 && len(res.Signalled) != 0 {
		for _, pid := range waitGone(c.Table, res.Signalled, c.StopTimeout) {
			c.Logger.WithField("pid", pid).Warn("Graceful shutdown timed out")
			if e := c.Table.Signal(pid, syscall.SIGKILL); e == nil {
				res.Killed = append(res.Killed, pid)
			}
		}
	}

	if e := c.Lock.Remove(); e != nil {
		return res, e
	}
	return res, nil
}

// WaitGone waits for pids to disappear from the process table, for at most
// the stop timeout, or DefaultRestartWait if none is set.  It returns the
// identifiers still present.
func (c *Controller) WaitGone(pids []int) []int {
	timeout := c.StopTimeout
	if timeout <= 0 {
		timeout = DefaultRestartWait
	}
	return waitGone(c.Table, pids, timeout)
}

// Probe is what can be learned about a daemon from outside it.
type Probe struct {
	// Lock is the state and content of the lockfile.
	Lock LockContents

	// Found lists processes mentioning the application name, looked
	// for only when there is no lockfile.
	Found []int
}

// Running reports whether the daemon appears to be running.
func (p *Probe) Running() bool {
	return p.Lock.State == LockPresent || len(p.Found) != 0
}

// Probe inspects the lockfile and, if it is absent, scans the process table
// for app.
func (c *Controller) Probe(ctx context.Context, app string) (*Probe, error) {
	p := &Probe{Lock: c.Lock.Inspect()}
	switch p.Lock.State {
	case LockUnreadable:
		return p, c.Lock.readError(p.Lock.Err)
	case LockPresent:
		return p, nil
	}
	found, e := FindByCommand(ctx, app)
	if e != nil {
		return p, fmt.Errorf("scanning processes: %w", e)
	}
	p.Found = found
	return p, nil
}
