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

package cli

import (
	"errors"
	"fmt"

	"github.com/gdamore/daemonvisor"
	"github.com/spf13/cobra"
)

func newStopCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon and its workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if e := app.loadConfig(cmd); e != nil {
				return e
			}
			_, _, e := app.stop(cmd)
			return e
		},
	}
}

func newRestartCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop the daemon, then start it again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if e := app.loadConfig(cmd); e != nil {
				return e
			}
			ctl, res, e := app.stop(cmd)
			if e != nil {
				return e
			}
			if ctl != nil {
				if left := ctl.WaitGone(res.Signalled); len(left) != 0 {
					app.Logger.WithField("pids", left).Warn("Processes still running after stop")
				}
			}
			return app.start(cmd)
		},
	}
}

// stop signals everything in the lockfile.  It returns the controller used
// and what it did, or nils if there was nothing to stop.
func (a *App) stop(cmd *cobra.Command) (*daemonvisor.Controller, *daemonvisor.StopResult, error) {
	s := a.Settings
	stderr := cmd.ErrOrStderr()
	lock := daemonvisor.NewLockFile(s.LockFile, s.SockFile, a.Logger)
	ctl := daemonvisor.NewController(lock, s.StopTimeout, a.Logger)

	fmt.Fprint(stderr, "Stopping daemon...\n")
	res, e := ctl.Stop()
	switch {
	case errors.Is(e, daemonvisor.ErrNotRunning):
		fmt.Fprint(stderr, "Lockfile not found. Is the daemon running?\n")
		return nil, nil, nil
	case errors.Is(e, daemonvisor.ErrLockPermission):
		fmt.Fprint(stderr, "Stop failed - permission denied.\n")
		return nil, nil, &ExitError{Code: 1}
	case e != nil:
		fmt.Fprintf(stderr, "Stop failed: %v\n", e)
		return nil, nil, &ExitError{Code: 1}
	}
	for _, pid := range res.Killed {
		fmt.Fprintf(stderr, "Killed process %d\n", pid)
	}
	return ctl, res, nil
}
