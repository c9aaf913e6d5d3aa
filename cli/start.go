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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gdamore/daemonvisor"
	"github.com/gdamore/daemonvisor/rest"
	"github.com/spf13/cobra"
)

func newStartCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if e := app.loadConfig(cmd); e != nil {
				return e
			}
			return app.start(cmd)
		},
	}
}

// start checks the lock, detaches, and supervises the workers until the
// daemon is stopped or a worker exhausts its restarts.
func (a *App) start(cmd *cobra.Command) error {
	s := a.Settings
	stderr := cmd.ErrOrStderr()
	ring, closer := SetupLogging(a.Logger, s)
	defer closer.Close()

	lock := daemonvisor.NewLockFile(s.LockFile, s.SockFile, a.Logger)
	specs, e := a.Registry.Specs(s.Processes)
	if e != nil {
		return fail(e)
	}

	if daemonvisor.DetachStage() == daemonvisor.StageInvoker {
		fmt.Fprintf(stderr, "Starting daemon %s...\n", a.Name)
		if e := lock.CheckAndPrepare(daemonvisor.OSProcessTable{}); e != nil {
			var conflict *daemonvisor.LockConflictError
			if errors.As(e, &conflict) {
				for _, pid := range conflict.PIDs {
					fmt.Fprintf(stderr, "Found existing process with PID: %d. Exiting!!!\n", pid)
				}
				return &ExitError{Code: 1}
			}
			fmt.Fprintf(stderr, "Start failed: %v\n", e)
			return &ExitError{Code: 1}
		}
	}

	detacher := daemonvisor.NewDetacher(lock, a.Logger)
	detacher.Args = []string{os.Args[0], "--config", a.ConfigPath, "start"}
	var cleanup func() error
	if s.Daemon {
		cleanup, e = detacher.Detach()
	} else {
		cleanup, e = detacher.Claim()
	}
	if e != nil {
		fmt.Fprintf(stderr, "Start failed: %v\n", e)
		return &ExitError{Code: 1}
	}

	rv := a.supervise(specs, lock, ring)
	if e := cleanup(); e != nil {
		a.Logger.WithError(e).WithField("lock_file", lock.Path()).Error("Failed to remove lockfile")
		if rv == nil {
			rv = fail(e)
		}
	}
	return rv
}

func (a *App) supervise(specs []daemonvisor.WorkerSpec, lock *daemonvisor.LockFile, ring *daemonvisor.Log) error {
	s := a.Settings
	if len(specs) == 0 {
		a.Logger.Warn("No workers to supervise")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	sup, e := daemonvisor.NewSupervisor(specs, daemonvisor.NewExecSpawner(a.Logger),
		lock, s.Options(), a.Logger)
	if e != nil {
		return fail(e)
	}

	served := make(chan struct{})
	if sock := lock.SockPath(); sock != "" {
		go func() {
			defer close(served)
			if e := rest.Serve(ctx, sock, rest.NewHandler(sup, ring), a.Logger); e != nil {
				a.Logger.WithError(e).Error("Status API failed")
			}
		}()
	} else {
		close(served)
	}

	e = sup.Run(ctx)
	stop()
	<-served
	if e != nil {
		return fail(e)
	}
	return nil
}
