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
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gdamore/daemonvisor"
	"github.com/gdamore/daemonvisor/rest"
	"github.com/spf13/cobra"
)

type statusOptions struct {
	log    bool
	follow bool
}

func newStatusCommand(app *App) *cobra.Command {
	var opts statusOptions
	cmd := &cobra.Command{
		Use:   "status [worker]",
		Short: "Show whether the daemon is running",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if e := app.loadConfig(cmd); e != nil {
				return e
			}
			worker := ""
			if len(args) != 0 {
				worker = args[0]
			}
			return app.status(cmd, worker, opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.log, "log", "l", false, "print the daemon's recent log")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "keep printing the log until interrupted")
	return cmd
}

func (a *App) status(cmd *cobra.Command, worker string, opts statusOptions) error {
	s := a.Settings
	stderr := cmd.ErrOrStderr()
	lock := daemonvisor.NewLockFile(s.LockFile, s.SockFile, a.Logger)
	ctl := daemonvisor.NewController(lock, s.StopTimeout, a.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	probe, e := ctl.Probe(ctx, a.Name)
	if e != nil {
		fmt.Fprintf(stderr, "Status failed: %v\n", e)
		return &ExitError{Code: 1}
	}

	switch {
	case probe.Lock.State == daemonvisor.LockPresent:
		fmt.Fprint(stderr, "Daemon is running with these PIDs:\n")
		for _, pid := range probe.Lock.PIDs {
			fmt.Fprintf(stderr, "%d\n", pid)
		}
	case len(probe.Found) != 0:
		fmt.Fprintf(stderr, "%s daemon is running. NO LOCKFILE FOUND.\n", a.Name)
		return nil
	default:
		fmt.Fprintf(stderr, "%s is not running.\n", strings.ToUpper(a.Name))
		return nil
	}

	sock := lock.SockPath()
	if sock == "" {
		if worker != "" || opts.log || opts.follow {
			fmt.Fprint(stderr, "No sock_file configured.\n")
			return &ExitError{Code: 1}
		}
		return nil
	}
	client := rest.NewClient(sock)
	out := cmd.OutOrStdout()
	if worker != "" {
		return a.showNamedWorker(ctx, out, stderr, client, worker)
	}
	a.showWorkers(ctx, out, client)
	if opts.log || opts.follow {
		lctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		if e := showLog(lctx, out, client, opts.follow); e != nil {
			fmt.Fprintf(stderr, "Log unavailable: %v\n", e)
			return &ExitError{Code: 1}
		}
	}
	return nil
}

// showWorkers prints the daemon's own view of its workers.  The socket is
// optional, so failing to reach it is only logged.
func (a *App) showWorkers(ctx context.Context, w io.Writer, client *rest.Client) {
	info, e := client.Status(ctx)
	if e != nil {
		a.Logger.WithError(e).Debug("Status API not reachable")
		return
	}
	fmt.Fprintf(w, "Supervisor %d %s, up %s, restart limit %d\n", info.Pid,
		info.Phase, FormatDuration(time.Since(info.Started)), info.RestartLimit)
	SortWorkers(info.Workers)
	for i := range info.Workers {
		showWorker(w, &info.Workers[i])
	}
}

// showNamedWorker prints one worker.  An unknown name is an error, and the
// known names are listed.
func (a *App) showNamedWorker(ctx context.Context, w, stderr io.Writer, client *rest.Client, name string) error {
	wi, e := client.Worker(ctx, name)
	var rerr *rest.Error
	switch {
	case errors.As(e, &rerr) && rerr.Code == http.StatusNotFound:
		fmt.Fprintf(stderr, "No worker named %s.\n", name)
		if names, e := client.Workers(ctx); e == nil && len(names) != 0 {
			fmt.Fprintf(stderr, "Workers: %s\n", strings.Join(names, ", "))
		}
		return &ExitError{Code: 1}
	case e != nil:
		fmt.Fprintf(stderr, "Status API not reachable: %v\n", e)
		return &ExitError{Code: 1}
	}
	showWorker(w, wi)
	return nil
}

func showWorker(w io.Writer, wi *rest.WorkerInfo) {
	up := "-"
	if wi.Alive {
		up = FormatDuration(time.Since(wi.Started))
	}
	fmt.Fprintf(w, "%-16s %-8s %8d %10s %3d restarts\n", wi.Name,
		WorkerState(wi), wi.Pid, up, wi.Restarts)
}

func showRecord(w io.Writer, rec *rest.LogRecord) {
	src := rec.Worker
	if src == "" {
		src = "-"
	}
	fmt.Fprintf(w, "%s %-7s %-12s %s\n", rec.Time.Format(time.RFC3339),
		strings.ToUpper(rec.Level), src, rec.Text)
}

// showLog prints the retained log.  With follow it then long polls for new
// records until ctx is done.
func showLog(ctx context.Context, w io.Writer, client *rest.Client, follow bool) error {
	li, e := client.GetLog(ctx)
	if e != nil {
		return e
	}
	var last int64
	for {
		for i := range li.Records {
			if rec := &li.Records[i]; rec.Id > last {
				showRecord(w, rec)
				last = rec.Id
			}
		}
		if !follow {
			return nil
		}
		if li, e = client.WatchLog(ctx, li, rest.MaxPollTime); e != nil {
			if ctx.Err() != nil {
				return nil
			}
			return e
		}
	}
}
