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

// Package cli implements the start, stop, restart and status commands
// shared by every daemon built on daemonvisor.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gdamore/daemonvisor"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ExitError carries the status the process should exit with.  A nil Err
// means the message has already been printed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func fail(e error) error {
	return &ExitError{Code: 1, Err: e}
}

// App is one daemon: its name, its worker entry points, and the resolved
// settings for the current invocation.
type App struct {
	Name     string
	Registry *daemonvisor.Registry
	Logger   *logrus.Logger

	ConfigPath string
	Settings   *daemonvisor.Settings
}

// NewApp returns an App logging through the standard logrus logger.
func NewApp(name string, reg *daemonvisor.Registry) *App {
	return &App{
		Name:     name,
		Registry: reg,
		Logger:   logrus.StandardLogger(),
	}
}

func (a *App) usage() string {
	return fmt.Sprintf("USAGE: %s start|stop|restart|status\n", a.Name)
}

func (a *App) loadConfig(cmd *cobra.Command) error {
	if a.ConfigPath == "" {
		a.ConfigPath = os.Getenv(strings.ToUpper(a.Name) + "_CONFIG")
	}
	if a.ConfigPath == "" {
		a.ConfigPath = a.Name + ".ini"
	}
	if abs, e := filepath.Abs(a.ConfigPath); e == nil {
		a.ConfigPath = abs
	}
	s, e := daemonvisor.LoadConfig(a.Name, a.ConfigPath, a.Logger)
	if errors.Is(e, daemonvisor.ErrMissingLockFile) {
		fmt.Fprint(cmd.ErrOrStderr(), "Missing lock file from config\n")
		return &ExitError{Code: 1}
	}
	if e != nil {
		return fail(e)
	}
	a.Settings = s
	return nil
}

// NewRootCommand returns the command tree for app.  Anything other than one
// of the four subcommands prints the usage line and fails.
func NewRootCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           app.Name,
		Short:         app.Name + " daemon",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.ErrOrStderr(), app.usage())
			return &ExitError{Code: 1}
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetFlagErrorFunc(func(c *cobra.Command, e error) error {
		fmt.Fprint(c.ErrOrStderr(), app.usage())
		return fail(e)
	})
	cmd.PersistentFlags().StringVarP(&app.ConfigPath, "config", "c", "",
		fmt.Sprintf("config file (default $%s_CONFIG or ./%s.ini)", strings.ToUpper(app.Name), app.Name))

	cmd.AddCommand(newStartCommand(app))
	cmd.AddCommand(newStopCommand(app))
	cmd.AddCommand(newRestartCommand(app))
	cmd.AddCommand(newStatusCommand(app))
	return cmd
}

// HandleExitError prints err, if it has anything to say, and exits with
// the matching status.
func HandleExitError(err error, stderr io.Writer) {
	if err == nil {
		os.Exit(0)
	}
	code := 1
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintf(stderr, "Error: %s\n", msg)
	}
	os.Exit(code)
}

// Main is the whole main function of a daemon called name.  A process the
// supervisor started as a worker runs that worker and exits; anything else
// is dispatched as a command.
func Main(name string, reg *daemonvisor.Registry) {
	if spec, ok := daemonvisor.WorkerRequested(); ok {
		os.Exit(reg.RunWorker(spec, logrus.StandardLogger()))
	}
	app := NewApp(name, reg)
	HandleExitError(NewRootCommand(app).Execute(), os.Stderr)
}
