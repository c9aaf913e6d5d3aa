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
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sevlyar/go-daemon"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// EnvStage marks the final process of the double fork.
const EnvStage = "DAEMONVISOR_STAGE"

// Detach stages.  Stage 0 is the process the user started; stage 1 is the
// session leader created by the first fork; stage 2 is the daemon.
const (
	StageInvoker = iota
	StageSession
	StageDaemon
)

// DetachStage reports which stage of the double fork this process is.
func DetachStage() int {
	if os.Getenv(EnvStage) == "2" {
		return StageDaemon
	}
	if daemon.WasReborn() {
		return StageSession
	}
	return StageInvoker
}

// Detacher turns the running program into a background daemon.  Since a
// Go program cannot fork, each "fork" re-executes the binary with the same
// arguments, and the stage is carried in the environment.
type Detacher struct {
	Lock   *LockFile
	Logger logrus.FieldLogger

	// WorkDir is the daemon's working directory.  Empty means "/".
	WorkDir string

	// Args are the arguments every later stage is started with,
	// including argv[0].  Nil means os.Args.  Paths in them must be
	// absolute, since later stages run in WorkDir.
	Args []string

	exit func(int)
}

// NewDetacher returns a Detacher that records the daemon in lock.
func NewDetacher(lock *LockFile, logger logrus.FieldLogger) *Detacher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Detacher{Lock: lock, Logger: logger, WorkDir: "/", exit: os.Exit}
}

// Detach performs this process's part of the double fork.  In the first
// two stages it starts the next one and exits with status 0, so it only
// returns on failure, with an error matching ErrForkFailure.  In the final
// stage it writes its own identifier as the first line of the lockfile and
// returns a cleanup function that removes the lockfile.
func (d *Detacher) Detach() (func() error, error) {
	switch DetachStage() {
	case StageInvoker:
		ctx := &daemon.Context{WorkDir: d.workDir(), Args: d.args()}
		child, e := ctx.Reborn()
		if e != nil {
			return nil, fmt.Errorf("%w: %v", ErrForkFailure, e)
		}
		if child != nil {
			d.exit(0)
		}
		return nil, fmt.Errorf("%w: unexpected stage", ErrForkFailure)

	case StageSession:
		// Finishes the handshake with the invoker; setsid and chdir
		// have already been applied.
		ctx := &daemon.Context{WorkDir: d.workDir(), Args: d.args()}
		if _, e := ctx.Reborn(); e != nil {
			return nil, fmt.Errorf("%w: %v", ErrForkFailure, e)
		}
		unix.Umask(0)
		if e := d.forkDaemon(); e != nil {
			return nil, fmt.Errorf("%w: %v", ErrForkFailure, e)
		}
		d.exit(0)
		return nil, fmt.Errorf("%w: unexpected stage", ErrForkFailure)
	}

	os.Unsetenv(EnvStage)
	return d.Claim()
}

// Claim records the running process as the daemon without detaching.  It
// is used directly when running in the foreground.
func (d *Detacher) Claim() (func() error, error) {
	os.Stdout.Sync()
	os.Stderr.Sync()
	if e := d.Lock.Create(os.Getpid()); e != nil {
		return nil, e
	}
	d.Logger.WithField("pid", os.Getpid()).Info("Daemon started")
	return d.Lock.Remove, nil
}

// forkDaemon starts the final stage.  It stays in the session created
// by the first fork but is not its leader, so it can never reacquire a
// controlling terminal.
func (d *Detacher) forkDaemon() error {
	exe, e := os.Executable()
	if e != nil {
		return e
	}
	env := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, daemon.MARK_NAME+"=") || strings.HasPrefix(kv, EnvStage+"=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, EnvStage+"=2")
	cmd := &exec.Cmd{
		Path:   exe,
		Args:   d.args(),
		Env:    env,
		Dir:    d.workDir(),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	if e := cmd.Start(); e != nil {
		return e
	}
	return cmd.Process.Release()
}

func (d *Detacher) workDir() string {
	if d.WorkDir == "" {
		return "/"
	}
	return d.WorkDir
}

func (d *Detacher) args() []string {
	if d.Args == nil {
		return os.Args
	}
	return d.Args
}
