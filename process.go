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
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Process is an actual operating system level worker process, started by
// re-executing the daemon binary.  It implements Handle.
type Process struct {
	name    string
	cmd     *exec.Cmd
	started time.Time
	done    chan struct{}
	err     error // valid once done is closed
	logger  logrus.FieldLogger
	output  []*LogWriter
}

func (p *Process) Name() string {
	return p.name
}

func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

func (p *Process) Started() time.Time {
	return p.started
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Err returns the wait error of an exited process, or nil while it runs.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *Process) doWait() {
	e := p.cmd.Wait()
	for _, w := range p.output {
		w.Flush()
	}
	if e != nil {
		p.logger.WithError(e).Warn("Process exited")
	} else {
		p.logger.Info("Process exited")
	}
	p.err = e
	close(p.done)
}

func (p *Process) signal(sig syscall.Signal) error {
	if !p.Alive() {
		return nil
	}
	if e := p.cmd.Process.Signal(sig); e != nil {
		if errors.Is(e, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("sending %v to %s (%d): %w", sig, p.name, p.Pid(), e)
	}
	return nil
}

func (p *Process) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

func (p *Process) Kill() error {
	return p.signal(syscall.SIGKILL)
}

// ExecSpawner starts workers by re-executing a binary (normally the
// running daemon itself) with the worker named in the environment.
type ExecSpawner struct {
	// Path is the binary to run.  Empty means os.Executable().
	Path string

	// Args are the arguments, including argv[0].  Empty means
	// os.Args[0] followed by "worker" and the worker name.
	Args []string

	// Env is the base environment.  Nil means os.Environ().
	Env []string

	// Dir is the working directory.  Empty means the current one.
	Dir string

	// Logger receives the worker's stdout and stderr, line by line.
	Logger logrus.FieldLogger

	// WaitDelay bounds how long reaping waits for output copying after
	// the process has exited.
	WaitDelay time.Duration
}

// NewExecSpawner returns an ExecSpawner for the running binary.
func NewExecSpawner(logger logrus.FieldLogger) *ExecSpawner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ExecSpawner{
		Logger:    logger,
		WaitDelay: time.Second,
	}
}

func (s *ExecSpawner) Spawn(spec WorkerSpec) (Handle, error) {
	path := s.Path
	if path == "" {
		exe, e := os.Executable()
		if e != nil {
			return nil, fmt.Errorf("locating executable: %w", e)
		}
		path = exe
	}
	args := s.Args
	if len(args) == 0 {
		args = []string{os.Args[0], "worker", spec.Name}
	}
	env := s.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(append([]string{}, env...),
		EnvWorker+"="+spec.Name,
		EnvEntry+"="+spec.Entry)

	logger := s.Logger.WithField("worker", spec.Name)
	stdout := NewLogWriter(logger.WithField("stream", "stdout"), logrus.InfoLevel)
	stderr := NewLogWriter(logger.WithField("stream", "stderr"), logrus.WarnLevel)

	cmd := &exec.Cmd{
		Path:      path,
		Args:      args,
		Env:       env,
		Dir:       s.Dir,
		Stdout:    stdout,
		Stderr:    stderr,
		WaitDelay: s.WaitDelay,
	}
	if e := cmd.Start(); e != nil {
		return nil, fmt.Errorf("starting worker %s: %w", spec.Name, e)
	}

	p := &Process{
		name:    spec.Name,
		cmd:     cmd,
		started: time.Now(),
		done:    make(chan struct{}),
		output:  []*LogWriter{stdout, stderr},
	}
	p.logger = logger.WithField("pid", p.Pid())
	p.logger.Info("Process started")
	go p.doWait()
	return p, nil
}
