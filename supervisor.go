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
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRestartLimit = 5
	DefaultPollInterval = 5 * time.Second
)

// Phase is the supervisor's lifecycle phase.  It moves from Running to
// ShuttingDown exactly once.
type Phase int

const (
	Running Phase = iota
	ShuttingDown
)

func (p Phase) String() string {
	if p == ShuttingDown {
		return "shutting-down"
	}
	return "running"
}

// State is everything that changes while a supervisor runs.  It is owned
// by the monitor loop and passed through it explicitly.
type State struct {
	Phase    Phase
	Restarts map[string]int
	Handles  map[string]Handle

	// Offender is the worker whose death ended the run, if any.
	Offender string

	// Cause is returned by Run once shutdown completes.  It is nil for
	// a requested stop.
	Cause error
}

// NewState returns the initial state for specs: running, every restart
// counter at zero, no handles.
func NewState(specs []WorkerSpec) *State {
	st := &State{
		Phase:    Running,
		Restarts: make(map[string]int, len(specs)),
		Handles:  make(map[string]Handle, len(specs)),
	}
	for _, spec := range specs {
		st.Restarts[spec.Name] = 0
	}
	return st
}

func (st *State) beginShutdown(offender string, cause error) {
	if st.Phase == ShuttingDown {
		return
	}
	st.Phase = ShuttingDown
	st.Offender = offender
	st.Cause = cause
}

// Options tune the monitor loop.
type Options struct {
	// RestartLimit is how many times one worker may be restarted.  The
	// death that would need restart RestartLimit+1 shuts everything down.
	RestartLimit int

	// PollInterval separates full passes over the workers.
	PollInterval time.Duration

	// StopTimeout, if positive, is how long terminated workers get
	// before they are killed.  Zero means SIGTERM only.
	StopTimeout time.Duration
}

// WorkerStatus is a point in time view of one worker.
type WorkerStatus struct {
	Name     string
	Entry    string
	Pid      int
	Alive    bool
	Restarts int
	Started  time.Time
}

// Status is a point in time view of the supervisor, safe to read from
// other goroutines.
type Status struct {
	Pid          int
	Phase        Phase
	Started      time.Time
	RestartLimit int
	Workers      []WorkerStatus
}

// Supervisor spawns a fixed set of workers and keeps them alive.  A worker
// that dies is restarted until it has used up its restart limit; the next
// death after that shuts down every worker and ends the run.
type Supervisor struct {
	specs    []WorkerSpec
	spawner  Spawner
	recorder PIDRecorder
	opts     Options
	logger   logrus.FieldLogger
	metrics  *Metrics
	started  time.Time

	mx     sync.Mutex
	status Status
}

// NewSupervisor validates specs and returns a Supervisor.  Workers are
// evaluated in the order given.  recorder may be nil.
func NewSupervisor(specs []WorkerSpec, spawner Spawner, recorder PIDRecorder,
	opts Options, logger logrus.FieldLogger) (*Supervisor, error) {

	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: empty worker name", ErrUnknownEntry)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateWorker, spec.Name)
		}
		seen[spec.Name] = true
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RestartLimit < 0 {
		opts.RestartLimit = 0
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Supervisor{
		specs:    append([]WorkerSpec{}, specs...),
		spawner:  spawner,
		recorder: recorder,
		opts:     opts,
		logger:   logger,
		metrics:  NewMetrics(),
	}
	s.status = Status{
		Pid:          os.Getpid(),
		Phase:        Running,
		RestartLimit: opts.RestartLimit,
	}
	return s, nil
}

func (s *Supervisor) Metrics() *Metrics {
	return s.metrics
}

// Status returns the view published at the end of the last pass.
func (s *Supervisor) Status() Status {
	s.mx.Lock()
	defer s.mx.Unlock()
	rv := s.status
	rv.Workers = append([]WorkerStatus{}, s.status.Workers...)
	return rv
}

func (s *Supervisor) publish(st *State) {
	workers := make([]WorkerStatus, 0, len(s.specs))
	for _, spec := range s.specs {
		ws := WorkerStatus{
			Name:     spec.Name,
			Entry:    spec.Entry,
			Pid:      -1,
			Restarts: st.Restarts[spec.Name],
		}
		if h := st.Handles[spec.Name]; h != nil {
			ws.Pid = h.Pid()
			ws.Alive = h.Alive()
			ws.Started = h.Started()
		}
		workers = append(workers, ws)
	}
	s.mx.Lock()
	s.status.Phase = st.Phase
	s.status.Started = s.started
	s.status.Workers = workers
	s.mx.Unlock()
}

// Run spawns every worker, then monitors them until either ctx is done or
// a worker exceeds the restart limit.  In both cases every live worker is
// sent a termination request before Run returns.  The returned error
// matches ErrRestartLimit in the second case and is nil in the first.
func (s *Supervisor) Run(ctx context.Context) error {
	s.started = time.Now()
	st := NewState(s.specs)

	if e := s.startAll(st); e != nil {
		st.beginShutdown("", e)
		s.shutdown(st)
		return e
	}
	s.publish(st)

	timer := time.NewTimer(s.opts.PollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stop requested")
			st.beginShutdown("", nil)
		case <-timer.C:
			s.logger.Debug("Checking for dead processes")
			if e := s.Pass(ctx, st); e != nil {
				st.beginShutdown("", e)
			}
			timer.Reset(s.opts.PollInterval)
		}
		if st.Phase == ShuttingDown {
			s.shutdown(st)
			return st.Cause
		}
	}
}

func (s *Supervisor) startAll(st *State) error {
	for _, spec := range s.specs {
		s.logger.WithField("worker", spec.Name).Info("Starting process")
		if e := s.spawn(st, spec); e != nil {
			return e
		}
	}
	return nil
}

// spawn starts spec and records its identifier.  A failure to start a
// worker that has never run is returned, as is any failure to record.  A
// failed restart is only logged; the dead handle stays and is retried on
// the next pass.
func (s *Supervisor) spawn(st *State, spec WorkerSpec) error {
	h, e := s.spawner.Spawn(spec)
	if e != nil {
		if st.Handles[spec.Name] == nil && st.Restarts[spec.Name] == 0 {
			return e
		}
		s.logger.WithError(e).WithField("worker", spec.Name).Error("Failed to start process")
		return nil
	}
	st.Handles[spec.Name] = h
	s.metrics.spawned(spec.Name)
	if s.recorder != nil {
		if e := s.recorder.Append(h.Pid()); e != nil {
			return e
		}
	}
	return nil
}

// Pass checks every worker once, in order, restarting the dead ones while
// the supervisor is running.  The first worker found past its restart
// limit moves the state to ShuttingDown and ends the pass.  Pass returns
// an error only for failures that must end the run.
func (s *Supervisor) Pass(ctx context.Context, st *State) error {
	defer s.publish(st)
	for _, spec := range s.specs {
		if ctx.Err() != nil {
			st.beginShutdown("", nil)
			return nil
		}
		h := st.Handles[spec.Name]
		alive := h != nil && h.Alive()
		s.metrics.setAlive(spec.Name, alive)
		if alive {
			continue
		}
		if st.Phase != Running {
			return nil
		}

		logger := s.logger.WithField("worker", spec.Name)
		if ee, ok := h.(interface{ Err() error }); ok && ee.Err() != nil {
			logger = logger.WithError(ee.Err())
		}
		next := st.Restarts[spec.Name] + 1
		if next > s.opts.RestartLimit {
			logger.WithField("restarts", st.Restarts[spec.Name]).
				Errorf("Restart limit reached for %s - shutting down", spec.Name)
			st.beginShutdown(spec.Name,
				fmt.Errorf("%w: worker %s", ErrRestartLimit, spec.Name))
			return nil
		}
		logger.WithField("restarts", next).
			Errorf("Process %s has died. Restart try: %d", spec.Name, next)
		st.Restarts[spec.Name] = next
		s.metrics.restarted(spec.Name)
		if e := s.spawn(st, spec); e != nil {
			return e
		}
	}
	return nil
}

// shutdown sends a termination request to every live worker and, if a
// stop timeout is configured, kills those still running when it expires.
func (s *Supervisor) shutdown(st *State) {
	st.Phase = ShuttingDown
	s.metrics.setShuttingDown()

	var live []Handle
	for _, spec := range s.specs {
		h := st.Handles[spec.Name]
		if h == nil || !h.Alive() {
			continue
		}
		if e := h.Terminate(); e != nil {
			s.logger.WithError(e).WithField("worker", spec.Name).Warn("Failed to terminate process")
			continue
		}
		live = append(live, h)
	}
	if s.opts.StopTimeout > 0 {
		s.awaitOrKill(live)
	}
	s.publish(st)
	if st.Cause != nil && !errors.Is(st.Cause, context.Canceled) {
		s.logger.WithError(st.Cause).Error("Supervisor shut down")
	} else {
		s.logger.Info("Supervisor shut down")
	}
}

func (s *Supervisor) awaitOrKill(live []Handle) {
	var g errgroup.Group
	for _, h := range live {
		h := h
		g.Go(func() error {
			timer := time.NewTimer(s.opts.StopTimeout)
			defer timer.Stop()
			select {
			case <-h.Done():
				return nil
			case <-timer.C:
				s.logger.WithField("worker", h.Name()).Warn("Graceful shutdown timed out")
				return h.Kill()
			}
		})
	}
	if e := g.Wait(); e != nil {
		s.logger.WithError(e).Warn("Failed killing process")
	}
}
