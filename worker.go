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
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Environment variables used to re-execute the daemon binary as a worker.
const (
	EnvWorker = "DAEMONVISOR_WORKER"
	EnvEntry  = "DAEMONVISOR_ENTRY"
)

// Worker exit statuses.
const (
	WorkerExitOK    = 0
	WorkerExitError = 1
	WorkerExitPanic = 2
)

// WorkerRequested reports whether this process was started by a
// supervisor to run a worker, and which one.
func WorkerRequested() (WorkerSpec, bool) {
	name, ok := os.LookupEnv(EnvWorker)
	if !ok || name == "" {
		return WorkerSpec{}, false
	}
	entry := os.Getenv(EnvEntry)
	if entry == "" {
		entry = name
	}
	return WorkerSpec{Name: name, Entry: entry}, true
}

// RunWorker runs the entry point for spec in the current process and
// returns the exit status the process should use.  The context passed to
// the worker is cancelled by SIGTERM or SIGINT.
func (r *Registry) RunWorker(spec WorkerSpec, logger logrus.FieldLogger) (code int) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithFields(logrus.Fields{"worker": spec.Name, "pid": os.Getpid()})

	fn, ok := r.Lookup(spec.Entry)
	if !ok {
		logger.WithField("entry", spec.Entry).Error("Unknown worker entry point")
		return WorkerExitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	defer func() {
		if v := recover(); v != nil {
			logger.WithField("panic", v).Error("Worker panicked")
			code = WorkerExitPanic
		}
	}()

	if e := fn(ctx); e != nil {
		logger.WithError(e).Error("Worker failed")
		return WorkerExitError
	}
	return WorkerExitOK
}
