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

// Package daemonvisor turns a Go program into a small self-supervising
// daemon.  The program registers its workers, functions that each run in
// their own OS process, and daemonvisor does the rest: it detaches from
// the terminal with a double fork, refuses to start while another
// instance holds the lockfile, spawns every configured worker, and
// restarts workers that die.
//
// Each worker may be restarted a limited number of times.  When a worker
// dies after using up its restarts, the supervisor terminates every other
// worker as well and exits with a failure status; a partially working
// set of workers is not considered useful.
//
// The lockfile lists the supervisor's process ID followed by the ID of
// every worker it has ever started, one per line.  Stopping the daemon
// from outside is done by signalling every ID in it, so no connection to
// the running daemon is needed.
//
// Workers are started by re-executing the daemon binary with the worker
// named in the environment.  The program's main function must therefore
// hand control to cli.Main (or check WorkerRequested itself) before doing
// anything else.
package daemonvisor
