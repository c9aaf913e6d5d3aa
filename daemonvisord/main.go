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

// Command daemonvisord is an example daemon.  It registers a few workers
// and hands everything else to the shared command line.
//
// Usage:
//
//	daemonvisord [-c <config>] start|stop|restart|status
//
// The config file (daemonvisord.ini by default) names the lockfile and
// the workers to run, for example:
//
//	[daemon]
//	lock_file = /tmp/daemonvisord.lock
//	sock_file = /tmp/daemonvisord.sock
//	restart_limit = 5
//
//	[processes]
//	ping =
//	pong = ping
//	flaky =
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/gdamore/daemonvisor"
	"github.com/gdamore/daemonvisor/cli"
)

// ping writes a line every few seconds until told to stop.
func ping(ctx context.Context) error {
	t := time.NewTicker(3 * time.Second)
	defer t.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fmt.Printf("ping %d from %d\n", n, os.Getpid())
		}
	}
}

// flaky runs for a while and then fails, to exercise restarts.
func flaky(ctx context.Context) error {
	d := time.Duration(5+rand.Intn(20)) * time.Second
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(d):
		return errors.New("flaky worker gave up")
	}
}

// sleeper does nothing until told to stop.
func sleeper(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func main() {
	reg := daemonvisor.NewRegistry(map[string]daemonvisor.WorkerFunc{
		"ping":    ping,
		"flaky":   flaky,
		"sleeper": sleeper,
	})
	cli.Main("daemonvisord", reg)
}
