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
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// Shared fakes for the tests in this package.

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

type testH struct {
	name       string
	pid        int
	started    time.Time
	ignoreTerm bool

	sync.Mutex
	done       chan struct{}
	terminated int
	killed     int
}

func (h *testH) Name() string          { return h.name }
func (h *testH) Pid() int              { return h.pid }
func (h *testH) Started() time.Time    { return h.started }
func (h *testH) Done() <-chan struct{} { return h.done }

func (h *testH) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *testH) die() {
	h.Lock()
	defer h.Unlock()
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *testH) Terminate() error {
	h.Lock()
	h.terminated++
	h.Unlock()
	if !h.ignoreTerm {
		h.die()
	}
	return nil
}

func (h *testH) Kill() error {
	h.Lock()
	h.killed++
	h.Unlock()
	h.die()
	return nil
}

func (h *testH) counts() (int, int) {
	h.Lock()
	defer h.Unlock()
	return h.terminated, h.killed
}

// testSpawner hands out testH handles.  Workers named in dying are dead
// as soon as they are spawned.  failAfter makes every spawn of a worker
// after the given number fail.
type testSpawner struct {
	dying      map[string]bool
	failAfter  map[string]int
	ignoreTerm bool

	sync.Mutex
	pid     int
	spawns  map[string]int
	handles []*testH
}

func newTestSpawner(dying ...string) *testSpawner {
	s := &testSpawner{
		dying:     make(map[string]bool),
		failAfter: make(map[string]int),
		pid:       1000,
		spawns:    make(map[string]int),
	}
	for _, name := range dying {
		s.dying[name] = true
	}
	return s
}

func (s *testSpawner) Spawn(spec WorkerSpec) (Handle, error) {
	s.Lock()
	defer s.Unlock()
	if n, ok := s.failAfter[spec.Name]; ok && s.spawns[spec.Name] >= n {
		return nil, fmt.Errorf("cannot start %s", spec.Name)
	}
	s.spawns[spec.Name]++
	s.pid++
	h := &testH{
		name:       spec.Name,
		pid:        s.pid,
		started:    time.Now(),
		ignoreTerm: s.ignoreTerm,
		done:       make(chan struct{}),
	}
	if s.dying[spec.Name] {
		close(h.done)
	}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *testSpawner) count(name string) int {
	s.Lock()
	defer s.Unlock()
	return s.spawns[name]
}

func (s *testSpawner) all() []*testH {
	s.Lock()
	defer s.Unlock()
	return append([]*testH{}, s.handles...)
}

func (s *testSpawner) latest(name string) *testH {
	s.Lock()
	defer s.Unlock()
	for i := len(s.handles) - 1; i >= 0; i-- {
		if s.handles[i].name == name {
			return s.handles[i]
		}
	}
	return nil
}

type testRecorder struct {
	sync.Mutex
	pids []int
	err  error
}

func (r *testRecorder) Append(pid int) error {
	r.Lock()
	defer r.Unlock()
	if r.err != nil {
		return r.err
	}
	r.pids = append(r.pids, pid)
	return nil
}

func (r *testRecorder) recorded() []int {
	r.Lock()
	defer r.Unlock()
	return append([]int{}, r.pids...)
}

// testTable is a process table with a fixed set of live identifiers.
// When exitOnTerm is set, a signalled process goes away.
type testTable struct {
	exitOnTerm bool
	ignoreTerm map[int]bool

	sync.Mutex
	live    map[int]bool
	denied  map[int]bool
	signals map[int][]syscall.Signal
}

func newTestTable(live ...int) *testTable {
	t := &testTable{
		ignoreTerm: make(map[int]bool),
		live:       make(map[int]bool),
		denied:     make(map[int]bool),
		signals:    make(map[int][]syscall.Signal),
	}
	for _, pid := range live {
		t.live[pid] = true
	}
	return t
}

func (t *testTable) Exists(pid int) (bool, error) {
	t.Lock()
	defer t.Unlock()
	return t.live[pid], nil
}

func (t *testTable) Signal(pid int, sig syscall.Signal) error {
	t.Lock()
	defer t.Unlock()
	if t.denied[pid] {
		return fmt.Errorf("signal %v to %d: %w", sig, pid, os.ErrPermission)
	}
	if !t.live[pid] {
		return ErrNoSuchProcess
	}
	t.signals[pid] = append(t.signals[pid], sig)
	if sig == syscall.SIGKILL || (t.exitOnTerm && !t.ignoreTerm[pid]) {
		delete(t.live, pid)
	}
	return nil
}

func (t *testTable) signalled(pid int) []syscall.Signal {
	t.Lock()
	defer t.Unlock()
	return append([]syscall.Signal{}, t.signals[pid]...)
}

var errInjected = errors.New("injected failure")
