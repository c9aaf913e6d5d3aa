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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func specsFor(names ...string) []WorkerSpec {
	specs := make([]WorkerSpec, 0, len(names))
	for _, n := range names {
		specs = append(specs, WorkerSpec{Name: n, Entry: n})
	}
	return specs
}

func fastOptions(limit int) Options {
	return Options{RestartLimit: limit, PollInterval: 5 * time.Millisecond}
}

func TestSupervisorRestartLimit(t *testing.T) {
	Convey("A worker that always dies, with a restart limit of 2", t, func() {
		logger, hook := newTestLogger()
		sp := newTestSpawner("ping")
		rec := &testRecorder{}
		s, e := NewSupervisor(specsFor("ping"), sp, rec, fastOptions(2), logger)
		So(e, ShouldBeNil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e = s.Run(ctx)

		Convey("Run fails with the restart limit", func() {
			So(errors.Is(e, ErrRestartLimit), ShouldBeTrue)
			So(ctx.Err(), ShouldBeNil)
		})
		Convey("It is spawned three times in total", func() {
			So(sp.count("ping"), ShouldEqual, 3)
		})
		Convey("Every spawn was recorded", func() {
			So(rec.recorded(), ShouldResemble, []int{1001, 1002, 1003})
		})
		Convey("The final state is shutting down with two restarts", func() {
			st := s.Status()
			So(st.Phase, ShouldEqual, ShuttingDown)
			So(len(st.Workers), ShouldEqual, 1)
			So(st.Workers[0].Restarts, ShouldEqual, 2)
			So(st.Workers[0].Alive, ShouldBeFalse)
		})
		Convey("The metrics agree", func() {
			m := s.Metrics()
			So(testutil.ToFloat64(m.spawns.WithLabelValues("ping")), ShouldEqual, 3)
			So(testutil.ToFloat64(m.restarts.WithLabelValues("ping")), ShouldEqual, 2)
			So(testutil.ToFloat64(m.shuttingDown), ShouldEqual, 1)
		})
		Convey("The breach was logged", func() {
			found := false
			for _, entry := range hook.AllEntries() {
				if entry.Message == "Restart limit reached for ping - shutting down" {
					found = true
				}
			}
			So(found, ShouldBeTrue)
		})
	})
}

func TestSupervisorShutdownTerminatesHealthy(t *testing.T) {
	Convey("A dying worker next to a healthy one", t, func() {
		logger, _ := newTestLogger()
		sp := newTestSpawner("ping")
		s, e := NewSupervisor(specsFor("ping", "sleeper"), sp, nil, fastOptions(1), logger)
		So(e, ShouldBeNil)

		e = s.Run(context.Background())
		So(errors.Is(e, ErrRestartLimit), ShouldBeTrue)

		Convey("The healthy worker is terminated and never restarted", func() {
			So(sp.count("sleeper"), ShouldEqual, 1)
			h := sp.latest("sleeper")
			term, kill := h.counts()
			So(term, ShouldEqual, 1)
			So(kill, ShouldEqual, 0)
			So(h.Alive(), ShouldBeFalse)
		})
		Convey("No spawn happens after Run returns", func() {
			n := len(sp.all())
			time.Sleep(20 * time.Millisecond)
			So(len(sp.all()), ShouldEqual, n)
			So(sp.count("ping"), ShouldEqual, 2)
		})
	})
}

func TestSupervisorStop(t *testing.T) {
	Convey("Cancelling the context stops the supervisor cleanly", t, func() {
		logger, _ := newTestLogger()
		sp := newTestSpawner()
		s, e := NewSupervisor(specsFor("a", "b"), sp, nil, fastOptions(5), logger)
		So(e, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(30*time.Millisecond, cancel)
		So(s.Run(ctx), ShouldBeNil)

		for _, h := range sp.all() {
			term, _ := h.counts()
			So(term, ShouldEqual, 1)
			So(h.Alive(), ShouldBeFalse)
		}
		So(len(sp.all()), ShouldEqual, 2)
		So(s.Status().Phase, ShouldEqual, ShuttingDown)
	})

	Convey("Workers ignoring SIGTERM are killed after the stop timeout", t, func() {
		logger, _ := newTestLogger()
		sp := newTestSpawner()
		sp.ignoreTerm = true
		opts := fastOptions(5)
		opts.StopTimeout = 20 * time.Millisecond
		s, e := NewSupervisor(specsFor("a", "b"), sp, nil, opts, logger)
		So(e, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		So(s.Run(ctx), ShouldBeNil)

		for _, h := range sp.all() {
			term, kill := h.counts()
			So(term, ShouldEqual, 1)
			So(kill, ShouldEqual, 1)
			So(h.Alive(), ShouldBeFalse)
		}
	})

	Convey("Without a stop timeout nothing is killed", t, func() {
		logger, _ := newTestLogger()
		sp := newTestSpawner()
		sp.ignoreTerm = true
		s, e := NewSupervisor(specsFor("a"), sp, nil, fastOptions(5), logger)
		So(e, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		So(s.Run(ctx), ShouldBeNil)

		term, kill := sp.latest("a").counts()
		So(term, ShouldEqual, 1)
		So(kill, ShouldEqual, 0)
	})
}

func TestSupervisorPass(t *testing.T) {
	Convey("Given a supervisor driven one pass at a time", t, func() {
		logger, _ := newTestLogger()
		ctx := context.Background()

		Convey("Counters start at zero and never decrease", func() {
			sp := newTestSpawner("a")
			s, _ := NewSupervisor(specsFor("a", "b"), sp, nil, fastOptions(3), logger)
			st := NewState(s.specs)
			So(st.Restarts["a"], ShouldEqual, 0)
			So(st.Restarts["b"], ShouldEqual, 0)
			So(s.startAll(st), ShouldBeNil)

			prev := 0
			for i := 0; i < 6; i++ {
				So(s.Pass(ctx, st), ShouldBeNil)
				So(st.Restarts["a"], ShouldBeGreaterThanOrEqualTo, prev)
				prev = st.Restarts["a"]
				So(st.Restarts["b"], ShouldEqual, 0)
			}
			So(prev, ShouldEqual, 3)
			So(st.Phase, ShouldEqual, ShuttingDown)
			So(st.Offender, ShouldEqual, "a")
		})

		Convey("The first worker over the limit decides the shutdown", func() {
			sp := newTestSpawner("a", "b")
			s, _ := NewSupervisor(specsFor("a", "b"), sp, nil, fastOptions(0), logger)
			st := NewState(s.specs)
			So(s.startAll(st), ShouldBeNil)
			So(s.Pass(ctx, st), ShouldBeNil)
			So(st.Phase, ShouldEqual, ShuttingDown)
			So(st.Offender, ShouldEqual, "a")
			So(errors.Is(st.Cause, ErrRestartLimit), ShouldBeTrue)
			So(st.Restarts["b"], ShouldEqual, 0)
			So(sp.count("b"), ShouldEqual, 1)
		})

		Convey("Nothing is restarted once shutting down", func() {
			sp := newTestSpawner("a")
			s, _ := NewSupervisor(specsFor("a"), sp, nil, fastOptions(5), logger)
			st := NewState(s.specs)
			So(s.startAll(st), ShouldBeNil)
			st.beginShutdown("", nil)
			So(s.Pass(ctx, st), ShouldBeNil)
			So(sp.count("a"), ShouldEqual, 1)
			So(st.Restarts["a"], ShouldEqual, 0)
		})

		Convey("A failed restart still uses up an attempt", func() {
			sp := newTestSpawner("a")
			sp.failAfter["a"] = 1
			s, _ := NewSupervisor(specsFor("a"), sp, nil, fastOptions(2), logger)
			st := NewState(s.specs)
			So(s.startAll(st), ShouldBeNil)
			first := st.Handles["a"]

			So(s.Pass(ctx, st), ShouldBeNil)
			So(st.Restarts["a"], ShouldEqual, 1)
			So(st.Handles["a"], ShouldEqual, first)
			So(s.Pass(ctx, st), ShouldBeNil)
			So(st.Restarts["a"], ShouldEqual, 2)
			So(s.Pass(ctx, st), ShouldBeNil)
			So(st.Phase, ShouldEqual, ShuttingDown)
			So(sp.count("a"), ShouldEqual, 1)
		})

		Convey("A failure to record a restart is returned", func() {
			sp := newTestSpawner("a")
			rec := &testRecorder{}
			s, _ := NewSupervisor(specsFor("a"), sp, rec, fastOptions(2), logger)
			st := NewState(s.specs)
			So(s.startAll(st), ShouldBeNil)
			rec.err = ErrLockPermission
			e := s.Pass(ctx, st)
			So(errors.Is(e, ErrLockPermission), ShouldBeTrue)
			So(st.Handles["a"], ShouldEqual, sp.latest("a"))
		})

		Convey("A cancelled context ends the pass", func() {
			sp := newTestSpawner("a")
			s, _ := NewSupervisor(specsFor("a"), sp, nil, fastOptions(2), logger)
			st := NewState(s.specs)
			So(s.startAll(st), ShouldBeNil)
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			So(s.Pass(cctx, st), ShouldBeNil)
			So(st.Phase, ShouldEqual, ShuttingDown)
			So(st.Cause, ShouldBeNil)
			So(sp.count("a"), ShouldEqual, 1)
		})
	})
}

func TestSupervisorStartFailure(t *testing.T) {
	Convey("A worker that cannot be started at all", t, func() {
		logger, _ := newTestLogger()
		sp := newTestSpawner()
		sp.failAfter["b"] = 0
		s, e := NewSupervisor(specsFor("a", "b"), sp, nil, fastOptions(5), logger)
		So(e, ShouldBeNil)

		e = s.Run(context.Background())
		So(e, ShouldNotBeNil)
		So(errors.Is(e, ErrRestartLimit), ShouldBeFalse)

		Convey("Workers already started are terminated", func() {
			h := sp.latest("a")
			So(h, ShouldNotBeNil)
			term, _ := h.counts()
			So(term, ShouldEqual, 1)
			So(sp.count("b"), ShouldEqual, 0)
		})
	})
}

func TestNewSupervisor(t *testing.T) {
	Convey("Duplicate worker names are refused", t, func() {
		_, e := NewSupervisor(specsFor("a", "a"), newTestSpawner(), nil, Options{}, nil)
		So(errors.Is(e, ErrDuplicateWorker), ShouldBeTrue)
	})
	Convey("Empty worker names are refused", t, func() {
		_, e := NewSupervisor(specsFor(""), newTestSpawner(), nil, Options{}, nil)
		So(e, ShouldNotBeNil)
	})
	Convey("Defaults are applied", t, func() {
		s, e := NewSupervisor(nil, newTestSpawner(), nil, Options{RestartLimit: -1}, nil)
		So(e, ShouldBeNil)
		So(s.opts.PollInterval, ShouldEqual, DefaultPollInterval)
		So(s.opts.RestartLimit, ShouldEqual, 0)
		So(s.Status().Phase, ShouldEqual, Running)
	})
	Convey("Two supervisors keep separate state", t, func() {
		logger, _ := newTestLogger()
		sp1 := newTestSpawner("w")
		sp2 := newTestSpawner()
		s1, _ := NewSupervisor(specsFor("w"), sp1, nil, fastOptions(1), logger)
		s2, _ := NewSupervisor(specsFor("w"), sp2, nil, fastOptions(1), logger)
		So(errors.Is(s1.Run(context.Background()), ErrRestartLimit), ShouldBeTrue)
		So(s2.Status().Phase, ShouldEqual, Running)
		So(testutil.ToFloat64(s2.Metrics().spawns.WithLabelValues("w")), ShouldEqual, 0)
	})
}
