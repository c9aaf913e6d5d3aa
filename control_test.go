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
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestControllerStop(t *testing.T) {
	Convey("Given a lockfile listing 100 and 200", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "test.lock")
		sock := filepath.Join(dir, "test.sock")
		So(os.WriteFile(path, []byte("100\n200\n"), 0644), ShouldBeNil)
		So(os.WriteFile(sock, nil, 0644), ShouldBeNil)
		logger, _ := newTestLogger()
		ctl := NewController(NewLockFile(path, sock, logger), 0, logger)

		Convey("With 100 alive and 200 gone", func() {
			pt := newTestTable(100)
			ctl.Table = pt
			res, e := ctl.Stop()
			So(e, ShouldBeNil)

			Convey("100 gets SIGTERM and 200 is skipped", func() {
				So(pt.signalled(100), ShouldResemble, []syscall.Signal{syscall.SIGTERM})
				So(pt.signalled(200), ShouldBeEmpty)
				So(res.Signalled, ShouldResemble, []int{100})
				So(res.Missing, ShouldResemble, []int{200})
				So(res.Killed, ShouldBeEmpty)
			})
			Convey("The lockfile and socket are gone", func() {
				_, err := os.Stat(path)
				So(os.IsNotExist(err), ShouldBeTrue)
				_, err = os.Stat(sock)
				So(os.IsNotExist(err), ShouldBeTrue)
			})
		})

		Convey("A permission failure aborts the stop", func() {
			pt := newTestTable(100, 200)
			pt.denied[100] = true
			ctl.Table = pt
			_, e := ctl.Stop()
			So(errors.Is(e, ErrLockPermission), ShouldBeTrue)
			So(pt.signalled(200), ShouldBeEmpty)
			_, err := os.Stat(path)
			So(err, ShouldBeNil)
		})

		Convey("With a stop timeout, survivors are killed", func() {
			pt := newTestTable(100, 200)
			pt.exitOnTerm = true
			pt.ignoreTerm[200] = true
			ctl.Table = pt
			ctl.StopTimeout = 50 * time.Millisecond
			res, e := ctl.Stop()
			So(e, ShouldBeNil)
			So(res.Killed, ShouldResemble, []int{200})
			So(pt.signalled(100), ShouldResemble, []syscall.Signal{syscall.SIGTERM})
			So(pt.signalled(200), ShouldResemble, []syscall.Signal{syscall.SIGTERM, syscall.SIGKILL})
		})
	})

	Convey("Without a lockfile there is nothing to stop", t, func() {
		logger, _ := newTestLogger()
		ctl := NewController(NewLockFile(filepath.Join(t.TempDir(), "x.lock"), "", logger), 0, logger)
		ctl.Table = newTestTable()
		_, e := ctl.Stop()
		So(errors.Is(e, ErrNotRunning), ShouldBeTrue)
	})
}

func TestControllerWaitGone(t *testing.T) {
	Convey("WaitGone returns what is left when time runs out", t, func() {
		logger, _ := newTestLogger()
		ctl := NewController(NewLockFile("unused", "", logger), 20*time.Millisecond, logger)
		pt := newTestTable(7, 8)
		ctl.Table = pt
		time.AfterFunc(5*time.Millisecond, func() {
			pt.Lock()
			delete(pt.live, 7)
			pt.Unlock()
		})
		So(ctl.WaitGone([]int{7, 8}), ShouldResemble, []int{8})
		So(ctl.WaitGone(nil), ShouldBeEmpty)
	})
}

func TestControllerProbe(t *testing.T) {
	Convey("Probe reports the lockfile when there is one", t, func() {
		path := filepath.Join(t.TempDir(), "test.lock")
		So(os.WriteFile(path, []byte("10\n11\n"), 0644), ShouldBeNil)
		logger, _ := newTestLogger()
		ctl := NewController(NewLockFile(path, "", logger), 0, logger)
		p, e := ctl.Probe(context.Background(), "daemonvisor-test")
		So(e, ShouldBeNil)
		So(p.Running(), ShouldBeTrue)
		So(p.Lock.PIDs, ShouldResemble, []int{10, 11})
		So(p.Found, ShouldBeEmpty)
	})

	Convey("Without a lockfile Probe scans the process table", t, func() {
		logger, _ := newTestLogger()
		ctl := NewController(NewLockFile(filepath.Join(t.TempDir(), "x.lock"), "", logger), 0, logger)
		p, e := ctl.Probe(context.Background(), "no-such-daemon-d41d8cd98f00")
		So(e, ShouldBeNil)
		So(p.Lock.State, ShouldEqual, LockAbsent)
		So(p.Running(), ShouldBeFalse)
	})
}

func TestOSProcessTable(t *testing.T) {
	Convey("The live process table knows about this process", t, func() {
		pt := OSProcessTable{}
		ok, e := pt.Exists(os.Getpid())
		So(e, ShouldBeNil)
		So(ok, ShouldBeTrue)

		ok, _ = pt.Exists(0)
		So(ok, ShouldBeFalse)
		So(pt.Signal(os.Getpid(), 0), ShouldBeNil)
		So(errors.Is(pt.Signal(-1, syscall.SIGTERM), ErrNoSuchProcess), ShouldBeTrue)
	})
}
