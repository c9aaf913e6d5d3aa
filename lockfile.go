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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// LockState distinguishes the three outcomes of reading a lockfile.
type LockState int

const (
	LockAbsent LockState = iota
	LockPresent
	LockUnreadable
)

func (s LockState) String() string {
	switch s {
	case LockAbsent:
		return "absent"
	case LockPresent:
		return "present"
	case LockUnreadable:
		return "unreadable"
	}
	return "unknown"
}

// LockContents is the result of LockFile.Inspect.  PIDs is only meaningful
// when State is LockPresent, and Err only when State is LockUnreadable.
// Lines that do not parse as a process identifier are kept in Invalid.
type LockContents struct {
	State   LockState
	PIDs    []int
	Invalid []string
	Err     error
}

// LockFile is the daemon's single persisted artifact: a plain text file
// with one process identifier per line.  The first line is the supervisor
// itself; every spawned worker follows in spawn order.  The file is only
// ever appended to while the daemon runs.
//
// An optional socket path is removed alongside the lockfile.
type LockFile struct {
	path     string
	sockPath string
	logger   logrus.FieldLogger
}

// NewLockFile returns a LockFile for path.  sockPath may be empty.
func NewLockFile(path, sockPath string, logger logrus.FieldLogger) *LockFile {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LockFile{
		path:     path,
		sockPath: sockPath,
		logger:   logger.WithField("lock_file", path),
	}
}

func (l *LockFile) Path() string {
	return l.path
}

func (l *LockFile) SockPath() string {
	return l.sockPath
}

// Inspect reads the lockfile without modifying it.
func (l *LockFile) Inspect() LockContents {
	b, e := os.ReadFile(l.path)
	switch {
	case errors.Is(e, fs.ErrNotExist):
		return LockContents{State: LockAbsent}
	case e != nil:
		return LockContents{State: LockUnreadable, Err: e}
	}
	lc := LockContents{State: LockPresent}
	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, e := strconv.Atoi(line)
		if e != nil || pid <= 0 {
			lc.Invalid = append(lc.Invalid, line)
			continue
		}
		lc.PIDs = append(lc.PIDs, pid)
	}
	return lc
}

// PIDs returns the identifiers listed in the lockfile.  An absent lockfile
// yields ErrNotRunning.
func (l *LockFile) PIDs() ([]int, error) {
	lc := l.Inspect()
	switch lc.State {
	case LockAbsent:
		return nil, ErrNotRunning
	case LockUnreadable:
		return nil, l.readError(lc.Err)
	}
	return lc.PIDs, nil
}

// CheckAndPrepare decides whether startup may proceed.  If any identifier
// listed in an existing lockfile belongs to a live process, it returns a
// *LockConflictError.  Otherwise a stale lockfile (and socket) is removed
// and nil is returned.
func (l *LockFile) CheckAndPrepare(pt ProcessTable) error {
	lc := l.Inspect()
	switch lc.State {
	case LockAbsent:
		return nil
	case LockUnreadable:
		return l.readError(lc.Err)
	}

	l.logger.WithField("pids", lc.PIDs).Info("Lockfile already exists, checking pids")
	if len(lc.Invalid) != 0 {
		l.logger.WithField("lines", lc.Invalid).Warn("Ignoring malformed lockfile lines")
	}
	var live []int
	for _, pid := range lc.PIDs {
		ok, e := pt.Exists(pid)
		if e != nil {
			return fmt.Errorf("checking pid %d: %w", pid, e)
		}
		if ok {
			live = append(live, pid)
		}
	}
	if len(live) != 0 {
		return &LockConflictError{Path: l.path, PIDs: live}
	}
	l.logger.Info("Processes are non-existing, removing the lockfile")
	return l.Remove()
}

// Create writes pid as the first line of a fresh lockfile, truncating any
// previous content.
func (l *LockFile) Create(pid int) error {
	return l.write(os.O_CREATE|os.O_WRONLY|os.O_TRUNC, pid)
}

// Append adds pid as a new line, even if the identifier is already listed.
// Existing content is never rewritten.
func (l *LockFile) Append(pid int) error {
	if lc := l.Inspect(); lc.State == LockUnreadable {
		return l.readError(lc.Err)
	}
	return l.write(os.O_CREATE|os.O_WRONLY|os.O_APPEND, pid)
}

func (l *LockFile) write(flags int, pid int) error {
	fl := flock.New(l.path, flock.SetPermissions(0644))
	if e := fl.Lock(); e != nil {
		return l.writeError(e)
	}
	defer fl.Unlock()

	f, e := os.OpenFile(l.path, flags, 0644)
	if e != nil {
		return l.writeError(e)
	}
	if _, e = fmt.Fprintf(f, "%d\n", pid); e != nil {
		f.Close()
		return l.writeError(e)
	}
	if e = f.Sync(); e != nil {
		f.Close()
		return l.writeError(e)
	}
	return l.writeError(f.Close())
}

// Remove deletes the lockfile and the socket, if one is configured.
// Missing files are not an error; permission failures match
// ErrLockPermission.
func (l *LockFile) Remove() error {
	for _, p := range []string{l.path, l.sockPath} {
		if p == "" {
			continue
		}
		if e := os.Remove(p); e != nil && !errors.Is(e, fs.ErrNotExist) {
			if errors.Is(e, fs.ErrPermission) {
				return fmt.Errorf("%w: %v", ErrLockPermission, e)
			}
			return fmt.Errorf("removing %s: %w", p, e)
		}
	}
	return nil
}

func (l *LockFile) readError(e error) error {
	if errors.Is(e, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrLockPermission, e)
	}
	return fmt.Errorf("%w: %v", ErrLockUnreadable, e)
}

func (l *LockFile) writeError(e error) error {
	if e == nil {
		return nil
	}
	if errors.Is(e, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrLockPermission, e)
	}
	return fmt.Errorf("writing lockfile %s: %w", l.path, e)
}
