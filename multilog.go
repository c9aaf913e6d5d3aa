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
	"bytes"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogWriter is an io.Writer that breaks its input into lines and emits
// each complete line as one log entry.  A trailing partial line is held
// until its newline arrives or Flush is called.
type LogWriter struct {
	logger logrus.FieldLogger
	level  logrus.Level
	buf    bytes.Buffer
	lock   sync.Mutex
}

// NewLogWriter returns a LogWriter logging at level.
func NewLogWriter(logger logrus.FieldLogger, level logrus.Level) *LogWriter {
	return &LogWriter{logger: logger, level: level}
}

func (w *LogWriter) Write(b []byte) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.buf.Write(b)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.emit(line)
	}
	return len(b), nil
}

// Flush emits any buffered partial line.
func (w *LogWriter) Flush() {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.buf.Len() != 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *LogWriter) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	switch w.level {
	case logrus.DebugLevel, logrus.TraceLevel:
		w.logger.Debug(line)
	case logrus.InfoLevel:
		w.logger.Info(line)
	case logrus.WarnLevel:
		w.logger.Warn(line)
	default:
		w.logger.Error(line)
	}
}
