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

package cli

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gdamore/daemonvisor"
	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

func SetLogFormat(logger *logrus.Logger, format string) {
	if format != "text" && format != "json" {
		logger.WithFields(logrus.Fields{"format": format}).Warn("Unknown log format specified, using text. Possible options are json and text.")
	}

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		// show full timestamps
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

func SetLogLevel(logger *logrus.Logger, ll string) {
	if ll == "" {
		ll = "info"
	}
	logLevel, err := logrus.ParseLevel(ll)
	if err != nil {
		logger.WithFields(logrus.Fields{"level": ll}).Warn("Could not parse log level, setting to INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
}

// SetLogDest sends log output to a rotated file, or to stderr when file is
// empty.  The returned Closer releases the file.
func SetLogDest(logger *logrus.Logger, file string) io.Closer {
	if file == "" {
		logger.SetOutput(os.Stderr)
		return io.NopCloser(nil)
	}
	if e := os.MkdirAll(filepath.Dir(file), 0755); e != nil {
		logger.WithError(e).WithField("log_file", file).Error("Could not create log directory, logging to stderr")
		logger.SetOutput(os.Stderr)
		return io.NopCloser(nil)
	}
	lj := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	logger.SetOutput(lj)
	return lj
}

// SetupLogging applies the logging settings and installs a ring of recent
// records, which is returned for the status API.
func SetupLogging(logger *logrus.Logger, s *daemonvisor.Settings) (*daemonvisor.Log, io.Closer) {
	closer := SetLogDest(logger, s.LogFile)
	SetLogFormat(logger, s.LogFormat)
	SetLogLevel(logger, s.LogLevel)
	ring := daemonvisor.NewLog(daemonvisor.MaxLogRecords)
	logger.AddHook(ring)
	return ring, closer
}
