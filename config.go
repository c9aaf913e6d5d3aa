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
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Settings is the resolved configuration for one daemon.
type Settings struct {
	LockFile     string
	SockFile     string
	Daemon       bool
	RestartLimit int
	PollInterval time.Duration
	StopTimeout  time.Duration
	LogFile      string
	LogLevel     string
	LogFormat    string

	// Processes maps worker name to registered entry name.
	Processes map[string]string
}

// Options returns the supervisor options these settings describe.
func (s *Settings) Options() Options {
	return Options{
		RestartLimit: s.RestartLimit,
		PollInterval: s.PollInterval,
		StopTimeout:  s.StopTimeout,
	}
}

// NewViper returns a viper instance with the defaults and environment
// binding for app.  A file at path, if any, is read into it; a missing
// file leaves only defaults and environment.
func NewViper(app, path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(app)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(daemonKey(KeyDaemon), "true")
	v.SetDefault(daemonKey(KeyRestartLimit), strconv.Itoa(DefaultRestartLimit))
	v.SetDefault(daemonKey(KeyPollInterval), DefaultPollInterval.String())
	v.SetDefault(daemonKey(KeyStopTimeout), "0")
	v.SetDefault(daemonKey(KeyLogLevel), "info")
	v.SetDefault(daemonKey(KeyLogFormat), "text")

	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("ini")
	}
	if e := v.ReadInConfig(); e != nil {
		if errors.Is(e, fs.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, e)
	}
	return v, nil
}

// LoadConfig reads the configuration for app from path.  A missing
// lock_file is an error matching ErrMissingLockFile.  A missing or empty
// processes section is logged as a warning and yields no workers.
func LoadConfig(app, path string, logger logrus.FieldLogger) (*Settings, error) {
	v, e := NewViper(app, path)
	if e != nil {
		return nil, e
	}
	return SettingsFrom(v, logger)
}

// SettingsFrom resolves Settings from an already populated viper.
func SettingsFrom(v *viper.Viper, logger logrus.FieldLogger) (*Settings, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Settings{
		LockFile:  strings.TrimSpace(v.GetString(daemonKey(KeyLockFile))),
		SockFile:  strings.TrimSpace(v.GetString(daemonKey(KeySockFile))),
		LogFile:   strings.TrimSpace(v.GetString(daemonKey(KeyLogFile))),
		LogLevel:  v.GetString(daemonKey(KeyLogLevel)),
		LogFormat: v.GetString(daemonKey(KeyLogFormat)),
	}
	if s.LockFile == "" {
		return nil, ErrMissingLockFile
	}

	var e error
	if s.Daemon, e = parseBool(v.GetString(daemonKey(KeyDaemon))); e != nil {
		return nil, fmt.Errorf("%s: %w", KeyDaemon, e)
	}
	if s.RestartLimit, e = strconv.Atoi(strings.TrimSpace(v.GetString(daemonKey(KeyRestartLimit)))); e != nil {
		return nil, fmt.Errorf("%s: %w", KeyRestartLimit, e)
	}
	if s.RestartLimit < 0 {
		return nil, fmt.Errorf("%s: must not be negative", KeyRestartLimit)
	}
	if s.PollInterval, e = parseDuration(v.GetString(daemonKey(KeyPollInterval))); e != nil {
		return nil, fmt.Errorf("%s: %w", KeyPollInterval, e)
	}
	if s.PollInterval <= 0 {
		return nil, fmt.Errorf("%s: must be positive", KeyPollInterval)
	}
	if s.StopTimeout, e = parseDuration(v.GetString(daemonKey(KeyStopTimeout))); e != nil {
		return nil, fmt.Errorf("%s: %w", KeyStopTimeout, e)
	}

	s.Processes = v.GetStringMapString(SectionProcesses)
	if len(s.Processes) == 0 {
		logger.WithError(ErrNoProcesses).Warn("The processes section is missing from config")
		s.Processes = map[string]string{}
	}
	return s, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// parseDuration accepts Go durations and bare numbers of seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, e := strconv.ParseFloat(s, 64); e == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}
