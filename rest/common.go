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

// Package rest serves a running daemon's status over its unix socket,
// and provides the client used by the status command.
package rest

import (
	"time"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollTimeHeader asks the server to hold a request for up to that
	// many seconds until the resource no longer matches If-None-Match.
	PollTimeHeader = "X-Daemonvisor-Poll-Time"

	// MaxPollTime caps PollTimeHeader.
	MaxPollTime = 300
)

type DaemonInfo struct {
	Pid          int          `json:"pid"`
	Phase        string       `json:"phase"`
	Started      time.Time    `json:"started"`
	RestartLimit int          `json:"restartLimit"`
	Workers      []WorkerInfo `json:"workers"`
}

type WorkerInfo struct {
	Name     string    `json:"name"`
	Entry    string    `json:"entry"`
	Pid      int       `json:"pid"`
	Alive    bool      `json:"alive"`
	Restarts int       `json:"restarts"`
	Started  time.Time `json:"started"`
}

type LogRecord struct {
	Id     int64     `json:"id,string"`
	Time   time.Time `json:"time"`
	Level  string    `json:"level"`
	Worker string    `json:"worker,omitempty"`
	Text   string    `json:"text"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
