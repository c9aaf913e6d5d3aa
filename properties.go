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

// Configuration section and key names.  Keys are looked up as
// "section.key"; the environment form is APP_SECTION_KEY.
const (
	SectionDaemon    = "daemon"
	SectionProcesses = "processes"

	KeyLockFile     = "lock_file"     // Lockfile path (required)
	KeySockFile     = "sock_file"     // Status API socket, removed with the lock
	KeyDaemon       = "daemon"        // Detach from the terminal
	KeyRestartLimit = "restart_limit" // Restarts allowed per worker
	KeyPollInterval = "poll_interval" // Time between liveness passes
	KeyStopTimeout  = "stop_timeout"  // Grace before SIGKILL; 0 never kills
	KeyLogFile      = "log_file"      // Rotated log destination
	KeyLogLevel     = "log_level"
	KeyLogFormat    = "log_format" // text or json
)

func daemonKey(key string) string {
	return SectionDaemon + "." + key
}
