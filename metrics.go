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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for one supervisor.  Each supervisor gets
// its own registry so that several can live in one process.
type Metrics struct {
	Registry     *prometheus.Registry
	spawns       *prometheus.CounterVec
	restarts     *prometheus.CounterVec
	alive        *prometheus.GaugeVec
	shuttingDown prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		spawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daemonvisor",
			Name:      "worker_spawns_total",
			Help:      "Worker processes started, including restarts.",
		}, []string{"worker"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daemonvisor",
			Name:      "worker_restarts_total",
			Help:      "Worker restarts after an observed death.",
		}, []string{"worker"}),
		alive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "daemonvisor",
			Name:      "worker_alive",
			Help:      "1 if the worker process was alive at the last pass.",
		}, []string{"worker"}),
		shuttingDown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daemonvisor",
			Name:      "shutting_down",
			Help:      "1 once the supervisor has begun shutting down.",
		}),
	}
	m.Registry.MustRegister(m.spawns, m.restarts, m.alive, m.shuttingDown)
	return m
}

func (m *Metrics) spawned(name string) {
	m.spawns.WithLabelValues(name).Inc()
}

func (m *Metrics) restarted(name string) {
	m.restarts.WithLabelValues(name).Inc()
}

func (m *Metrics) setAlive(name string, alive bool) {
	v := 0.0
	if alive {
		v = 1
	}
	m.alive.WithLabelValues(name).Set(v)
}

func (m *Metrics) setShuttingDown() {
	m.shuttingDown.Set(1)
}
