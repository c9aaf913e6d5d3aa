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
	"fmt"
	"sort"
)

// WorkerFunc is the body of a worker.  It runs in its own OS process and
// should return once ctx is done.  Returning at all, with or without an
// error, counts as the worker dying.
type WorkerFunc func(ctx context.Context) error

// WorkerSpec names one supervised worker and the registered entry point it
// runs.  Several workers may share an entry point.
type WorkerSpec struct {
	Name  string
	Entry string
}

// Registry maps entry point names to worker functions.  It is fixed at
// construction; there is no way to add entries afterwards.
type Registry struct {
	entries map[string]WorkerFunc
}

// NewRegistry copies entries into a new Registry.
func NewRegistry(entries map[string]WorkerFunc) *Registry {
	r := &Registry{entries: make(map[string]WorkerFunc, len(entries))}
	for name, fn := range entries {
		if fn != nil {
			r.entries[name] = fn
		}
	}
	return r
}

// Lookup returns the function registered under entry.
func (r *Registry) Lookup(entry string) (WorkerFunc, bool) {
	fn, ok := r.entries[entry]
	return fn, ok
}

// Entries returns the registered entry point names, sorted.
func (r *Registry) Entries() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs resolves a processes mapping (worker name to entry point name)
// against the registry.  An empty entry point means the worker name is
// also the entry point.  The result is ordered by worker name so that
// every monitor pass visits workers in the same order.
func (r *Registry) Specs(processes map[string]string) ([]WorkerSpec, error) {
	specs := make([]WorkerSpec, 0, len(processes))
	for name, entry := range processes {
		if entry == "" {
			entry = name
		}
		if _, ok := r.entries[entry]; !ok {
			return nil, fmt.Errorf("%w: %q for worker %q", ErrUnknownEntry, entry, name)
		}
		specs = append(specs, WorkerSpec{Name: name, Entry: entry})
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Name < specs[j].Name
	})
	return specs, nil
}
