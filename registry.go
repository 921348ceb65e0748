/*
Copyright 2026 The cloudrx Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cloudrx

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// Registry is the explicit, process-scoped object described in spec §9
// ("encapsulate it in an explicit registry object owned by the library
// entry point; never rely on module-init side effects"). It memoizes one
// Provider per StreamID and guarantees bootstrap runs at most once per id
// even under concurrent Obtain calls (spec §4.B, §8 invariant 6).
type Registry struct {
	group   singleflight.Group
	metrics *metrics

	mu      sync.RWMutex
	entries map[StreamID]*registryEntry
}

type registryEntry struct {
	provider *Provider
	err      error
}

// NewRegistry builds an empty registry with its own metrics collectors.
// Call Register(reg) to expose them; a registry never needs one to work.
func NewRegistry() *Registry {
	return &Registry{
		metrics: newMetrics(),
		entries: map[StreamID]*registryEntry{},
	}
}

// defaultRegistry is the package-level registry used by the package-level
// ObtainProvider helper. It is an explicit value, not init()-side-effect
// state, and callers that need isolation (tests, multi-tenant processes)
// should build their own Registry instead.
var defaultRegistry = NewRegistry()

// ObtainProvider bootstraps (or returns the memoized) provider for id using
// the default, process-wide registry.
func ObtainProvider(id StreamID, opts ProviderOptions) (*Provider, error) {
	return defaultRegistry.Obtain(id, opts)
}

// Register exposes the registry's prometheus collectors on reg.
func (r *Registry) Register(reg prometheus.Registerer) {
	r.metrics.Register(reg)
}

// Obtain is idempotent per id: concurrent callers collapse into a single
// bootstrap via singleflight, and a completed entry (success or fatal
// failure — bootstrap never returns a bare RetryError, see bootstrap.go)
// is cached so later calls skip re-bootstrapping entirely (spec §4.B, §8
// invariant 6, "poisons the registry entry").
func (r *Registry) Obtain(id StreamID, opts ProviderOptions) (*Provider, error) {
	if p, err, ok := r.cached(id); ok {
		return p, err
	}

	v, err, _ := r.group.Do(string(id), func() (any, error) {
		if p, cerr, ok := r.cached(id); ok {
			return p, cerr
		}
		p, berr := bootstrap(id, opts, r.metrics)
		r.mu.Lock()
		r.entries[id] = &registryEntry{provider: p, err: berr}
		r.mu.Unlock()
		return p, berr
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, err
	}
	return v.(*Provider), nil
}

func (r *Registry) cached(id StreamID) (*Provider, error, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil, false
	}
	return e.provider, e.err, true
}

// Streams lists every stream id with a memoized entry (successful or
// poisoned) in this registry.
func (r *Registry) Streams() []StreamID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StreamID, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}

// Forget evicts id's memoized entry, if any, so the next Obtain re-runs
// bootstrap. Intended for tests and operator-triggered recovery from a
// poisoned entry; not part of the original spec's public surface.
func (r *Registry) Forget(id StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}
