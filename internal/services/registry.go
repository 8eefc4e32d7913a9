// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

// Package services holds the host-side service registry used to satisfy
// plugin constructor dependencies. Services are named endpoints with an
// opaque string config; modules run in their own process, so the registry
// advertises specs rather than live objects.
package services

import (
	"sort"
	"sync"
)

// Spec describes a single service a plugin factory may require.
type Spec struct {
	Name   string
	Config map[string]string
}

// Registry is a concurrent name-to-spec map.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds or replaces a service spec. Config is copied.
func (r *Registry) Register(name string, config map[string]string) {
	cfg := make(map[string]string, len(config))
	for k, v := range config {
		cfg[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[name] = Spec{Name: name, Config: cfg}
}

// Lookup returns the spec for a service name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// Specs returns all registered specs sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
