// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

package sdk

import (
	"fmt"
	"sync"
)

// Factory is one candidate constructor for a plugin type. Requires lists
// the service names the constructor needs; an empty list is a no-argument
// constructor.
type Factory struct {
	Requires []string
	New      func(*Services) (Plugin, error)
}

// typeSet collects the plugin types a module registers.
type typeSet struct {
	mu    sync.Mutex
	types []registeredType
}

type registeredType struct {
	name      string
	factories []Factory
}

// defaultTypes backs the package-level Register/Serve pair.
var defaultTypes = &typeSet{}

// Register declares a plugin type and its candidate factories. Factories
// are tried richest-first at construction time; call before Serve.
func Register(typeName string, factories ...Factory) {
	defaultTypes.register(typeName, factories...)
}

func (ts *typeSet) register(typeName string, factories ...Factory) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.types = append(ts.types, registeredType{name: typeName, factories: factories})
}

// selectFactory picks the factory whose requirements are most fully
// satisfiable: among factories with every required service available, the
// one with the most requirements wins; a no-argument factory is the
// natural fallback. Returns false when nothing is satisfiable.
func selectFactory(factories []Factory, services *Services) (Factory, bool) {
	best := -1
	var chosen Factory
	for _, f := range factories {
		satisfiable := true
		for _, req := range f.Requires {
			if !services.Has(req) {
				satisfiable = false
				break
			}
		}
		if satisfiable && len(f.Requires) > best {
			best = len(f.Requires)
			chosen = f
		}
	}
	return chosen, best >= 0
}

// construct builds one plugin instance per registered type. Types with no
// satisfiable factory, failing constructors, and duplicate identifiers
// are skipped with a warning rather than failing the module.
func (ts *typeSet) construct(services *Services) (map[string]Plugin, []string) {
	ts.mu.Lock()
	types := make([]registeredType, len(ts.types))
	copy(types, ts.types)
	ts.mu.Unlock()

	plugins := make(map[string]Plugin)
	var warnings []string

	for _, rt := range types {
		f, ok := selectFactory(rt.factories, services)
		if !ok {
			warnings = append(warnings,
				fmt.Sprintf("plugin type %s: no satisfiable factory, skipped", rt.name))
			continue
		}

		p, err := f.New(services)
		if err != nil {
			warnings = append(warnings,
				fmt.Sprintf("plugin type %s: constructor failed: %v", rt.name, err))
			continue
		}

		id := p.Descriptor().Identifier
		if id == "" {
			warnings = append(warnings,
				fmt.Sprintf("plugin type %s: empty identifier, skipped", rt.name))
			continue
		}
		if _, dup := plugins[id]; dup {
			warnings = append(warnings,
				fmt.Sprintf("plugin type %s: duplicate identifier %s, skipped", rt.name, id))
			continue
		}
		plugins[id] = p
	}

	return plugins, warnings
}
