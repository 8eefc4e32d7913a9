// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

// Package sdk provides the SDK for building PlugHub plugin modules.
//
// A module is a standalone binary that may carry any private dependencies
// it likes; the host runs it as an isolated subprocess via HashiCorp
// go-plugin and talks to it over net/rpc. One module may serve several
// plugins.
//
// Example usage:
//
//	package main
//
//	import "github.com/plughub/plughub/pkg/sdk"
//
//	type Echo struct{}
//
//	func (e *Echo) Descriptor() sdk.Descriptor { ... }
//	func (e *Echo) OnLoad() error              { return nil }
//	func (e *Echo) OnUnload() error            { return nil }
//	func (e *Echo) HandleMessage(clientID, messageType string, payload []byte) (sdk.Message, error) {
//		return sdk.Message{Type: messageType, Payload: payload}, nil
//	}
//
//	func main() {
//		sdk.Register("echo", sdk.Factory{
//			New: func(*sdk.Services) (sdk.Plugin, error) { return &Echo{}, nil },
//		})
//		sdk.Serve()
//	}
package sdk

import (
	hashiplug "github.com/hashicorp/go-plugin"
)

// ModuleName is the dispense key under which every module serves its
// plugins.
const ModuleName = "module"

// Handshake is shared by host and modules. Defined once here so the two
// sides cannot drift.
var Handshake = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLUGHUB_MODULE",
	MagicCookieValue: "6d0e3f4b-plughub-module",
}

// PluginMap is the go-plugin dispense table used by host and modules.
var PluginMap = map[string]hashiplug.Plugin{
	ModuleName: &ModulePlugin{},
}

// Descriptor is a plugin's identity and compatibility metadata.
type Descriptor struct {
	Identifier       string
	Name             string
	Description      string
	Version          string
	MinClientVersion string
	MaxClientVersion string
}

// Message is a typed payload returned from HandleMessage.
type Message struct {
	Type    string
	Payload []byte
}

// Plugin is the contract a module-side plugin implements.
type Plugin interface {
	// Descriptor returns identity and version bounds. Identifier must be
	// stable and globally unique.
	Descriptor() Descriptor

	// OnLoad runs when the host registers the plugin.
	OnLoad() error

	// OnUnload runs when the host tears the plugin down.
	OnUnload() error

	// HandleMessage processes one client message.
	HandleMessage(clientID, messageType string, payload []byte) (Message, error)
}

// ServiceSpec is one host service offered to plugin factories: a name and
// an opaque config (typically endpoint coordinates).
type ServiceSpec struct {
	Name   string
	Config map[string]string
}

// Services is the dependency-resolution view handed to factories.
type Services struct {
	specs map[string]ServiceSpec
}

func newServices(specs []ServiceSpec) *Services {
	m := make(map[string]ServiceSpec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return &Services{specs: m}
}

// Has reports whether a service is available.
func (s *Services) Has(name string) bool {
	_, ok := s.specs[name]
	return ok
}

// Config returns the config of an available service.
func (s *Services) Config(name string) (map[string]string, bool) {
	spec, ok := s.specs[name]
	if !ok {
		return nil, false
	}
	return spec.Config, true
}

// Serve hands the registered plugin types to the host. It never returns;
// call it from the module's main after all Register calls.
func Serve() {
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]hashiplug.Plugin{
			ModuleName: &ModulePlugin{types: defaultTypes},
		},
	})
}
