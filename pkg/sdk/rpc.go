// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

package sdk

import (
	"errors"
	"fmt"
	"net/rpc"
	"sort"
	"sync"

	hashiplug "github.com/hashicorp/go-plugin"
)

// ErrUnknownPlugin is returned for operations on an identifier the module
// did not construct.
var ErrUnknownPlugin = errors.New("unknown plugin identifier")

// RPC argument and reply shapes. Everything is gob-encodable by
// construction; keep fields exported and flat.

// InitArgs carries the host's service specs to the module.
type InitArgs struct {
	Services []ServiceSpec
}

// InitReply lists the plugins the module constructed, plus construction
// warnings for the host to log.
type InitReply struct {
	Plugins  []Descriptor
	Warnings []string
}

// IdentifierArgs addresses one plugin within the module.
type IdentifierArgs struct {
	Identifier string
}

// HandleArgs carries one client message to a plugin.
type HandleArgs struct {
	Identifier  string
	ClientID    string
	MessageType string
	Payload     []byte
}

// HandleReply is the plugin's answer to a client message.
type HandleReply struct {
	MessageType string
	Payload     []byte
}

// Empty is the reply type for methods with no result.
type Empty struct{}

// moduleServer is the net/rpc receiver running inside the module process.
type moduleServer struct {
	types *typeSet

	mu      sync.Mutex
	plugins map[string]Plugin
}

// Init constructs plugin instances against the advertised services.
// A second Init re-reports the existing construction.
func (s *moduleServer) Init(args *InitArgs, reply *InitReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plugins == nil {
		plugins, warnings := s.types.construct(newServices(args.Services))
		s.plugins = plugins
		reply.Warnings = warnings
	}

	for _, p := range s.plugins {
		reply.Plugins = append(reply.Plugins, p.Descriptor())
	}
	sort.Slice(reply.Plugins, func(i, j int) bool {
		return reply.Plugins[i].Identifier < reply.Plugins[j].Identifier
	})
	return nil
}

func (s *moduleServer) lookup(identifier string) (Plugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plugins[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, identifier)
	}
	return p, nil
}

// Load runs a plugin's load hook.
func (s *moduleServer) Load(args *IdentifierArgs, _ *Empty) error {
	p, err := s.lookup(args.Identifier)
	if err != nil {
		return err
	}
	return p.OnLoad()
}

// Unload runs a plugin's unload hook.
func (s *moduleServer) Unload(args *IdentifierArgs, _ *Empty) error {
	p, err := s.lookup(args.Identifier)
	if err != nil {
		return err
	}
	return p.OnUnload()
}

// HandleMessage forwards one client message to a plugin.
func (s *moduleServer) HandleMessage(args *HandleArgs, reply *HandleReply) error {
	p, err := s.lookup(args.Identifier)
	if err != nil {
		return err
	}
	msg, err := p.HandleMessage(args.ClientID, args.MessageType, args.Payload)
	if err != nil {
		return err
	}
	reply.MessageType = msg.Type
	reply.Payload = msg.Payload
	return nil
}

// ModuleClient is the host-side handle for one module process.
type ModuleClient struct {
	client *rpc.Client
}

// Init advertises host services and returns constructed plugin
// descriptors plus module-side construction warnings.
func (c *ModuleClient) Init(specs []ServiceSpec) ([]Descriptor, []string, error) {
	var reply InitReply
	if err := c.client.Call("Plugin.Init", &InitArgs{Services: specs}, &reply); err != nil {
		return nil, nil, fmt.Errorf("module init: %w", err)
	}
	return reply.Plugins, reply.Warnings, nil
}

// Load runs the load hook of one plugin in the module.
func (c *ModuleClient) Load(identifier string) error {
	var reply Empty
	if err := c.client.Call("Plugin.Load", &IdentifierArgs{Identifier: identifier}, &reply); err != nil {
		return fmt.Errorf("module load %s: %w", identifier, err)
	}
	return nil
}

// Unload runs the unload hook of one plugin in the module.
func (c *ModuleClient) Unload(identifier string) error {
	var reply Empty
	if err := c.client.Call("Plugin.Unload", &IdentifierArgs{Identifier: identifier}, &reply); err != nil {
		return fmt.Errorf("module unload %s: %w", identifier, err)
	}
	return nil
}

// HandleMessage forwards one client message to a plugin in the module.
func (c *ModuleClient) HandleMessage(identifier, clientID, messageType string, payload []byte) (Message, error) {
	var reply HandleReply
	args := &HandleArgs{
		Identifier:  identifier,
		ClientID:    clientID,
		MessageType: messageType,
		Payload:     payload,
	}
	if err := c.client.Call("Plugin.HandleMessage", args, &reply); err != nil {
		return Message{}, fmt.Errorf("module handle %s: %w", identifier, err)
	}
	return Message{Type: reply.MessageType, Payload: reply.Payload}, nil
}

// ModulePlugin wires the module protocol into go-plugin's net/rpc
// transport. The host side only uses Client; the module side only Server.
type ModulePlugin struct {
	types *typeSet
}

// Server returns the rpc receiver (module process side).
func (p *ModulePlugin) Server(_ *hashiplug.MuxBroker) (interface{}, error) {
	types := p.types
	if types == nil {
		types = defaultTypes
	}
	return &moduleServer{types: types}, nil
}

// Client returns the host-side module handle.
func (p *ModulePlugin) Client(_ *hashiplug.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &ModuleClient{client: c}, nil
}
