// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

// Package main is an example PlugHub module. It serves a single echo
// plugin with two factories: the host picks the richer one when a
// "greeting" service is available.
package main

import (
	"fmt"

	"github.com/plughub/plughub/pkg/sdk"
)

type echoPlugin struct {
	greeting string
}

func (p *echoPlugin) Descriptor() sdk.Descriptor {
	return sdk.Descriptor{
		Identifier:       "echo",
		Name:             "Echo",
		Description:      "Echoes every message back to the sender",
		Version:          "1.0.0",
		MinClientVersion: "1.0.0",
	}
}

func (p *echoPlugin) OnLoad() error   { return nil }
func (p *echoPlugin) OnUnload() error { return nil }

func (p *echoPlugin) HandleMessage(clientID, messageType string, payload []byte) (sdk.Message, error) {
	if p.greeting != "" {
		payload = []byte(fmt.Sprintf("%s %s: %s", p.greeting, clientID, payload))
	}
	return sdk.Message{Type: messageType, Payload: payload}, nil
}

func main() {
	sdk.Register("echo",
		sdk.Factory{
			Requires: []string{"greeting"},
			New: func(s *sdk.Services) (sdk.Plugin, error) {
				cfg, _ := s.Config("greeting")
				return &echoPlugin{greeting: cfg["text"]}, nil
			},
		},
		sdk.Factory{
			New: func(*sdk.Services) (sdk.Plugin, error) {
				return &echoPlugin{}, nil
			},
		},
	)
	sdk.Serve()
}
