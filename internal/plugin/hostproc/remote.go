// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

package hostproc

import (
	"context"

	"github.com/plughub/plughub/internal/plugin"
	"github.com/plughub/plughub/pkg/sdk"
)

// Compile-time interface check.
var _ plugin.Plugin = (*remotePlugin)(nil)

// remotePlugin proxies one plugin living inside a module process.
// Compatibility is computed host-side from the cached descriptor bounds;
// everything else crosses the process boundary.
type remotePlugin struct {
	module Module
	desc   plugin.Descriptor
}

func newRemotePlugin(module Module, d sdk.Descriptor) *remotePlugin {
	return &remotePlugin{
		module: module,
		desc: plugin.Descriptor{
			Identifier:       d.Identifier,
			Name:             d.Name,
			Description:      d.Description,
			Version:          d.Version,
			MinClientVersion: d.MinClientVersion,
			MaxClientVersion: d.MaxClientVersion,
		},
	}
}

func (p *remotePlugin) Descriptor() plugin.Descriptor {
	return p.desc
}

func (p *remotePlugin) OnLoad(_ context.Context) error {
	return p.module.Load(p.desc.Identifier)
}

func (p *remotePlugin) OnUnload(_ context.Context) error {
	return p.module.Unload(p.desc.Identifier)
}

func (p *remotePlugin) HandleMessage(_ context.Context, clientID, messageType string, payload []byte) (plugin.Message, error) {
	msg, err := p.module.HandleMessage(p.desc.Identifier, clientID, messageType, payload)
	if err != nil {
		return plugin.Message{}, err
	}
	return plugin.Message{Type: msg.Type, Payload: msg.Payload}, nil
}

func (p *remotePlugin) IsCompatible(clientVersion string) bool {
	return plugin.CompatibleRange(clientVersion, p.desc.MinClientVersion, p.desc.MaxClientVersion)
}
