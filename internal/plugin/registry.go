// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/plughub/plughub/internal/observability"
	"github.com/plughub/plughub/internal/wire"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrPluginNotFound is returned when operating on an unknown identifier.
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrPluginAlreadyLoaded is returned when loading a duplicate identifier.
	ErrPluginAlreadyLoaded = errors.New("plugin already loaded")
	// ErrUnloadInFlight is returned when an unload for the identifier is
	// already in progress.
	ErrUnloadInFlight = errors.New("unload already in flight")
)

// disableReason is sent to clients with every disable request.
const disableReason = "plugin is being unloaded"

// Notifier delivers lifecycle events to activated client sessions.
// Per-client delivery failures are the notifier's concern; they are logged
// there and never surface here.
type Notifier interface {
	BroadcastStateChange(sc wire.StateChange)
	BroadcastDisableRequest(dr wire.DisableRequest)
	BroadcastEnableRequest(er wire.EnableRequest)
}

// ClientDirectory exposes the currently activated client set.
type ClientDirectory interface {
	ActivatedClients() []string
}

// Registry owns the authoritative map of loaded plugins and orchestrates
// load, unload, and enable notifications.
type Registry struct {
	notifier Notifier
	clients  ClientDirectory

	mu      sync.RWMutex
	plugins map[string]Plugin
	pending map[string]*pendingUnload
}

// NewRegistry creates a plugin registry.
func NewRegistry(notifier Notifier, clients ClientDirectory) *Registry {
	return &Registry{
		notifier: notifier,
		clients:  clients,
		plugins:  make(map[string]Plugin),
		pending:  make(map[string]*pendingUnload),
	}
}

// Load registers a plugin. It fails without side effects if the identifier
// is already present, and aborts if the plugin's load hook errors. On
// success all activated clients are notified asynchronously; notification
// failures never roll back the load.
func (r *Registry) Load(ctx context.Context, p Plugin) error {
	desc := p.Descriptor()
	if desc.Identifier == "" {
		observability.RecordLoad("hook_error")
		return fmt.Errorf("plugin has empty identifier")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[desc.Identifier]; ok {
		observability.RecordLoad("duplicate")
		return fmt.Errorf("%w: %s", ErrPluginAlreadyLoaded, desc.Identifier)
	}

	if err := p.OnLoad(ctx); err != nil {
		observability.RecordLoad("hook_error")
		return fmt.Errorf("load hook for %s: %w", desc.Identifier, err)
	}

	r.plugins[desc.Identifier] = p
	observability.RecordLoad("ok")
	observability.SetPluginsLoaded(len(r.plugins))

	slog.Info("loaded plugin",
		"plugin", desc.Identifier,
		"version", desc.Version)

	go r.notifier.BroadcastStateChange(wire.StateChange{
		Identifier: desc.Identifier,
		Version:    desc.Version,
		IsLoading:  true,
	})

	return nil
}

// Unload removes a plugin, coordinating with activated clients first.
//
// With no activated clients the fast path runs immediately. Otherwise the
// confirmation protocol waits for every client to acknowledge, bounded by
// timeout; either way teardown then runs unconditionally. The returned
// error is ErrPluginNotFound for an unknown identifier, or the unload
// hook's failure; a hook failure still removes the plugin.
func (r *Registry) Unload(ctx context.Context, identifier string, timeout time.Duration) error {
	r.mu.RLock()
	p, ok := r.plugins[identifier]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, identifier)
	}

	mode := "fast"
	clients := r.clients.ActivatedClients()
	if len(clients) > 0 {
		pu, err := r.beginUnload(identifier, clients)
		if err != nil {
			return err
		}

		r.notifier.BroadcastDisableRequest(wire.DisableRequest{
			Identifier: identifier,
			Reason:     disableReason,
		})

		mode = r.awaitConfirmation(ctx, identifier, pu, timeout)
	}

	err := r.teardown(ctx, identifier, p)
	observability.RecordUnload(mode)
	slog.Info("unloaded plugin", "plugin", identifier, "mode", mode)
	return err
}

// teardown runs the unload hook and removes the registry entry. Removal
// happens regardless of hook outcome: unload is not abortable once decided.
func (r *Registry) teardown(ctx context.Context, identifier string, p Plugin) error {
	r.mu.Lock()
	if _, ok := r.plugins[identifier]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginNotFound, identifier)
	}
	delete(r.plugins, identifier)
	observability.SetPluginsLoaded(len(r.plugins))
	r.mu.Unlock()

	go r.notifier.BroadcastStateChange(wire.StateChange{
		Identifier: identifier,
		Version:    p.Descriptor().Version,
		IsLoading:  false,
	})

	if err := p.OnUnload(ctx); err != nil {
		slog.Error("unload hook failed, plugin removed anyway",
			"plugin", identifier,
			"error", err)
		return fmt.Errorf("unload hook for %s: %w", identifier, err)
	}
	return nil
}

// NotifyEnable broadcasts an enable-request to all activated sessions so
// clients that disabled the plugin can re-enable it without a reload.
func (r *Registry) NotifyEnable(identifier string) error {
	r.mu.RLock()
	_, ok := r.plugins[identifier]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, identifier)
	}

	r.notifier.BroadcastEnableRequest(wire.EnableRequest{Identifier: identifier})
	return nil
}

// CheckCompatibility partitions a client's offered plugins into compatible
// and incompatible identifiers. Pure-local plugins need no server
// counterpart and are always compatible.
func (r *Registry) CheckCompatibility(offers []wire.ClientPluginOffer) wire.RegistrationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result wire.RegistrationResult
	for _, offer := range offers {
		if offer.PureLocal {
			result.Compatible = append(result.Compatible, offer.Identifier)
			continue
		}
		p, ok := r.plugins[offer.Identifier]
		if ok && p.IsCompatible(offer.Version) {
			result.Compatible = append(result.Compatible, offer.Identifier)
		} else {
			result.Incompatible = append(result.Incompatible, offer.Identifier)
		}
	}
	return result
}

// Dispatch routes one client message to the owning plugin. A misbehaving
// plugin is converted to a ServerInternalError response; it can never
// crash the router.
func (r *Registry) Dispatch(ctx context.Context, clientID, identifier, messageType string, payload []byte) Response {
	if clientID == "" {
		observability.RecordDispatch(RetInvalidRequest.String())
		return Response{Code: RetInvalidRequest}
	}

	r.mu.RLock()
	p, ok := r.plugins[identifier]
	r.mu.RUnlock()
	if !ok {
		observability.RecordDispatch(RetPluginNotFound.String())
		return Response{Code: RetPluginNotFound}
	}

	msg, err := r.safeHandle(ctx, p, clientID, messageType, payload)
	if err != nil {
		slog.Error("plugin message handler failed",
			"plugin", identifier,
			"client_id", clientID,
			"message_type", messageType,
			"error", err)
		observability.RecordDispatch(RetServerInternalError.String())
		return Response{Code: RetServerInternalError}
	}

	observability.RecordDispatch(RetSuccess.String())
	return Response{Code: RetSuccess, MessageType: msg.Type, Payload: msg.Payload}
}

// safeHandle invokes the plugin handler with panic recovery.
func (r *Registry) safeHandle(ctx context.Context, p Plugin, clientID, messageType string, payload []byte) (msg Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return p.HandleMessage(ctx, clientID, messageType, payload)
}

// Descriptor returns the descriptor for one loaded plugin.
func (r *Registry) Descriptor(identifier string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[identifier]
	if !ok {
		return Descriptor{}, false
	}
	return p.Descriptor(), true
}

// Descriptors returns descriptors of all loaded plugins sorted by identifier.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}
