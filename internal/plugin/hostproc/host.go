// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

// Package hostproc loads plugin modules as isolated subprocesses using
// HashiCorp's go-plugin system. Each module binary is one isolation
// context: it carries its own dependency set, may yield several plugins,
// and is released (the process killed) only when its last owned plugin
// has been unloaded.
package hostproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gobwas/glob"
	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/sethvargo/go-retry"

	"github.com/plughub/plughub/internal/plugin"
	"github.com/plughub/plughub/internal/services"
	"github.com/plughub/plughub/pkg/sdk"
)

// DefaultModulePattern matches module binaries during directory discovery.
const DefaultModulePattern = "*.plugin"

// connectAttempts bounds the handshake retry when a module process is
// slow to come up.
const connectAttempts = 3

// Sentinel errors for programmatic error checking.
var (
	// ErrHostClosed is returned when operations are attempted on a closed host.
	ErrHostClosed = errors.New("host is closed")
	// ErrIdentifierMissing is returned when a hot-reload's new module does
	// not contain the reloaded identifier.
	ErrIdentifierMissing = errors.New("new module does not contain identifier")
)

// PluginClient wraps the go-plugin client for testability.
type PluginClient interface {
	// Client returns the connected client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the module process. Safe to call repeatedly.
	Kill()
}

// ClientFactory creates module clients.
type ClientFactory interface {
	// NewClient creates a client for the given module binary path.
	NewClient(path string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(path string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig: sdk.Handshake,
		Plugins:         sdk.PluginMap,
		Cmd:             exec.Command(path), // #nosec G204 -- path comes from operator config or admin request
	})
}

// PluginRegistry is the registry surface the host drives.
type PluginRegistry interface {
	Load(ctx context.Context, p plugin.Plugin) error
	Unload(ctx context.Context, identifier string, timeout time.Duration) error
}

// Module is the host-side module surface, implemented by sdk.ModuleClient.
type Module interface {
	Init(specs []sdk.ServiceSpec) ([]sdk.Descriptor, []string, error)
	Load(identifier string) error
	Unload(identifier string) error
	HandleMessage(identifier, clientID, messageType string, payload []byte) (sdk.Message, error)
}

// moduleHandle is one live isolation context and the plugins it owns.
type moduleHandle struct {
	path   string
	client PluginClient
	module Module
	owners map[string]struct{}
}

// Host manages isolated plugin modules.
type Host struct {
	registry      PluginRegistry
	services      *services.Registry
	clientFactory ClientFactory
	pattern       glob.Glob

	mu     sync.Mutex
	owners map[string]*moduleHandle // plugin identifier -> owning handle
	closed bool
}

// Option configures the Host.
type Option func(*Host)

// WithClientFactory sets a custom client factory (for testing).
func WithClientFactory(f ClientFactory) Option {
	return func(h *Host) { h.clientFactory = f }
}

// WithModulePattern sets the glob matched against file names during
// directory discovery.
func WithModulePattern(g glob.Glob) Option {
	return func(h *Host) { h.pattern = g }
}

// NewHost creates a module host. Panics if registry or svc is nil.
func NewHost(registry PluginRegistry, svc *services.Registry, opts ...Option) *Host {
	if registry == nil {
		panic("hostproc: registry cannot be nil")
	}
	if svc == nil {
		panic("hostproc: service registry cannot be nil")
	}
	h := &Host{
		registry:      registry,
		services:      svc,
		clientFactory: &DefaultClientFactory{},
		pattern:       glob.MustCompile(DefaultModulePattern),
		owners:        make(map[string]*moduleHandle),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LoadFromModule starts the module at path, constructs its plugins
// against the service registry, and offers each to the plugin registry.
// Only accepted plugins count as loaded; their descriptors are returned.
// Loader failures are warnings, never errors: a bad module yields an
// empty result, and a module that loads nothing is released immediately.
func (h *Host) LoadFromModule(ctx context.Context, path string) []plugin.Descriptor {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		slog.Warn("load rejected, host is closed", "module", path)
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		slog.Warn("module file not accessible", "module", path, "error", err)
		return nil
	}

	client := h.clientFactory.NewClient(path)

	rpcClient, err := h.connect(ctx, client)
	if err != nil {
		client.Kill()
		slog.Warn("failed to connect to module", "module", path, "error", err)
		return nil
	}

	raw, err := rpcClient.Dispense(sdk.ModuleName)
	if err != nil {
		client.Kill()
		slog.Warn("failed to dispense module", "module", path, "error", err)
		return nil
	}

	module, ok := raw.(Module)
	if !ok {
		client.Kill()
		slog.Warn("module does not implement the module protocol", "module", path)
		return nil
	}

	descs, warnings, err := module.Init(serviceSpecs(h.services))
	if err != nil {
		client.Kill()
		slog.Warn("module init failed", "module", path, "error", err)
		return nil
	}
	for _, w := range warnings {
		slog.Warn("module construction warning", "module", path, "warning", w)
	}

	handle := &moduleHandle{
		path:   path,
		client: client,
		module: module,
		owners: make(map[string]struct{}),
	}

	var loaded []plugin.Descriptor
	for _, d := range descs {
		rp := newRemotePlugin(module, d)
		if err := h.registry.Load(ctx, rp); err != nil {
			slog.Warn("registry rejected plugin from module",
				"module", path,
				"plugin", d.Identifier,
				"error", err)
			continue
		}
		handle.owners[d.Identifier] = struct{}{}
		h.owners[d.Identifier] = handle
		loaded = append(loaded, rp.Descriptor())
	}

	if len(loaded) == 0 {
		// No leaked handle: a module that loaded nothing is torn down now.
		client.Kill()
		slog.Warn("module yielded no loadable plugins", "module", path)
		return nil
	}

	slog.Info("loaded module", "module", path, "plugins", len(loaded))
	return loaded
}

// serviceSpecs converts host-side service specs into the wire shape the
// module protocol carries.
func serviceSpecs(reg *services.Registry) []sdk.ServiceSpec {
	specs := reg.Specs()
	out := make([]sdk.ServiceSpec, 0, len(specs))
	for _, sp := range specs {
		out = append(out, sdk.ServiceSpec{Name: sp.Name, Config: sp.Config})
	}
	return out
}

// connect performs the go-plugin handshake with bounded backoff; module
// processes can take a moment to begin listening.
func (h *Host) connect(ctx context.Context, client PluginClient) (hashiplug.ClientProtocol, error) {
	var proto hashiplug.ClientProtocol
	backoff := retry.WithMaxRetries(connectAttempts, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		p, err := client.Client()
		if err != nil {
			return retry.RetryableError(err)
		}
		proto = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("module handshake: %w", err)
	}
	return proto, nil
}

// Unload delegates to the registry, then releases the owning isolation
// context once no other loaded plugin still depends on it. The release
// runs even when the unload hook failed; teardown failures are logged,
// never fatal to the release step.
func (h *Host) Unload(ctx context.Context, identifier string, timeout time.Duration) error {
	err := h.registry.Unload(ctx, identifier, timeout)
	if errors.Is(err, plugin.ErrPluginNotFound) || errors.Is(err, plugin.ErrUnloadInFlight) {
		return err
	}

	h.release(identifier)
	return err
}

// release drops an identifier's claim on its module handle and kills the
// process when the last claim is gone.
func (h *Host) release(identifier string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	handle, ok := h.owners[identifier]
	if !ok {
		return
	}
	delete(h.owners, identifier)
	delete(handle.owners, identifier)

	if len(handle.owners) == 0 {
		handle.client.Kill()
		slog.Info("released module", "module", handle.path)
	}
}

// HotReload unloads an identifier and loads its replacement from a new
// module path. An unload failure aborts the operation before the load.
// The reload succeeds only if the new module still yields the same
// identifier; otherwise the plugin stays unloaded and an error reports it.
func (h *Host) HotReload(ctx context.Context, identifier, newPath string, timeout time.Duration) error {
	if err := h.Unload(ctx, identifier, timeout); err != nil {
		return fmt.Errorf("hot-reload of %s: %w", identifier, err)
	}

	for _, d := range h.LoadFromModule(ctx, newPath) {
		if d.Identifier == identifier {
			return nil
		}
	}
	return fmt.Errorf("hot-reload of %s from %s: %w", identifier, newPath, ErrIdentifierMissing)
}

// Close kills every module process. Loaded plugins are not individually
// unloaded; Close is for host shutdown.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[*moduleHandle]struct{})
	for _, handle := range h.owners {
		if _, done := seen[handle]; done {
			continue
		}
		seen[handle] = struct{}{}
		handle.client.Kill()
	}

	h.closed = true
	clear(h.owners)
	return nil
}
