// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

package plugin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plughub/plughub/internal/plugin"
	"github.com/plughub/plughub/internal/wire"
)

// fakePlugin is a configurable in-process plugin for registry tests.
type fakePlugin struct {
	desc     plugin.Descriptor
	onLoad   func(ctx context.Context) error
	onUnload func(ctx context.Context) error
	handle   func(ctx context.Context, clientID, messageType string, payload []byte) (plugin.Message, error)
}

func (f *fakePlugin) Descriptor() plugin.Descriptor { return f.desc }

func (f *fakePlugin) OnLoad(ctx context.Context) error {
	if f.onLoad != nil {
		return f.onLoad(ctx)
	}
	return nil
}

func (f *fakePlugin) OnUnload(ctx context.Context) error {
	if f.onUnload != nil {
		return f.onUnload(ctx)
	}
	return nil
}

func (f *fakePlugin) HandleMessage(ctx context.Context, clientID, messageType string, payload []byte) (plugin.Message, error) {
	if f.handle != nil {
		return f.handle(ctx, clientID, messageType, payload)
	}
	return plugin.Message{Type: messageType, Payload: payload}, nil
}

func (f *fakePlugin) IsCompatible(clientVersion string) bool {
	return plugin.CompatibleRange(clientVersion, f.desc.MinClientVersion, f.desc.MaxClientVersion)
}

func newFakePlugin(identifier, version string) *fakePlugin {
	return &fakePlugin{desc: plugin.Descriptor{
		Identifier: identifier,
		Name:       identifier,
		Version:    version,
	}}
}

// fakeNotifier records broadcasts and can forward disable requests to a
// handler, standing in for the message router.
type fakeNotifier struct {
	mu              sync.Mutex
	stateChanges    []wire.StateChange
	disableRequests []wire.DisableRequest
	enableRequests  []wire.EnableRequest
	onDisable       func(dr wire.DisableRequest)
}

func (n *fakeNotifier) BroadcastStateChange(sc wire.StateChange) {
	n.mu.Lock()
	n.stateChanges = append(n.stateChanges, sc)
	n.mu.Unlock()
}

func (n *fakeNotifier) BroadcastDisableRequest(dr wire.DisableRequest) {
	n.mu.Lock()
	n.disableRequests = append(n.disableRequests, dr)
	handler := n.onDisable
	n.mu.Unlock()
	if handler != nil {
		handler(dr)
	}
}

func (n *fakeNotifier) BroadcastEnableRequest(er wire.EnableRequest) {
	n.mu.Lock()
	n.enableRequests = append(n.enableRequests, er)
	n.mu.Unlock()
}

func (n *fakeNotifier) stateChangeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.stateChanges)
}

// fakeDirectory returns a fixed activated client set.
type fakeDirectory struct {
	clients []string
}

func (d *fakeDirectory) ActivatedClients() []string { return d.clients }

func newRegistry(clients ...string) (*plugin.Registry, *fakeNotifier) {
	notifier := &fakeNotifier{}
	return plugin.NewRegistry(notifier, &fakeDirectory{clients: clients}), notifier
}

func waitForStateChanges(t *testing.T, n *fakeNotifier, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for n.stateChangeCount() < want {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d state changes, got %d", want, n.stateChangeCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRegistry_Load(t *testing.T) {
	reg, notifier := newRegistry()

	err := reg.Load(context.Background(), newFakePlugin("chat", "1.0.0"))
	require.NoError(t, err)

	desc, ok := reg.Descriptor("chat")
	require.True(t, ok)
	assert.Equal(t, "chat", desc.Identifier)
	assert.Equal(t, "1.0.0", desc.Version)

	waitForStateChanges(t, notifier, 1)
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.True(t, notifier.stateChanges[0].IsLoading)
	assert.Equal(t, "chat", notifier.stateChanges[0].Identifier)
}

func TestRegistry_Load_DuplicateIdentifier(t *testing.T) {
	reg, _ := newRegistry()

	require.NoError(t, reg.Load(context.Background(), newFakePlugin("chat", "1.0.0")))

	err := reg.Load(context.Background(), newFakePlugin("chat", "2.0.0"))
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrPluginAlreadyLoaded)

	// Original plugin is untouched
	desc, ok := reg.Descriptor("chat")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", desc.Version)
}

func TestRegistry_Load_EmptyIdentifier(t *testing.T) {
	reg, _ := newRegistry()

	err := reg.Load(context.Background(), newFakePlugin("", "1.0.0"))
	require.Error(t, err)
}

func TestRegistry_Load_HookErrorAborts(t *testing.T) {
	reg, _ := newRegistry()

	p := newFakePlugin("chat", "1.0.0")
	p.onLoad = func(context.Context) error { return errors.New("init failed") }

	err := reg.Load(context.Background(), p)
	require.Error(t, err)

	_, ok := reg.Descriptor("chat")
	assert.False(t, ok, "failed load must not register the plugin")
}

func TestRegistry_Unload_NotFound(t *testing.T) {
	reg, _ := newRegistry()

	err := reg.Unload(context.Background(), "ghost", time.Second)
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
}

func TestRegistry_Unload_FastPathWithoutClients(t *testing.T) {
	reg, notifier := newRegistry()

	unloaded := false
	p := newFakePlugin("chat", "1.0.0")
	p.onUnload = func(context.Context) error {
		unloaded = true
		return nil
	}
	require.NoError(t, reg.Load(context.Background(), p))

	start := time.Now()
	err := reg.Unload(context.Background(), "chat", 5*time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "no clients means no confirmation wait")
	assert.True(t, unloaded)

	_, ok := reg.Descriptor("chat")
	assert.False(t, ok)

	// No disable requests were sent
	notifier.mu.Lock()
	assert.Empty(t, notifier.disableRequests)
	notifier.mu.Unlock()

	// Identifier is reusable immediately
	require.NoError(t, reg.Load(context.Background(), newFakePlugin("chat", "2.0.0")))
}

func TestRegistry_Unload_HookErrorStillRemoves(t *testing.T) {
	reg, _ := newRegistry()

	p := newFakePlugin("chat", "1.0.0")
	p.onUnload = func(context.Context) error { return errors.New("cleanup failed") }
	require.NoError(t, reg.Load(context.Background(), p))

	err := reg.Unload(context.Background(), "chat", time.Second)
	require.Error(t, err)

	_, ok := reg.Descriptor("chat")
	assert.False(t, ok, "hook failure must not keep the plugin registered")
}

func TestRegistry_NotifyEnable(t *testing.T) {
	reg, notifier := newRegistry()
	require.NoError(t, reg.Load(context.Background(), newFakePlugin("chat", "1.0.0")))

	require.NoError(t, reg.NotifyEnable("chat"))

	notifier.mu.Lock()
	require.Len(t, notifier.enableRequests, 1)
	assert.Equal(t, "chat", notifier.enableRequests[0].Identifier)
	notifier.mu.Unlock()

	assert.ErrorIs(t, reg.NotifyEnable("ghost"), plugin.ErrPluginNotFound)
}

func TestRegistry_Dispatch(t *testing.T) {
	reg, _ := newRegistry()

	p := newFakePlugin("chat", "1.0.0")
	p.handle = func(_ context.Context, clientID, messageType string, payload []byte) (plugin.Message, error) {
		assert.Equal(t, "client-1", clientID)
		return plugin.Message{Type: "chat.reply", Payload: payload}, nil
	}
	require.NoError(t, reg.Load(context.Background(), p))

	resp := reg.Dispatch(context.Background(), "client-1", "chat", "chat.say", []byte(`{"text":"hi"}`))
	assert.Equal(t, plugin.RetSuccess, resp.Code)
	assert.Equal(t, "chat.reply", resp.MessageType)
	assert.Equal(t, []byte(`{"text":"hi"}`), resp.Payload)
}

func TestRegistry_Dispatch_EmptyClientID(t *testing.T) {
	reg, _ := newRegistry()
	require.NoError(t, reg.Load(context.Background(), newFakePlugin("chat", "1.0.0")))

	resp := reg.Dispatch(context.Background(), "", "chat", "chat.say", nil)
	assert.Equal(t, plugin.RetInvalidRequest, resp.Code)
}

func TestRegistry_Dispatch_UnknownPlugin(t *testing.T) {
	reg, _ := newRegistry()

	resp := reg.Dispatch(context.Background(), "client-1", "ghost", "x", nil)
	assert.Equal(t, plugin.RetPluginNotFound, resp.Code)
}

func TestRegistry_Dispatch_HandlerError(t *testing.T) {
	reg, _ := newRegistry()

	p := newFakePlugin("chat", "1.0.0")
	p.handle = func(context.Context, string, string, []byte) (plugin.Message, error) {
		return plugin.Message{}, errors.New("boom")
	}
	require.NoError(t, reg.Load(context.Background(), p))

	resp := reg.Dispatch(context.Background(), "client-1", "chat", "chat.say", nil)
	assert.Equal(t, plugin.RetServerInternalError, resp.Code)
}

func TestRegistry_Dispatch_HandlerPanic(t *testing.T) {
	reg, _ := newRegistry()

	p := newFakePlugin("chat", "1.0.0")
	p.handle = func(context.Context, string, string, []byte) (plugin.Message, error) {
		panic("handler bug")
	}
	require.NoError(t, reg.Load(context.Background(), p))

	resp := reg.Dispatch(context.Background(), "client-1", "chat", "chat.say", nil)
	assert.Equal(t, plugin.RetServerInternalError, resp.Code)

	// Registry still serves other requests
	resp = reg.Dispatch(context.Background(), "client-1", "chat", "chat.say", nil)
	assert.Equal(t, plugin.RetServerInternalError, resp.Code)
}

func TestRegistry_CheckCompatibility(t *testing.T) {
	reg, _ := newRegistry()

	p := newFakePlugin("chat", "1.0.0")
	p.desc.MinClientVersion = "1.0.0"
	require.NoError(t, reg.Load(context.Background(), p))

	result := reg.CheckCompatibility([]wire.ClientPluginOffer{
		{Identifier: "chat", Version: "1.2.0"},
		{Identifier: "chat-old", Version: "0.9.0"},
		{Identifier: "notes", Version: "0.1.0", PureLocal: true},
	})

	assert.Equal(t, []string{"chat", "notes"}, result.Compatible)
	assert.Equal(t, []string{"chat-old"}, result.Incompatible)
}

func TestRegistry_CheckCompatibility_VersionBelowMinimum(t *testing.T) {
	reg, _ := newRegistry()

	p := newFakePlugin("chat", "1.0.0")
	p.desc.MinClientVersion = "1.0.0"
	require.NoError(t, reg.Load(context.Background(), p))

	result := reg.CheckCompatibility([]wire.ClientPluginOffer{
		{Identifier: "chat", Version: "0.9.0"},
	})

	assert.Empty(t, result.Compatible)
	assert.Equal(t, []string{"chat"}, result.Incompatible)
}

func TestRegistry_Descriptors_Sorted(t *testing.T) {
	reg, _ := newRegistry()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Load(context.Background(), newFakePlugin(id, "1.0.0")))
	}

	descs := reg.Descriptors()
	require.Len(t, descs, 3)
	assert.Equal(t, "alpha", descs[0].Identifier)
	assert.Equal(t, "mid", descs[1].Identifier)
	assert.Equal(t, "zeta", descs[2].Identifier)
}

func TestCompatibleRange(t *testing.T) {
	tests := []struct {
		name     string
		client   string
		min      string
		max      string
		expected bool
	}{
		{"within open range", "1.5.0", "", "", true},
		{"at minimum", "1.0.0", "1.0.0", "", true},
		{"below minimum", "0.9.0", "1.0.0", "", false},
		{"above minimum no maximum", "1.2.0", "1.0.0", "", true},
		{"at maximum", "2.0.0", "1.0.0", "2.0.0", true},
		{"above maximum", "2.1.0", "1.0.0", "2.0.0", false},
		{"unparsable client version", "not-a-version", "1.0.0", "", false},
		{"unparsable minimum", "1.0.0", "garbage", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, plugin.CompatibleRange(tt.client, tt.min, tt.max))
		})
	}
}
