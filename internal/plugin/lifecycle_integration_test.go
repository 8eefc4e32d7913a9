// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

//go:build integration

package plugin_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/plughub/plughub/internal/plugin"
	"github.com/plughub/plughub/internal/wire"
)

// lifecycleFixture wires a registry to scripted clients that answer disable
// requests according to per-client behavior.
type lifecycleFixture struct {
	registry *plugin.Registry
	notifier *fakeNotifier

	mu       sync.Mutex
	behavior map[string]func(identifier string)
}

func newLifecycleFixture(clients ...string) *lifecycleFixture {
	f := &lifecycleFixture{
		notifier: &fakeNotifier{},
		behavior: make(map[string]func(string), len(clients)),
	}
	f.registry = plugin.NewRegistry(f.notifier, &fakeDirectory{clients: clients})
	f.notifier.onDisable = func(dr wire.DisableRequest) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, respond := range f.behavior {
			go respond(dr.Identifier)
		}
	}
	return f
}

func (f *lifecycleFixture) respondWith(clientID string, delay time.Duration, success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.behavior[clientID] = func(identifier string) {
		time.Sleep(delay)
		f.registry.AcknowledgeDisable(clientID, identifier, success)
	}
}

var _ = Describe("Plugin lifecycle", func() {
	var fixture *lifecycleFixture

	BeforeEach(func() {
		fixture = newLifecycleFixture("alpha", "beta")
		Expect(fixture.registry.Load(context.Background(), newFakePlugin("chat", "1.0.0"))).To(Succeed())
	})

	Describe("unload confirmation", func() {
		Context("when every client confirms promptly", func() {
			It("completes before the timeout", func() {
				fixture.respondWith("alpha", 10*time.Millisecond, true)
				fixture.respondWith("beta", 20*time.Millisecond, true)

				start := time.Now()
				Expect(fixture.registry.Unload(context.Background(), "chat", 5*time.Second)).To(Succeed())
				Expect(time.Since(start)).To(BeNumerically("<", time.Second))

				_, ok := fixture.registry.Descriptor("chat")
				Expect(ok).To(BeFalse())
			})
		})

		Context("when one client stays silent", func() {
			It("forces completion at the timeout", func() {
				fixture.respondWith("alpha", 10*time.Millisecond, true)
				// beta never responds

				start := time.Now()
				Expect(fixture.registry.Unload(context.Background(), "chat", 200*time.Millisecond)).To(Succeed())
				Expect(time.Since(start)).To(BeNumerically(">=", 200*time.Millisecond))

				_, ok := fixture.registry.Descriptor("chat")
				Expect(ok).To(BeFalse())
			})
		})

		Context("when a client reports disable failure", func() {
			It("still waits for the timeout and tears down", func() {
				fixture.respondWith("alpha", 10*time.Millisecond, true)
				fixture.respondWith("beta", 10*time.Millisecond, false)

				start := time.Now()
				Expect(fixture.registry.Unload(context.Background(), "chat", 200*time.Millisecond)).To(Succeed())
				Expect(time.Since(start)).To(BeNumerically(">=", 200*time.Millisecond))

				_, ok := fixture.registry.Descriptor("chat")
				Expect(ok).To(BeFalse())
			})
		})
	})

	Describe("reload cycle", func() {
		It("accepts the identifier again once unload completes", func() {
			fixture.respondWith("alpha", 10*time.Millisecond, true)
			fixture.respondWith("beta", 10*time.Millisecond, true)

			Expect(fixture.registry.Unload(context.Background(), "chat", 5*time.Second)).To(Succeed())
			Expect(fixture.registry.Load(context.Background(), newFakePlugin("chat", "2.0.0"))).To(Succeed())

			desc, ok := fixture.registry.Descriptor("chat")
			Expect(ok).To(BeTrue())
			Expect(desc.Version).To(Equal("2.0.0"))
		})

		It("announces load and unload state changes to clients", func() {
			fixture.respondWith("alpha", 10*time.Millisecond, true)
			fixture.respondWith("beta", 10*time.Millisecond, true)

			Expect(fixture.registry.Unload(context.Background(), "chat", 5*time.Second)).To(Succeed())

			Eventually(fixture.notifier.stateChangeCount).Should(Equal(2))
			fixture.notifier.mu.Lock()
			defer fixture.notifier.mu.Unlock()
			Expect(fixture.notifier.stateChanges[0].IsLoading).To(BeTrue())
			Expect(fixture.notifier.stateChanges[1].IsLoading).To(BeFalse())
		})
	})
})
