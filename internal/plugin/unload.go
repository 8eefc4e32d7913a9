// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plughub/plughub/internal/observability"
)

// pendingUnload tracks per-client disable confirmations for one in-flight
// unload. The completion signal resolves exactly once, on the quorum path.
type pendingUnload struct {
	mu   sync.Mutex
	acks map[string]bool
	done chan struct{}
	once sync.Once
}

func newPendingUnload(clients []string) *pendingUnload {
	acks := make(map[string]bool, len(clients))
	for _, c := range clients {
		acks[c] = false
	}
	return &pendingUnload{
		acks: acks,
		done: make(chan struct{}),
	}
}

// ack records one client's confirmation. Clients outside the original set
// are ignored. Returns true if the flag was recorded.
func (pu *pendingUnload) ack(clientID string, success bool) bool {
	pu.mu.Lock()
	defer pu.mu.Unlock()

	if _, tracked := pu.acks[clientID]; !tracked {
		return false
	}
	pu.acks[clientID] = success

	for _, ok := range pu.acks {
		if !ok {
			return true
		}
	}
	pu.once.Do(func() { close(pu.done) })
	return true
}

// snapshot copies the confirmation map for observability.
func (pu *pendingUnload) snapshot() map[string]bool {
	pu.mu.Lock()
	defer pu.mu.Unlock()

	out := make(map[string]bool, len(pu.acks))
	for k, v := range pu.acks {
		out[k] = v
	}
	return out
}

// unconfirmed lists clients that have not acknowledged success.
func (pu *pendingUnload) unconfirmed() []string {
	pu.mu.Lock()
	defer pu.mu.Unlock()

	var out []string
	for c, ok := range pu.acks {
		if !ok {
			out = append(out, c)
		}
	}
	return out
}

// beginUnload creates the pending-unload record for an identifier. Only
// one unload per identifier may be in flight.
func (r *Registry) beginUnload(identifier string, clients []string) (*pendingUnload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[identifier]; exists {
		return nil, fmt.Errorf("%w: %s", ErrUnloadInFlight, identifier)
	}
	pu := newPendingUnload(clients)
	r.pending[identifier] = pu
	return pu, nil
}

// awaitConfirmation races the completion signal against the timeout and
// reports the completion mode. The pending record is removed on every
// exit path so late acknowledgements become no-ops.
func (r *Registry) awaitConfirmation(ctx context.Context, identifier string, pu *pendingUnload, timeout time.Duration) string {
	defer func() {
		r.mu.Lock()
		delete(r.pending, identifier)
		r.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-pu.done:
		return "quorum"
	case <-timer.C:
		slog.Warn("unload confirmation timed out, forcing completion",
			"plugin", identifier,
			"timeout", timeout,
			"unconfirmed", pu.unconfirmed())
		return "forced"
	case <-ctx.Done():
		slog.Warn("unload wait canceled, forcing completion",
			"plugin", identifier,
			"error", ctx.Err())
		return "forced"
	}
}

// AcknowledgeDisable records a client's answer to a disable request. Late
// acknowledgements and clients outside the original set are ignored.
// A success=false answer is recorded but never resolves the protocol
// early; such a plugin is torn down once the timeout elapses.
func (r *Registry) AcknowledgeDisable(clientID, identifier string, success bool) {
	r.mu.RLock()
	pu, ok := r.pending[identifier]
	r.mu.RUnlock()
	if !ok {
		slog.Debug("disable ack with no pending unload",
			"plugin", identifier,
			"client_id", clientID)
		return
	}

	if !pu.ack(clientID, success) {
		slog.Debug("disable ack from untracked client",
			"plugin", identifier,
			"client_id", clientID)
		return
	}

	if !success {
		slog.Warn("client reported failure to disable plugin",
			"plugin", identifier,
			"client_id", clientID)
	}
}

// AcknowledgeEnable records a client's answer to an enable request.
// Enable acknowledgements are best-effort observability; they gate nothing.
func (r *Registry) AcknowledgeEnable(clientID, identifier string, success bool) {
	observability.RecordEnableAck(success)
	slog.Debug("enable ack",
		"plugin", identifier,
		"client_id", clientID,
		"success", success)
}

// PendingUnloadStatus returns the per-client confirmation map of an
// in-flight unload, or false when none exists.
func (r *Registry) PendingUnloadStatus(identifier string) (map[string]bool, bool) {
	r.mu.RLock()
	pu, ok := r.pending[identifier]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return pu.snapshot(), true
}
