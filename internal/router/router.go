// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

// Package router delivers plugin traffic and lifecycle events to client
// command streams. Per-client sends are independent: one client's
// failure is logged and never aborts delivery to the others.
package router

import (
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/plughub/plughub/internal/observability"
	"github.com/plughub/plughub/internal/session"
	"github.com/plughub/plughub/internal/wire"
)

// Directory is the session lookup surface the router consumes.
type Directory interface {
	ActivatedSessions() []*session.Session
	Lookup(clientID ulid.ULID) *session.Session
}

// Router fans frames out to client outbound sinks.
type Router struct {
	dir Directory
}

// New creates a router over a session directory.
func New(dir Directory) *Router {
	return &Router{dir: dir}
}

// ActivatedClients returns the IDs of all activated sessions. This is
// the client set the registry seeds unload confirmations from.
func (r *Router) ActivatedClients() []string {
	sessions := r.dir.ActivatedSessions()
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ClientID.String())
	}
	return out
}

// SendToClient wraps a plugin payload in an envelope and enqueues it on
// one client's ordered sink. Unknown, inactive, or sinkless sessions are
// a warning no-op.
func (r *Router) SendToClient(clientID ulid.ULID, identifier, messageType string, payload []byte) {
	s := r.dir.Lookup(clientID)
	if s == nil || !s.Activated {
		slog.Warn("dropping envelope for unknown or inactive client",
			"client_id", clientID.String(),
			"plugin", identifier)
		observability.RecordRouted(string(wire.KindEnvelope), "dropped")
		return
	}

	frame, err := wire.NewFrame(wire.KindEnvelope, wire.Envelope{
		Identifier:  identifier,
		MessageType: messageType,
		Payload:     payload,
	})
	if err != nil {
		slog.Error("failed to encode envelope", "plugin", identifier, "error", err)
		observability.RecordRouted(string(wire.KindEnvelope), "encode_error")
		return
	}

	r.deliver(s, frame)
}

// Broadcast sends a plugin payload to every activated session
// independently.
func (r *Router) Broadcast(identifier, messageType string, payload []byte) {
	frame, err := wire.NewFrame(wire.KindEnvelope, wire.Envelope{
		Identifier:  identifier,
		MessageType: messageType,
		Payload:     payload,
	})
	if err != nil {
		slog.Error("failed to encode envelope", "plugin", identifier, "error", err)
		observability.RecordRouted(string(wire.KindEnvelope), "encode_error")
		return
	}
	r.fanOut(frame)
}

// BroadcastStateChange notifies activated clients that a plugin was
// loaded or unloaded.
func (r *Router) BroadcastStateChange(sc wire.StateChange) {
	r.broadcastEvent(wire.KindStateChange, sc)
}

// BroadcastDisableRequest asks activated clients to disable a plugin.
func (r *Router) BroadcastDisableRequest(dr wire.DisableRequest) {
	r.broadcastEvent(wire.KindDisableRequest, dr)
}

// BroadcastEnableRequest asks activated clients to re-enable a plugin.
func (r *Router) BroadcastEnableRequest(er wire.EnableRequest) {
	r.broadcastEvent(wire.KindEnableRequest, er)
}

func (r *Router) broadcastEvent(kind wire.Kind, body any) {
	frame, err := wire.NewFrame(kind, body)
	if err != nil {
		slog.Error("failed to encode event frame", "kind", string(kind), "error", err)
		observability.RecordRouted(string(kind), "encode_error")
		return
	}
	r.fanOut(frame)
}

// fanOut snapshots the activated sessions and delivers to each. The
// snapshot means a session activated mid-broadcast is simply missed;
// callers must not assume clients observed an event before traffic.
func (r *Router) fanOut(frame wire.Frame) {
	for _, s := range r.dir.ActivatedSessions() {
		r.deliver(s, frame)
	}
}

func (r *Router) deliver(s *session.Session, frame wire.Frame) {
	if err := s.Enqueue(frame); err != nil {
		slog.Warn("failed to enqueue frame",
			"client_id", s.ClientID.String(),
			"kind", string(frame.Kind),
			"error", err)
		observability.RecordRouted(string(frame.Kind), "enqueue_error")
		return
	}
	observability.RecordRouted(string(frame.Kind), "ok")
}
