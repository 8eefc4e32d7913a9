// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

// Package session tracks connected client sessions and their outbound
// message sinks. The plugin core only reads activation state and writes
// frames; session lifecycle is driven by the transport layer.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/plughub/plughub/internal/wire"
)

// sinkBuffer is the per-client outbound frame buffer size.
const sinkBuffer = 100

// Session represents one connected client.
type Session struct {
	ClientID      ulid.ULID
	ClientVersion string
	Activated     bool
	LastActivity  time.Time

	sink chan wire.Frame
}

// Enqueue places a frame on the session's ordered outbound sink.
// The sink is never blocked on: a full buffer drops the frame and
// returns an error so callers can log per-client failures.
func (s *Session) Enqueue(frame wire.Frame) error {
	if s.sink == nil {
		return oops.Code("NO_SINK").
			With("client_id", s.ClientID.String()).
			Errorf("session has no outbound sink")
	}

	select {
	case s.sink <- frame:
		return nil
	default:
		return oops.Code("SINK_FULL").
			With("client_id", s.ClientID.String()).
			With("kind", string(frame.Kind)).
			Errorf("outbound sink full for client %s", s.ClientID.String())
	}
}

// Frames returns the channel the transport layer drains. A single
// consumer per session preserves enqueue order.
func (s *Session) Frames() <-chan wire.Frame {
	return s.sink
}

// copySession returns a defensive copy. The sink channel is shared on
// purpose; everything else is value state.
func copySession(s *Session) *Session {
	return &Session{
		ClientID:      s.ClientID,
		ClientVersion: s.ClientVersion,
		Activated:     s.Activated,
		LastActivity:  s.LastActivity,
		sink:          s.sink,
	}
}

// Manager manages client sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[ulid.ULID]*Session
}

// NewManager creates a new session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[ulid.ULID]*Session)}
}

// Connect registers a client connection. A reconnect replaces any prior
// session for the same client, abandoning its old sink.
func (m *Manager) Connect(clientID ulid.ULID, clientVersion string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{
		ClientID:      clientID,
		ClientVersion: clientVersion,
		LastActivity:  time.Now(),
		sink:          make(chan wire.Frame, sinkBuffer),
	}
	m.sessions[clientID] = s
	return copySession(s)
}

// Activate marks a session as having completed the activation handshake.
// Only activated sessions receive broadcasts and participate in unload
// confirmation.
func (m *Manager) Activate(clientID ulid.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[clientID]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").
			With("client_id", clientID.String()).
			Errorf("session not found for client %s", clientID.String())
	}
	s.Activated = true
	s.LastActivity = time.Now()
	return nil
}

// Deactivate clears a session's activation flag.
func (m *Manager) Deactivate(clientID ulid.ULID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[clientID]
	if !ok {
		slog.Debug("deactivate called for non-existent session",
			"client_id", clientID.String())
		return
	}
	s.Activated = false
}

// Disconnect removes a client's session.
func (m *Manager) Disconnect(clientID ulid.ULID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[clientID]; !ok {
		slog.Debug("disconnect called for non-existent session",
			"client_id", clientID.String())
		return
	}
	delete(m.sessions, clientID)
}

// Lookup returns a copy of a client's session, or nil if none exists.
func (m *Manager) Lookup(clientID ulid.ULID) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[clientID]
	if !ok {
		return nil
	}
	return copySession(s)
}

// UpdateActivity refreshes the last activity time for a session.
func (m *Manager) UpdateActivity(clientID ulid.ULID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[clientID]
	if !ok {
		slog.Debug("UpdateActivity called for non-existent session",
			"client_id", clientID.String())
		return
	}
	s.LastActivity = time.Now()
}

// ActivatedSessions returns copies of all activated sessions.
func (m *Manager) ActivatedSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Activated {
			out = append(out, copySession(s))
		}
	}
	return out
}
