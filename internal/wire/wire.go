// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

// Package wire defines the message shapes exchanged between the server
// core and connected clients. Frames are JSON-encoded; the transport
// layer carries them opaquely.
package wire

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Kind tags the body carried by a Frame.
type Kind string

// Frame kinds carried on a client's outbound sink.
const (
	KindStateChange    Kind = "state-change"
	KindDisableRequest Kind = "disable-request"
	KindEnableRequest  Kind = "enable-request"
	KindEnvelope       Kind = "envelope"
)

// Frame is the unit enqueued on a client's ordered outbound sink.
// Body holds the encoded shape named by Kind.
type Frame struct {
	Kind Kind   `json:"kind"`
	Body []byte `json:"body"`
}

// StateChange notifies clients that a plugin was loaded or unloaded.
type StateChange struct {
	Identifier string `json:"identifier"`
	Version    string `json:"version"`
	IsLoading  bool   `json:"is_loading"`
}

// DisableRequest asks a client to disable a plugin before unload.
type DisableRequest struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// DisableAck is a client's answer to a DisableRequest.
type DisableAck struct {
	ClientID   string `json:"client_id"`
	Identifier string `json:"identifier"`
	Success    bool   `json:"success"`
}

// EnableRequest asks clients to re-enable a previously disabled plugin.
type EnableRequest struct {
	Identifier string `json:"identifier"`
}

// EnableAck is a client's answer to an EnableRequest.
type EnableAck struct {
	ClientID   string `json:"client_id"`
	Identifier string `json:"identifier"`
	Success    bool   `json:"success"`
}

// Envelope carries an opaque plugin payload in either direction.
type Envelope struct {
	Identifier  string `json:"identifier"`
	MessageType string `json:"message_type"`
	Payload     []byte `json:"payload"`
}

// ClientPluginOffer is one entry of a client's registration exchange.
type ClientPluginOffer struct {
	Identifier string `json:"identifier"`
	Version    string `json:"version"`
	PureLocal  bool   `json:"pure_local"`
}

// RegistrationResult partitions a client's offered plugins.
type RegistrationResult struct {
	Compatible   []string `json:"compatible"`
	Incompatible []string `json:"incompatible"`
}

// NewFrame encodes body and wraps it in a Frame of the given kind.
func NewFrame(kind Kind, body any) (Frame, error) {
	data, err := sonic.Marshal(body)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s frame: %w", kind, err)
	}
	return Frame{Kind: kind, Body: data}, nil
}

// Decode unmarshals a frame body into out.
func Decode(frame Frame, out any) error {
	if err := sonic.Unmarshal(frame.Body, out); err != nil {
		return fmt.Errorf("decode %s frame: %w", frame.Kind, err)
	}
	return nil
}
