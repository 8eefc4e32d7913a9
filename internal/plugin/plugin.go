// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

// Package plugin provides the plugin registry, lifecycle control, and the
// unload confirmation protocol.
package plugin

import (
	"context"

	"github.com/Masterminds/semver/v3"
)

// RetCode classifies the outcome of a message dispatch.
type RetCode int32

// Result codes returned to message dispatch and registration callers.
const (
	RetSuccess RetCode = iota
	RetPluginNotFound
	RetServerInternalError
	RetInvalidRequest
)

// String returns the string representation of a RetCode.
func (c RetCode) String() string {
	switch c {
	case RetSuccess:
		return "success"
	case RetPluginNotFound:
		return "plugin_not_found"
	case RetServerInternalError:
		return "server_internal_error"
	case RetInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// Descriptor is the immutable identity and compatibility metadata of a
// plugin. Identifier is the globally unique, stable key.
type Descriptor struct {
	Identifier       string `json:"identifier"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Version          string `json:"version"`
	MinClientVersion string `json:"min_client_version"`
	MaxClientVersion string `json:"max_client_version,omitempty"`
}

// Message is the typed payload a plugin returns from HandleMessage.
type Message struct {
	Type    string
	Payload []byte
}

// Response is what message dispatch returns to the transport layer.
type Response struct {
	Code        RetCode
	MessageType string
	Payload     []byte
}

// Plugin is a server-side capability unit managed by the Registry.
type Plugin interface {
	// Descriptor returns the plugin's identity and version metadata.
	Descriptor() Descriptor

	// OnLoad is invoked before the plugin is registered. An error aborts
	// the load.
	OnLoad(ctx context.Context) error

	// OnUnload is invoked during teardown. An error is reported but does
	// not keep the plugin registered.
	OnUnload(ctx context.Context) error

	// HandleMessage processes one client message and returns the reply.
	HandleMessage(ctx context.Context, clientID, messageType string, payload []byte) (Message, error)

	// IsCompatible reports whether a client running clientVersion may use
	// this plugin.
	IsCompatible(clientVersion string) bool
}

// CompatibleRange reports whether clientVersion falls within the
// [minVersion, maxVersion] bounds. An empty bound is open; an unparsable
// client version is never compatible.
func CompatibleRange(clientVersion, minVersion, maxVersion string) bool {
	cv, err := semver.NewVersion(clientVersion)
	if err != nil {
		return false
	}
	if minVersion != "" {
		minV, err := semver.NewVersion(minVersion)
		if err != nil || cv.LessThan(minV) {
			return false
		}
	}
	if maxVersion != "" {
		maxV, err := semver.NewVersion(maxVersion)
		if err != nil || cv.GreaterThan(maxV) {
			return false
		}
	}
	return true
}
