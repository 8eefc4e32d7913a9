// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plughub/plughub/internal/services"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := services.NewRegistry()
	reg.Register("database", map[string]string{"dsn": "postgres://localhost/hub"})

	spec, ok := reg.Lookup("database")
	require.True(t, ok)
	assert.Equal(t, "database", spec.Name)
	assert.Equal(t, "postgres://localhost/hub", spec.Config["dsn"])

	_, ok = reg.Lookup("cache")
	assert.False(t, ok)
}

func TestRegistry_RegisterCopiesConfig(t *testing.T) {
	reg := services.NewRegistry()

	cfg := map[string]string{"dsn": "original"}
	reg.Register("database", cfg)
	cfg["dsn"] = "mutated"

	spec, ok := reg.Lookup("database")
	require.True(t, ok)
	assert.Equal(t, "original", spec.Config["dsn"], "registered config must not alias the caller's map")
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	reg := services.NewRegistry()
	reg.Register("database", map[string]string{"dsn": "old"})
	reg.Register("database", map[string]string{"dsn": "new"})

	spec, _ := reg.Lookup("database")
	assert.Equal(t, "new", spec.Config["dsn"])
	assert.Len(t, reg.Specs(), 1)
}

func TestRegistry_SpecsSorted(t *testing.T) {
	reg := services.NewRegistry()
	reg.Register("metrics", nil)
	reg.Register("cache", nil)
	reg.Register("database", nil)

	specs := reg.Specs()
	require.Len(t, specs, 3)
	assert.Equal(t, "cache", specs[0].Name)
	assert.Equal(t, "database", specs[1].Name)
	assert.Equal(t, "metrics", specs[2].Name)
}
