// SPDX-License-Identifier: Apache-2.0

package check_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsentinel/dbsentinel/pkg/check"
)

func TestNewRegistryRegistersBuiltins(t *testing.T) {
	r := check.NewRegistry()
	defs := r.List(check.ListOptions{})
	assert.NotEmpty(t, defs)

	_, ok := r.GetDefinition("PERF001")
	assert.True(t, ok)
	assert.NotNil(t, r.Get("PERF001"))
}

func TestListFiltersByCategory(t *testing.T) {
	r := check.NewRegistry()
	perf := r.List(check.ListOptions{Category: check.CategoryPerformance})
	for _, d := range perf {
		assert.Equal(t, check.CategoryPerformance, d.Category)
	}
	assert.NotEmpty(t, perf)
}

func TestListFiltersByFramework(t *testing.T) {
	r := check.NewRegistry()
	hipaa := r.List(check.ListOptions{Framework: "HIPAA"})
	for _, d := range hipaa {
		found := false
		for _, f := range d.Frameworks {
			if f == "HIPAA" {
				found = true
			}
		}
		assert.True(t, found)
	}
}

func TestForFrameworkReturnsExecutableChecks(t *testing.T) {
	r := check.NewRegistry()
	checks := r.ForFramework("SOC2")
	assert.NotEmpty(t, checks)
	for _, c := range checks {
		assert.NotEmpty(t, c.Definition().ID)
	}
}

func TestRegisterRejectsInvalidParameters(t *testing.T) {
	r := check.NewRegistry()
	def := check.Definition{
		ID:              "CUSTOM001",
		Name:            "bad params",
		Enabled:         true,
		Parameters:      []byte(`{"threshold": "not-a-number"}`),
		ParameterSchema: []byte(`{"type":"object","properties":{"threshold":{"type":"number"}}}`),
	}
	c := check.Func{Def: def}
	err := r.Register(c)
	require.Error(t, err)
}

func TestRegisterAcceptsValidParameters(t *testing.T) {
	r := check.NewRegistry()
	def := check.Definition{
		ID:              "CUSTOM002",
		Name:            "good params",
		Enabled:         true,
		Parameters:      []byte(`{"threshold": 5}`),
		ParameterSchema: []byte(`{"type":"object","properties":{"threshold":{"type":"number"}}}`),
	}
	c := check.Func{Def: def}
	require.NoError(t, r.Register(c))
	assert.NotNil(t, r.Get("CUSTOM002"))
}
