// SPDX-License-Identifier: Apache-2.0

package migration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsentinel/dbsentinel/pkg/migration"
)

func TestCreatePlanOrdersByDependency(t *testing.T) {
	a := &migration.Migration{ID: "a"}
	b := &migration.Migration{ID: "b", Dependencies: []string{"a"}}
	c := &migration.Migration{ID: "c", Dependencies: []string{"b"}}

	plan, err := migration.CreatePlan([]*migration.Migration{c, a, b})
	require.NoError(t, err)

	var order []string
	for _, m := range plan.Migrations {
		order = append(order, m.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestCreatePlanDetectsCycle(t *testing.T) {
	a := &migration.Migration{ID: "a", Dependencies: []string{"b"}}
	b := &migration.Migration{ID: "b", Dependencies: []string{"a"}}

	_, err := migration.CreatePlan([]*migration.Migration{a, b})
	require.Error(t, err)
}

func TestCreatePlanBreaksTiesLexicographically(t *testing.T) {
	a := &migration.Migration{ID: "zzz"}
	b := &migration.Migration{ID: "aaa"}

	plan, err := migration.CreatePlan([]*migration.Migration{a, b})
	require.NoError(t, err)
	assert.Equal(t, "aaa", plan.Migrations[0].ID)
}
