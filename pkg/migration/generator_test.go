// SPDX-License-Identifier: Apache-2.0

package migration_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsentinel/dbsentinel/pkg/differ"
	"github.com/dbsentinel/dbsentinel/pkg/migration"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

func addColumnDiff(maxLength *int, nullable, hasDefault bool) *differ.SchemaDiff {
	newValue := map[string]any{
		"dataType":   schema.TypeDateTime,
		"nullable":   nullable,
		"hasDefault": hasDefault,
	}
	if maxLength != nil {
		newValue["maxLength"] = *maxLength
	}
	return &differ.SchemaDiff{
		Differences: []differ.DiffItem{
			{
				ObjectType:     differ.ObjectColumn,
				ObjectName:     "dbo.Users.LastLogin",
				ChangeType:     differ.ChangeAdded,
				NewValue:       newValue,
				BreakingChange: !nullable && !hasDefault,
			},
		},
	}
}

func TestGenerateColumnAddedEmitsValidSQLServerDDL(t *testing.T) {
	diff := addColumnDiff(nil, true, false)

	m := migration.Generate("m1", "add last login", "v1.0.0", schema.EngineSQLServer, diff)

	require.Len(t, m.Steps, 1)
	step := m.Steps[0]
	assert.Equal(t, "ALTER TABLE [dbo].[Users] ADD [LastLogin] DATETIME2 NULL;", step.ForwardSQL)
	assert.Equal(t, "ALTER TABLE [dbo].[Users] DROP COLUMN [LastLogin];", step.RollbackSQL)
	assert.NotContains(t, step.ForwardSQL, "ADD COLUMN")
	assert.NotContains(t, step.ForwardSQL, "/* type */")
}

func TestGenerateColumnAddedEmitsValidPostgresDDL(t *testing.T) {
	diff := addColumnDiff(nil, true, false)

	m := migration.Generate("m1", "add last login", "v1.0.0", schema.EnginePostgres, diff)

	require.Len(t, m.Steps, 1)
	step := m.Steps[0]
	assert.True(t, strings.HasPrefix(step.ForwardSQL, `ALTER TABLE "dbo"."Users" ADD COLUMN "LastLogin" TIMESTAMP`))
}

func TestGenerateAddedNotNullColumnWithoutDefaultRequiresLock(t *testing.T) {
	diff := addColumnDiff(nil, false, false)

	m := migration.Generate("m1", "add required column", "v1.0.0", schema.EnginePostgres, diff)

	require.Len(t, m.Steps, 1)
	assert.True(t, m.Steps[0].RequiresLock)
	assert.Greater(t, m.Steps[0].EstimatedDurationMs, int64(0))
}

func TestGenerateAddedNullableColumnDoesNotRequireLock(t *testing.T) {
	diff := addColumnDiff(nil, true, false)

	m := migration.Generate("m1", "add optional column", "v1.0.0", schema.EnginePostgres, diff)

	require.Len(t, m.Steps, 1)
	assert.False(t, m.Steps[0].RequiresLock)
}

func TestGenerateDroppedColumnLeavesRollbackEmpty(t *testing.T) {
	diff := &differ.SchemaDiff{
		Differences: []differ.DiffItem{
			{
				ObjectType:     differ.ObjectColumn,
				ObjectName:     "public.users.legacy_flag",
				ChangeType:     differ.ChangeRemoved,
				OldValue:       map[string]any{"dataType": schema.TypeBoolean},
				BreakingChange: true,
			},
		},
	}

	m := migration.Generate("m1", "drop legacy flag", "v1.0.0", schema.EnginePostgres, diff)

	require.Len(t, m.Steps, 1)
	assert.Empty(t, m.Steps[0].RollbackSQL)
	assert.True(t, m.Steps[0].RequiresLock)
}

func TestGenerateDroppedTableLeavesRollbackEmpty(t *testing.T) {
	diff := &differ.SchemaDiff{
		Differences: []differ.DiffItem{
			{
				ObjectType:     differ.ObjectTable,
				ObjectName:     "public.archive",
				ChangeType:     differ.ChangeRemoved,
				BreakingChange: true,
			},
		},
	}

	m := migration.Generate("m1", "drop archive table", "v1.0.0", schema.EnginePostgres, diff)

	require.Len(t, m.Steps, 1)
	assert.Empty(t, m.Steps[0].RollbackSQL)
}

func TestBreakingChangesClassifiesRemovedObjectAsCriticalDataLoss(t *testing.T) {
	diff := &differ.SchemaDiff{
		Differences: []differ.DiffItem{
			{
				ObjectType:     differ.ObjectTable,
				ObjectName:     "public.archive",
				ChangeType:     differ.ChangeRemoved,
				BreakingChange: true,
			},
		},
	}

	changes := migration.BreakingChanges(diff)

	require.Len(t, changes, 1)
	assert.Equal(t, migration.SeverityCritical, changes[0].Severity)
	assert.True(t, changes[0].DataLossRisk)
	assert.NotEmpty(t, changes[0].Description)
}

func TestBreakingChangesClassifiesPrimaryKeyChange(t *testing.T) {
	diff := &differ.SchemaDiff{
		Differences: []differ.DiffItem{
			{
				ObjectType:     differ.ObjectPrimaryKey,
				ObjectName:     "public.users",
				ChangeType:     differ.ChangeModified,
				BreakingChange: true,
				Details: map[string]differ.FieldChange{
					"primary_key_columns": {From: "id", To: "id,email"},
				},
			},
		},
	}

	changes := migration.BreakingChanges(diff)

	require.Len(t, changes, 1)
	assert.Equal(t, migration.SeverityCritical, changes[0].Severity)
	assert.False(t, changes[0].DataLossRisk)
}

func TestBreakingChangesSkipsNonBreakingDifferences(t *testing.T) {
	diff := &differ.SchemaDiff{
		Differences: []differ.DiffItem{
			{ObjectType: differ.ObjectIndex, ObjectName: "public.users.idx_email", ChangeType: differ.ChangeAdded},
		},
	}

	assert.Empty(t, migration.BreakingChanges(diff))
}
