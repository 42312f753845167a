// SPDX-License-Identifier: Apache-2.0

package migration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
	"github.com/dbsentinel/dbsentinel/pkg/migration"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

func sampleMigration() *migration.Migration {
	m := &migration.Migration{
		ID:      "m1",
		Name:    "add users email index",
		Version: "1",
		Engine:  schema.EnginePostgres,
		Steps: []migration.Step{
			{Order: 1, Description: "add index", ForwardSQL: "CREATE INDEX idx ON users(email);", RollbackSQL: "DROP INDEX idx;"},
		},
	}
	m.SetChecksum()
	return m
}

func TestValidateAcceptsMissingRollbackForIrreversibleStep(t *testing.T) {
	m := sampleMigration()
	m.Steps[0].RollbackSQL = ""
	m.SetChecksum()

	e := migration.NewExecutor(&dbconn.FakeDB{}, schema.EnginePostgres)
	assert.NoError(t, e.Validate(m))
}

func TestValidateRejectsMissingForwardSQL(t *testing.T) {
	m := sampleMigration()
	m.Steps[0].ForwardSQL = ""
	m.SetChecksum()

	e := migration.NewExecutor(&dbconn.FakeDB{}, schema.EnginePostgres)
	err := e.Validate(m)
	require.Error(t, err)
}

func TestValidateRejectsChecksumMismatch(t *testing.T) {
	m := sampleMigration()
	m.Checksum = "tampered"

	e := migration.NewExecutor(&dbconn.FakeDB{}, schema.EnginePostgres)
	err := e.Validate(m)
	require.Error(t, err)
}

func TestValidateRejectsDenylistedSQL(t *testing.T) {
	m := sampleMigration()
	m.Steps[0].ForwardSQL = "TRUNCATE users;"
	m.SetChecksum()

	e := migration.NewExecutor(&dbconn.FakeDB{}, schema.EnginePostgres)
	err := e.Validate(m)
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedMigration(t *testing.T) {
	m := sampleMigration()

	e := migration.NewExecutor(&dbconn.FakeDB{}, schema.EnginePostgres)
	assert.NoError(t, e.Validate(m))
}

func TestExecuteDryRunDoesNotTouchLedger(t *testing.T) {
	m := sampleMigration()
	e := migration.NewExecutor(&dbconn.FakeDB{}, schema.EnginePostgres)
	e.DryRun = true

	result, err := e.Execute(context.Background(), m, "tester")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.StepsExecuted)
}
