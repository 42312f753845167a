// SPDX-License-Identifier: Apache-2.0

package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsentinel/dbsentinel/pkg/check"
	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
	"github.com/dbsentinel/dbsentinel/pkg/orchestrator"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

type fakeProvider struct{}

func (fakeProvider) Connect(ctx context.Context, connectionID string) (dbconn.DB, dbconn.ConnectionInfo, error) {
	return &dbconn.FakeDB{EngineName: schema.EnginePostgres}, dbconn.ConnectionInfo{ID: connectionID}, nil
}

func staticCheck(id string, status check.Status) check.Check {
	return check.Func{
		Def: check.Definition{ID: id, Name: id, Category: check.CategoryPerformance, DefaultSeverity: check.SeverityMedium, Enabled: true},
		Run: func(ctx context.Context, db dbconn.DB, def check.Definition) check.Result {
			return check.Result{CheckID: def.ID, CheckName: def.Name, Category: def.Category, Severity: def.DefaultSeverity, Status: status}
		},
	}
}

func slowCheck(id string, delay time.Duration) check.Check {
	return check.Func{
		Def: check.Definition{ID: id, Name: id, Enabled: true},
		Run: func(ctx context.Context, db dbconn.DB, def check.Definition) check.Result {
			select {
			case <-time.After(delay):
				return check.Result{CheckID: def.ID, Status: check.StatusPassed}
			case <-ctx.Done():
				return check.Result{CheckID: def.ID, Status: check.StatusError, Message: "cancelled"}
			}
		},
	}
}

func newRegistryWith(checks ...check.Check) *check.Registry {
	r := check.NewRegistry()
	for _, c := range checks {
		_ = r.Register(c)
	}
	return r
}

func TestRunChecksAggregatesWorstStatus(t *testing.T) {
	reg := newRegistryWith(staticCheck("A1", check.StatusPassed), staticCheck("A2", check.StatusWarning))
	o := orchestrator.New(orchestrator.DefaultConfig("tenant"), reg, fakeProvider{})

	exec, err := o.RunChecks(context.Background(), "conn1", orchestrator.Selection{CheckIDs: []string{"A1", "A2"}}, orchestrator.TriggerOnDemand, "", false)
	require.NoError(t, err)
	assert.Equal(t, check.StatusWarning, exec.Status)
	assert.Len(t, exec.Results, 2)
}

func TestRunChecksResultsAreSortedByID(t *testing.T) {
	reg := newRegistryWith(staticCheck("Z1", check.StatusPassed), staticCheck("A1", check.StatusPassed))
	o := orchestrator.New(orchestrator.DefaultConfig("tenant"), reg, fakeProvider{})

	exec, err := o.RunChecks(context.Background(), "conn1", orchestrator.Selection{CheckIDs: []string{"Z1", "A1"}}, orchestrator.TriggerOnDemand, "", false)
	require.NoError(t, err)
	require.Len(t, exec.Results, 2)
	assert.Equal(t, "A1", exec.Results[0].CheckID)
	assert.Equal(t, "Z1", exec.Results[1].CheckID)
}

func TestRunChecksTimesOutSlowCheck(t *testing.T) {
	reg := newRegistryWith(slowCheck("SLOW1", 500*time.Millisecond))
	cfg := orchestrator.DefaultConfig("tenant")
	cfg.CheckTimeout = 10 * time.Millisecond
	o := orchestrator.New(cfg, reg, fakeProvider{})

	exec, err := o.RunChecks(context.Background(), "conn1", orchestrator.Selection{CheckIDs: []string{"SLOW1"}}, orchestrator.TriggerOnDemand, "", false)
	require.NoError(t, err)
	require.Len(t, exec.Results, 1)
	assert.Equal(t, check.StatusError, exec.Results[0].Status)
}

func TestUpdateHealthComputesCategoryScores(t *testing.T) {
	reg := newRegistryWith(staticCheck("A1", check.StatusPassed), staticCheck("A2", check.StatusFailed))
	o := orchestrator.New(orchestrator.DefaultConfig("tenant"), reg, fakeProvider{})

	_, err := o.RunChecks(context.Background(), "conn1", orchestrator.Selection{CheckIDs: []string{"A1", "A2"}}, orchestrator.TriggerOnDemand, "", false)
	require.NoError(t, err)

	health, ok := o.GetHealth("conn1")
	require.True(t, ok)
	assert.Equal(t, 50.0, health.PerformanceScore)
}

func TestScheduledTriggerFiresOnceAndSkipsMissedTicks(t *testing.T) {
	trig, err := orchestrator.NewScheduledTrigger("* * * * *", []string{"A1"}, nil)
	require.NoError(t, err)

	past := trig.NextRun().Add(10 * time.Minute)
	assert.True(t, trig.ShouldFire(past))
	trig.Fire(past)
	assert.True(t, trig.NextRun().After(past))
}

func TestRunDeploymentChecksTagsTriggerSource(t *testing.T) {
	reg := newRegistryWith(staticCheck("A1", check.StatusPassed))
	o := orchestrator.New(orchestrator.DefaultConfig("tenant"), reg, fakeProvider{})
	o.AddDeploymentTrigger([]string{"A1"}, true, false)

	exec, err := o.RunDeploymentChecks(context.Background(), "conn1", "deploy-42", "before")
	require.NoError(t, err)
	assert.Equal(t, "deploy-42:before", exec.TriggerSource)
}
