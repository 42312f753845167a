// SPDX-License-Identifier: Apache-2.0

// Package orchestrator runs checks against live connections on triggers
// (on-demand, scheduled, deployment-linked), aggregates their results into
// a CheckExecution, and rolls the outcome up into a per-connection
// DatabaseHealth cache.
package orchestrator

import (
	"time"

	"github.com/dbsentinel/dbsentinel/pkg/check"
)

// TriggerType identifies what caused a CheckExecution to run.
type TriggerType string

const (
	TriggerOnDemand   TriggerType = "on_demand"
	TriggerScheduled  TriggerType = "scheduled"
	TriggerDeployment TriggerType = "deployment"
)

// Config holds an Orchestrator's tunables.
type Config struct {
	TenantID            string
	MaxConcurrentChecks  int
	CheckTimeout         time.Duration
	ExcludedChecks       map[string]bool
	AlertOnCritical      bool
	AlertOnFailure       bool
	AlertWebhookURL      string

	// MonitoredConnections is the set of connection IDs the scheduler runs
	// ScheduledTrigger checks against on each tick.
	MonitoredConnections []string
}

// DefaultConfig returns the documented defaults (max_concurrent_checks=4,
// check_timeout_seconds=120).
func DefaultConfig(tenantID string) Config {
	return Config{
		TenantID:     tenantID,
		MaxConcurrentChecks: 4,
		CheckTimeout: 120 * time.Second,
	}
}

// CheckExecution aggregates the results of running a selection of checks
// against one connection, as a single addressable record.
type CheckExecution struct {
	ID            string
	TenantID      string
	ConnectionID  string
	TriggerType   TriggerType
	TriggerSource string
	Status        check.Status
	StartedAt     time.Time
	CompletedAt   *time.Time
	Results       []check.Result
	ErrorMessage  string
}

// PassedCount, FailedCount, WarningCount are derived from Results.
func (e *CheckExecution) PassedCount() int  { return e.countStatus(check.StatusPassed) }
func (e *CheckExecution) FailedCount() int  { return e.countStatus(check.StatusFailed) }
func (e *CheckExecution) WarningCount() int { return e.countStatus(check.StatusWarning) }

func (e *CheckExecution) countStatus(s check.Status) int {
	n := 0
	for _, r := range e.Results {
		if r.Status == s {
			n++
		}
	}
	return n
}

// DurationMS is the wall-clock time the execution took, or the time elapsed
// so far if still running.
func (e *CheckExecution) DurationMS() int64 {
	end := time.Now()
	if e.CompletedAt != nil {
		end = *e.CompletedAt
	}
	return end.Sub(e.StartedAt).Milliseconds()
}

// DatabaseHealth is the cached, continuously-refreshed health roll-up for
// one connection.
type DatabaseHealth struct {
	ConnectionID     string
	OverallStatus    check.Status
	LastCheck        time.Time
	ChecksPassed     int
	ChecksFailed     int
	ChecksWarning    int
	CriticalIssues   []check.Result
	PerformanceScore float64
	SecurityScore    float64
	ComplianceScore  float64
}

// Selection describes which checks a RunChecks call should execute.
type Selection struct {
	CheckIDs  []string
	Category  check.Category
	Framework string
}
