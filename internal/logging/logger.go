// SPDX-License-Identifier: Apache-2.0

// Package logging provides the structured logger every dbsentinel
// component logs through.
package logging

import (
	"github.com/pterm/pterm"

	"github.com/dbsentinel/dbsentinel/pkg/check"
	"github.com/dbsentinel/dbsentinel/pkg/migration"
	"github.com/dbsentinel/dbsentinel/pkg/orchestrator"
)

// Logger is the structured event logger passed down into the snapshot,
// migration, and check-execution code paths.
type Logger interface {
	LogSnapshotTaken(connectionID, snapshotID string, tableCount int)
	LogDiffComputed(sourceID, targetID string, changeCount int, breaking bool)

	LogMigrationStart(m *migration.Migration)
	LogMigrationComplete(m *migration.Migration)
	LogMigrationRollback(m *migration.Migration)
	LogMigrationRollbackComplete(m *migration.Migration)
	LogStepStart(step migration.Step)
	LogStepComplete(step migration.Step)

	LogCheckExecutionStart(connectionID string, trigger orchestrator.TriggerType)
	LogCheckExecutionComplete(exec *orchestrator.CheckExecution)
	LogCheckResult(r check.Result)

	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type ptermLogger struct {
	logger pterm.Logger
}

type noopLogger struct{}

// New returns a Logger backed by pterm's structured text printer.
func New() Logger {
	return &ptermLogger{logger: pterm.DefaultLogger}
}

// NewNoop returns a Logger that discards everything, for tests and library
// callers that want silence by default.
func NewNoop() Logger {
	return &noopLogger{}
}

func (l *ptermLogger) LogSnapshotTaken(connectionID, snapshotID string, tableCount int) {
	l.logger.Info("snapshot taken", l.logger.Args(
		"connection_id", connectionID,
		"snapshot_id", snapshotID,
		"table_count", tableCount,
	))
}

func (l *ptermLogger) LogDiffComputed(sourceID, targetID string, changeCount int, breaking bool) {
	l.logger.Info("diff computed", l.logger.Args(
		"source_snapshot_id", sourceID,
		"target_snapshot_id", targetID,
		"change_count", changeCount,
		"breaking_change", breaking,
	))
}

func (l *ptermLogger) LogMigrationStart(m *migration.Migration) {
	l.logger.Info("starting migration", l.logger.Args(
		"id", m.ID,
		"name", m.Name,
		"step_count", len(m.Steps),
	))
}

func (l *ptermLogger) LogMigrationComplete(m *migration.Migration) {
	l.logger.Info("completed migration", l.logger.Args(
		"id", m.ID,
		"name", m.Name,
		"step_count", len(m.Steps),
	))
}

func (l *ptermLogger) LogMigrationRollback(m *migration.Migration) {
	l.logger.Info("rolling back migration", l.logger.Args("id", m.ID, "name", m.Name))
}

func (l *ptermLogger) LogMigrationRollbackComplete(m *migration.Migration) {
	l.logger.Info("rolled back migration", l.logger.Args("id", m.ID, "name", m.Name))
}

func (l *ptermLogger) LogStepStart(step migration.Step) {
	l.logger.Info("starting step", l.logger.Args("order", step.Order, "description", step.Description))
}

func (l *ptermLogger) LogStepComplete(step migration.Step) {
	l.logger.Info("completed step", l.logger.Args("order", step.Order, "description", step.Description))
}

func (l *ptermLogger) LogCheckExecutionStart(connectionID string, trigger orchestrator.TriggerType) {
	l.logger.Info("check execution started", l.logger.Args("connection_id", connectionID, "trigger", string(trigger)))
}

func (l *ptermLogger) LogCheckExecutionComplete(exec *orchestrator.CheckExecution) {
	l.logger.Info("check execution completed", l.logger.Args(
		"execution_id", exec.ID,
		"connection_id", exec.ConnectionID,
		"status", string(exec.Status),
		"passed", exec.PassedCount(),
		"failed", exec.FailedCount(),
		"warning", exec.WarningCount(),
		"duration_ms", exec.DurationMS(),
	))
}

func (l *ptermLogger) LogCheckResult(r check.Result) {
	l.logger.Info("check result", l.logger.Args(
		"check_id", r.CheckID,
		"status", string(r.Status),
		"severity", string(r.Severity),
		"message", r.Message,
	))
}

func (l *ptermLogger) Info(msg string, args ...any)  { l.logger.Info(msg, l.logger.Args(args)) }
func (l *ptermLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, l.logger.Args(args)) }
func (l *ptermLogger) Error(msg string, args ...any) { l.logger.Error(msg, l.logger.Args(args)) }

func (l *noopLogger) LogSnapshotTaken(connectionID, snapshotID string, tableCount int)   {}
func (l *noopLogger) LogDiffComputed(sourceID, targetID string, changeCount int, b bool) {}
func (l *noopLogger) LogMigrationStart(m *migration.Migration)                          {}
func (l *noopLogger) LogMigrationComplete(m *migration.Migration)                       {}
func (l *noopLogger) LogMigrationRollback(m *migration.Migration)                       {}
func (l *noopLogger) LogMigrationRollbackComplete(m *migration.Migration)               {}
func (l *noopLogger) LogStepStart(step migration.Step)                                  {}
func (l *noopLogger) LogStepComplete(step migration.Step)                               {}
func (l *noopLogger) LogCheckExecutionStart(connectionID string, t orchestrator.TriggerType) {
}
func (l *noopLogger) LogCheckExecutionComplete(exec *orchestrator.CheckExecution) {}
func (l *noopLogger) LogCheckResult(r check.Result)                              {}
func (l *noopLogger) Info(msg string, args ...any)                               {}
func (l *noopLogger) Warn(msg string, args ...any)                               {}
func (l *noopLogger) Error(msg string, args ...any)                              {}
