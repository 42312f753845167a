// SPDX-License-Identifier: Apache-2.0

package migration

import "fmt"

// PlanError is returned when a set of migrations cannot be ordered, for
// example because their Dependencies form a cycle.
type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("unable to plan migrations: %s", e.Reason)
}

// ValidationError is returned by Validate when a migration fails one of its
// structural checks before ever touching a connection.
type ValidationError struct {
	MigrationID string
	Reasons     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("migration %q failed validation: %v", e.MigrationID, e.Reasons)
}

// MigrationFailed wraps a failure that occurred partway through applying a
// migration's steps.
type MigrationFailed struct {
	MigrationID   string
	StepOrder     int
	StepsExecuted int
	Err           error
}

func (e *MigrationFailed) Error() string {
	return fmt.Sprintf("migration %q failed at step %d (%d steps executed): %v",
		e.MigrationID, e.StepOrder, e.StepsExecuted, e.Err)
}

func (e *MigrationFailed) Unwrap() error { return e.Err }

// AlreadyAppliedError is returned by Execute when the migration's ID is
// already present in the ledger.
type AlreadyAppliedError struct {
	MigrationID string
}

func (e *AlreadyAppliedError) Error() string {
	return fmt.Sprintf("migration %q is already applied", e.MigrationID)
}

// LedgerDiscrepancyError is returned when a migration's DDL steps committed
// successfully but the ledger insert recording that fact failed. The
// database is now ahead of the ledger; dbsentinel does not attempt a
// compensating rollback since the already-committed DDL may not be
// reversible.
type LedgerDiscrepancyError struct {
	MigrationID string
	Err         error
}

func (e *LedgerDiscrepancyError) Error() string {
	return fmt.Sprintf("migration %q applied but ledger record failed, database and ledger are now out of sync: %v",
		e.MigrationID, e.Err)
}

func (e *LedgerDiscrepancyError) Unwrap() error { return e.Err }
