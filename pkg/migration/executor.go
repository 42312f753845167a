// SPDX-License-Identifier: Apache-2.0

package migration

import (
	"context"
	"database/sql"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

const ledgerTable = "__migrations"

var goSeparator = regexp.MustCompile(`(?i)\bGO\b`)

var dangerousPatterns = []struct {
	pattern string
	message string
}{
	{"DROP DATABASE", "DROP DATABASE statements are not allowed"},
	{"TRUNCATE", "TRUNCATE statements require explicit approval"},
	{"XP_", "extended stored procedures (xp_) are not allowed"},
	{"SP_CONFIGURE", "sp_configure is not allowed in migrations"},
}

// ExecutionResult reports the outcome of applying one Migration.
type ExecutionResult struct {
	MigrationID   string
	Success       bool
	Status        Status
	StepsExecuted int
	StepsTotal    int
	Duration      time.Duration
	Err           error
}

// RollbackResult reports the outcome of rolling back one Migration.
type RollbackResult struct {
	MigrationID     string
	Success         bool
	StepsRolledBack int
	Duration        time.Duration
	Err             error
}

// Executor applies migrations to a live database and tracks them in a
// per-database __migrations ledger table.
type Executor struct {
	DB                 dbconn.DB
	Engine             schema.Engine
	DryRun             bool
	TransactionPerStep bool

	ledgerReady bool
}

// NewExecutor builds an Executor for the given engine and connection.
func NewExecutor(db dbconn.DB, engine schema.Engine) *Executor {
	return &Executor{DB: db, Engine: engine}
}

// EnsureLedger creates the __migrations tracking table if it does not
// already exist. On PostgreSQL this is guarded by an advisory transaction
// lock so concurrent executors racing to bootstrap the ledger do not
// collide.
func (e *Executor) EnsureLedger(ctx context.Context) error {
	if e.ledgerReady {
		return nil
	}
	if e.DryRun {
		e.ledgerReady = true
		return nil
	}

	create := e.createLedgerSQL()
	if e.Engine == schema.EnginePostgres {
		err := e.DB.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(8199823571)"); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, create)
			return err
		})
		if err != nil {
			return err
		}
	} else {
		if _, err := e.DB.ExecContext(ctx, create); err != nil {
			return err
		}
	}

	e.ledgerReady = true
	return nil
}

func (e *Executor) createLedgerSQL() string {
	if e.Engine == schema.EngineSQLServer {
		return `
IF NOT EXISTS (SELECT * FROM sys.tables WHERE name = '` + ledgerTable + `')
BEGIN
	CREATE TABLE ` + ledgerTable + ` (
		id NVARCHAR(100) PRIMARY KEY,
		name NVARCHAR(255) NOT NULL,
		version NVARCHAR(50) NOT NULL,
		checksum NVARCHAR(64) NOT NULL,
		applied_at DATETIME2 NOT NULL DEFAULT GETUTCDATE(),
		applied_by NVARCHAR(255),
		duration_ms INT,
		status NVARCHAR(20) NOT NULL
	)
END`
	}
	return `
CREATE TABLE IF NOT EXISTS ` + ledgerTable + ` (
	id VARCHAR(100) PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	version VARCHAR(50) NOT NULL,
	checksum VARCHAR(64) NOT NULL,
	applied_at TIMESTAMP NOT NULL DEFAULT NOW(),
	applied_by VARCHAR(255),
	duration_ms INT,
	status VARCHAR(20) NOT NULL
)`
}

// IsApplied reports whether a migration ID is already recorded in the
// ledger.
func (e *Executor) IsApplied(ctx context.Context, migrationID string) (bool, error) {
	if err := e.EnsureLedger(ctx); err != nil {
		return false, err
	}
	rows, err := e.DB.QueryContext(ctx, "SELECT 1 FROM "+ledgerTable+" WHERE id = "+placeholder(e.Engine, 1), migrationID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

// Execute applies a Migration's steps in order, recording the result in the
// ledger. Each statement runs directly on e.DB with no enclosing
// transaction, and TransactionPerStep is not consulted: if a step fails
// partway through, the steps already executed stay applied and are not
// undone.
func (e *Executor) Execute(ctx context.Context, m *Migration, appliedBy string) (*ExecutionResult, error) {
	start := time.Now()

	if err := e.Validate(m); err != nil {
		return &ExecutionResult{MigrationID: m.ID, Success: false, Status: StatusFailed}, err
	}

	if !e.DryRun {
		applied, err := e.IsApplied(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if applied {
			return &ExecutionResult{MigrationID: m.ID, Success: false, Status: StatusFailed}, &AlreadyAppliedError{MigrationID: m.ID}
		}

		if err := e.EnsureLedger(ctx); err != nil {
			return nil, err
		}
	}

	ordered := append([]Step(nil), m.Steps...)
	sortSteps(ordered)

	executed := 0
	for _, step := range ordered {
		if e.DryRun {
			executed++
			continue
		}

		if err := e.executeStatements(ctx, step.ForwardSQL); err != nil {
			return &ExecutionResult{
				MigrationID:   m.ID,
				Success:       false,
				Status:        StatusFailed,
				StepsExecuted: executed,
				StepsTotal:    len(ordered),
				Duration:      time.Since(start),
				Err:           err,
			}, &MigrationFailed{MigrationID: m.ID, StepOrder: step.Order, StepsExecuted: executed, Err: err}
		}
		executed++
	}

	if !e.DryRun {
		if err := e.record(ctx, m, appliedBy, time.Since(start)); err != nil {
			return &ExecutionResult{
				MigrationID:   m.ID,
				Success:       false,
				Status:        StatusApplied,
				StepsExecuted: executed,
				StepsTotal:    len(ordered),
				Duration:      time.Since(start),
				Err:           err,
			}, &LedgerDiscrepancyError{MigrationID: m.ID, Err: err}
		}
	}

	m.Status = StatusApplied
	m.AppliedBy = appliedBy

	return &ExecutionResult{
		MigrationID:   m.ID,
		Success:       true,
		Status:        StatusApplied,
		StepsExecuted: executed,
		StepsTotal:    len(ordered),
		Duration:      time.Since(start),
	}, nil
}

// Rollback applies a Migration's RollbackSQL in reverse step order. Steps
// with no RollbackSQL are skipped silently: they are neither counted in
// StepsRolledBack nor reported in the result or the returned error.
func (e *Executor) Rollback(ctx context.Context, m *Migration) (*RollbackResult, error) {
	start := time.Now()

	ordered := append([]Step(nil), m.Steps...)
	sortSteps(ordered)
	reverse(ordered)

	rolledBack := 0
	for _, step := range ordered {
		if step.RollbackSQL == "" {
			continue
		}
		if e.DryRun {
			rolledBack++
			continue
		}
		if err := e.executeStatements(ctx, step.RollbackSQL); err != nil {
			return &RollbackResult{
				MigrationID:     m.ID,
				Success:         false,
				StepsRolledBack: rolledBack,
				Duration:        time.Since(start),
				Err:             err,
			}, err
		}
		rolledBack++
	}

	if !e.DryRun {
		if err := e.updateStatus(ctx, m.ID, StatusRolledBack); err != nil {
			return nil, err
		}
	}
	m.Status = StatusRolledBack

	return &RollbackResult{
		MigrationID:     m.ID,
		Success:         true,
		StepsRolledBack: rolledBack,
		Duration:        time.Since(start),
	}, nil
}

// Validate checks a migration for structural problems before it is ever
// executed: no steps, a step with no forward SQL, a checksum mismatch (the
// file was edited after being generated), and denylisted SQL patterns.
// Missing RollbackSQL is not itself a validation failure: Generate leaves it
// empty for genuinely irreversible steps such as a dropped table or column,
// and rejecting those here would make every such migration unapplyable.
func (e *Executor) Validate(m *Migration) error {
	var reasons []string

	if len(m.Steps) == 0 {
		reasons = append(reasons, "migration has no steps")
	}

	for _, step := range m.Steps {
		if strings.TrimSpace(step.ForwardSQL) == "" {
			reasons = append(reasons, "step has no forward SQL")
		}
	}

	if m.Checksum != m.CalculateChecksum() {
		reasons = append(reasons, "checksum mismatch: content may have been modified after generation")
	}

	for _, step := range m.Steps {
		reasons = append(reasons, validateSQLSyntax(step.ForwardSQL)...)
	}

	if len(reasons) > 0 {
		return &ValidationError{MigrationID: m.ID, Reasons: reasons}
	}
	return nil
}

func validateSQLSyntax(sqlText string) []string {
	upper := strings.ToUpper(sqlText)
	var out []string
	for _, p := range dangerousPatterns {
		if strings.Contains(upper, p.pattern) {
			out = append(out, p.message)
		}
	}
	return out
}

func (e *Executor) executeStatements(ctx context.Context, sqlText string) error {
	for _, stmt := range splitStatements(e.Engine, sqlText) {
		if stmt == "" {
			continue
		}
		if _, err := e.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits a step's SQL text into individually-executable
// statements: on the GO batch separator for SQL Server, on semicolons
// otherwise.
func splitStatements(engine schema.Engine, sqlText string) []string {
	var parts []string
	if engine == schema.EngineSQLServer {
		parts = goSeparator.Split(sqlText, -1)
	} else {
		parts = strings.Split(sqlText, ";")
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (e *Executor) record(ctx context.Context, m *Migration, appliedBy string, d time.Duration) error {
	q := "INSERT INTO " + ledgerTable + " (id, name, version, checksum, applied_by, duration_ms, status) VALUES (" +
		placeholders(e.Engine, 7) + ")"
	_, err := e.DB.ExecContext(ctx, q, m.ID, m.Name, m.Version, m.Checksum, appliedBy, int(d.Milliseconds()), string(StatusApplied))
	return err
}

func (e *Executor) updateStatus(ctx context.Context, migrationID string, status Status) error {
	q := "UPDATE " + ledgerTable + " SET status = " + placeholder(e.Engine, 1) + " WHERE id = " + placeholder(e.Engine, 2)
	_, err := e.DB.ExecContext(ctx, q, string(status), migrationID)
	return err
}

func placeholder(engine schema.Engine, n int) string {
	if engine == schema.EngineSQLServer {
		return "@p" + strconv.Itoa(n)
	}
	return "$" + strconv.Itoa(n)
}

func placeholders(engine schema.Engine, count int) string {
	out := make([]string, count)
	for i := 0; i < count; i++ {
		out[i] = placeholder(engine, i+1)
	}
	return strings.Join(out, ", ")
}

func sortSteps(steps []Step) {
	for i := 1; i < len(steps); i++ {
		for j := i; j > 0 && steps[j-1].Order > steps[j].Order; j-- {
			steps[j-1], steps[j] = steps[j], steps[j-1]
		}
	}
}

func reverse(steps []Step) {
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
}
