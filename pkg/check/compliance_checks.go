// SPDX-License-Identifier: Apache-2.0

package check

import (
	"context"
	"fmt"
	"time"

	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

func complianceChecks() []Check {
	return []Check{
		auditLogCoverageCheck(),
		retentionPolicyCheck(),
	}
}

// auditLogCoverageCheck flags a missing or empty audit trail: it looks for
// an __audit_log table and fails if none is found or if it holds no
// entries. The age of the entries is not checked, and the declared
// max_silence_hours parameter is not read.
func auditLogCoverageCheck() Check {
	def := Definition{
		ID:              "COMP001",
		Name:            "Audit Log Coverage",
		Description:     "Checks that the audit log table exists and has at least one entry",
		Category:        CategoryCompliance,
		DefaultSeverity: SeverityHigh,
		Parameters:      []byte(`{"max_silence_hours": 24}`),
		ParameterSchema: []byte(`{"type":"object","properties":{"max_silence_hours":{"type":"number","minimum":1}}}`),
		Frameworks:      []string{"SOC2", "HIPAA", "PCI-DSS", "GDPR"},
		Tags:            []string{"compliance", "audit"},
		Enabled:         true,
	}
	return Func{Def: def, Run: func(ctx context.Context, db dbconn.DB, def Definition) Result {
		start := time.Now()
		existsQuery := tableExistsQuery(db.Engine(), "__audit_log")
		rows, err := db.QueryContext(ctx, existsQuery)
		if err != nil {
			return newResult(def, StatusError, fmt.Sprintf("failed to check audit log table: %v", err), withDuration(time.Since(start)))
		}
		exists := rows.Next()
		rows.Close()

		if !exists {
			return newResult(def, StatusFailed, "No __audit_log table found",
				withRemediation("Enable dbsentinel's audit log writer for this connection"),
				withDuration(time.Since(start)))
		}

		countRows, err := db.QueryContext(ctx, "SELECT COUNT(*) FROM __audit_log")
		if err != nil {
			return newResult(def, StatusError, fmt.Sprintf("failed to count audit log entries: %v", err), withDuration(time.Since(start)))
		}
		var count int
		if err := dbconn.ScanFirstValue(countRows, &count); err != nil {
			countRows.Close()
			return newResult(def, StatusError, fmt.Sprintf("failed to count audit log entries: %v", err), withDuration(time.Since(start)))
		}
		countRows.Close()

		if count == 0 {
			return newResult(def, StatusFailed, "Audit log table exists but has no entries",
				withRemediation("Confirm the audit log writer is active and reachable"),
				withDuration(time.Since(start)))
		}

		return newResult(def, StatusPassed, fmt.Sprintf("Audit log active with %d recorded entries", count), withDuration(time.Since(start)))
	}}
}

// retentionPolicyCheck flags tenants/tables with no declared retention
// policy: the absence of a housekeeping artifact is itself the failure.
func retentionPolicyCheck() Check {
	def := Definition{
		ID:              "COMP002",
		Name:            "Data Retention Policy Presence",
		Description:     "Checks that a data retention policy table is present and populated",
		Category:        CategoryCompliance,
		DefaultSeverity: SeverityMedium,
		Frameworks:      []string{"SOC2", "HIPAA"},
		Tags:            []string{"compliance", "retention", "data-governance"},
		Enabled:         true,
	}
	return Func{Def: def, Run: func(ctx context.Context, db dbconn.DB, def Definition) Result {
		start := time.Now()
		existsQuery := tableExistsQuery(db.Engine(), "data_retention_policies")
		rows, err := db.QueryContext(ctx, existsQuery)
		if err != nil {
			return newResult(def, StatusError, fmt.Sprintf("failed to check retention policy table: %v", err), withDuration(time.Since(start)))
		}
		exists := rows.Next()
		rows.Close()

		if !exists {
			return newResult(def, StatusWarning, "No data_retention_policies table found",
				withRemediation("Define a retention policy per sensitive table, tracked in a data_retention_policies table"),
				withDuration(time.Since(start)))
		}

		countRows, err := db.QueryContext(ctx, "SELECT COUNT(*) FROM data_retention_policies")
		if err != nil {
			return newResult(def, StatusError, fmt.Sprintf("failed to count retention policies: %v", err), withDuration(time.Since(start)))
		}
		var count int
		if err := dbconn.ScanFirstValue(countRows, &count); err != nil {
			countRows.Close()
			return newResult(def, StatusError, fmt.Sprintf("failed to count retention policies: %v", err), withDuration(time.Since(start)))
		}
		countRows.Close()

		if count == 0 {
			return newResult(def, StatusWarning, "data_retention_policies table exists but has no rows",
				withRemediation("Populate at least one retention policy before declaring compliance"),
				withDuration(time.Since(start)))
		}
		return newResult(def, StatusPassed, fmt.Sprintf("%d retention polic(y/ies) on record", count), withDuration(time.Since(start)))
	}}
}

func tableExistsQuery(engine schema.Engine, table string) string {
	if engine == schema.EngineSQLServer {
		return "SELECT 1 FROM sys.tables WHERE name = '" + table + "'"
	}
	return "SELECT 1 FROM information_schema.tables WHERE table_name = '" + table + "'"
}
