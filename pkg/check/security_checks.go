// SPDX-License-Identifier: Apache-2.0

package check

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

func securityChecks() []Check {
	return []Check{
		publicSchemaGrantsCheck(),
		superuserConnectionsCheck(),
		unencryptedSensitiveColumnsCheck(),
	}
}

// publicSchemaGrantsCheck flags CREATE privilege held by the public
// role/schema: a single-row, binary pass/fail check that both engines
// support.
func publicSchemaGrantsCheck() Check {
	def := Definition{
		ID:              "SEC001",
		Name:            "Public Schema Write Grants",
		Description:     "Checks whether the public role can create objects in the default schema",
		Category:        CategorySecurity,
		DefaultSeverity: SeverityHigh,
		Frameworks:      []string{"SOC2", "HIPAA", "PCI-DSS", "GDPR"},
		Tags:            []string{"security", "permissions", "compliance"},
		Enabled:         true,
	}
	return Func{Def: def, Run: func(ctx context.Context, db dbconn.DB, def Definition) Result {
		start := time.Now()
		var query string
		if db.Engine() == schema.EngineSQLServer {
			query = `
SELECT dp.permission_name
FROM sys.database_permissions dp
JOIN sys.database_principals pr ON dp.grantee_principal_id = pr.principal_id
WHERE pr.name = 'public' AND dp.permission_name IN ('CREATE TABLE', 'CREATE PROCEDURE', 'CREATE VIEW')
AND dp.state = 'G'`
		} else {
			query = `
SELECT privilege_type
FROM information_schema.role_usage_grants
WHERE grantee = 'PUBLIC' AND object_schema = 'public' AND privilege_type = 'CREATE'
UNION
SELECT 'CREATE'
FROM pg_namespace n
WHERE n.nspname = 'public'
AND has_schema_privilege('public', n.oid, 'CREATE')`
		}

		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return newResult(def, StatusError, fmt.Sprintf("failed to check public schema grants: %v", err), withDuration(time.Since(start)))
		}
		defer rows.Close()

		var grants []string
		for rows.Next() {
			var g string
			if err := rows.Scan(&g); err != nil {
				return newResult(def, StatusError, fmt.Sprintf("failed to scan public schema grants: %v", err), withDuration(time.Since(start)))
			}
			grants = append(grants, g)
		}

		if len(grants) == 0 {
			return newResult(def, StatusPassed, "Public role has no CREATE privilege on the default schema", withDuration(time.Since(start)))
		}
		return newResult(def, StatusFailed, "Public role can create objects in the default schema",
			withDetails(grants),
			withRemediation("REVOKE CREATE ON SCHEMA public FROM PUBLIC (or the equivalent database-level grant)"),
			withDuration(time.Since(start)))
	}}
}

// superuserConnectionsCheck flags active sessions authenticated as a
// superuser/sysadmin principal by enumerating session/login metadata and
// flagging by role attribute.
func superuserConnectionsCheck() Check {
	def := Definition{
		ID:              "SEC002",
		Name:            "Superuser Connections",
		Description:     "Detects active sessions authenticated with superuser/sysadmin privilege",
		Category:        CategorySecurity,
		DefaultSeverity: SeverityHigh,
		Frameworks:      []string{"SOC2", "HIPAA", "PCI-DSS"},
		Tags:            []string{"security", "authentication"},
		Enabled:         true,
	}
	return Func{Def: def, Run: func(ctx context.Context, db dbconn.DB, def Definition) Result {
		start := time.Now()
		var query string
		if db.Engine() == schema.EngineSQLServer {
			query = `
SELECT s.login_name, s.session_id
FROM sys.dm_exec_sessions s
WHERE s.is_user_process = 1
AND IS_SRVROLEMEMBER('sysadmin', s.login_name) = 1`
		} else {
			query = `
SELECT a.usename, a.pid
FROM pg_stat_activity a
JOIN pg_user u ON u.usename = a.usename
WHERE u.usesuper AND a.pid != pg_backend_pid()`
		}

		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return newResult(def, StatusError, fmt.Sprintf("failed to check superuser connections: %v", err), withDuration(time.Since(start)))
		}
		defer rows.Close()

		type conn struct {
			Login string
			ID    int
		}
		var found []conn
		for rows.Next() {
			var c conn
			if err := rows.Scan(&c.Login, &c.ID); err != nil {
				return newResult(def, StatusError, fmt.Sprintf("failed to scan superuser connections: %v", err), withDuration(time.Since(start)))
			}
			found = append(found, c)
		}

		if len(found) == 0 {
			return newResult(def, StatusPassed, "No active superuser connections found", withDuration(time.Since(start)))
		}
		affected := make([]string, len(found))
		for i, c := range found {
			affected[i] = c.Login
		}
		return newResult(def, StatusWarning, fmt.Sprintf("Found %d active superuser connection(s)", len(found)),
			withDetails(found),
			withRemediation("Use a least-privilege role for application connections; reserve superuser for maintenance"),
			withAffected(affected),
			withDuration(time.Since(start)))
	}}
}

// unencryptedSensitiveColumnsCheck flags columns whose name suggests they
// hold sensitive data (password, ssn, credit card, token) but whose stored
// type is a plain text/varchar type rather than a binary/encrypted-at-rest
// type.
func unencryptedSensitiveColumnsCheck() Check {
	def := Definition{
		ID:              "SEC003",
		Name:            "Unencrypted Sensitive Columns",
		Description:     "Detects columns named after sensitive data that are stored as plain text",
		Category:        CategorySecurity,
		DefaultSeverity: SeverityCritical,
		Frameworks:      []string{"SOC2", "HIPAA", "PCI-DSS", "GDPR"},
		Tags:            []string{"security", "encryption", "compliance"},
		Enabled:         true,
	}
	sensitivePatterns := []string{"password", "ssn", "social_security", "credit_card", "card_number", "secret", "api_key"}

	return Func{Def: def, Run: func(ctx context.Context, db dbconn.DB, def Definition) Result {
		start := time.Now()
		query := `
SELECT table_schema, table_name, column_name, data_type
FROM information_schema.columns
WHERE data_type IN ('character varying', 'text', 'char', 'varchar', 'nvarchar', 'nchar')`

		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return newResult(def, StatusError, fmt.Sprintf("failed to check sensitive columns: %v", err), withDuration(time.Since(start)))
		}
		defer rows.Close()

		type col struct{ Schema, Table, Column, DataType string }
		var flagged []col
		for rows.Next() {
			var c col
			if err := rows.Scan(&c.Schema, &c.Table, &c.Column, &c.DataType); err != nil {
				return newResult(def, StatusError, fmt.Sprintf("failed to scan sensitive columns: %v", err), withDuration(time.Since(start)))
			}
			lower := strings.ToLower(c.Column)
			for _, p := range sensitivePatterns {
				if strings.Contains(lower, p) {
					flagged = append(flagged, c)
					break
				}
			}
		}

		if len(flagged) == 0 {
			return newResult(def, StatusPassed, "No plain-text columns matching sensitive-data naming patterns found", withDuration(time.Since(start)))
		}
		affected := make([]string, len(flagged))
		for i, c := range flagged {
			affected[i] = fmt.Sprintf("%s.%s.%s", c.Schema, c.Table, c.Column)
		}
		return newResult(def, StatusFailed, fmt.Sprintf("Found %d columns named after sensitive data stored as plain text", len(flagged)),
			withDetails(flagged),
			withRemediation("Encrypt these columns at rest or move the value to a vault/secrets store"),
			withAffected(affected),
			withDuration(time.Since(start)))
	}}
}
