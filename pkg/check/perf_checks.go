// SPDX-License-Identifier: Apache-2.0

package check

import (
	"context"
	"fmt"
	"time"

	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

func performanceChecks() []Check {
	return []Check{
		missingIndexCheck(),
		unusedIndexCheck(),
		tableBloatCheck(),
	}
}

// missingIndexCheck flags foreign key columns with no supporting index.
func missingIndexCheck() Check {
	def := Definition{
		ID:              "PERF001",
		Name:            "Missing Foreign Key Indexes",
		Description:     "Detects foreign key columns without a supporting index",
		Category:        CategoryPerformance,
		DefaultSeverity: SeverityMedium,
		Frameworks:      []string{"SOC2"},
		Tags:            []string{"performance", "indexes"},
		Enabled:         true,
	}
	return Func{Def: def, Run: func(ctx context.Context, db dbconn.DB, def Definition) Result {
		start := time.Now()
		var query string
		if db.Engine() == schema.EngineSQLServer {
			query = `
SELECT OBJECT_SCHEMA_NAME(fk.parent_object_id), OBJECT_NAME(fk.parent_object_id),
       COL_NAME(fkc.parent_object_id, fkc.parent_column_id), fk.name
FROM sys.foreign_keys fk
INNER JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
WHERE NOT EXISTS (
    SELECT 1 FROM sys.index_columns ic
    WHERE ic.object_id = fkc.parent_object_id AND ic.column_id = fkc.parent_column_id
)
ORDER BY 1, 2`
		} else {
			query = `
SELECT n.nspname, c.relname, a.attname, con.conname
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = con.conkey[1]
WHERE con.contype = 'f'
AND NOT EXISTS (
    SELECT 1 FROM pg_index idx
    WHERE idx.indrelid = c.oid AND idx.indkey[0] = con.conkey[1]
)
ORDER BY 1, 2`
		}

		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return newResult(def, StatusError, fmt.Sprintf("failed to check missing indexes: %v", err), withDuration(time.Since(start)))
		}
		defer rows.Close()

		type missing struct{ Schema, Table, Column, Constraint string }
		var found []missing
		for rows.Next() {
			var m missing
			if err := rows.Scan(&m.Schema, &m.Table, &m.Column, &m.Constraint); err != nil {
				return newResult(def, StatusError, fmt.Sprintf("failed to scan missing indexes: %v", err), withDuration(time.Since(start)))
			}
			found = append(found, m)
		}
		if err := rows.Err(); err != nil {
			return newResult(def, StatusError, fmt.Sprintf("failed to check missing indexes: %v", err), withDuration(time.Since(start)))
		}

		if len(found) == 0 {
			return newResult(def, StatusPassed, "All foreign key columns have supporting indexes", withDuration(time.Since(start)))
		}
		affected := make([]string, len(found))
		for i, m := range found {
			affected[i] = fmt.Sprintf("%s.%s.%s", m.Schema, m.Table, m.Column)
		}
		return newResult(def, StatusWarning, fmt.Sprintf("Found %d foreign key columns without indexes", len(found)),
			withDetails(found),
			withRemediation("Create indexes on foreign key columns to improve join performance"),
			withAffected(affected),
			withDuration(time.Since(start)))
	}}
}

// unusedIndexCheck flags secondary indexes with zero scans since the last
// stats reset. Scan count is used as the signal rather than fragmentation,
// since fragmentation stats are SQL-Server-only while scan counters exist
// on both engines.
func unusedIndexCheck() Check {
	def := Definition{
		ID:              "PERF002",
		Name:            "Unused Indexes",
		Description:     "Detects secondary indexes that have never been scanned",
		Category:        CategoryPerformance,
		DefaultSeverity: SeverityMedium,
		Frameworks:      []string{"SOC2"},
		Tags:            []string{"performance", "indexes", "maintenance"},
		Enabled:         true,
	}
	return Func{Def: def, Run: func(ctx context.Context, db dbconn.DB, def Definition) Result {
		start := time.Now()
		var query string
		if db.Engine() == schema.EngineSQLServer {
			query = `
SELECT OBJECT_SCHEMA_NAME(i.object_id), OBJECT_NAME(i.object_id), i.name
FROM sys.indexes i
LEFT JOIN sys.dm_db_index_usage_stats s
    ON s.object_id = i.object_id AND s.index_id = i.index_id AND s.database_id = DB_ID()
WHERE i.is_primary_key = 0 AND i.is_unique_constraint = 0 AND i.name IS NOT NULL
AND (s.user_seeks IS NULL AND s.user_scans IS NULL AND s.user_lookups IS NULL)
ORDER BY 1, 2`
		} else {
			query = `
SELECT schemaname, relname, indexrelname
FROM pg_stat_user_indexes
WHERE idx_scan = 0
AND indexrelname NOT IN (SELECT conname FROM pg_constraint WHERE contype IN ('p', 'u'))
ORDER BY 1, 2`
		}

		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return newResult(def, StatusError, fmt.Sprintf("failed to check unused indexes: %v", err), withDuration(time.Since(start)))
		}
		defer rows.Close()

		type idx struct{ Schema, Table, Index string }
		var found []idx
		for rows.Next() {
			var i idx
			if err := rows.Scan(&i.Schema, &i.Table, &i.Index); err != nil {
				return newResult(def, StatusError, fmt.Sprintf("failed to scan unused indexes: %v", err), withDuration(time.Since(start)))
			}
			found = append(found, i)
		}

		if len(found) == 0 {
			return newResult(def, StatusPassed, "No unused indexes found", withDuration(time.Since(start)))
		}
		affected := make([]string, len(found))
		for i, f := range found {
			affected[i] = fmt.Sprintf("%s.%s.%s", f.Schema, f.Table, f.Index)
		}
		return newResult(def, StatusWarning, fmt.Sprintf("Found %d indexes with no recorded scans", len(found)),
			withDetails(found),
			withRemediation("Confirm the index is truly unused, then drop it to reduce write overhead"),
			withAffected(affected),
			withDuration(time.Since(start)))
	}}
}

// tableBloatCheck flags tables whose dead-tuple ratio suggests they need a
// VACUUM/maintenance pass.
func tableBloatCheck() Check {
	def := Definition{
		ID:              "PERF003",
		Name:            "Table Bloat",
		Description:     "Detects tables with a high dead-tuple ratio",
		Category:        CategoryPerformance,
		DefaultSeverity: SeverityMedium,
		Parameters:      []byte(`{"dead_tuple_ratio_threshold": 0.2}`),
		ParameterSchema: []byte(`{"type":"object","properties":{"dead_tuple_ratio_threshold":{"type":"number","minimum":0,"maximum":1}}}`),
		Frameworks:      []string{"SOC2"},
		Tags:            []string{"performance", "maintenance"},
		Enabled:         true,
	}
	return Func{Def: def, Run: func(ctx context.Context, db dbconn.DB, def Definition) Result {
		start := time.Now()
		var query string
		if db.Engine() == schema.EngineSQLServer {
			query = `
SELECT OBJECT_SCHEMA_NAME(ips.object_id), OBJECT_NAME(ips.object_id), ips.page_count,
       ips.avg_fragmentation_in_percent
FROM sys.dm_db_index_physical_stats(DB_ID(), NULL, NULL, NULL, 'LIMITED') ips
INNER JOIN sys.indexes i ON ips.object_id = i.object_id AND ips.index_id = i.index_id
WHERE ips.avg_fragmentation_in_percent > 30 AND ips.page_count > 1000 AND i.name IS NOT NULL
ORDER BY ips.avg_fragmentation_in_percent DESC`
		} else {
			query = `
SELECT schemaname, relname, n_live_tup, n_dead_tup
FROM pg_stat_user_tables
WHERE n_live_tup + n_dead_tup > 1000
AND n_dead_tup::float / GREATEST(n_live_tup + n_dead_tup, 1) > 0.2
ORDER BY n_dead_tup DESC`
		}

		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return newResult(def, StatusError, fmt.Sprintf("failed to check table bloat: %v", err), withDuration(time.Since(start)))
		}
		defer rows.Close()

		type bloated struct {
			Schema, Table string
			A, B          float64
		}
		var found []bloated
		for rows.Next() {
			var b bloated
			if err := rows.Scan(&b.Schema, &b.Table, &b.A, &b.B); err != nil {
				return newResult(def, StatusError, fmt.Sprintf("failed to scan table bloat: %v", err), withDuration(time.Since(start)))
			}
			found = append(found, b)
		}

		if len(found) == 0 {
			return newResult(def, StatusPassed, "No significantly bloated tables found", withDuration(time.Since(start)))
		}
		affected := make([]string, len(found))
		for i, f := range found {
			affected[i] = fmt.Sprintf("%s.%s", f.Schema, f.Table)
		}
		return newResult(def, StatusWarning, fmt.Sprintf("Found %d tables with significant bloat", len(found)),
			withDetails(found),
			withRemediation("Schedule VACUUM/index rebuild maintenance for the affected objects"),
			withAffected(affected),
			withDuration(time.Since(start)))
	}}
}
