// SPDX-License-Identifier: Apache-2.0

package migration

import (
	"fmt"

	"github.com/dbsentinel/dbsentinel/pkg/differ"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

// Generate turns a SchemaDiff into an ordered, reversible Migration for the
// given engine. Each DiffItem becomes zero or more Steps. Rollback SQL is
// filled in wherever a change can be symbolically reversed (adding a column
// reverses to dropping it, widening a type reverses to narrowing it back);
// when no safe rollback can be expressed in DDL, e.g. a dropped table or
// column whose data cannot be restored, RollbackSQL is left empty rather
// than padded with a placeholder comment.
func Generate(id, name, version string, engine schema.Engine, diff *differ.SchemaDiff) *Migration {
	m := &Migration{
		ID:      id,
		Name:    name,
		Version: version,
		Engine:  engine,
		Status:  StatusPending,
	}

	order := 0
	for _, item := range diff.Differences {
		fwd, back, requiresLock := stepSQL(engine, item)
		if fwd == "" {
			continue
		}
		order++
		m.Steps = append(m.Steps, Step{
			Order:               order,
			Description:         fmt.Sprintf("%s %s %s", item.ChangeType, item.ObjectType, item.ObjectName),
			ForwardSQL:          fwd,
			RollbackSQL:         back,
			RequiresLock:        requiresLock,
			EstimatedDurationMs: estimateStepDuration(requiresLock),
		})
	}

	m.SetChecksum()
	return m
}

// estimateStepDuration gives a coarse ballpark for how long a step is
// likely to hold its lock: steps that rewrite or lock a table get a much
// higher estimate than metadata-only changes. Generate has no access to the
// live table's row count, so this is a rule-of-thumb, not a measurement;
// operators scheduling a maintenance window should treat it as a floor.
func estimateStepDuration(requiresLock bool) int64 {
	if requiresLock {
		return 5000
	}
	return 100
}

// BreakingChanges extracts the BreakingChange list a caller should surface
// to an operator before applying a migration generated from diff.
func BreakingChanges(diff *differ.SchemaDiff) []BreakingChange {
	var out []BreakingChange
	for _, item := range diff.Differences {
		if !item.BreakingChange {
			continue
		}
		out = append(out, classifyBreakingChange(item))
	}
	return out
}

func classifyBreakingChange(item differ.DiffItem) BreakingChange {
	bc := BreakingChange{
		ChangeType: string(item.ChangeType),
		ObjectType: string(item.ObjectType),
		ObjectName: item.ObjectName,
	}

	switch item.ChangeType {
	case differ.ChangeRemoved:
		bc.Severity = SeverityCritical
		bc.DataLossRisk = true
		bc.Description = fmt.Sprintf("%s %s was removed", item.ObjectType, item.ObjectName)
		bc.Remediation = fmt.Sprintf("back up dependent data before applying; a dropped %s cannot be recovered by rollback alone", item.ObjectType)
	case differ.ChangeAdded:
		bc.Severity = SeverityCritical
		bc.DataLossRisk = false
		bc.Description = fmt.Sprintf("%s added as NOT NULL with no default", item.ObjectName)
		bc.Remediation = "backfill existing rows or add a default before applying"
	case differ.ChangeModified:
		bc.Severity, bc.DataLossRisk, bc.Description, bc.Remediation = classifyModification(item)
	default:
		bc.Severity = SeverityMedium
		bc.Description = "breaking change"
	}

	return bc
}

func classifyModification(item differ.DiffItem) (severity Severity, dataLossRisk bool, description, remediation string) {
	if item.ObjectType == differ.ObjectPrimaryKey {
		return SeverityCritical, false,
			fmt.Sprintf("primary key columns changed on %s", item.ObjectName),
			"coordinate with dependent foreign keys and application code before applying"
	}
	if _, ok := item.Details["data_type"]; ok {
		return SeverityHigh, true,
			fmt.Sprintf("%s data type narrowed", item.ObjectName),
			"verify existing values fit the new type before applying"
	}
	if _, ok := item.Details["max_length"]; ok {
		return SeverityMedium, true,
			fmt.Sprintf("%s length narrowed", item.ObjectName),
			"verify existing values fit the new length before applying"
	}
	if _, ok := item.Details["precision"]; ok {
		return SeverityMedium, true,
			fmt.Sprintf("%s precision narrowed", item.ObjectName),
			"verify existing values fit the new precision before applying"
	}
	if _, ok := item.Details["scale"]; ok {
		return SeverityMedium, true,
			fmt.Sprintf("%s scale narrowed", item.ObjectName),
			"verify existing values fit the new scale before applying"
	}
	if nn, ok := item.Details["nullable"]; ok {
		if b, _ := nn.To.(bool); !b {
			return SeverityHigh, false,
				fmt.Sprintf("%s set to NOT NULL", item.ObjectName),
				"backfill null values before applying"
		}
	}
	if item.ObjectType == differ.ObjectForeignKey {
		return SeverityMedium, false,
			fmt.Sprintf("%s referential rule tightened", item.ObjectName),
			"confirm dependent rows satisfy the new constraint before applying"
	}
	return SeverityMedium, false, fmt.Sprintf("%s modified in a way that may break existing consumers", item.ObjectName), ""
}

func quoteIdent(engine schema.Engine, name string) string {
	if engine == schema.EngineSQLServer {
		return "[" + name + "]"
	}
	return `"` + name + `"`
}

// stepSQL generates the best-effort forward/rollback DDL text for a single
// DiffItem, along with whether applying it is expected to require a
// table-level lock. It intentionally stays conservative: anything it cannot
// express safely (e.g. narrowing a column whose existing rows may not fit)
// is still emitted, since the migration file is meant to be reviewed by a
// human before being applied, not run blindly.
func stepSQL(engine schema.Engine, item differ.DiffItem) (forward, rollback string, requiresLock bool) {
	switch item.ObjectType {
	case differ.ObjectTable:
		return tableStepSQL(engine, item)
	case differ.ObjectColumn:
		return columnStepSQL(engine, item)
	case differ.ObjectIndex:
		return indexStepSQL(engine, item)
	case differ.ObjectForeignKey:
		return fkStepSQL(engine, item)
	default:
		// Views/procedures/functions/triggers carry vendor-specific
		// CREATE OR REPLACE syntax that the differ does not retain the
		// full body for; those are left for the operator to author by
		// hand and never become steps; BreakingChanges lists them only when the
		// differ marked the change breaking.
		return "", "", false
	}
}

func tableStepSQL(engine schema.Engine, item differ.DiffItem) (string, string, bool) {
	table := quoteQualified(engine, item.ObjectName)
	switch item.ChangeType {
	case differ.ChangeAdded:
		return fmt.Sprintf("-- review: CREATE TABLE %s (...);", table), fmt.Sprintf("DROP TABLE %s;", table), false
	case differ.ChangeRemoved:
		// Dropping a table destroys its data; there is no DDL that
		// restores it, so rollback is left empty rather than faked.
		return fmt.Sprintf("DROP TABLE %s;", table), "", true
	default:
		return "", "", false
	}
}

func columnStepSQL(engine schema.Engine, item differ.DiffItem) (string, string, bool) {
	table, column := splitObjectColumn(engine, item.ObjectName)
	switch item.ChangeType {
	case differ.ChangeAdded:
		dt := summaryDataType(item.NewValue)
		ddlType := typeDDL(engine, dt, summaryIntPtr(item.NewValue, "maxLength"), summaryIntPtr(item.NewValue, "precision"), summaryIntPtr(item.NewValue, "scale"))
		nullable := summaryBool(item.NewValue, "nullable")
		hasDefault := summaryBool(item.NewValue, "hasDefault")
		nullClause := "NOT NULL"
		if nullable {
			nullClause = "NULL"
		}
		addKeyword := "ADD COLUMN"
		if engine == schema.EngineSQLServer {
			addKeyword = "ADD"
		}
		forward := fmt.Sprintf("ALTER TABLE %s %s %s %s %s;", table, addKeyword, column, ddlType, nullClause)
		rollback := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", table, column)
		return forward, rollback, !nullable && !hasDefault
	case differ.ChangeRemoved:
		// Dropping a column destroys its data; there is no DDL that
		// restores it, so rollback is left empty rather than faked.
		return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", table, column), "", true
	case differ.ChangeModified:
		if _, ok := item.Details["data_type"]; ok {
			dt := summaryDataType(item.NewValue)
			dtFrom := summaryDataType(item.OldValue)
			toType := typeDDL(engine, dt, summaryIntPtr(item.NewValue, "maxLength"), summaryIntPtr(item.NewValue, "precision"), summaryIntPtr(item.NewValue, "scale"))
			fromType := typeDDL(engine, dtFrom, summaryIntPtr(item.OldValue, "maxLength"), summaryIntPtr(item.OldValue, "precision"), summaryIntPtr(item.OldValue, "scale"))
			return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s;", table, column, toType),
				fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s;", table, column, fromType),
				true
		}
		if nn, ok := item.Details["nullable"]; ok {
			becomesNotNull, _ := nn.To.(bool)
			if !becomesNotNull {
				return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", table, column),
					fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", table, column),
					true
			}
			return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", table, column),
				fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", table, column),
				false
		}
		if dv, ok := item.Details["default_value"]; ok {
			return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %v;", table, column, dv.To),
				fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %v;", table, column, dv.From),
				false
		}
		return "", "", false
	default:
		return "", "", false
	}
}

func indexStepSQL(engine schema.Engine, item differ.DiffItem) (string, string, bool) {
	table, index := splitObjectColumn(engine, item.ObjectName)
	switch item.ChangeType {
	case differ.ChangeAdded:
		return fmt.Sprintf("-- review: CREATE INDEX %s ON %s (...);", index, table), fmt.Sprintf("DROP INDEX %s;", index), false
	case differ.ChangeRemoved:
		return fmt.Sprintf("DROP INDEX %s;", index), fmt.Sprintf("-- review: CREATE INDEX %s ON %s (...);", index, table), false
	case differ.ChangeModified:
		return fmt.Sprintf("DROP INDEX %s; -- review: recreate with new definition", index),
			fmt.Sprintf("-- review: CREATE INDEX %s ON %s (...);", index, table), false
	default:
		return "", "", false
	}
}

func fkStepSQL(engine schema.Engine, item differ.DiffItem) (string, string, bool) {
	table, fk := splitObjectColumn(engine, item.ObjectName)
	switch item.ChangeType {
	case differ.ChangeAdded:
		return fmt.Sprintf("-- review: ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (...);", table, fk),
			fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", table, fk), false
	case differ.ChangeRemoved, differ.ChangeModified:
		return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", table, fk),
			fmt.Sprintf("-- review: ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (...);", table, fk), false
	default:
		return "", "", false
	}
}

// summaryDataType reads a "dataType" key out of a DiffItem's OldValue/
// NewValue map. The concrete type varies: an in-process diff carries the
// original schema.DataType, while one round-tripped through JSON (e.g. read
// back from a diff file by cmd/plan.go) carries a plain string.
func summaryDataType(m map[string]any) schema.DataType {
	switch v := m["dataType"].(type) {
	case schema.DataType:
		return v
	case string:
		return schema.DataType(v)
	default:
		return schema.TypeUnknown
	}
}

// summaryIntPtr reads an integer-valued key out of a summary map, tolerant
// of int (set in-process) and float64 (decoded from JSON).
func summaryIntPtr(m map[string]any, key string) *int {
	switch v := m[key].(type) {
	case int:
		return &v
	case int64:
		n := int(v)
		return &n
	case float64:
		n := int(v)
		return &n
	default:
		return nil
	}
}

func summaryBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// typeDDL renders a normalized schema.DataType back into concrete, engine-
// specific DDL type syntax so generated ALTER/ADD statements name a real
// column type instead of the vendor-neutral tag.
func typeDDL(engine schema.Engine, dt schema.DataType, maxLength, precision, scale *int) string {
	if engine == schema.EngineSQLServer {
		return sqlServerTypeDDL(dt, maxLength, precision, scale)
	}
	return postgresTypeDDL(dt, maxLength, precision, scale)
}

func postgresTypeDDL(dt schema.DataType, maxLength, precision, scale *int) string {
	switch dt {
	case schema.TypeTinyInt, schema.TypeSmallInt:
		return "SMALLINT"
	case schema.TypeInt:
		return "INTEGER"
	case schema.TypeSerial:
		return "SERIAL"
	case schema.TypeBigInt:
		return "BIGINT"
	case schema.TypeDecimal:
		return numericDDL("NUMERIC", precision, scale)
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeChar:
		return lengthDDL("CHAR", maxLength)
	case schema.TypeVarchar:
		if maxLength == nil || *maxLength == -1 {
			return "TEXT"
		}
		return lengthDDL("VARCHAR", maxLength)
	case schema.TypeText:
		return "TEXT"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeTime:
		return "TIME"
	case schema.TypeDateTime, schema.TypeTimestamp:
		return "TIMESTAMP"
	case schema.TypeDateTimeOffset:
		return "TIMESTAMPTZ"
	case schema.TypeBinary, schema.TypeVarBinary:
		return "BYTEA"
	case schema.TypeUUID:
		return "UUID"
	case schema.TypeJSON:
		return "JSON"
	case schema.TypeJSONB:
		return "JSONB"
	case schema.TypeArray:
		return "TEXT[]"
	case schema.TypeXML:
		return "XML"
	case schema.TypeGeography:
		return "geography"
	case schema.TypeInet:
		return "INET"
	default:
		return "TEXT"
	}
}

func sqlServerTypeDDL(dt schema.DataType, maxLength, precision, scale *int) string {
	switch dt {
	case schema.TypeTinyInt:
		return "TINYINT"
	case schema.TypeSmallInt:
		return "SMALLINT"
	case schema.TypeInt:
		return "INT"
	case schema.TypeSerial:
		return "INT IDENTITY(1,1)"
	case schema.TypeBigInt:
		return "BIGINT"
	case schema.TypeDecimal:
		return numericDDL("DECIMAL", precision, scale)
	case schema.TypeFloat:
		return "FLOAT"
	case schema.TypeBoolean:
		return "BIT"
	case schema.TypeChar:
		return lengthDDL("CHAR", maxLength)
	case schema.TypeVarchar:
		if maxLength != nil && *maxLength == -1 {
			return "NVARCHAR(MAX)"
		}
		return lengthDDL("NVARCHAR", maxLength)
	case schema.TypeText:
		return "NVARCHAR(MAX)"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeTime:
		return "TIME"
	case schema.TypeDateTime, schema.TypeTimestamp:
		return "DATETIME2"
	case schema.TypeDateTimeOffset:
		return "DATETIMEOFFSET"
	case schema.TypeBinary:
		return lengthDDL("BINARY", maxLength)
	case schema.TypeVarBinary:
		if maxLength != nil && *maxLength == -1 {
			return "VARBINARY(MAX)"
		}
		return lengthDDL("VARBINARY", maxLength)
	case schema.TypeUUID:
		return "UNIQUEIDENTIFIER"
	case schema.TypeJSON, schema.TypeJSONB:
		return "NVARCHAR(MAX)"
	case schema.TypeArray:
		return "NVARCHAR(MAX)"
	case schema.TypeXML:
		return "XML"
	case schema.TypeGeography:
		return "GEOGRAPHY"
	case schema.TypeInet:
		return "VARCHAR(45)"
	default:
		return "NVARCHAR(MAX)"
	}
}

func lengthDDL(base string, maxLength *int) string {
	if maxLength == nil || *maxLength <= 0 {
		return base
	}
	return fmt.Sprintf("%s(%d)", base, *maxLength)
}

func numericDDL(base string, precision, scale *int) string {
	if precision == nil {
		return base
	}
	if scale == nil {
		return fmt.Sprintf("%s(%d)", base, *precision)
	}
	return fmt.Sprintf("%s(%d,%d)", base, *precision, *scale)
}

func quoteQualified(engine schema.Engine, fullName string) string {
	schemaName, objName := splitFullName(fullName)
	if schemaName == "" {
		return quoteIdent(engine, objName)
	}
	return quoteIdent(engine, schemaName) + "." + quoteIdent(engine, objName)
}

func splitFullName(fullName string) (schemaName, objName string) {
	for i := len(fullName) - 1; i >= 0; i-- {
		if fullName[i] == '.' {
			return fullName[:i], fullName[i+1:]
		}
	}
	return "", fullName
}

// splitObjectColumn splits a DiffItem.ObjectName of the form
// "schema.table.column" into a quoted "schema"."table" and the quoted
// member (column, index or constraint) identifier.
func splitObjectColumn(engine schema.Engine, objectName string) (table string, member string) {
	lastDot := -1
	for i := len(objectName) - 1; i >= 0; i-- {
		if objectName[i] == '.' {
			lastDot = i
			break
		}
	}
	if lastDot == -1 {
		return quoteQualified(engine, objectName), quoteIdent(engine, objectName)
	}
	tableFullName := objectName[:lastDot]
	member = objectName[lastDot+1:]
	return quoteQualified(engine, tableFullName), quoteIdent(engine, member)
}
