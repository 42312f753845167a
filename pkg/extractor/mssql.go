// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"context"
	"database/sql"

	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

type sqlServerExtractor struct{}

func newSQLServerExtractor() *sqlServerExtractor { return &sqlServerExtractor{} }

// Extract builds a DatabaseSchema from sys.* catalog views. Row counts come
// from sys.dm_db_partition_stats rather than SELECT COUNT(*), matching the
// same scan-avoidance requirement as the PostgreSQL extractor.
func (e *sqlServerExtractor) Extract(ctx context.Context, db dbconn.DB, databaseName string) (*schema.DatabaseSchema, error) {
	out := schema.New(schema.EngineSQLServer, databaseName)

	version, err := e.serverVersion(ctx, db)
	if err != nil {
		return nil, &ExtractionError{Stage: "server_version", Err: err}
	}
	out.ServerVersion = version

	collation, err := e.databaseCollation(ctx, db)
	if err != nil {
		return nil, &ExtractionError{Stage: "collation", Err: err}
	}
	out.Collation = collation

	if err := e.extractTables(ctx, db, out); err != nil {
		return nil, &ExtractionError{Stage: "tables", Err: err}
	}
	if err := e.extractColumns(ctx, db, out); err != nil {
		return nil, &ExtractionError{Stage: "columns", Err: err}
	}
	if err := e.extractIndexes(ctx, db, out); err != nil {
		return nil, &ExtractionError{Stage: "indexes", Err: err}
	}
	if err := e.extractForeignKeys(ctx, db, out); err != nil {
		return nil, &ExtractionError{Stage: "foreign_keys", Err: err}
	}
	if err := e.extractRowCounts(ctx, db, out); err != nil {
		return nil, &ExtractionError{Stage: "row_counts", Err: err}
	}
	if err := e.extractViews(ctx, db, out); err != nil {
		return nil, &ExtractionError{Stage: "views", Err: err}
	}
	if err := e.extractRoutines(ctx, db, out); err != nil {
		return nil, &ExtractionError{Stage: "routines", Err: err}
	}
	if err := e.extractTriggers(ctx, db, out); err != nil {
		return nil, &ExtractionError{Stage: "triggers", Err: err}
	}

	return out, nil
}

func (e *sqlServerExtractor) serverVersion(ctx context.Context, db dbconn.DB) (string, error) {
	rows, err := db.QueryContext(ctx, `SELECT CAST(SERVERPROPERTY('ProductVersion') AS NVARCHAR(128))`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var v string
	if err := dbconn.ScanFirstValue(rows, &v); err != nil {
		return "", err
	}
	return v, nil
}

func (e *sqlServerExtractor) databaseCollation(ctx context.Context, db dbconn.DB) (string, error) {
	rows, err := db.QueryContext(ctx, `SELECT collation_name FROM sys.databases WHERE database_id = DB_ID()`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var v sql.NullString
	if err := dbconn.ScanFirstValue(rows, &v); err != nil {
		return "", err
	}
	return v.String, nil
}

func (e *sqlServerExtractor) extractTables(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT s.name, t.name, CAST(ep.value AS NVARCHAR(MAX)),
		       t.temporal_type, hs.name, ht.name
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		LEFT JOIN sys.extended_properties ep
		  ON ep.major_id = t.object_id AND ep.minor_id = 0 AND ep.name = 'MS_Description'
		LEFT JOIN sys.tables ht ON ht.object_id = t.history_table_id
		LEFT JOIN sys.schemas hs ON hs.schema_id = ht.schema_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName string
		var comment sql.NullString
		var temporalType int
		var historySchema, historyTable sql.NullString
		if err := rows.Scan(&schemaName, &tableName, &comment, &temporalType, &historySchema, &historyTable); err != nil {
			return err
		}
		t := &schema.Table{
			Schema:      schemaName,
			Name:        tableName,
			Columns:     make(map[string]*schema.Column),
			Indexes:     make(map[string]*schema.Index),
			ForeignKeys: make(map[string]*schema.ForeignKey),
			Comment:     comment.String,
		}
		// temporal_type = 2 is SYSTEM_VERSIONED_TEMPORAL_TABLE.
		if temporalType == 2 {
			t.IsTemporal = true
			if historySchema.Valid && historyTable.Valid {
				t.HistoryTable = historySchema.String + "." + historyTable.String
			}
		}
		out.Tables[t.FullName()] = t
	}
	return rows.Err()
}

func (e *sqlServerExtractor) extractColumns(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT s.name, t.name, c.name, ty.name, c.max_length, c.precision, c.scale,
		       c.is_nullable, dc.definition, c.column_id, c.is_identity,
		       c.is_computed, cc.definition
		FROM sys.columns c
		JOIN sys.tables t ON t.object_id = c.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.types ty ON ty.user_type_id = c.user_type_id
		LEFT JOIN sys.default_constraints dc ON dc.object_id = c.default_object_id
		LEFT JOIN sys.computed_columns cc ON cc.object_id = c.object_id AND cc.column_id = c.column_id
		ORDER BY s.name, t.name, c.column_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName, columnName, dataType string
		var maxLength, precision, scale sql.NullInt64
		var isNullable, isIdentity, isComputed bool
		var defaultValue, computedExpr sql.NullString
		var ordinal int
		if err := rows.Scan(&schemaName, &tableName, &columnName, &dataType,
			&maxLength, &precision, &scale, &isNullable, &defaultValue, &ordinal, &isIdentity,
			&isComputed, &computedExpr); err != nil {
			return err
		}
		t, ok := out.Tables[schemaName+"."+tableName]
		if !ok {
			continue
		}
		col := &schema.Column{
			Name:            columnName,
			DataType:        normalizeType(sqlServerTypeTable, dataType),
			RawType:         dataType,
			Nullable:        isNullable,
			IsIdentity:      isIdentity,
			IsComputed:      isComputed,
			OrdinalPosition: ordinal,
		}
		if computedExpr.Valid {
			col.ComputedExpression = &computedExpr.String
		}
		if maxLength.Valid {
			v := int(maxLength.Int64)
			col.MaxLength = &v
		}
		if precision.Valid {
			v := int(precision.Int64)
			col.Precision = &v
		}
		if scale.Valid {
			v := int(scale.Int64)
			col.Scale = &v
		}
		if defaultValue.Valid {
			col.DefaultValue = &defaultValue.String
		}
		t.Columns[col.Name] = col
	}
	return rows.Err()
}

func (e *sqlServerExtractor) extractIndexes(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT s.name, t.name, i.name, i.is_unique, i.is_primary_key, i.type_desc,
		       STRING_AGG(c.name, ',') WITHIN GROUP (ORDER BY ic.key_ordinal),
		       i.filter_definition
		FROM sys.indexes i
		JOIN sys.tables t ON t.object_id = i.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id AND ic.is_included_column = 0
		JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		WHERE i.name IS NOT NULL
		GROUP BY s.name, t.name, i.name, i.is_unique, i.is_primary_key, i.type_desc, i.filter_definition`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName, indexName, typeDesc, columnsCSV string
		var isUnique, isPrimary bool
		var filterDefinition sql.NullString
		if err := rows.Scan(&schemaName, &tableName, &indexName, &isUnique, &isPrimary, &typeDesc, &columnsCSV, &filterDefinition); err != nil {
			return err
		}
		t, ok := out.Tables[schemaName+"."+tableName]
		if !ok {
			continue
		}
		idx := &schema.Index{
			Name:    indexName,
			Kind:    sqlServerIndexKind(typeDesc),
			Unique:  isUnique,
			Columns: splitCSV(columnsCSV),
		}
		if filterDefinition.Valid {
			idx.FilterDefinition = &filterDefinition.String
		}
		if isPrimary {
			idx.IsPrimaryKey = true
			t.PrimaryKey = idx.Columns
		}
		t.Indexes[idx.Name] = idx
	}
	return rows.Err()
}

func sqlServerIndexKind(typeDesc string) schema.IndexKind {
	switch typeDesc {
	case "CLUSTERED":
		return schema.IndexClustered
	case "CLUSTERED COLUMNSTORE", "NONCLUSTERED COLUMNSTORE":
		return schema.IndexColumnstore
	default:
		return schema.IndexBTree
	}
}

func (e *sqlServerExtractor) extractForeignKeys(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT ps.name, pt.name, fk.name,
		       STRING_AGG(pc.name, ',') WITHIN GROUP (ORDER BY fkc.constraint_column_id),
		       rs.name, rt.name,
		       STRING_AGG(rc.name, ',') WITHIN GROUP (ORDER BY fkc.constraint_column_id),
		       fk.update_referential_action_desc, fk.delete_referential_action_desc
		FROM sys.foreign_keys fk
		JOIN sys.tables pt ON pt.object_id = fk.parent_object_id
		JOIN sys.schemas ps ON ps.schema_id = pt.schema_id
		JOIN sys.tables rt ON rt.object_id = fk.referenced_object_id
		JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
		JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
		JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
		JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
		GROUP BY ps.name, pt.name, fk.name, rs.name, rt.name, fk.update_referential_action_desc, fk.delete_referential_action_desc`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName, constraintName, columnsCSV string
		var refSchema, refTable, refColumnsCSV, updateRule, deleteRule string
		if err := rows.Scan(&schemaName, &tableName, &constraintName, &columnsCSV,
			&refSchema, &refTable, &refColumnsCSV, &updateRule, &deleteRule); err != nil {
			return err
		}
		t, ok := out.Tables[schemaName+"."+tableName]
		if !ok {
			continue
		}
		t.ForeignKeys[constraintName] = &schema.ForeignKey{
			Name:              constraintName,
			Columns:           splitCSV(columnsCSV),
			ReferencedSchema:  refSchema,
			ReferencedTable:   refSchema + "." + refTable,
			ReferencedColumns: splitCSV(refColumnsCSV),
			OnDelete:          deleteRule,
			OnUpdate:          updateRule,
		}
	}
	return rows.Err()
}

func (e *sqlServerExtractor) extractRowCounts(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT s.name, t.name, SUM(ps.row_count)
		FROM sys.dm_db_partition_stats ps
		JOIN sys.tables t ON t.object_id = ps.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE ps.index_id IN (0, 1)
		GROUP BY s.name, t.name`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName string
		var count int64
		if err := rows.Scan(&schemaName, &tableName, &count); err != nil {
			return err
		}
		if t, ok := out.Tables[schemaName+"."+tableName]; ok {
			t.RowCount = count
		}
	}
	return rows.Err()
}

func (e *sqlServerExtractor) extractViews(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT s.name, v.name, m.definition, v.is_date_correlation_view
		FROM sys.views v
		JOIN sys.schemas s ON s.schema_id = v.schema_id
		JOIN sys.sql_modules m ON m.object_id = v.object_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, viewName, definition string
		var isMaterialized bool
		if err := rows.Scan(&schemaName, &viewName, &definition, &isMaterialized); err != nil {
			return err
		}
		v := &schema.View{Schema: schemaName, Name: viewName, Definition: definition, IsMaterialized: isMaterialized}
		out.Views[v.FullName()] = v
	}
	return rows.Err()
}

func (e *sqlServerExtractor) extractRoutines(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT s.name, o.name, o.type, m.definition
		FROM sys.objects o
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		JOIN sys.sql_modules m ON m.object_id = o.object_id
		WHERE o.type IN ('P', 'FN', 'IF', 'TF')`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, name, objType, definition string
		if err := rows.Scan(&schemaName, &name, &objType, &definition); err != nil {
			return err
		}
		switch objType {
		case "P":
			p := &schema.Procedure{Schema: schemaName, Name: name, Definition: definition}
			out.Procedures[p.FullName()] = p
		default:
			f := &schema.Function{Schema: schemaName, Name: name, Definition: definition}
			out.Functions[f.FullName()] = f
		}
	}
	return rows.Err()
}

func (e *sqlServerExtractor) extractTriggers(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT s.name, tr.name, t.name, m.definition, tr.is_disabled,
		       OBJECTPROPERTY(tr.object_id, 'ExecIsInsertTrigger'),
		       OBJECTPROPERTY(tr.object_id, 'ExecIsUpdateTrigger'),
		       OBJECTPROPERTY(tr.object_id, 'ExecIsDeleteTrigger'),
		       OBJECTPROPERTY(tr.object_id, 'ExecIsInsteadOfTrigger')
		FROM sys.triggers tr
		JOIN sys.tables t ON t.object_id = tr.parent_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.sql_modules m ON m.object_id = tr.object_id
		WHERE tr.is_ms_shipped = 0`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, name, table, definition string
		var isDisabled bool
		var isInsert, isUpdate, isDelete, isInsteadOf int
		if err := rows.Scan(&schemaName, &name, &table, &definition, &isDisabled,
			&isInsert, &isUpdate, &isDelete, &isInsteadOf); err != nil {
			return err
		}
		tr := &schema.Trigger{
			Schema:     schemaName,
			Name:       name,
			Table:      table,
			Definition: definition,
			Enabled:    !isDisabled,
		}
		if isInsteadOf == 1 {
			tr.Timing = schema.TriggerInsteadOf
		} else {
			tr.Timing = schema.TriggerAfter
		}
		if isInsert == 1 {
			tr.Events = append(tr.Events, schema.TriggerInsert)
		}
		if isUpdate == 1 {
			tr.Events = append(tr.Events, schema.TriggerUpdate)
		}
		if isDelete == 1 {
			tr.Events = append(tr.Events, schema.TriggerDelete)
		}
		out.Triggers[tr.FullName()] = tr
	}
	return rows.Err()
}
