// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"context"
	"database/sql"

	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

type postgresExtractor struct{}

func newPostgresExtractor() *postgresExtractor { return &postgresExtractor{} }

// Extract builds a DatabaseSchema from information_schema and pg_catalog.
// Every query here reads catalog metadata only; row counts come from
// pg_stat_user_tables so that extraction never triggers a sequential scan
// of user data.
func (e *postgresExtractor) Extract(ctx context.Context, db dbconn.DB, databaseName string) (*schema.DatabaseSchema, error) {
	out := schema.New(schema.EnginePostgres, databaseName)

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

func (e *postgresExtractor) serverVersion(ctx context.Context, db dbconn.DB) (string, error) {
	rows, err := db.QueryContext(ctx, `SELECT substring(split_part(version(), ' ', 2) from '^[0-9.]+')`)
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

func (e *postgresExtractor) databaseCollation(ctx context.Context, db dbconn.DB) (string, error) {
	rows, err := db.QueryContext(ctx, `SELECT datcollate FROM pg_database WHERE datname = current_database()`)
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

func (e *postgresExtractor) extractTables(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT n.nspname, c.relname, obj_description(c.oid, 'pg_class')
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'r'
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema')`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName string
		var comment sql.NullString
		if err := rows.Scan(&schemaName, &tableName, &comment); err != nil {
			return err
		}
		// Postgres has no system-versioned temporal table concept; IsTemporal
		// stays false and HistoryTable empty for every extracted table.
		t := &schema.Table{
			Schema:      schemaName,
			Name:        tableName,
			Columns:     make(map[string]*schema.Column),
			Indexes:     make(map[string]*schema.Index),
			ForeignKeys: make(map[string]*schema.ForeignKey),
			Comment:     comment.String,
		}
		out.Tables[t.FullName()] = t
	}
	return rows.Err()
}

func (e *postgresExtractor) extractColumns(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT table_schema, table_name, column_name, data_type,
		       character_maximum_length, numeric_precision, numeric_scale,
		       is_nullable, column_default, ordinal_position,
		       is_identity, is_generated, generation_expression
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name, ordinal_position`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName, columnName, dataType, isNullable, isIdentity, isGenerated string
		var maxLen, precision, scale sql.NullInt64
		var defaultValue, generationExpr sql.NullString
		var ordinal int
		if err := rows.Scan(&schemaName, &tableName, &columnName, &dataType,
			&maxLen, &precision, &scale, &isNullable, &defaultValue, &ordinal, &isIdentity,
			&isGenerated, &generationExpr); err != nil {
			return err
		}

		t, ok := out.Tables[schemaName+"."+tableName]
		if !ok {
			continue
		}
		col := &schema.Column{
			Name:            columnName,
			DataType:        normalizeType(postgresTypeTable, dataType),
			RawType:         dataType,
			Nullable:        isNullable == "YES",
			IsIdentity:      isIdentity == "YES",
			OrdinalPosition: ordinal,
		}
		if isGenerated == "ALWAYS" {
			col.IsComputed = true
			if generationExpr.Valid {
				col.ComputedExpression = &generationExpr.String
			}
		}
		if maxLen.Valid {
			v := int(maxLen.Int64)
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

func (e *postgresExtractor) extractIndexes(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT n.nspname, t.relname, i.relname, ix.indisunique, ix.indisprimary,
		       am.amname, array_to_string(array_agg(a.attname ORDER BY k.ordinality), ','),
		       pg_get_expr(ix.indpred, ix.indrelid)
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_am am ON am.oid = i.relam
		JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ordinality) ON true
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname NOT IN ('pg_catalog', 'information_schema')
		GROUP BY n.nspname, t.relname, i.relname, ix.indisunique, ix.indisprimary, am.amname, ix.indpred, ix.indrelid`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName, indexName, method, columnsCSV string
		var isUnique, isPrimary bool
		var predicate sql.NullString
		if err := rows.Scan(&schemaName, &tableName, &indexName, &isUnique, &isPrimary, &method, &columnsCSV, &predicate); err != nil {
			return err
		}
		t, ok := out.Tables[schemaName+"."+tableName]
		if !ok {
			continue
		}
		idx := &schema.Index{
			Name:    indexName,
			Kind:    postgresIndexKind(method),
			Unique:  isUnique,
			Columns: splitCSV(columnsCSV),
		}
		if predicate.Valid {
			idx.FilterDefinition = &predicate.String
		}
		if isPrimary {
			idx.IsPrimaryKey = true
			t.PrimaryKey = idx.Columns
		}
		t.Indexes[idx.Name] = idx
	}
	return rows.Err()
}

func postgresIndexKind(method string) schema.IndexKind {
	switch method {
	case "btree":
		return schema.IndexBTree
	case "hash":
		return schema.IndexHash
	case "gin":
		return schema.IndexGIN
	case "gist":
		return schema.IndexGIST
	case "brin":
		return schema.IndexBRIN
	default:
		return schema.IndexBTree
	}
}

func (e *postgresExtractor) extractForeignKeys(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT tc.table_schema, tc.table_name, tc.constraint_name,
		       string_agg(kcu.column_name, ',' ORDER BY kcu.ordinal_position),
		       ccu.table_schema, ccu.table_name,
		       string_agg(DISTINCT ccu.column_name, ','),
		       rc.update_rule, rc.delete_rule
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.referential_constraints rc
		  ON tc.constraint_name = rc.constraint_name AND tc.table_schema = rc.constraint_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON rc.unique_constraint_name = ccu.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY'
		GROUP BY tc.table_schema, tc.table_name, tc.constraint_name, ccu.table_schema, ccu.table_name, rc.update_rule, rc.delete_rule`
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

func (e *postgresExtractor) extractRowCounts(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT schemaname, relname, n_live_tup
		FROM pg_stat_user_tables`
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

func (e *postgresExtractor) extractViews(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT schemaname, viewname, definition, false
		FROM pg_views
		WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
		UNION ALL
		SELECT schemaname, matviewname, definition, true
		FROM pg_matviews
		WHERE schemaname NOT IN ('pg_catalog', 'information_schema')`
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

func (e *postgresExtractor) extractRoutines(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT n.nspname, p.proname, p.prokind, pg_get_functiondef(p.oid), pg_get_function_result(p.oid)
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname NOT IN ('pg_catalog', 'information_schema')`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, name, kind, definition, returnType string
		if err := rows.Scan(&schemaName, &name, &kind, &definition, &returnType); err != nil {
			return err
		}
		switch kind {
		case "p":
			p := &schema.Procedure{Schema: schemaName, Name: name, Definition: definition}
			out.Procedures[p.FullName()] = p
		default:
			f := &schema.Function{Schema: schemaName, Name: name, Definition: definition, ReturnType: normalizeType(postgresTypeTable, returnType)}
			out.Functions[f.FullName()] = f
		}
	}
	return rows.Err()
}

func (e *postgresExtractor) extractTriggers(ctx context.Context, db dbconn.DB, out *schema.DatabaseSchema) error {
	const q = `
		SELECT n.nspname, tg.tgname, c.relname, pg_get_triggerdef(tg.oid), tg.tgenabled != 'D'
		FROM pg_trigger tg
		JOIN pg_class c ON c.oid = tg.tgrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE NOT tg.tgisinternal`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, name, table, definition string
		var enabled bool
		if err := rows.Scan(&schemaName, &name, &table, &definition, &enabled); err != nil {
			return err
		}
		tr := &schema.Trigger{Schema: schemaName, Name: name, Table: table, Definition: definition, Enabled: enabled}
		out.Triggers[tr.FullName()] = tr
	}
	return rows.Err()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
