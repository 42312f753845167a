// SPDX-License-Identifier: Apache-2.0

package differ

import (
	"fmt"

	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

// Compare produces a SchemaDiff describing every structural difference
// between source (before) and target (after). It never mutates either
// argument.
func Compare(source, target *schema.DatabaseSchema, sourceSnapshotID, targetSnapshotID string) *SchemaDiff {
	diff := &SchemaDiff{SourceSnapshotID: sourceSnapshotID, TargetSnapshotID: targetSnapshotID}

	compareTables(source, target, diff)
	compareViews(source, target, diff)
	compareProcedures(source, target, diff)
	compareFunctions(source, target, diff)
	compareTriggers(source, target, diff)

	return diff
}

func compareTables(source, target *schema.DatabaseSchema, diff *SchemaDiff) {
	sourceNames := sortedDiffKeys(source.Tables)
	targetNames := sortedDiffKeys(target.Tables)
	added, removed, both := setDiff(sourceNames, targetNames)

	for _, name := range added {
		diff.Differences = append(diff.Differences, DiffItem{
			ObjectType: ObjectTable,
			ObjectName: name,
			ChangeType: ChangeAdded,
			NewValue:   tableSummary(target.Tables[name]),
		})
		diff.TablesAdded++
	}

	for _, name := range removed {
		diff.Differences = append(diff.Differences, DiffItem{
			ObjectType:     ObjectTable,
			ObjectName:     name,
			ChangeType:     ChangeRemoved,
			OldValue:       tableSummary(source.Tables[name]),
			BreakingChange: true,
		})
		diff.TablesRemoved++
	}

	for _, name := range both {
		changes := compareTableDetails(source.Tables[name], target.Tables[name])
		if len(changes) == 0 {
			continue
		}
		diff.Differences = append(diff.Differences, changes...)
		diff.TablesModified++
		for _, c := range changes {
			if c.ObjectType != ObjectColumn {
				continue
			}
			switch c.ChangeType {
			case ChangeAdded:
				diff.ColumnsAdded++
			case ChangeRemoved:
				diff.ColumnsRemoved++
			case ChangeModified:
				diff.ColumnsModified++
			}
		}
	}
}

func compareTableDetails(source, target *schema.Table) []DiffItem {
	var changes []DiffItem
	changes = append(changes, compareColumns(source, target)...)
	changes = append(changes, compareIndexes(source, target)...)
	changes = append(changes, compareForeignKeys(source, target)...)
	if item := comparePrimaryKey(source, target); item != nil {
		changes = append(changes, *item)
	}
	return changes
}

// comparePrimaryKey reports a change to a table's set of primary key
// columns. Any change, added, removed or reordered, is breaking: dependent
// foreign keys and application code are written against the current key.
func comparePrimaryKey(source, target *schema.Table) *DiffItem {
	if equalStringSlices(source.PrimaryKey, target.PrimaryKey) {
		return nil
	}
	return &DiffItem{
		ObjectType: ObjectPrimaryKey,
		ObjectName: source.FullName(),
		ChangeType: ChangeModified,
		OldValue:   map[string]any{"columns": source.PrimaryKey},
		NewValue:   map[string]any{"columns": target.PrimaryKey},
		Details: map[string]FieldChange{
			"primary_key_columns": {From: joinSorted(source.PrimaryKey), To: joinSorted(target.PrimaryKey)},
		},
		BreakingChange: true,
	}
}

func compareColumns(source, target *schema.Table) []DiffItem {
	var changes []DiffItem
	tableName := source.FullName()

	sourceNames := sortedDiffKeys(source.Columns)
	targetNames := sortedDiffKeys(target.Columns)
	added, removed, both := setDiff(sourceNames, targetNames)

	for _, name := range added {
		col := target.Columns[name]
		changes = append(changes, DiffItem{
			ObjectType: ObjectColumn,
			ObjectName: tableName + "." + col.Name,
			ChangeType: ChangeAdded,
			NewValue:   columnSummary(col),
			// Adding a NOT NULL column with no default breaks every existing
			// row's insert/update path until it is backfilled.
			BreakingChange: !col.Nullable && col.DefaultValue == nil,
		})
	}

	for _, name := range removed {
		col := source.Columns[name]
		changes = append(changes, DiffItem{
			ObjectType:     ObjectColumn,
			ObjectName:     tableName + "." + col.Name,
			ChangeType:     ChangeRemoved,
			OldValue:       columnSummary(col),
			BreakingChange: true,
		})
	}

	for _, name := range both {
		if item := compareColumnDetails(source.Columns[name], target.Columns[name], tableName); item != nil {
			changes = append(changes, *item)
		}
	}

	return changes
}

func compareColumnDetails(source, target *schema.Column, tableName string) *DiffItem {
	details := map[string]FieldChange{}
	breaking := false

	if source.DataType != target.DataType {
		details["data_type"] = FieldChange{From: source.DataType, To: target.DataType}
		if isNarrowingTypeChange(source.DataType, target.DataType) {
			breaking = true
		}
	}

	if !intPtrEqual(source.MaxLength, target.MaxLength) {
		details["max_length"] = FieldChange{From: intPtrValue(source.MaxLength), To: intPtrValue(target.MaxLength)}
		if source.MaxLength != nil && target.MaxLength != nil && *target.MaxLength < *source.MaxLength {
			breaking = true
		}
	}

	if !intPtrEqual(source.Precision, target.Precision) {
		details["precision"] = FieldChange{From: intPtrValue(source.Precision), To: intPtrValue(target.Precision)}
		if source.Precision != nil && target.Precision != nil && *target.Precision < *source.Precision {
			breaking = true
		}
	}

	if !intPtrEqual(source.Scale, target.Scale) {
		details["scale"] = FieldChange{From: intPtrValue(source.Scale), To: intPtrValue(target.Scale)}
		if source.Scale != nil && target.Scale != nil && *target.Scale < *source.Scale {
			breaking = true
		}
	}

	if source.Nullable != target.Nullable {
		details["nullable"] = FieldChange{From: source.Nullable, To: target.Nullable}
		if source.Nullable && !target.Nullable {
			breaking = true
		}
	}

	if source.IsIdentity != target.IsIdentity {
		details["is_identity"] = FieldChange{From: source.IsIdentity, To: target.IsIdentity}
	}

	if !strPtrEqual(source.DefaultValue, target.DefaultValue) {
		details["default_value"] = FieldChange{From: strPtrValue(source.DefaultValue), To: strPtrValue(target.DefaultValue)}
		// default value changes are never breaking on their own
	}

	if len(details) == 0 {
		return nil
	}

	return &DiffItem{
		ObjectType:     ObjectColumn,
		ObjectName:     tableName + "." + source.Name,
		ChangeType:     ChangeModified,
		OldValue:       columnSummary(source),
		NewValue:       columnSummary(target),
		Details:        details,
		BreakingChange: breaking,
	}
}

// typeWidth ranks a DataType by its storage/information capacity within its
// family. Types in different families are not comparable by width alone;
// isNarrowingTypeChange handles cross-family cases explicitly.
var typeWidth = map[schema.DataType]int{
	schema.TypeTinyInt:  1,
	schema.TypeSmallInt: 2,
	schema.TypeInt:      3,
	schema.TypeSerial:   3,
	schema.TypeBigInt:   4,

	schema.TypeChar:    1,
	schema.TypeVarchar: 2,
	schema.TypeText:    3,

	schema.TypeBinary:    1,
	schema.TypeVarBinary: 2,

	schema.TypeDate:           1,
	schema.TypeTime:           1,
	schema.TypeDateTime:       2,
	schema.TypeTimestamp:      2,
	schema.TypeDateTimeOffset: 3,
}

var integerFamily = map[schema.DataType]bool{
	schema.TypeTinyInt:  true,
	schema.TypeSmallInt: true,
	schema.TypeInt:      true,
	schema.TypeSerial:   true,
	schema.TypeBigInt:   true,
}

var numericFamily = map[schema.DataType]bool{
	schema.TypeDecimal: true,
	schema.TypeFloat:   true,
}

var textFamily = map[schema.DataType]bool{
	schema.TypeChar:    true,
	schema.TypeVarchar: true,
	schema.TypeText:    true,
}

var binaryFamily = map[schema.DataType]bool{
	schema.TypeBinary:    true,
	schema.TypeVarBinary: true,
}

var dateTimeFamily = map[schema.DataType]bool{
	schema.TypeDate:           true,
	schema.TypeTime:           true,
	schema.TypeDateTime:       true,
	schema.TypeTimestamp:      true,
	schema.TypeDateTimeOffset: true,
}

// isNarrowingTypeChange reports whether converting a column from "from" to
// "to" can lose precision, range or information: bigint -> int, decimal ->
// int, text -> varchar, datetimeoffset -> date, and so on. A widening change
// within the same family (int -> bigint, varchar -> text) is not narrowing.
// A change between unrelated families (boolean <-> uuid) has no documented
// width relationship, so it is conservatively treated as narrowing.
func isNarrowingTypeChange(from, to schema.DataType) bool {
	if from == to {
		return false
	}

	// Numeric (decimal/float) narrowing to an integer always loses
	// information; widening from integer to numeric never does.
	if numericFamily[from] && integerFamily[to] {
		return true
	}
	if integerFamily[from] && numericFamily[to] {
		return false
	}

	for _, family := range []map[schema.DataType]bool{integerFamily, textFamily, binaryFamily, dateTimeFamily} {
		if family[from] && family[to] {
			return typeWidth[to] < typeWidth[from]
		}
	}

	if numericFamily[from] && numericFamily[to] {
		return false
	}

	// Cross-family conversion with no documented width relationship: treat
	// as narrowing since nothing guarantees the new type can represent
	// every value the old one could.
	return true
}

func compareIndexes(source, target *schema.Table) []DiffItem {
	var changes []DiffItem
	tableName := source.FullName()

	sourceNames := sortedDiffKeys(source.Indexes)
	targetNames := sortedDiffKeys(target.Indexes)
	added, removed, both := setDiff(sourceNames, targetNames)

	for _, name := range added {
		idx := target.Indexes[name]
		changes = append(changes, DiffItem{
			ObjectType: ObjectIndex,
			ObjectName: tableName + "." + idx.Name,
			ChangeType: ChangeAdded,
			NewValue:   indexSummary(idx),
		})
	}

	for _, name := range removed {
		idx := source.Indexes[name]
		changes = append(changes, DiffItem{
			ObjectType: ObjectIndex,
			ObjectName: tableName + "." + idx.Name,
			ChangeType: ChangeRemoved,
			OldValue:   indexSummary(idx),
		})
	}

	for _, name := range both {
		s, t := source.Indexes[name], target.Indexes[name]
		if indexChanged(s, t) {
			changes = append(changes, DiffItem{
				ObjectType: ObjectIndex,
				ObjectName: tableName + "." + s.Name,
				ChangeType: ChangeModified,
				OldValue:   indexSummary(s),
				NewValue:   indexSummary(t),
			})
		}
	}

	return changes
}

func indexChanged(s, t *schema.Index) bool {
	if !equalStringSlices(s.Columns, t.Columns) {
		return true
	}
	if !equalStringSlices(s.IncludedColumns, t.IncludedColumns) {
		return true
	}
	if s.Unique != t.Unique {
		return true
	}
	return !strPtrEqual(s.FilterDefinition, t.FilterDefinition)
}

func compareForeignKeys(source, target *schema.Table) []DiffItem {
	var changes []DiffItem
	tableName := source.FullName()

	sourceNames := sortedDiffKeys(source.ForeignKeys)
	targetNames := sortedDiffKeys(target.ForeignKeys)
	added, removed, both := setDiff(sourceNames, targetNames)

	for _, name := range added {
		fk := target.ForeignKeys[name]
		changes = append(changes, DiffItem{
			ObjectType: ObjectForeignKey,
			ObjectName: tableName + "." + fk.Name,
			ChangeType: ChangeAdded,
			NewValue:   fkSummary(fk),
		})
	}

	for _, name := range removed {
		fk := source.ForeignKeys[name]
		changes = append(changes, DiffItem{
			ObjectType:     ObjectForeignKey,
			ObjectName:     tableName + "." + fk.Name,
			ChangeType:     ChangeRemoved,
			OldValue:       fkSummary(fk),
			BreakingChange: true,
		})
	}

	// Modified foreign keys: a changed referenced table/columns or
	// ON DELETE/UPDATE rule is also reported, since silently tightening a
	// cascade rule is exactly the kind of breaking change the differ
	// exists to catch.
	for _, name := range both {
		s, t := source.ForeignKeys[name], target.ForeignKeys[name]
		if fkChanged(s, t) {
			changes = append(changes, DiffItem{
				ObjectType:     ObjectForeignKey,
				ObjectName:     tableName + "." + s.Name,
				ChangeType:     ChangeModified,
				OldValue:       fkSummary(s),
				NewValue:       fkSummary(t),
				BreakingChange: fkChangeIsBreaking(s, t),
			})
		}
	}

	return changes
}

func fkChanged(s, t *schema.ForeignKey) bool {
	if s.ReferencedTable != t.ReferencedTable {
		return true
	}
	if !equalStringSlices(s.Columns, t.Columns) {
		return true
	}
	if !equalStringSlices(s.ReferencedColumns, t.ReferencedColumns) {
		return true
	}
	return s.OnDelete != t.OnDelete || s.OnUpdate != t.OnUpdate
}

func fkChangeIsBreaking(s, t *schema.ForeignKey) bool {
	if s.ReferencedTable != t.ReferencedTable {
		return true
	}
	// Tightening a cascade rule toward RESTRICT/NO ACTION is breaking;
	// loosening it is not.
	return (s.OnDelete == "CASCADE" && t.OnDelete != "CASCADE") ||
		(s.OnUpdate == "CASCADE" && t.OnUpdate != "CASCADE")
}

func compareViews(source, target *schema.DatabaseSchema, diff *SchemaDiff) {
	sourceNames := sortedDiffKeys(source.Views)
	targetNames := sortedDiffKeys(target.Views)
	added, removed, both := setDiff(sourceNames, targetNames)

	for _, name := range added {
		diff.Differences = append(diff.Differences, DiffItem{
			ObjectType: ObjectView,
			ObjectName: name,
			ChangeType: ChangeAdded,
		})
	}
	for _, name := range removed {
		diff.Differences = append(diff.Differences, DiffItem{
			ObjectType:     ObjectView,
			ObjectName:     name,
			ChangeType:     ChangeRemoved,
			BreakingChange: true,
		})
	}
	for _, name := range both {
		s, t := source.Views[name], target.Views[name]
		if normalizedDefinition(s.Definition) != normalizedDefinition(t.Definition) {
			diff.Differences = append(diff.Differences, DiffItem{
				ObjectType: ObjectView,
				ObjectName: name,
				ChangeType: ChangeModified,
				Details: map[string]FieldChange{
					"definition": {From: "changed", To: "changed"},
				},
			})
		}
	}
}

func compareProcedures(source, target *schema.DatabaseSchema, diff *SchemaDiff) {
	sourceNames := sortedDiffKeys(source.Procedures)
	targetNames := sortedDiffKeys(target.Procedures)
	added, removed, both := setDiff(sourceNames, targetNames)

	for _, name := range added {
		diff.Differences = append(diff.Differences, DiffItem{ObjectType: ObjectProcedure, ObjectName: name, ChangeType: ChangeAdded})
	}
	for _, name := range removed {
		diff.Differences = append(diff.Differences, DiffItem{ObjectType: ObjectProcedure, ObjectName: name, ChangeType: ChangeRemoved, BreakingChange: true})
	}
	for _, name := range both {
		if item := compareRoutineParams(ObjectProcedure, name, source.Procedures[name].Parameters, target.Procedures[name].Parameters,
			source.Procedures[name].Definition, target.Procedures[name].Definition); item != nil {
			diff.Differences = append(diff.Differences, *item)
		}
	}
}

func compareFunctions(source, target *schema.DatabaseSchema, diff *SchemaDiff) {
	sourceNames := sortedDiffKeys(source.Functions)
	targetNames := sortedDiffKeys(target.Functions)
	added, removed, both := setDiff(sourceNames, targetNames)

	for _, name := range added {
		diff.Differences = append(diff.Differences, DiffItem{ObjectType: ObjectFunction, ObjectName: name, ChangeType: ChangeAdded})
	}
	for _, name := range removed {
		diff.Differences = append(diff.Differences, DiffItem{ObjectType: ObjectFunction, ObjectName: name, ChangeType: ChangeRemoved, BreakingChange: true})
	}
	// Unlike the implementation this package is grounded on, functions get
	// the same parameter-level diffing as procedures rather than being
	// compared only by definition text: a function's signature is just as
	// much a part of its contract as a procedure's.
	for _, name := range both {
		s, t := source.Functions[name], target.Functions[name]
		item := compareRoutineParams(ObjectFunction, name, s.Parameters, t.Parameters, s.Definition, t.Definition)
		if item == nil && s.ReturnType != t.ReturnType {
			item = &DiffItem{
				ObjectType: ObjectFunction,
				ObjectName: name,
				ChangeType: ChangeModified,
				Details: map[string]FieldChange{
					"return_type": {From: s.ReturnType, To: t.ReturnType},
				},
				BreakingChange: true,
			}
		} else if item != nil && s.ReturnType != t.ReturnType {
			item.Details["return_type"] = FieldChange{From: s.ReturnType, To: t.ReturnType}
			item.BreakingChange = true
		}
		if item != nil {
			diff.Differences = append(diff.Differences, *item)
		}
	}
}

func compareRoutineParams(objType ObjectType, name string, source, target []*schema.Parameter, sourceDef, targetDef string) *DiffItem {
	sourceByName := map[string]*schema.Parameter{}
	for _, p := range source {
		sourceByName[p.Name] = p
	}
	targetByName := map[string]*schema.Parameter{}
	for _, p := range target {
		targetByName[p.Name] = p
	}

	var sourceNames, targetNames []string
	for n := range sourceByName {
		sourceNames = append(sourceNames, n)
	}
	for n := range targetByName {
		targetNames = append(targetNames, n)
	}
	added, removed, both := setDiff(sourceNames, targetNames)

	breaking := false
	details := map[string]FieldChange{}

	if len(added) > 0 {
		details["parameters_added"] = FieldChange{From: nil, To: joinSorted(added)}
	}
	if len(removed) > 0 {
		details["parameters_removed"] = FieldChange{From: joinSorted(removed), To: nil}
		breaking = true
	}
	for _, n := range both {
		s, t := sourceByName[n], targetByName[n]
		if s.DataType != t.DataType {
			details[fmt.Sprintf("parameter.%s.data_type", n)] = FieldChange{From: s.DataType, To: t.DataType}
			breaking = true
		}
	}

	definitionChanged := normalizedDefinition(sourceDef) != normalizedDefinition(targetDef)
	if len(details) == 0 && !definitionChanged {
		return nil
	}
	if definitionChanged {
		details["definition"] = FieldChange{From: "changed", To: "changed"}
	}

	return &DiffItem{
		ObjectType:     objType,
		ObjectName:     name,
		ChangeType:     ChangeModified,
		Details:        details,
		BreakingChange: breaking,
	}
}

func compareTriggers(source, target *schema.DatabaseSchema, diff *SchemaDiff) {
	sourceNames := sortedDiffKeys(source.Triggers)
	targetNames := sortedDiffKeys(target.Triggers)
	added, removed, both := setDiff(sourceNames, targetNames)

	for _, name := range added {
		diff.Differences = append(diff.Differences, DiffItem{ObjectType: ObjectTrigger, ObjectName: name, ChangeType: ChangeAdded})
	}
	for _, name := range removed {
		diff.Differences = append(diff.Differences, DiffItem{ObjectType: ObjectTrigger, ObjectName: name, ChangeType: ChangeRemoved, BreakingChange: true})
	}
	for _, name := range both {
		s, t := source.Triggers[name], target.Triggers[name]
		if normalizedDefinition(s.Definition) != normalizedDefinition(t.Definition) || s.Enabled != t.Enabled {
			diff.Differences = append(diff.Differences, DiffItem{
				ObjectType: ObjectTrigger,
				ObjectName: name,
				ChangeType: ChangeModified,
			})
		}
	}
}

// normalizedDefinition strips insignificant whitespace so a definition
// re-fetched verbatim from the catalog never looks "modified" on a rerun.
func normalizedDefinition(s string) string {
	fields := make([]string, 0, 32)
	var cur []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			if len(cur) > 0 {
				fields = append(fields, string(cur))
				cur = cur[:0]
			}
		default:
			cur = append(cur, s[i])
		}
	}
	if len(cur) > 0 {
		fields = append(fields, string(cur))
	}
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += " "
		}
		out += f
	}
	return out
}

func tableSummary(t *schema.Table) map[string]any {
	return map[string]any{"columns": len(t.Columns), "indexes": len(t.Indexes), "rowCount": t.RowCount}
}

func columnSummary(c *schema.Column) map[string]any {
	m := map[string]any{
		"dataType":   c.DataType,
		"rawType":    c.RawType,
		"nullable":   c.Nullable,
		"isIdentity": c.IsIdentity,
		"hasDefault": c.DefaultValue != nil,
	}
	if c.MaxLength != nil {
		m["maxLength"] = *c.MaxLength
	}
	if c.Precision != nil {
		m["precision"] = *c.Precision
	}
	if c.Scale != nil {
		m["scale"] = *c.Scale
	}
	return m
}

func indexSummary(i *schema.Index) map[string]any {
	return map[string]any{"columns": i.Columns, "unique": i.Unique}
}

func fkSummary(f *schema.ForeignKey) map[string]any {
	return map[string]any{"referencedTable": f.ReferencedTable, "onDelete": f.OnDelete, "onUpdate": f.OnUpdate}
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrValue(a *int) any {
	if a == nil {
		return nil
	}
	return *a
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtrValue(a *string) any {
	if a == nil {
		return nil
	}
	return *a
}
