// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Canonicalize produces a deterministic byte representation of a
// DatabaseSchema: maps are flattened into name-sorted slices so that two
// extractions of the same structure always serialize identically regardless
// of Go's randomized map iteration order.
func Canonicalize(d *DatabaseSchema) []byte {
	doc := canonicalDoc{
		Engine:        d.Engine,
		DatabaseName:  d.DatabaseName,
		ServerVersion: d.ServerVersion,
		Collation:     d.Collation,
	}

	for _, name := range sortedKeys(d.Tables) {
		doc.Tables = append(doc.Tables, canonicalizeTable(d.Tables[name]))
	}
	for _, name := range sortedKeys(d.Views) {
		v := d.Views[name]
		doc.Views = append(doc.Views, canonicalView{
			FullName:       v.FullName(),
			Definition:     normalizeSQL(v.Definition),
			Columns:        sortedStrings(v.Columns),
			IsMaterialized: v.IsMaterialized,
		})
	}
	for _, name := range sortedKeys(d.Procedures) {
		doc.Procedures = append(doc.Procedures, canonicalizeRoutine(name, d.Procedures[name].Parameters, d.Procedures[name].Definition, ""))
	}
	for _, name := range sortedKeys(d.Functions) {
		f := d.Functions[name]
		doc.Functions = append(doc.Functions, canonicalizeRoutine(name, f.Parameters, f.Definition, f.ReturnType))
	}
	for _, name := range sortedKeys(d.Triggers) {
		tr := d.Triggers[name]
		events := make([]string, len(tr.Events))
		for i, e := range tr.Events {
			events[i] = string(e)
		}
		sort.Strings(events)
		doc.Triggers = append(doc.Triggers, canonicalTrigger{
			FullName:   tr.FullName(),
			Table:      tr.Table,
			Timing:     tr.Timing,
			Events:     events,
			Definition: normalizeSQL(tr.Definition),
			Enabled:    tr.Enabled,
		})
	}

	b, err := json.Marshal(doc)
	if err != nil {
		// Marshal of a fully concrete struct built entirely from in-memory
		// values cannot fail; preserve the invariant that Canonicalize never
		// returns an error by panicking on the impossible case.
		panic("schema: canonicalize: " + err.Error())
	}
	return b
}

// ContentHash returns the hex-encoded SHA-256 digest of the canonical
// serialization of a schema, used as the cheap equality/identity check
// before a full structural diff is run.
func ContentHash(d *DatabaseSchema) string {
	sum := sha256.Sum256(Canonicalize(d))
	return hex.EncodeToString(sum[:])
}

type canonicalDoc struct {
	Engine        Engine             `json:"engine"`
	DatabaseName  string             `json:"databaseName"`
	ServerVersion string             `json:"serverVersion"`
	Collation     string             `json:"collation,omitempty"`
	Tables        []canonicalTable   `json:"tables,omitempty"`
	Views         []canonicalView    `json:"views,omitempty"`
	Procedures    []canonicalRoutine `json:"procedures,omitempty"`
	Functions     []canonicalRoutine `json:"functions,omitempty"`
	Triggers      []canonicalTrigger `json:"triggers,omitempty"`
}

type canonicalTable struct {
	FullName     string            `json:"fullName"`
	Columns      []canonicalColumn `json:"columns"`
	Indexes      []canonicalIndex  `json:"indexes,omitempty"`
	ForeignKeys  []canonicalFK     `json:"foreignKeys,omitempty"`
	PrimaryKey   []string          `json:"primaryKey,omitempty"`
	IsTemporal   bool              `json:"isTemporal,omitempty"`
	HistoryTable string            `json:"historyTable,omitempty"`
}

type canonicalColumn struct {
	Name               string   `json:"name"`
	DataType           DataType `json:"dataType"`
	MaxLength          any      `json:"maxLength,omitempty"`
	Precision          *int     `json:"precision,omitempty"`
	Scale              *int     `json:"scale,omitempty"`
	Nullable           bool     `json:"nullable"`
	DefaultValue       *string  `json:"defaultValue,omitempty"`
	IsIdentity         bool     `json:"isIdentity"`
	IsComputed         bool     `json:"isComputed,omitempty"`
	ComputedExpression *string  `json:"computedExpression,omitempty"`
}

// maxLengthSentinel normalizes the vendor sentinel for an unbounded column
// (SQL Server's sys.columns.max_length = -1 for NVARCHAR(MAX) and friends)
// to the canonical string "MAX" so hashing doesn't depend on the raw -1
// encoding. Any other value, including nil, passes through unchanged.
func maxLengthSentinel(a *int) any {
	if a == nil {
		return nil
	}
	if *a == -1 {
		return "MAX"
	}
	return *a
}

type canonicalIndex struct {
	Name             string    `json:"name"`
	Kind             IndexKind `json:"kind"`
	Unique           bool      `json:"unique"`
	Columns          []string  `json:"columns"`
	IncludedColumns  []string  `json:"includedColumns,omitempty"`
	FilterDefinition *string   `json:"filterDefinition,omitempty"`
}

type canonicalFK struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referencedTable"`
	ReferencedColumns []string `json:"referencedColumns"`
	OnDelete          string   `json:"onDelete"`
	OnUpdate          string   `json:"onUpdate"`
}

type canonicalView struct {
	FullName       string   `json:"fullName"`
	Definition     string   `json:"definition"`
	Columns        []string `json:"columns,omitempty"`
	IsMaterialized bool     `json:"isMaterialized"`
}

type canonicalRoutine struct {
	FullName   string              `json:"fullName"`
	ReturnType DataType            `json:"returnType,omitempty"`
	Parameters []canonicalParameter `json:"parameters,omitempty"`
	Definition string              `json:"definition"`
}

type canonicalParameter struct {
	Name      string   `json:"name"`
	DataType  DataType `json:"dataType"`
	MaxLength *int     `json:"maxLength,omitempty"`
	IsOutput  bool     `json:"isOutput"`
}

type canonicalTrigger struct {
	FullName   string        `json:"fullName"`
	Table      string        `json:"table"`
	Timing     TriggerTiming `json:"timing"`
	Events     []string      `json:"events"`
	Definition string        `json:"definition"`
	Enabled    bool          `json:"enabled"`
}

func canonicalizeTable(t *Table) canonicalTable {
	ct := canonicalTable{
		FullName:     t.FullName(),
		PrimaryKey:   sortedStrings(t.PrimaryKey),
		IsTemporal:   t.IsTemporal,
		HistoryTable: t.HistoryTable,
	}
	for _, name := range sortedKeys(t.Columns) {
		c := t.Columns[name]
		ct.Columns = append(ct.Columns, canonicalColumn{
			Name:               c.Name,
			DataType:           c.DataType,
			MaxLength:          maxLengthSentinel(c.MaxLength),
			Precision:          c.Precision,
			Scale:              c.Scale,
			Nullable:           c.Nullable,
			DefaultValue:       c.DefaultValue,
			IsIdentity:         c.IsIdentity,
			IsComputed:         c.IsComputed,
			ComputedExpression: c.ComputedExpression,
		})
	}
	for _, name := range sortedKeys(t.Indexes) {
		i := t.Indexes[name]
		ct.Indexes = append(ct.Indexes, canonicalIndex{
			Name:             i.Name,
			Kind:             i.Kind,
			Unique:           i.Unique,
			Columns:          i.Columns,
			IncludedColumns:  i.IncludedColumns,
			FilterDefinition: i.FilterDefinition,
		})
	}
	for _, name := range sortedKeys(t.ForeignKeys) {
		fk := t.ForeignKeys[name]
		ct.ForeignKeys = append(ct.ForeignKeys, canonicalFK{
			Name:              fk.Name,
			Columns:           fk.Columns,
			ReferencedTable:   fk.ReferencedTable,
			ReferencedColumns: fk.ReferencedColumns,
			OnDelete:          fk.OnDelete,
			OnUpdate:          fk.OnUpdate,
		})
	}
	return ct
}

func canonicalizeRoutine(fullName string, params []*Parameter, definition string, returnType DataType) canonicalRoutine {
	cr := canonicalRoutine{
		FullName:   fullName,
		ReturnType: returnType,
		Definition: normalizeSQL(definition),
	}
	sorted := make([]*Parameter, len(params))
	copy(sorted, params)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrdinalPosition < sorted[j].OrdinalPosition })
	for _, p := range sorted {
		cr.Parameters = append(cr.Parameters, canonicalParameter{
			Name:      p.Name,
			DataType:  p.DataType,
			MaxLength: p.MaxLength,
			IsOutput:  p.IsOutput,
		})
	}
	return cr
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

// normalizeSQL strips trailing whitespace on each line and normalizes line
// endings so that a routine body extracted twice in a row (possibly over a
// different connection encoding) hashes identically.
func normalizeSQL(s string) string {
	out := make([]byte, 0, len(s))
	lineStart := 0
	flushLine := func(end int) {
		line := s[lineStart:end]
		for len(line) > 0 && (line[len(line)-1] == ' ' || line[len(line)-1] == '\t' || line[len(line)-1] == '\r') {
			line = line[:len(line)-1]
		}
		out = append(out, line...)
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			flushLine(i)
			out = append(out, '\n')
			lineStart = i + 1
		}
	}
	flushLine(len(s))
	return string(out)
}
