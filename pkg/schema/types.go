// SPDX-License-Identifier: Apache-2.0

// Package schema holds the vendor-neutral database data model shared by the
// extractor, differ, migration and check packages. Every extractor engine
// (PostgreSQL, SQL Server) produces a DatabaseSchema; nothing downstream of
// extraction ever looks at vendor-specific types again.
package schema

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// Engine identifies the database engine a schema, connection or dialect
// belongs to.
type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineSQLServer Engine = "sqlserver"
)

// DataType is the normalized, vendor-neutral type tag every extractor maps
// its native column type onto before anything is diffed or hashed.
type DataType string

const (
	TypeInt             DataType = "int"
	TypeBigInt          DataType = "bigint"
	TypeSmallInt        DataType = "smallint"
	TypeTinyInt         DataType = "tinyint"
	TypeDecimal         DataType = "decimal"
	TypeFloat           DataType = "float"
	TypeBoolean         DataType = "boolean"
	TypeChar            DataType = "char"
	TypeVarchar         DataType = "varchar"
	TypeText            DataType = "text"
	TypeDate            DataType = "date"
	TypeTime            DataType = "time"
	TypeDateTime        DataType = "datetime"
	TypeDateTimeOffset  DataType = "datetimeoffset"
	TypeTimestamp       DataType = "timestamp"
	TypeBinary          DataType = "binary"
	TypeVarBinary       DataType = "varbinary"
	TypeUUID            DataType = "uuid"
	TypeJSON            DataType = "json"
	TypeJSONB           DataType = "jsonb"
	TypeArray           DataType = "array"
	TypeXML             DataType = "xml"
	TypeGeography       DataType = "geography"
	TypeSerial          DataType = "serial"
	TypeInet            DataType = "inet"
	TypeUnknown         DataType = "unknown"
)

// IndexKind classifies how an index is implemented, independent of vendor
// naming (pgroll's schema model carries no such distinction because it only
// targets a single engine; dbsentinel needs it to compare a SQL Server
// CLUSTERED index against a PostgreSQL btree index sensibly).
type IndexKind string

const (
	IndexBTree       IndexKind = "btree"
	IndexClustered   IndexKind = "clustered"
	IndexHash        IndexKind = "hash"
	IndexGIN         IndexKind = "gin"
	IndexGIST        IndexKind = "gist"
	IndexBRIN        IndexKind = "brin"
	IndexColumnstore IndexKind = "columnstore"
	IndexFullText    IndexKind = "fulltext"
	IndexSpatial     IndexKind = "spatial"
)

// TriggerTiming is when, relative to the triggering statement, a trigger
// fires.
type TriggerTiming string

const (
	TriggerBefore    TriggerTiming = "before"
	TriggerAfter     TriggerTiming = "after"
	TriggerInsteadOf TriggerTiming = "instead_of"
)

// TriggerEvent is the statement kind a trigger is bound to.
type TriggerEvent string

const (
	TriggerInsert TriggerEvent = "insert"
	TriggerUpdate TriggerEvent = "update"
	TriggerDelete TriggerEvent = "delete"
)

// Column describes a single table column in vendor-neutral terms.
type Column struct {
	Name               string   `json:"name"`
	DataType           DataType `json:"dataType"`
	RawType            string   `json:"rawType"`
	MaxLength          *int     `json:"maxLength,omitempty"`
	Precision          *int     `json:"precision,omitempty"`
	Scale              *int     `json:"scale,omitempty"`
	Nullable           bool     `json:"nullable"`
	DefaultValue       *string  `json:"defaultValue,omitempty"`
	IsIdentity         bool     `json:"isIdentity"`
	IsComputed         bool     `json:"isComputed"`
	ComputedExpression *string  `json:"computedExpression,omitempty"`
	OrdinalPosition    int      `json:"ordinalPosition"`
	Comment            string   `json:"comment,omitempty"`
}

// Index describes an index defined on a table.
type Index struct {
	Name             string    `json:"name"`
	Kind             IndexKind `json:"kind"`
	Unique           bool      `json:"unique"`
	Columns          []string  `json:"columns"`
	IncludedColumns  []string  `json:"includedColumns,omitempty"`
	FilterDefinition *string   `json:"filterDefinition,omitempty"`
	IsPrimaryKey     bool      `json:"isPrimaryKey"`
}

// ForeignKey describes a foreign key constraint.
type ForeignKey struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referencedTable"`
	ReferencedSchema  string   `json:"referencedSchema,omitempty"`
	ReferencedColumns []string `json:"referencedColumns"`
	OnDelete          string   `json:"onDelete"`
	OnUpdate          string   `json:"onUpdate"`
}

// Table describes a single table, its columns, indexes and foreign keys.
type Table struct {
	Schema       string                 `json:"schema"`
	Name         string                 `json:"name"`
	Columns      map[string]*Column     `json:"columns"`
	Indexes      map[string]*Index      `json:"indexes"`
	ForeignKeys  map[string]*ForeignKey `json:"foreignKeys"`
	PrimaryKey   []string               `json:"primaryKey,omitempty"`
	RowCount     int64                  `json:"rowCount"`
	Comment      string                 `json:"comment,omitempty"`
	IsTemporal   bool                   `json:"isTemporal"`
	HistoryTable string                 `json:"historyTable,omitempty"`
}

// FullName returns the schema-qualified table name.
func (t *Table) FullName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// GetColumn returns a column by name, or nil if it does not exist.
func (t *Table) GetColumn(name string) *Column {
	if t.Columns == nil {
		return nil
	}
	return t.Columns[name]
}

// View describes a database view.
type View struct {
	Schema            string   `json:"schema"`
	Name              string   `json:"name"`
	Definition        string   `json:"definition"`
	Columns           []string `json:"columns"`
	IsMaterialized    bool     `json:"isMaterialized"`
	ReferencedTables  []string `json:"referencedTables,omitempty"`
}

// FullName returns the schema-qualified view name.
func (v *View) FullName() string {
	if v.Schema == "" {
		return v.Name
	}
	return v.Schema + "." + v.Name
}

// Parameter describes a single parameter of a procedure or function.
type Parameter struct {
	Name            string   `json:"name"`
	DataType        DataType `json:"dataType"`
	RawType         string   `json:"rawType"`
	MaxLength       *int     `json:"maxLength,omitempty"`
	IsOutput        bool     `json:"isOutput"`
	HasDefault      bool     `json:"hasDefault"`
	DefaultValue    *string  `json:"defaultValue,omitempty"`
	OrdinalPosition int      `json:"ordinalPosition"`
}

// Procedure describes a stored procedure.
type Procedure struct {
	Schema     string       `json:"schema"`
	Name       string       `json:"name"`
	Parameters []*Parameter `json:"parameters"`
	Definition string       `json:"definition"`
}

// FullName returns the schema-qualified procedure name.
func (p *Procedure) FullName() string {
	if p.Schema == "" {
		return p.Name
	}
	return p.Schema + "." + p.Name
}

// Function describes a user-defined function.
type Function struct {
	Schema     string       `json:"schema"`
	Name       string       `json:"name"`
	Parameters []*Parameter `json:"parameters"`
	ReturnType DataType     `json:"returnType"`
	Definition string       `json:"definition"`
}

// FullName returns the schema-qualified function name.
func (f *Function) FullName() string {
	if f.Schema == "" {
		return f.Name
	}
	return f.Schema + "." + f.Name
}

// Trigger describes a table trigger.
type Trigger struct {
	Schema     string        `json:"schema"`
	Name       string        `json:"name"`
	Table      string        `json:"table"`
	Timing     TriggerTiming `json:"timing"`
	Events     []TriggerEvent `json:"events"`
	Definition string        `json:"definition"`
	Enabled    bool          `json:"enabled"`
}

// FullName returns the schema-qualified trigger name.
func (tr *Trigger) FullName() string {
	if tr.Schema == "" {
		return tr.Name
	}
	return tr.Schema + "." + tr.Name
}

// DatabaseSchema is the root of the vendor-neutral data model: the complete
// extracted structure of one database at one point in time.
type DatabaseSchema struct {
	Engine        Engine                `json:"engine"`
	DatabaseName  string                `json:"databaseName"`
	ServerVersion string                `json:"serverVersion"`
	Collation     string                `json:"collation,omitempty"`
	Tables        map[string]*Table     `json:"tables"`
	Views         map[string]*View      `json:"views"`
	Procedures    map[string]*Procedure `json:"procedures"`
	Functions     map[string]*Function  `json:"functions"`
	Triggers      map[string]*Trigger   `json:"triggers"`
	ExtractedAt   string                `json:"extractedAt"`
}

// New returns an empty DatabaseSchema ready for an extractor to populate.
func New(engine Engine, databaseName string) *DatabaseSchema {
	return &DatabaseSchema{
		Engine:       engine,
		DatabaseName: databaseName,
		Tables:       make(map[string]*Table),
		Views:        make(map[string]*View),
		Procedures:   make(map[string]*Procedure),
		Functions:    make(map[string]*Function),
		Triggers:     make(map[string]*Trigger),
	}
}

// GetTable returns a table by its schema-qualified name.
func (d *DatabaseSchema) GetTable(fullName string) *Table {
	if d.Tables == nil {
		return nil
	}
	return d.Tables[fullName]
}

// GetView returns a view by its schema-qualified name.
func (d *DatabaseSchema) GetView(fullName string) *View {
	if d.Views == nil {
		return nil
	}
	return d.Views[fullName]
}

// GetProcedure returns a procedure by its schema-qualified name.
func (d *DatabaseSchema) GetProcedure(fullName string) *Procedure {
	if d.Procedures == nil {
		return nil
	}
	return d.Procedures[fullName]
}

// TableCount returns the number of tables in the schema.
func (d *DatabaseSchema) TableCount() int { return len(d.Tables) }

// TotalColumns returns the sum of column counts across all tables.
func (d *DatabaseSchema) TotalColumns() int {
	n := 0
	for _, t := range d.Tables {
		n += len(t.Columns)
	}
	return n
}

// Value implements driver.Valuer so a DatabaseSchema can be stored directly
// in a JSONB column.
func (d DatabaseSchema) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner, the mirror of Value.
func (d *DatabaseSchema) Scan(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("schema: type assertion to []byte failed")
	}
	return json.Unmarshal(b, d)
}
