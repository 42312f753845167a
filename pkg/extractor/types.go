// SPDX-License-Identifier: Apache-2.0

package extractor

import "github.com/dbsentinel/dbsentinel/pkg/schema"

// Type tables and the normalizeType helper shared by both engine extractors: vendor type
// name -> normalized schema.DataType. Kept here, not per-engine, so the two
// tables are easy to compare against each other and against schema.DataType.

var postgresTypeTable = map[string]schema.DataType{
	"integer":           schema.TypeInt,
	"int4":              schema.TypeInt,
	"bigint":            schema.TypeBigInt,
	"int8":              schema.TypeBigInt,
	"smallint":          schema.TypeSmallInt,
	"int2":              schema.TypeSmallInt,
	"numeric":           schema.TypeDecimal,
	"decimal":           schema.TypeDecimal,
	"real":              schema.TypeFloat,
	"double precision":  schema.TypeFloat,
	"boolean":           schema.TypeBoolean,
	"bool":              schema.TypeBoolean,
	"character":         schema.TypeChar,
	"char":              schema.TypeChar,
	"character varying": schema.TypeVarchar,
	"varchar":           schema.TypeVarchar,
	"text":              schema.TypeText,
	"date":              schema.TypeDate,
	"time without time zone": schema.TypeTime,
	"timestamp without time zone": schema.TypeDateTime,
	"timestamp with time zone":    schema.TypeDateTimeOffset,
	"bytea":             schema.TypeBinary,
	"uuid":              schema.TypeUUID,
	"json":              schema.TypeJSON,
	"jsonb":              schema.TypeJSONB,
	"ARRAY":             schema.TypeArray,
	"xml":               schema.TypeXML,
	"inet":              schema.TypeInet,
	"cidr":              schema.TypeInet,
	"serial":            schema.TypeSerial,
	"bigserial":         schema.TypeSerial,
}

var sqlServerTypeTable = map[string]schema.DataType{
	"int":              schema.TypeInt,
	"bigint":           schema.TypeBigInt,
	"smallint":         schema.TypeSmallInt,
	"tinyint":          schema.TypeTinyInt,
	"decimal":          schema.TypeDecimal,
	"numeric":          schema.TypeDecimal,
	"float":            schema.TypeFloat,
	"real":             schema.TypeFloat,
	"bit":              schema.TypeBoolean,
	"char":             schema.TypeChar,
	"nchar":            schema.TypeChar,
	"varchar":          schema.TypeVarchar,
	"nvarchar":         schema.TypeVarchar,
	"text":             schema.TypeText,
	"ntext":            schema.TypeText,
	"date":             schema.TypeDate,
	"time":             schema.TypeTime,
	"datetime":         schema.TypeDateTime,
	"datetime2":        schema.TypeDateTime,
	"smalldatetime":    schema.TypeDateTime,
	"datetimeoffset":   schema.TypeDateTimeOffset,
	"binary":           schema.TypeBinary,
	"varbinary":        schema.TypeVarBinary,
	"image":            schema.TypeVarBinary,
	"uniqueidentifier": schema.TypeUUID,
	"xml":              schema.TypeXML,
	"geography":        schema.TypeGeography,
	"geometry":         schema.TypeGeography,
}

func normalizeType(table map[string]schema.DataType, raw string) schema.DataType {
	if t, ok := table[raw]; ok {
		return t
	}
	return schema.TypeUnknown
}
