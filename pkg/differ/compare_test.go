// SPDX-License-Identifier: Apache-2.0

package differ_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsentinel/dbsentinel/pkg/differ"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

func baseSchema() *schema.DatabaseSchema {
	d := schema.New(schema.EnginePostgres, "app")
	d.Tables["public.users"] = &schema.Table{
		Schema: "public",
		Name:   "users",
		Columns: map[string]*schema.Column{
			"id":    {Name: "id", DataType: schema.TypeInt, Nullable: false},
			"email": {Name: "email", DataType: schema.TypeVarchar, Nullable: false},
		},
		Indexes:     map[string]*schema.Index{},
		ForeignKeys: map[string]*schema.ForeignKey{},
	}
	return d
}

func TestCompareDetectsAddedTable(t *testing.T) {
	source := baseSchema()
	target := baseSchema()
	target.Tables["public.orders"] = &schema.Table{
		Schema:      "public",
		Name:        "orders",
		Columns:     map[string]*schema.Column{},
		Indexes:     map[string]*schema.Index{},
		ForeignKeys: map[string]*schema.ForeignKey{},
	}

	diff := differ.Compare(source, target, "s1", "s2")

	require.Equal(t, 1, diff.TablesAdded)
	assert.False(t, diff.HasBreakingChanges())
}

func TestCompareRemovedTableIsBreaking(t *testing.T) {
	source := baseSchema()
	target := schema.New(schema.EnginePostgres, "app")

	diff := differ.Compare(source, target, "s1", "s2")

	require.Equal(t, 1, diff.TablesRemoved)
	assert.True(t, diff.HasBreakingChanges())
}

func TestCompareNarrowingTypeChangeIsBreaking(t *testing.T) {
	source := baseSchema()
	target := baseSchema()
	source.Tables["public.users"].Columns["id"].DataType = schema.TypeBigInt
	target.Tables["public.users"].Columns["id"].DataType = schema.TypeInt

	diff := differ.Compare(source, target, "s1", "s2")

	require.Equal(t, 1, diff.ColumnsModified)
	assert.True(t, diff.HasBreakingChanges())
}

func TestCompareWideningTypeChangeIsNotBreaking(t *testing.T) {
	source := baseSchema()
	target := baseSchema()
	target.Tables["public.users"].Columns["email"].DataType = schema.TypeText

	diff := differ.Compare(source, target, "s1", "s2")

	require.Equal(t, 1, diff.ColumnsModified)
	assert.False(t, diff.HasBreakingChanges())
}

func TestCompareDefaultValueChangeIsNotBreaking(t *testing.T) {
	source := baseSchema()
	target := baseSchema()
	v := "pending"
	target.Tables["public.users"].Columns["email"].DefaultValue = &v

	diff := differ.Compare(source, target, "s1", "s2")

	require.Equal(t, 1, diff.ColumnsModified)
	assert.False(t, diff.HasBreakingChanges())
}

func TestCompareNarrowingColumnIsBreaking(t *testing.T) {
	source := baseSchema()
	target := baseSchema()
	big, small := 255, 32
	source.Tables["public.users"].Columns["email"].MaxLength = &big
	target.Tables["public.users"].Columns["email"].MaxLength = &small

	diff := differ.Compare(source, target, "s1", "s2")

	assert.True(t, diff.HasBreakingChanges())
}

func TestCompareAddedNotNullColumnWithoutDefaultIsBreaking(t *testing.T) {
	source := baseSchema()
	target := baseSchema()
	target.Tables["public.users"].Columns["phone"] = &schema.Column{Name: "phone", DataType: schema.TypeVarchar, Nullable: false}

	diff := differ.Compare(source, target, "s1", "s2")

	require.Equal(t, 1, diff.ColumnsAdded)
	assert.True(t, diff.HasBreakingChanges())
}

func TestCompareAddedNullableColumnIsNotBreaking(t *testing.T) {
	source := baseSchema()
	target := baseSchema()
	target.Tables["public.users"].Columns["phone"] = &schema.Column{Name: "phone", DataType: schema.TypeVarchar, Nullable: true}

	diff := differ.Compare(source, target, "s1", "s2")

	require.Equal(t, 1, diff.ColumnsAdded)
	assert.False(t, diff.HasBreakingChanges())
}

func TestComparePrimaryKeyChangeIsBreaking(t *testing.T) {
	source := baseSchema()
	target := baseSchema()
	source.Tables["public.users"].PrimaryKey = []string{"id"}
	target.Tables["public.users"].PrimaryKey = []string{"id", "email"}

	diff := differ.Compare(source, target, "s1", "s2")

	require.Equal(t, 1, diff.TablesModified)
	assert.True(t, diff.HasBreakingChanges())
}

func TestCompareNoChangesProducesEmptyDiff(t *testing.T) {
	source := baseSchema()
	target := baseSchema()

	diff := differ.Compare(source, target, "s1", "s2")

	assert.Equal(t, 0, diff.TotalChanges())
}
