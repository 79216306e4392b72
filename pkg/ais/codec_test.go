// Copyright 2026 The Sql-Layer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package ais

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestAIS() *AIS {
	a := New()
	a.SetGeneration(7)
	t1 := &Table{
		ID:   1,
		Name: NewTableName("app", "customers"),
		Columns: []Column{
			{Name: "id", Type: "BIGINT", Position: 0},
			{Name: "name", Type: "VARCHAR", Nullable: true, Position: 1},
		},
	}
	t1.AddIndex(&Index{Name: "PRIMARY", Columns: []string{"id"}, Unique: true, Primary: true})
	a.AddTable(t1)

	t2 := &Table{
		ID:   2,
		Name: NewTableName("app", "orders"),
		Columns: []Column{
			{Name: "id", Type: "BIGINT", Position: 0},
			{Name: "customer_id", Type: "BIGINT", Position: 1},
		},
		Memory: false,
	}
	t2.AddIndex(&Index{Name: "PRIMARY", Columns: []string{"id"}, Unique: true, Primary: true})
	t2.AddIndex(&Index{Name: "by_customer", Columns: []string{"customer_id"}})
	a.AddTable(t2)

	a.GetOrCreateSchema("app").Sequences[1] = &Sequence{ID: 1, Name: NewTableName("app", "order_seq")}
	return a
}

func TestSerializeRoundTrip(t *testing.T) {
	a := buildTestAIS()
	data, err := Serialize(a, WholeAIS{})
	require.NoError(t, err)

	r := NewReader()
	require.NoError(t, r.LoadBuffer(data))
	out, err := r.Finish()
	require.NoError(t, err)

	require.Equal(t, int64(0), out.Generation())
	require.False(t, out.Frozen())
	out.SetGeneration(7)
	out.Freeze()
	require.Equal(t, int64(7), out.Generation())
	require.True(t, out.Frozen())

	customers := out.TableByName(NewTableName("app", "customers"))
	require.NotNil(t, customers)
	require.Len(t, customers.Columns, 2)
	require.NotNil(t, customers.PrimaryKey())

	orders := out.TableByName(NewTableName("app", "orders"))
	require.NotNil(t, orders)
	require.Len(t, orders.Indexes, 2)

	seqs := out.Sequences()
	require.Len(t, seqs, 1)
}

func TestSerializeSingleSchemaSelector(t *testing.T) {
	a := New()
	a.AddTable(&Table{ID: 1, Name: NewTableName("app", "t1")})
	a.AddTable(&Table{ID: 2, Name: NewTableName("other", "t2")})

	data, err := Serialize(a, SingleSchemaSelector{Schema: "app"})
	require.NoError(t, err)

	r := NewReader()
	require.NoError(t, r.LoadBuffer(data))
	out, err := r.Finish()
	require.NoError(t, err)

	require.NotNil(t, out.Schema("app"))
	require.Nil(t, out.Schema("other"))
}

func TestFinishSynthesizesHiddenPrimaryKey(t *testing.T) {
	a := New()
	a.AddTable(&Table{
		ID:   1,
		Name: NewTableName("app", "no_pk"),
		Columns: []Column{
			{Name: "value", Type: "VARCHAR"},
		},
	})

	data, err := Serialize(a, WholeAIS{})
	require.NoError(t, err)

	r := NewReader()
	require.NoError(t, r.LoadBuffer(data))
	out, err := r.Finish()
	require.NoError(t, err)

	tbl := out.TableByName(NewTableName("app", "no_pk"))
	require.True(t, tbl.HiddenPK)
	pk := tbl.PrimaryKey()
	require.NotNil(t, pk)
	require.Equal(t, []string{"__hidden_pk"}, pk.Columns)
}

func TestFinishRejectsInvalidSchema(t *testing.T) {
	a := New()
	t1 := &Table{ID: 1, Name: NewTableName("app", "bad")}
	t1.AddIndex(&Index{Name: "PRIMARY", Columns: []string{"missing_col"}, Primary: true})
	a.AddTable(t1)

	data, err := Serialize(a, WholeAIS{})
	require.NoError(t, err)

	r := NewReader()
	require.NoError(t, r.LoadBuffer(data))
	_, err = r.Finish()
	require.Error(t, err)
	var invalid *InvalidSchema
	require.ErrorAs(t, err, &invalid)
	require.NotEmpty(t, invalid.Reasons)
}

func TestListStoragePaths(t *testing.T) {
	a := buildTestAIS()
	paths := ListStoragePaths(a)
	require.NotEmpty(t, paths)
	// Every table and its primary key index contributes a path.
	require.GreaterOrEqual(t, len(paths), 4)
}

func TestReaderOverlaySeedsSchemasBeforeFragments(t *testing.T) {
	mem := New()
	mem.AddTable(&Table{ID: 1, Name: NewTableName(InformationSchema, "tables"), Memory: true})

	r := NewReader()
	r.Overlay(mem)

	a := New()
	a.AddTable(&Table{ID: 2, Name: NewTableName("app", "t")})
	data, err := Serialize(a, WholeAIS{})
	require.NoError(t, err)
	require.NoError(t, r.LoadBuffer(data))

	out, err := r.Finish()
	require.NoError(t, err)
	require.NotNil(t, out.Schema(InformationSchema))
	require.NotNil(t, out.Schema("app"))
}

func TestCloneIsIndependent(t *testing.T) {
	a := buildTestAIS()
	c := a.Clone()
	c.TableByName(NewTableName("app", "customers")).Version = 99
	require.NotEqual(t, c.TableByName(NewTableName("app", "customers")).Version,
		a.TableByName(NewTableName("app", "customers")).Version)
}
