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

// Package ais implements the Akiban Information Schema: the immutable,
// versioned in-memory snapshot of a database's metadata that the schema
// manager persists, distributes, and serves to every session. Trimmed to
// the elements the schema manager itself needs to reason about (tables,
// indexes, sequences, routines) — full column-type machinery and foreign
// keys beyond "which group a table belongs to" are out of scope.
package ais

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
)

// TableName is a schema-qualified name, the unit every catalog object is
// addressed by.
type TableName struct {
	Schema string
	Name   string
}

func (n TableName) String() string { return n.Schema + "." + n.Name }

// NewTableName is a small convenience constructor for a schema-qualified
// name.
func NewTableName(schema, name string) TableName { return TableName{Schema: schema, Name: name} }

// Column is a table's column. Kept intentionally small — the schema
// manager only needs enough of the column to round-trip it and to
// synthesize a hidden primary key when a table declares none.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// Index is a table-owned index: the primary key, a unique secondary index,
// or an ordinary secondary index.
type Index struct {
	ID      int32
	Name    string
	Columns []string
	Unique  bool
	Primary bool
}

// Table is one base table. Version is bumped by the table's owning DDL
// every time its definition changes; HiddenPK is set by Finish when the
// table declared no primary key of its own.
type Table struct {
	ID          int32
	Name        TableName
	Version     int32
	Columns     []Column
	Indexes     map[int32]*Index
	GroupName   string
	Memory      bool // backed by an in-process factory; never persisted
	HiddenPK    bool
	nextIndexID int32
}

// AddIndex assigns idx an ID if it doesn't have one yet and adds it to the
// table.
func (t *Table) AddIndex(idx *Index) {
	if t.Indexes == nil {
		t.Indexes = map[int32]*Index{}
	}
	if idx.ID == 0 {
		t.nextIndexID++
		idx.ID = t.nextIndexID
	} else if idx.ID > t.nextIndexID {
		t.nextIndexID = idx.ID
	}
	t.Indexes[idx.ID] = idx
}

// PrimaryKey returns the table's primary key index, or nil.
func (t *Table) PrimaryKey() *Index {
	for _, idx := range t.Indexes {
		if idx.Primary {
			return idx
		}
	}
	return nil
}

func (t *Table) clone() *Table {
	c := &Table{
		ID: t.ID, Name: t.Name, Version: t.Version, GroupName: t.GroupName,
		Memory: t.Memory, HiddenPK: t.HiddenPK, nextIndexID: t.nextIndexID,
	}
	c.Columns = append([]Column(nil), t.Columns...)
	if t.Indexes != nil {
		c.Indexes = make(map[int32]*Index, len(t.Indexes))
		for id, idx := range t.Indexes {
			cp := *idx
			cp.Columns = append([]string(nil), idx.Columns...)
			c.Indexes[id] = &cp
		}
	}
	return c
}

// Sequence is a standalone sequence generator.
type Sequence struct {
	ID   int32
	Name TableName
}

// Routine is a stored procedure/function; the schema manager only cares
// about its name and which schema it lives in (for the system-schema
// filtering selectors).
type Routine struct {
	Name TableName
}

// Schema is a named collection of tables, sequences, and routines.
type Schema struct {
	Name      string
	Tables    map[int32]*Table
	Sequences map[int32]*Sequence
	Routines  map[string]*Routine
}

func newSchema(name string) *Schema {
	return &Schema{
		Name:      name,
		Tables:    map[int32]*Table{},
		Sequences: map[int32]*Sequence{},
		Routines:  map[string]*Routine{},
	}
}

func (s *Schema) clone() *Schema {
	c := newSchema(s.Name)
	for id, t := range s.Tables {
		c.Tables[id] = t.clone()
	}
	for id, sq := range s.Sequences {
		cp := *sq
		c.Sequences[id] = &cp
	}
	for name, r := range s.Routines {
		cp := *r
		c.Routines[name] = &cp
	}
	return c
}

// System schema names the schema manager treats specially when framing
// protobuf fragments and when building the process-local memory-table
// overlay: they're never written to shared storage.
const (
	InformationSchema = "information_schema"
	SecuritySchema    = "security"
	SysSchema         = "sys"
	SQLJSchema        = "sqlj"
)

// AIS is one immutable-once-frozen snapshot of the whole catalog.
type AIS struct {
	generation int64
	frozen     bool
	schemas    map[string]*Schema
}

// New returns an empty, unfrozen AIS.
func New() *AIS {
	return &AIS{schemas: map[string]*Schema{}}
}

// Generation returns the AIS's assigned generation, or 0 if none has been
// assigned yet (an AIS under construction).
func (a *AIS) Generation() int64 { return a.generation }

// SetGeneration assigns the AIS's generation. It panics if the AIS is
// already frozen — generation is the last thing set before Freeze.
func (a *AIS) SetGeneration(g int64) {
	if a.frozen {
		panic(errors.AssertionFailedf("ais: cannot set generation on a frozen AIS"))
	}
	a.generation = g
}

// Frozen reports whether Freeze has been called.
func (a *AIS) Frozen() bool { return a.frozen }

// Freeze marks the AIS immutable. Every mutator below panics if called on
// a frozen AIS.
func (a *AIS) Freeze() { a.frozen = true }

func (a *AIS) checkMutable() {
	if a.frozen {
		panic(errors.AssertionFailedf("ais: attempt to mutate a frozen AIS"))
	}
}

// Schema returns the named schema, or nil if it doesn't exist.
func (a *AIS) Schema(name string) *Schema { return a.schemas[name] }

// SchemaNames returns every schema name present, sorted.
func (a *AIS) SchemaNames() []string {
	names := make([]string, 0, len(a.schemas))
	for n := range a.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetOrCreateSchema returns the named schema, creating an empty one if it
// doesn't exist yet.
func (a *AIS) GetOrCreateSchema(name string) *Schema {
	a.checkMutable()
	s, ok := a.schemas[name]
	if !ok {
		s = newSchema(name)
		a.schemas[name] = s
	}
	return s
}

// DropSchema removes a schema entirely, whatever it still contains.
// DropTable does not call it; it removes an emptied schema itself.
func (a *AIS) DropSchema(name string) {
	a.checkMutable()
	delete(a.schemas, name)
}

// Table looks up a table by id across every schema.
func (a *AIS) Table(id int32) *Table {
	for _, s := range a.schemas {
		if t, ok := s.Tables[id]; ok {
			return t
		}
	}
	return nil
}

// TableByName looks up a table by its schema-qualified name.
func (a *AIS) TableByName(name TableName) *Table {
	s := a.schemas[name.Schema]
	if s == nil {
		return nil
	}
	for _, t := range s.Tables {
		if t.Name.Name == name.Name {
			return t
		}
	}
	return nil
}

// AddTable installs table into its named schema, creating the schema if
// necessary.
func (a *AIS) AddTable(table *Table) {
	a.checkMutable()
	s := a.GetOrCreateSchema(table.Name.Schema)
	s.Tables[table.ID] = table
}

// DropTable removes a table by id, and its owning schema if that was the
// schema's last table.
func (a *AIS) DropTable(id int32) {
	a.checkMutable()
	for _, s := range a.schemas {
		if _, ok := s.Tables[id]; ok {
			delete(s.Tables, id)
			if len(s.Tables) == 0 && len(s.Sequences) == 0 && len(s.Routines) == 0 {
				delete(a.schemas, s.Name)
			}
			return
		}
	}
}

// Tables returns every table across every schema, keyed by id.
func (a *AIS) Tables() map[int32]*Table {
	out := map[int32]*Table{}
	for _, s := range a.schemas {
		for id, t := range s.Tables {
			out[id] = t
		}
	}
	return out
}

// Sequences returns every sequence across every schema, keyed by id.
func (a *AIS) Sequences() map[int32]*Sequence {
	out := map[int32]*Sequence{}
	for _, s := range a.schemas {
		for id, sq := range s.Sequences {
			out[id] = sq
		}
	}
	return out
}

// Clone deep-copies the AIS into a new, unfrozen one. Mutators (ApplyDDL)
// always start from a clone of curAIS, never mutate it in place.
func (a *AIS) Clone() *AIS {
	c := New()
	c.generation = a.generation
	for name, s := range a.schemas {
		c.schemas[name] = s.clone()
	}
	return c
}

// Visitor receives every storage-relevant object in an AIS, used by
// ListStoragePaths to enumerate every path the AIS references.
type Visitor interface {
	VisitTable(t *Table)
	VisitIndex(table *Table, idx *Index)
	VisitSequence(s *Sequence)
}

// Visit walks every schema in a stable order and calls back into v.
func (a *AIS) Visit(v Visitor) {
	for _, name := range a.SchemaNames() {
		s := a.schemas[name]
		ids := make([]int32, 0, len(s.Tables))
		for id := range s.Tables {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			t := s.Tables[id]
			v.VisitTable(t)
			idxIDs := make([]int32, 0, len(t.Indexes))
			for iid := range t.Indexes {
				idxIDs = append(idxIDs, iid)
			}
			sort.Slice(idxIDs, func(i, j int) bool { return idxIDs[i] < idxIDs[j] })
			for _, iid := range idxIDs {
				v.VisitIndex(t, t.Indexes[iid])
			}
		}
		sqIDs := make([]int32, 0, len(s.Sequences))
		for id := range s.Sequences {
			sqIDs = append(sqIDs, id)
		}
		sort.Slice(sqIDs, func(i, j int) bool { return sqIDs[i] < sqIDs[j] })
		for _, id := range sqIDs {
			v.VisitSequence(s.Sequences[id])
		}
	}
}

// StoragePath is the data-directory path for table/index/sequence storage,
// mirroring FDBNameGenerator.dataPath.
func StoragePath(name TableName) []string {
	return []string{"data", name.Schema, name.Name}
}

// IndexStoragePath is the data-directory path for one index's storage.
func IndexStoragePath(table TableName, index *Index) []string {
	return []string{"data", table.Schema, table.Name, "i", index.Name}
}

// SequenceStoragePath is the data-directory path for one sequence.
func SequenceStoragePath(name TableName) []string {
	return []string{"data", name.Schema, name.Name, "seq"}
}

// ListStoragePaths returns every storage path the AIS references, as
// sorted, de-duplicated strings.
func ListStoragePaths(a *AIS) []string {
	v := &pathCollector{seen: map[string]bool{}}
	a.Visit(v)
	out := make([]string, 0, len(v.seen))
	for p := range v.seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

type pathCollector struct {
	seen map[string]bool
}

func (c *pathCollector) VisitTable(t *Table) {
	c.seen[fmt.Sprint(StoragePath(t.Name))] = true
}

func (c *pathCollector) VisitIndex(table *Table, idx *Index) {
	c.seen[fmt.Sprint(IndexStoragePath(table.Name, idx))] = true
}

func (c *pathCollector) VisitSequence(s *Sequence) {
	c.seen[fmt.Sprint(SequenceStoragePath(s.Name))] = true
}
