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
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/gogo/protobuf/proto"
)

// Serialize frames the parts of ais that selector accepts into a single
// fragment. The wire format is a hand-framed stream of protobuf
// primitives (varints and length-prefixed strings via proto.Buffer), not
// a generated message — the schema manager only ever needs to write and
// read its own fragments, never interoperate with a foreign protobuf
// schema.
func Serialize(a *AIS, selector WriteSelector) ([]byte, error) {
	buf := proto.NewBuffer(nil)

	var names []string
	for _, name := range a.SchemaNames() {
		if selector.SelectSchema(name) {
			names = append(names, name)
		}
	}
	if err := buf.EncodeVarint(uint64(len(names))); err != nil {
		return nil, errors.Wrap(err, "ais: encode schema count")
	}
	for _, name := range names {
		if err := encodeSchema(buf, a.schemas[name], selector); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeSchema(buf *proto.Buffer, s *Schema, selector WriteSelector) error {
	if err := buf.EncodeStringBytes(s.Name); err != nil {
		return errors.Wrap(err, "ais: encode schema name")
	}

	var tableIDs []int32
	for id, t := range s.Tables {
		if selector.SelectTable(t) {
			tableIDs = append(tableIDs, id)
		}
	}
	sort.Slice(tableIDs, func(i, j int) bool { return tableIDs[i] < tableIDs[j] })
	if err := buf.EncodeVarint(uint64(len(tableIDs))); err != nil {
		return err
	}
	for _, id := range tableIDs {
		if err := encodeTable(buf, s.Tables[id]); err != nil {
			return err
		}
	}

	sqIDs := make([]int32, 0, len(s.Sequences))
	for id := range s.Sequences {
		sqIDs = append(sqIDs, id)
	}
	sort.Slice(sqIDs, func(i, j int) bool { return sqIDs[i] < sqIDs[j] })
	if err := buf.EncodeVarint(uint64(len(sqIDs))); err != nil {
		return err
	}
	for _, id := range sqIDs {
		sq := s.Sequences[id]
		if err := buf.EncodeVarint(uint64(sq.ID)); err != nil {
			return err
		}
		if err := buf.EncodeStringBytes(sq.Name.Name); err != nil {
			return err
		}
	}

	routineNames := make([]string, 0, len(s.Routines))
	for name := range s.Routines {
		routineNames = append(routineNames, name)
	}
	sort.Strings(routineNames)
	if err := buf.EncodeVarint(uint64(len(routineNames))); err != nil {
		return err
	}
	for _, name := range routineNames {
		if err := buf.EncodeStringBytes(name); err != nil {
			return err
		}
	}
	return nil
}

func encodeTable(buf *proto.Buffer, t *Table) error {
	enc := []func() error{
		func() error { return buf.EncodeVarint(uint64(t.ID)) },
		func() error { return buf.EncodeStringBytes(t.Name.Name) },
		func() error { return buf.EncodeVarint(uint64(t.Version)) },
		func() error { return buf.EncodeStringBytes(t.GroupName) },
		func() error { return buf.EncodeVarint(boolVarint(t.Memory)) },
		func() error { return buf.EncodeVarint(boolVarint(t.HiddenPK)) },
	}
	for _, fn := range enc {
		if err := fn(); err != nil {
			return errors.Wrap(err, "ais: encode table")
		}
	}

	if err := buf.EncodeVarint(uint64(len(t.Columns))); err != nil {
		return err
	}
	for _, c := range t.Columns {
		if err := buf.EncodeStringBytes(c.Name); err != nil {
			return err
		}
		if err := buf.EncodeStringBytes(c.Type); err != nil {
			return err
		}
		if err := buf.EncodeVarint(boolVarint(c.Nullable)); err != nil {
			return err
		}
		if err := buf.EncodeVarint(uint64(c.Position)); err != nil {
			return err
		}
	}

	idxIDs := make([]int32, 0, len(t.Indexes))
	for id := range t.Indexes {
		idxIDs = append(idxIDs, id)
	}
	sort.Slice(idxIDs, func(i, j int) bool { return idxIDs[i] < idxIDs[j] })
	if err := buf.EncodeVarint(uint64(len(idxIDs))); err != nil {
		return err
	}
	for _, id := range idxIDs {
		idx := t.Indexes[id]
		if err := buf.EncodeVarint(uint64(idx.ID)); err != nil {
			return err
		}
		if err := buf.EncodeStringBytes(idx.Name); err != nil {
			return err
		}
		if err := buf.EncodeVarint(boolVarint(idx.Unique)); err != nil {
			return err
		}
		if err := buf.EncodeVarint(boolVarint(idx.Primary)); err != nil {
			return err
		}
		if err := buf.EncodeVarint(uint64(len(idx.Columns))); err != nil {
			return err
		}
		for _, col := range idx.Columns {
			if err := buf.EncodeStringBytes(col); err != nil {
				return err
			}
		}
	}
	return nil
}

func boolVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Reader accumulates one or more fragments written by Serialize and
// resolves them into a complete AIS on Finish: LoadBuffer per fragment,
// Finish once every fragment of interest has been loaded.
type Reader struct {
	schemas map[string]*Schema
}

// NewReader returns an empty Reader.
func NewReader() *Reader {
	return &Reader{schemas: map[string]*Schema{}}
}

// Overlay copies every schema in a directly into the reader's accumulated
// state, bypassing the wire format entirely. Used to seed a Reader with
// the process-local memory-table AIS before loading persisted fragments
// on top of it.
func (r *Reader) Overlay(a *AIS) {
	for name, s := range a.schemas {
		r.schemas[name] = s.clone()
	}
}

// LoadBuffer decodes one fragment produced by Serialize and merges it into
// the reader's accumulated state. Schemas are replaced wholesale by each
// fragment that names them — callers load fragments newest-last when a
// schema might appear more than once.
func (r *Reader) LoadBuffer(data []byte) error {
	buf := proto.NewBuffer(data)
	count, err := buf.DecodeVarint()
	if err != nil {
		return errors.Wrap(err, "ais: decode schema count")
	}
	for i := uint64(0); i < count; i++ {
		s, err := decodeSchema(buf)
		if err != nil {
			return err
		}
		r.schemas[s.Name] = s
	}
	return nil
}

func decodeSchema(buf *proto.Buffer) (*Schema, error) {
	name, err := buf.DecodeStringBytes()
	if err != nil {
		return nil, errors.Wrap(err, "ais: decode schema name")
	}
	s := newSchema(name)

	tableCount, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < tableCount; i++ {
		t, err := decodeTable(buf, name)
		if err != nil {
			return nil, err
		}
		s.Tables[t.ID] = t
	}

	sqCount, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < sqCount; i++ {
		id, err := buf.DecodeVarint()
		if err != nil {
			return nil, err
		}
		sqName, err := buf.DecodeStringBytes()
		if err != nil {
			return nil, err
		}
		s.Sequences[int32(id)] = &Sequence{ID: int32(id), Name: NewTableName(name, sqName)}
	}

	routineCount, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < routineCount; i++ {
		rName, err := buf.DecodeStringBytes()
		if err != nil {
			return nil, err
		}
		s.Routines[rName] = &Routine{Name: NewTableName(name, rName)}
	}
	return s, nil
}

func decodeTable(buf *proto.Buffer, schema string) (*Table, error) {
	id, err := buf.DecodeVarint()
	if err != nil {
		return nil, errors.Wrap(err, "ais: decode table id")
	}
	name, err := buf.DecodeStringBytes()
	if err != nil {
		return nil, err
	}
	version, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	groupName, err := buf.DecodeStringBytes()
	if err != nil {
		return nil, err
	}
	memory, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	hiddenPK, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}

	t := &Table{
		ID:        int32(id),
		Name:      NewTableName(schema, name),
		Version:   int32(version),
		GroupName: groupName,
		Memory:    memory != 0,
		HiddenPK:  hiddenPK != 0,
		Indexes:   map[int32]*Index{},
	}

	colCount, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < colCount; i++ {
		cName, err := buf.DecodeStringBytes()
		if err != nil {
			return nil, err
		}
		cType, err := buf.DecodeStringBytes()
		if err != nil {
			return nil, err
		}
		nullable, err := buf.DecodeVarint()
		if err != nil {
			return nil, err
		}
		pos, err := buf.DecodeVarint()
		if err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, Column{Name: cName, Type: cType, Nullable: nullable != 0, Position: int(pos)})
	}

	idxCount, err := buf.DecodeVarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < idxCount; i++ {
		idxID, err := buf.DecodeVarint()
		if err != nil {
			return nil, err
		}
		idxName, err := buf.DecodeStringBytes()
		if err != nil {
			return nil, err
		}
		unique, err := buf.DecodeVarint()
		if err != nil {
			return nil, err
		}
		primary, err := buf.DecodeVarint()
		if err != nil {
			return nil, err
		}
		colCount, err := buf.DecodeVarint()
		if err != nil {
			return nil, err
		}
		cols := make([]string, 0, colCount)
		for j := uint64(0); j < colCount; j++ {
			col, err := buf.DecodeStringBytes()
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
		idx := &Index{ID: int32(idxID), Name: idxName, Unique: unique != 0, Primary: primary != 0, Columns: cols}
		t.Indexes[idx.ID] = idx
		if idx.ID > t.nextIndexID {
			t.nextIndexID = idx.ID
		}
	}
	return t, nil
}

// Finish resolves every fragment loaded so far into a complete, validated
// AIS, synthesizing a hidden primary key for any table that declared none
// before an AIS is handed to a session. The returned AIS is left unfrozen
// with generation 0: generation is never carried by the wire format, so
// the caller (the generation registry or schema manager front) must
// SetGeneration and Freeze it before installing it as curAIS.
func (r *Reader) Finish() (*AIS, error) {
	a := New()
	for name, s := range r.schemas {
		a.schemas[name] = s
	}

	for _, t := range a.Tables() {
		finishTable(t)
	}

	if reasons := Validate(a); len(reasons) > 0 {
		return nil, &InvalidSchema{Reasons: reasons}
	}
	return a, nil
}

// finishTable synthesizes a `__hidden_pk` primary key index over an
// internal row id when the table declared no primary key of its own.
func finishTable(t *Table) {
	if t.PrimaryKey() != nil {
		return
	}
	t.HiddenPK = true
	t.Columns = append(t.Columns, Column{
		Name: "__hidden_pk", Type: "BIGINT", Nullable: false, Position: len(t.Columns),
	})
	t.AddIndex(&Index{
		Name: "PRIMARY", Columns: []string{"__hidden_pk"}, Unique: true, Primary: true,
	})
}

// InvalidSchema is returned by Finish when the assembled AIS fails
// validation, carrying every reason found rather than failing fast on
// the first.
type InvalidSchema struct {
	Reasons []string
}

func (e *InvalidSchema) Error() string {
	if len(e.Reasons) == 1 {
		return "ais: invalid schema: " + e.Reasons[0]
	}
	return errors.Errorf("ais: invalid schema: %d reasons, first: %s", len(e.Reasons), e.Reasons[0]).Error()
}
