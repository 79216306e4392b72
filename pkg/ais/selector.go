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

// WriteSelector controls which parts of an AIS a Serialize call frames
// into the wire format, letting the schema manager write one schema's
// fragment without touching the rest of the catalog.
type WriteSelector interface {
	// SelectSchema reports whether schema should be written at all.
	SelectSchema(schema string) bool
	// SelectTable reports whether t should be written. Only consulted for
	// schemas SelectSchema already accepted.
	SelectTable(t *Table) bool
}

// WholeAIS selects every schema and table — the selector the schema
// manager uses to write (or load) a full snapshot.
type WholeAIS struct{}

func (WholeAIS) SelectSchema(string) bool { return true }
func (WholeAIS) SelectTable(*Table) bool  { return true }

// SingleSchemaSelector selects exactly one schema, every table within it —
// the selector used for the per-schema protobuf framing: each schema's
// fragment is stored, loaded, and invalidated independently.
type SingleSchemaSelector struct {
	Schema string
}

func (s SingleSchemaSelector) SelectSchema(schema string) bool { return schema == s.Schema }
func (s SingleSchemaSelector) SelectTable(*Table) bool         { return true }

// TableFilterSelector selects one schema and only the tables within it
// that Keep reports true for (every table when Keep is nil). The schema
// manager does not use it: Reader.LoadBuffer replaces a schema wholesale,
// so a fragment written with it would drop the filtered-out tables on
// the next load.
type TableFilterSelector struct {
	Schema string
	Keep   func(t *Table) bool
}

func (s TableFilterSelector) SelectSchema(schema string) bool { return schema == s.Schema }
func (s TableFilterSelector) SelectTable(t *Table) bool       { return s.Keep == nil || s.Keep(t) }

// ExcludeSchemas selects every schema except the named ones — used to
// keep memory-only catalogs out of every write to shared storage.
type ExcludeSchemas struct {
	Schemas map[string]bool
}

func (s ExcludeSchemas) SelectSchema(schema string) bool { return !s.Schemas[schema] }
func (s ExcludeSchemas) SelectTable(*Table) bool         { return true }
