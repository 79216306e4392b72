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

import "fmt"

// Validate runs the full validator set against a, returning every problem
// found rather than stopping at the first. Each function below is one
// independent validator; Validate just runs them all and collects their
// reasons.
func Validate(a *AIS) []string {
	var reasons []string
	reasons = append(reasons, validateTableNamesUnique(a)...)
	reasons = append(reasons, validateColumnsUnique(a)...)
	reasons = append(reasons, validateIndexColumnsExist(a)...)
	reasons = append(reasons, validatePrimaryKeyNotNull(a)...)
	reasons = append(reasons, validateSequenceNamesUnique(a)...)
	return reasons
}

func validateTableNamesUnique(a *AIS) []string {
	var reasons []string
	for _, s := range a.schemas {
		seen := map[string]bool{}
		for _, t := range s.Tables {
			if seen[t.Name.Name] {
				reasons = append(reasons, fmt.Sprintf("duplicate table name %s", t.Name))
			}
			seen[t.Name.Name] = true
		}
	}
	return reasons
}

func validateColumnsUnique(a *AIS) []string {
	var reasons []string
	for _, t := range a.Tables() {
		seen := map[string]bool{}
		for _, c := range t.Columns {
			if seen[c.Name] {
				reasons = append(reasons, fmt.Sprintf("table %s has duplicate column %s", t.Name, c.Name))
			}
			seen[c.Name] = true
		}
	}
	return reasons
}

func validateIndexColumnsExist(a *AIS) []string {
	var reasons []string
	for _, t := range a.Tables() {
		cols := map[string]bool{}
		for _, c := range t.Columns {
			cols[c.Name] = true
		}
		for _, idx := range t.Indexes {
			if len(idx.Columns) == 0 {
				reasons = append(reasons, fmt.Sprintf("index %s on table %s has no columns", idx.Name, t.Name))
				continue
			}
			for _, col := range idx.Columns {
				if !cols[col] {
					reasons = append(reasons, fmt.Sprintf(
						"index %s on table %s references unknown column %s", idx.Name, t.Name, col))
				}
			}
		}
	}
	return reasons
}

func validatePrimaryKeyNotNull(a *AIS) []string {
	var reasons []string
	for _, t := range a.Tables() {
		pk := t.PrimaryKey()
		if pk == nil {
			continue
		}
		nullable := map[string]bool{}
		for _, c := range t.Columns {
			nullable[c.Name] = c.Nullable
		}
		for _, col := range pk.Columns {
			if nullable[col] {
				reasons = append(reasons, fmt.Sprintf(
					"primary key column %s on table %s must not be nullable", col, t.Name))
			}
		}
	}
	return reasons
}

func validateSequenceNamesUnique(a *AIS) []string {
	var reasons []string
	for _, s := range a.schemas {
		seen := map[string]bool{}
		for _, sq := range s.Sequences {
			if seen[sq.Name.Name] {
				reasons = append(reasons, fmt.Sprintf("duplicate sequence name %s", sq.Name))
			}
			seen[sq.Name.Name] = true
		}
	}
	return reasons
}
