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

// Package namegen allocates the identifiers a schema mutation needs before
// it can be written: table ids, per-table index ids, sequence ids, and the
// storage key a table's data directory is addressed by. A generator is
// reconciled against an already-persisted AIS via MergeAIS, so it can be
// rebuilt from a freshly loaded catalog on every process start rather than
// carrying state across restarts itself.
package namegen

import (
	"fmt"
	"sync"

	"github.com/bowlofstew/sql-layer/pkg/ais"
)

// Generator allocates fresh, process-unique identifiers and storage keys.
// DefaultGenerator is the in-process implementation; ForDataPath and
// ForOnlinePath wrap it with a KV-backed counter so ids keep advancing
// across restarts instead of resetting to whatever the last load saw.
type Generator interface {
	NextTableID() int32
	NextIndexID(tableID int32) int32
	NextSequenceID() int32
	MergeAIS(a *ais.AIS)
	GenerateStorageKey(name ais.TableName) string
}

// DefaultGenerator tracks the highest id seen of each kind and every
// storage key minted so far, entirely in process memory.
type DefaultGenerator struct {
	mu sync.Mutex

	maxTableID    int32
	maxIndexID    map[int32]int32
	maxSequenceID int32
	usedStorage   map[string]bool
}

// NewDefault returns an empty DefaultGenerator.
func NewDefault() *DefaultGenerator {
	return &DefaultGenerator{
		maxIndexID:  map[int32]int32{},
		usedStorage: map[string]bool{},
	}
}

// NextTableID returns a table id higher than any seen via MergeAIS or
// minted before.
func (g *DefaultGenerator) NextTableID() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxTableID++
	return g.maxTableID
}

func (g *DefaultGenerator) observeTableID(id int32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id > g.maxTableID {
		g.maxTableID = id
	}
}

// NextIndexID returns an index id higher than any index already seen on
// tableID.
func (g *DefaultGenerator) NextIndexID(tableID int32) int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxIndexID[tableID]++
	return g.maxIndexID[tableID]
}

func (g *DefaultGenerator) observeIndexID(tableID, id int32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id > g.maxIndexID[tableID] {
		g.maxIndexID[tableID] = id
	}
}

// NextSequenceID returns a sequence id higher than any seen before.
func (g *DefaultGenerator) NextSequenceID() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxSequenceID++
	return g.maxSequenceID
}

func (g *DefaultGenerator) observeSequenceID(id int32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id > g.maxSequenceID {
		g.maxSequenceID = id
	}
}

// MergeAIS folds every id and storage key already present in a into the
// tracker, so subsequent Next*ID calls never collide with it.
func (g *DefaultGenerator) MergeAIS(a *ais.AIS) {
	for id, t := range a.Tables() {
		g.observeTableID(id)
		g.usedStorage[g.storageKeyFor(t.Name)] = true
		for idxID := range t.Indexes {
			g.observeIndexID(id, idxID)
		}
	}
	for id := range a.Sequences() {
		g.observeSequenceID(id)
	}
}

// GenerateStorageKey returns a storage key for name, unique among every
// key minted or merged in so far, disambiguating collisions (which only
// arise across renamed/dropped-and-recreated tables) with a numeric
// suffix.
func (g *DefaultGenerator) GenerateStorageKey(name ais.TableName) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	base := g.storageKeyFor(name)
	key := base
	for n := 1; g.usedStorage[key]; n++ {
		key = fmt.Sprintf("%s$%d", base, n)
	}
	g.usedStorage[key] = true
	return key
}

func (g *DefaultGenerator) storageKeyFor(name ais.TableName) string {
	return name.Schema + "." + name.Name
}
