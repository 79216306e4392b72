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

package schemamgr

import (
	"context"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	"github.com/bowlofstew/sql-layer/pkg/ais"
	"github.com/bowlofstew/sql-layer/pkg/catalog/namegen"
	"github.com/bowlofstew/sql-layer/pkg/kv"
	"github.com/bowlofstew/sql-layer/pkg/util/log"
)

const (
	generationKeyName    = "generation"
	dataVersionKeyName   = "dataVersion"
	metaVersionKeyName   = "metaDataVersion"
	onlineSessionKeyName = "onlineSession"
	protobufDirName      = "protobuf"
)

// Registry owns the monotonic global generation counter and the
// process-wide curAIS/nameGenerator pair every session's AIS is served
// from: one process-level cache, refreshed from storage only when a
// transaction observes a generation newer than what's cached, with
// concurrent refreshes for the same target generation deduplicated
// instead of each racing to the KV store.
type Registry struct {
	root kv.Directory

	// AISLock guards curAIS and nameGen installation. Named (not embedded)
	// for callers to lock explicitly around multi-field updates.
	AISLock sync.Mutex
	curAIS  *ais.AIS
	nameGen *namegen.DefaultGenerator

	// memoryAIS holds the process-local, never-persisted catalogs
	// (information_schema, security, sys, sqlj). Replaced wholesale by
	// SetMemoryAIS, never merged field-by-field.
	memoryAISMu sync.RWMutex
	memoryAIS   *ais.AIS

	tableVersionMu sync.RWMutex
	tableVersion   map[int32]int32

	loadGroup singleflight.Group
}

// NewRegistry returns a Registry rooted at root, with empty curAIS and a
// fresh name generator. Callers install the initial curAIS via
// installAISLocked after the startup load.
func NewRegistry(root kv.Directory) *Registry {
	return &Registry{
		root:         root,
		nameGen:      namegen.NewDefault(),
		memoryAIS:    ais.New(),
		tableVersion: map[int32]int32{},
	}
}

// SetMemoryAIS replaces the process-local memory-table overlay wholesale.
// Mirrors saveMemoryTables's full replacement, never a field-by-field
// merge — a consumer re-registering its memory tables after a restart
// doesn't need to know what the previous overlay contained.
func (r *Registry) SetMemoryAIS(a *ais.AIS) {
	r.memoryAISMu.Lock()
	defer r.memoryAISMu.Unlock()
	r.memoryAIS = a
}

func (r *Registry) getMemoryAIS() *ais.AIS {
	r.memoryAISMu.RLock()
	defer r.memoryAISMu.RUnlock()
	return r.memoryAIS
}

// CurAIS returns the registry's currently installed AIS (possibly nil,
// before the first load).
func (r *Registry) CurAIS() *ais.AIS {
	r.AISLock.Lock()
	defer r.AISLock.Unlock()
	return r.curAIS
}

// NameGenerator returns the registry's in-process name generator, kept in
// sync with curAIS by installAISLocked.
func (r *Registry) NameGenerator() *namegen.DefaultGenerator {
	r.AISLock.Lock()
	defer r.AISLock.Unlock()
	return r.nameGen
}

func (r *Registry) generationKey() []byte { return r.root.Pack(generationKeyName) }

// readGeneration reads the raw generation key, reporting present=false if
// it's unset.
func readGeneration(ctx context.Context, txn kv.Txn, key []byte) (value int64, present bool, err error) {
	v, err := txn.Get(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if v == nil {
		return 0, false, nil
	}
	t, err := kv.UnpackTuple(v)
	if err != nil {
		return 0, false, err
	}
	return t.Int64(0), true, nil
}

// TransactionalGeneration reads the global generation key within txn,
// failing with ErrExternalClear if it's missing.
func (r *Registry) TransactionalGeneration(ctx context.Context, txn kv.Txn) (int64, error) {
	g, present, err := readGeneration(ctx, txn, r.generationKey())
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, ErrExternalClear
	}
	return g, nil
}

// NextGeneration reads, increments, and writes the global generation key,
// returning the new value. Every schema-mutating transaction calls this
// exactly once per user-visible DDL (online staging's second bump is the
// one documented exception — see StageOnline).
func (r *Registry) NextGeneration(ctx context.Context, txn kv.Txn) (int64, error) {
	g, err := r.TransactionalGeneration(ctx, txn)
	if err != nil {
		return 0, err
	}
	next := g + 1
	txn.Set(r.generationKey(), kv.PackTuple(next))
	return next, nil
}

// SessionAIS implements the five-step protocol: return the session's
// already-attached AIS if this transaction has one; otherwise read the
// transactional generation and either reuse curAIS (if it already matches)
// or load a fresh AIS from storage, install it as curAIS if it's newer,
// and attach it to the session with an end-of-transaction detach.
func (r *Registry) SessionAIS(ctx context.Context, sess *Session, txn kv.Txn) (*ais.AIS, error) {
	if a := sess.AIS(); a != nil {
		return a, nil
	}

	g, err := r.TransactionalGeneration(ctx, txn)
	if err != nil {
		return nil, err
	}

	r.AISLock.Lock()
	cur := r.curAIS
	r.AISLock.Unlock()

	if cur == nil || cur.Generation() != g {
		cur, err = r.refreshAIS(ctx, txn, g)
		if err != nil {
			return nil, err
		}
	}

	sess.attachAIS(cur)
	txn.AddEndCallback(sess.detachAIS)
	return cur, nil
}

// refreshAIS loads generation g from storage, deduping concurrent loads
// of the same generation across goroutines, and installs the result as
// curAIS if it's newer than what's currently installed.
func (r *Registry) refreshAIS(ctx context.Context, txn kv.Txn, g int64) (*ais.AIS, error) {
	v, err, _ := r.loadGroup.Do(strconv.FormatInt(g, 10), func() (interface{}, error) {
		return r.loadFromStorage(ctx, txn, g)
	})
	if err != nil {
		return nil, err
	}
	loaded := v.(*ais.AIS)

	r.AISLock.Lock()
	defer r.AISLock.Unlock()
	if r.curAIS == nil || loaded.Generation() > r.curAIS.Generation() {
		r.installAISLocked(loaded)
	}
	return loaded, nil
}

// installAISLocked installs a as curAIS and merges its ids/names into the
// name generator. Callers must hold AISLock.
func (r *Registry) installAISLocked(a *ais.AIS) {
	r.curAIS = a
	r.nameGen.MergeAIS(a)

	r.tableVersionMu.Lock()
	defer r.tableVersionMu.Unlock()
	for id, t := range a.Tables() {
		r.tableVersion[id] = t.Version
	}
}

// loadFromStorage reads every protobuf/<schema> fragment under root,
// overlays the process-local memory AIS, finishes and validates the
// result, and stamps it with generation g.
func (r *Registry) loadFromStorage(ctx context.Context, txn kv.Txn, g int64) (*ais.AIS, error) {
	reader := ais.NewReader()
	reader.Overlay(r.getMemoryAIS())

	protoDir, err := r.root.CreateOrOpen(ctx, txn, protobufDirName)
	if err != nil {
		return nil, errors.Wrap(err, "schemamgr: open protobuf directory")
	}
	start, end := protoDir.Range()
	kvs, err := txn.GetRange(ctx, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "schemamgr: range-scan protobuf fragments")
	}
	for _, frag := range kvs {
		if err := reader.LoadBuffer(frag.Value); err != nil {
			return nil, errors.Wrap(err, "schemamgr: decode protobuf fragment")
		}
	}

	a, err := reader.Finish()
	if err != nil {
		return nil, err
	}
	a.SetGeneration(g)
	a.Freeze()
	log.VEventf(ctx, 2, "schemamgr: loaded AIS generation=%d schemas=%d", g, len(a.SchemaNames()))
	return a, nil
}

// TableVersion returns the cached version for tableID, as observed the
// last time an AIS containing it was installed.
func (r *Registry) TableVersion(tableID int32) (int32, bool) {
	r.tableVersionMu.RLock()
	defer r.tableVersionMu.RUnlock()
	v, ok := r.tableVersion[tableID]
	return v, ok
}
