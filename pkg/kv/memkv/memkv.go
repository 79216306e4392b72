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

// Package memkv is the in-memory reference implementation of the kv
// facade (pkg/kv). It is the test harness the schema manager's
// concurrency properties are exercised against, not a production storage
// engine. It keeps the keyspace in a google/btree ordered tree and
// detects read-write conflicts optimistically at commit time: a commit
// fails if any key the transaction read has changed since it was read.
// Keys written without being read are not checked, and reads see the
// latest committed state rather than a snapshot fixed at begin, so
// reads overtaken by another commit surface as a failed commit.
package memkv

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/bowlofstew/sql-layer/pkg/kv"
)

type entry struct {
	key     []byte
	value   []byte
	version int64
}

func (e *entry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*entry).key) < 0
}

func keyItem(key []byte) *entry { return &entry{key: key} }

// Store is a single shared, versioned keyspace. Construct one per test (or
// per simulated cluster) and hand out transactions against it with Txn.
type Store struct {
	mu   sync.Mutex
	tree *btree.BTree
	rev  int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{tree: btree.New(32)}
}

// DB adapts a Store to kv.DB.
func (s *Store) DB() kv.DB { return dbHandle{s} }

type dbHandle struct{ s *Store }

func (h dbHandle) Txn(ctx context.Context, fn func(context.Context, kv.Txn) error) error {
	txn := h.s.begin()
	err := fn(ctx, txn)
	if err == nil {
		err = txn.commit()
		if err == nil {
			for _, cb := range txn.commitCallbacks {
				cb()
			}
		}
	}
	for _, cb := range txn.endCallbacks {
		cb()
	}
	return err
}

func (s *Store) begin() *txn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &txn{
		store:   s,
		baseRev: s.rev,
		reads:   map[string]int64{},
		writes:  map[string][]byte{},
		cleared: map[string]bool{},
	}
}

// txn is one transaction's buffered view. It is not safe for concurrent
// use, matching the facade's contract that a Txn belongs to one session.
type txn struct {
	store   *Store
	baseRev int64

	reads       map[string]int64 // key -> revision observed at read time
	writes      map[string][]byte
	cleared     map[string]bool
	clearRanges [][2][]byte

	commitCallbacks []func()
	endCallbacks    []func()
}

func (t *txn) Get(_ context.Context, key []byte) ([]byte, error) {
	k := string(key)
	if t.cleared[k] {
		return nil, nil
	}
	if v, ok := t.writes[k]; ok {
		return v, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	item := t.store.tree.Get(keyItem(key))
	if item == nil {
		// Record that we observed absence, so a concurrent insert is a
		// conflict against our snapshot.
		if _, ok := t.reads[k]; !ok {
			t.reads[k] = 0
		}
		return nil, nil
	}
	e := item.(*entry)
	if _, ok := t.reads[k]; !ok {
		t.reads[k] = e.version
	}
	return e.value, nil
}

func (t *txn) Set(key, value []byte) {
	k := string(key)
	delete(t.cleared, k)
	t.writes[k] = append([]byte(nil), value...)
}

func (t *txn) Clear(key []byte) {
	k := string(key)
	delete(t.writes, k)
	t.cleared[k] = true
}

func (t *txn) ClearRange(start, end []byte) {
	t.clearRanges = append(t.clearRanges, [2][]byte{
		append([]byte(nil), start...), append([]byte(nil), end...),
	})
}

func (t *txn) GetRange(_ context.Context, start, end []byte) ([]kv.KeyValue, error) {
	t.store.mu.Lock()
	result := map[string][]byte{}
	t.store.tree.AscendRange(keyItem(start), keyItem(end), func(item btree.Item) bool {
		e := item.(*entry)
		result[string(e.key)] = e.value
		if _, ok := t.reads[string(e.key)]; !ok {
			t.reads[string(e.key)] = e.version
		}
		return true
	})
	t.store.mu.Unlock()

	for k, v := range t.writes {
		if inRange(k, start, end) {
			result[k] = v
		}
	}
	for k := range t.cleared {
		if inRange(k, start, end) {
			delete(result, k)
		}
	}
	for _, rng := range t.clearRanges {
		for k := range result {
			if inRange(k, rng[0], rng[1]) {
				delete(result, k)
			}
		}
	}

	kvs := make([]kv.KeyValue, 0, len(result))
	for k, v := range result {
		kvs = append(kvs, kv.KeyValue{Key: []byte(k), Value: v})
	}
	sortKVs(kvs)
	return kvs, nil
}

func inRange(k string, start, end []byte) bool {
	return bytes.Compare([]byte(k), start) >= 0 && bytes.Compare([]byte(k), end) < 0
}

func sortKVs(kvs []kv.KeyValue) {
	for i := 1; i < len(kvs); i++ {
		for j := i; j > 0 && bytes.Compare(kvs[j-1].Key, kvs[j].Key) > 0; j-- {
			kvs[j-1], kvs[j] = kvs[j], kvs[j-1]
		}
	}
}

func (t *txn) AddCommitCallback(fn func()) {
	t.commitCallbacks = append(t.commitCallbacks, fn)
}

func (t *txn) AddEndCallback(fn func()) {
	t.endCallbacks = append(t.endCallbacks, fn)
}

// commit validates the transaction's read set against the store's current
// state and, if nothing changed underneath it, applies the buffered
// writes atomically.
func (t *txn) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for k, readVersion := range t.reads {
		item := t.store.tree.Get(keyItem([]byte(k)))
		var curVersion int64
		if item != nil {
			curVersion = item.(*entry).version
		}
		if curVersion != readVersion {
			return kv.ErrCommitConflict
		}
	}

	t.store.rev++
	nextVersion := t.store.rev

	for _, rng := range t.clearRanges {
		var toDelete []*entry
		t.store.tree.AscendRange(keyItem(rng[0]), keyItem(rng[1]), func(item btree.Item) bool {
			toDelete = append(toDelete, item.(*entry))
			return true
		})
		for _, e := range toDelete {
			t.store.tree.Delete(e)
		}
	}
	for k := range t.cleared {
		t.store.tree.Delete(keyItem([]byte(k)))
	}
	for k, v := range t.writes {
		t.store.tree.ReplaceOrInsert(&entry{key: []byte(k), value: v, version: nextVersion})
	}
	return nil
}
