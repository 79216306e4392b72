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

package namegen

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/bowlofstew/sql-layer/pkg/ais"
	"github.com/bowlofstew/sql-layer/pkg/kv"
)

// kvBacked layers a KV-persisted counter on top of a DefaultGenerator, so
// minted ids keep climbing across process restarts instead of resetting
// to whatever the last MergeAIS saw. It is bound to one transaction for
// its whole lifetime — mirrors FDBNameGenerator.createForDataPath /
// createForOnlinePath, each of which is handed the transaction it will
// mint ids within.
type kvBacked struct {
	inner *DefaultGenerator
	ctx   context.Context
	txn   kv.Txn
	dir   kv.Directory
}

// ForDataPath returns a Generator that mints table/index/sequence ids
// under root's "idgen/data" subtree — used for ordinary (non-online) DDL.
func ForDataPath(ctx context.Context, txn kv.Txn, root kv.Directory, inner *DefaultGenerator) (Generator, error) {
	return newKVBacked(ctx, txn, root, "data", inner)
}

// ForOnlinePath returns a Generator that mints ids under root's
// "idgen/online" subtree, so online DDL never advances or conflicts on the
// ordinary-DDL counter. The two counters are independent: both start at 1,
// and the same id values can be minted on each path.
func ForOnlinePath(ctx context.Context, txn kv.Txn, root kv.Directory, inner *DefaultGenerator) (Generator, error) {
	return newKVBacked(ctx, txn, root, "online", inner)
}

func newKVBacked(ctx context.Context, txn kv.Txn, root kv.Directory, sub string, inner *DefaultGenerator) (*kvBacked, error) {
	dir, err := root.CreateOrOpen(ctx, txn, "idgen", sub)
	if err != nil {
		return nil, errors.Wrap(err, "namegen: open id-generator directory")
	}
	return &kvBacked{inner: inner, ctx: ctx, txn: txn, dir: dir}, nil
}

func (g *kvBacked) mint(counterName string) int32 {
	key := g.dir.Pack(counterName)
	cur, err := g.txn.Get(g.ctx, key)
	if err != nil {
		panic(errors.Wrap(err, "namegen: read id counter"))
	}
	var next int64 = 1
	if cur != nil {
		t, err := kv.UnpackTuple(cur)
		if err != nil {
			panic(errors.Wrap(err, "namegen: decode id counter"))
		}
		next = t.Int64(0) + 1
	}
	g.txn.Set(key, kv.PackTuple(next))
	return int32(next)
}

func (g *kvBacked) NextTableID() int32 {
	id := g.mint("table")
	g.inner.observeTableID(id)
	return id
}

func (g *kvBacked) NextIndexID(tableID int32) int32 {
	id := g.mint("index#" + strconv.Itoa(int(tableID)))
	g.inner.observeIndexID(tableID, id)
	return id
}

func (g *kvBacked) NextSequenceID() int32 {
	id := g.mint("sequence")
	g.inner.observeSequenceID(id)
	return id
}

func (g *kvBacked) MergeAIS(a *ais.AIS) { g.inner.MergeAIS(a) }

func (g *kvBacked) GenerateStorageKey(name ais.TableName) string {
	return g.inner.GenerateStorageKey(name)
}
