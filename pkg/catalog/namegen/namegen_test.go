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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bowlofstew/sql-layer/pkg/ais"
	"github.com/bowlofstew/sql-layer/pkg/kv"
	"github.com/bowlofstew/sql-layer/pkg/kv/memkv"
)

func TestDefaultGeneratorSequentialIDs(t *testing.T) {
	g := NewDefault()
	require.Equal(t, int32(1), g.NextTableID())
	require.Equal(t, int32(2), g.NextTableID())
	require.Equal(t, int32(1), g.NextIndexID(1))
	require.Equal(t, int32(2), g.NextIndexID(1))
	require.Equal(t, int32(1), g.NextIndexID(2))
}

func TestMergeAISAdvancesHighWaterMark(t *testing.T) {
	a := ais.New()
	a.AddTable(&ais.Table{ID: 5, Name: ais.NewTableName("app", "t")})
	g := NewDefault()
	g.MergeAIS(a)
	require.Equal(t, int32(6), g.NextTableID())
}

func TestGenerateStorageKeyDisambiguates(t *testing.T) {
	g := NewDefault()
	name := ais.NewTableName("app", "t")
	k1 := g.GenerateStorageKey(name)
	k2 := g.GenerateStorageKey(name)
	require.NotEqual(t, k1, k2)
}

func TestKVBackedMintsAcrossTransactions(t *testing.T) {
	store := memkv.New()
	ctx := context.Background()

	var first, second int32
	err := store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		root := kv.Root()
		g, err := ForDataPath(ctx, txn, root, NewDefault())
		if err != nil {
			return err
		}
		first = g.NextTableID()
		return nil
	})
	require.NoError(t, err)

	err = store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		root := kv.Root()
		g, err := ForDataPath(ctx, txn, root, NewDefault())
		if err != nil {
			return err
		}
		second = g.NextTableID()
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, int32(1), first)
	require.Equal(t, int32(2), second)
}

func TestKVBackedDataAndOnlinePathsDoNotCollide(t *testing.T) {
	store := memkv.New()
	ctx := context.Background()

	var dataID, onlineID int32
	err := store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		root := kv.Root()
		dg, err := ForDataPath(ctx, txn, root, NewDefault())
		if err != nil {
			return err
		}
		dataID = dg.NextTableID()

		og, err := ForOnlinePath(ctx, txn, root, NewDefault())
		if err != nil {
			return err
		}
		onlineID = og.NextTableID()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), dataID)
	require.Equal(t, int32(1), onlineID)
}
