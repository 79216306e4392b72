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

package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bowlofstew/sql-layer/pkg/kv"
	"github.com/bowlofstew/sql-layer/pkg/kv/memkv"
)

func TestCreateOrOpenIsIdempotent(t *testing.T) {
	store := memkv.New()
	ctx := context.Background()
	var first, second kv.Directory
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		var err error
		first, err = kv.Root().CreateOrOpen(ctx, txn, "a", "b")
		return err
	}))
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		var err error
		second, err = kv.Root().CreateOrOpen(ctx, txn, "a", "b")
		return err
	}))
	require.Equal(t, first.Pack(), second.Pack())
}

func TestOpenFailsOnMissingDirectory(t *testing.T) {
	store := memkv.New()
	ctx := context.Background()
	err := store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		_, err := kv.Root().Open(ctx, txn, "nope")
		return err
	})
	require.Error(t, err)
}

func TestListReturnsImmediateChildren(t *testing.T) {
	store := memkv.New()
	ctx := context.Background()
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		root, err := kv.Root().CreateOrOpen(ctx, txn, "parent")
		if err != nil {
			return err
		}
		if _, err := root.CreateOrOpen(ctx, txn, "x"); err != nil {
			return err
		}
		if _, err := root.CreateOrOpen(ctx, txn, "y"); err != nil {
			return err
		}
		if _, err := root.CreateOrOpen(ctx, txn, "y", "z"); err != nil {
			return err
		}
		names, err := root.List(ctx, txn)
		if err != nil {
			return err
		}
		require.ElementsMatch(t, []string{"x", "y"}, names)
		return nil
	}))
}

func TestRemoveIfExistsClearsDataAndChildren(t *testing.T) {
	store := memkv.New()
	ctx := context.Background()
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		dir, err := kv.Root().CreateOrOpen(ctx, txn, "a", "b")
		if err != nil {
			return err
		}
		txn.Set(dir.Pack("k"), []byte("v"))
		ok, err := kv.Root().RemoveIfExists(ctx, txn, "a")
		if err != nil {
			return err
		}
		require.True(t, ok)
		exists, err := kv.Root().Exists(ctx, txn, "a")
		if err != nil {
			return err
		}
		require.False(t, exists)
		return nil
	}))

	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		ok, err := kv.Root().RemoveIfExists(ctx, txn, "a")
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
}

func TestMovePreservesDataUnderNewPath(t *testing.T) {
	store := memkv.New()
	ctx := context.Background()
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		dir, err := kv.Root().CreateOrOpen(ctx, txn, "old")
		if err != nil {
			return err
		}
		txn.Set(dir.Pack("k"), []byte("v"))
		return kv.Root().Move(ctx, txn, []string{"old"}, []string{"new"})
	}))

	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		_, err := kv.Root().Open(ctx, txn, "old")
		require.Error(t, err)

		dir, err := kv.Root().Open(ctx, txn, "new")
		require.NoError(t, err)
		v, err := txn.Get(ctx, dir.Pack("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
		return nil
	}))
}

func TestPackTupleRoundTrip(t *testing.T) {
	packed := kv.PackTuple(int64(42), "hello", []byte{1, 2, 3})
	tup, err := kv.UnpackTuple(packed)
	require.NoError(t, err)
	require.Equal(t, int64(42), tup.Int64(0))
	require.Equal(t, "hello", tup.String(1))
	require.Equal(t, []byte{1, 2, 3}, tup.Bytes(2))
}

func TestStrIncOrdering(t *testing.T) {
	prefix := []byte("abc")
	end := kv.StrInc(prefix)
	require.Equal(t, -1, compareBytes(prefix, end))
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
