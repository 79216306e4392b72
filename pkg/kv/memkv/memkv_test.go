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

package memkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bowlofstew/sql-layer/pkg/kv"
)

func TestSetThenGetWithinTxn(t *testing.T) {
	store := New()
	ctx := context.Background()
	err := store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		txn.Set([]byte("a"), []byte("1"))
		v, err := txn.Get(ctx, []byte("a"))
		require.NoError(t, err)
		require.Equal(t, []byte("1"), v)
		return nil
	})
	require.NoError(t, err)
}

func TestCommittedWritesVisibleToNextTxn(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		txn.Set([]byte("a"), []byte("1"))
		return nil
	}))
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		v, err := txn.Get(ctx, []byte("a"))
		require.NoError(t, err)
		require.Equal(t, []byte("1"), v)
		return nil
	}))
}

func TestConcurrentWriteCausesCommitConflict(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		txn.Set([]byte("k"), []byte("0"))
		return nil
	}))

	txnA := store.begin()
	_, err := txnA.Get(ctx, []byte("k"))
	require.NoError(t, err)

	// A second, independent transaction commits a write to the same key
	// that txnA already read.
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		txn.Set([]byte("k"), []byte("1"))
		return nil
	}))

	txnA.Set([]byte("k"), []byte("2"))
	err = txnA.commit()
	require.ErrorIs(t, err, kv.ErrCommitConflict)
}

func TestClearRemovesKey(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		txn.Set([]byte("a"), []byte("1"))
		return nil
	}))
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		txn.Clear([]byte("a"))
		return nil
	}))
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		v, err := txn.Get(ctx, []byte("a"))
		require.NoError(t, err)
		require.Nil(t, v)
		return nil
	}))
}

func TestGetRangeReturnsKeysInOrder(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		txn.Set([]byte("b"), []byte("2"))
		txn.Set([]byte("a"), []byte("1"))
		txn.Set([]byte("c"), []byte("3"))
		return nil
	}))
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		kvs, err := txn.GetRange(ctx, []byte("a"), []byte("c"))
		require.NoError(t, err)
		require.Len(t, kvs, 2)
		require.Equal(t, []byte("a"), kvs[0].Key)
		require.Equal(t, []byte("b"), kvs[1].Key)
		return nil
	}))
}

func TestEndCallbackRunsEvenOnError(t *testing.T) {
	store := New()
	ctx := context.Background()
	ran := false
	err := store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		txn.AddEndCallback(func() { ran = true })
		return kv.ErrCommitConflict
	})
	require.Error(t, err)
	require.True(t, ran)
}

func TestCommitCallbackOnlyRunsOnSuccess(t *testing.T) {
	store := New()
	ctx := context.Background()
	ran := false
	err := store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		txn.AddCommitCallback(func() { ran = true })
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	ran = false
	err = store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		txn.AddCommitCallback(func() { ran = true })
		return kv.ErrCommitConflict
	})
	require.Error(t, err)
	require.False(t, ran)
}
