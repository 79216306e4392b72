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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bowlofstew/sql-layer/pkg/ais"
	"github.com/bowlofstew/sql-layer/pkg/kv"
	"github.com/bowlofstew/sql-layer/pkg/kv/memkv"
	"github.com/bowlofstew/sql-layer/pkg/settings"
)

func startManager(t *testing.T, store *memkv.Store, cfg settings.Config) *Manager {
	t.Helper()
	m := New()
	require.NoError(t, m.Start(context.Background(), store.DB(), cfg))
	return m
}

func readGenerationDirect(t *testing.T, store *memkv.Store) int64 {
	t.Helper()
	ctx := context.Background()
	var g int64
	err := store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		root, err := kv.Root().Open(ctx, txn, "schemaManager")
		if err != nil {
			return err
		}
		v, err := txn.Get(ctx, root.Pack(generationKeyName))
		if err != nil {
			return err
		}
		tup, err := kv.UnpackTuple(v)
		if err != nil {
			return err
		}
		g = tup.Int64(0)
		return nil
	})
	require.NoError(t, err)
	return g
}

func addIntTable(schema, table string) func(ctx context.Context, txn kv.Txn, next *ais.AIS) error {
	return func(ctx context.Context, txn kv.Txn, next *ais.AIS) error {
		t := &ais.Table{
			Name: ais.NewTableName(schema, table),
			Columns: []ais.Column{
				{Name: "id", Type: "INT", Position: 0},
			},
		}
		t.AddIndex(&ais.Index{Name: "PRIMARY", Columns: []string{"id"}, Unique: true, Primary: true})
		t.ID = 1
		for _, existing := range next.Tables() {
			if existing.ID >= t.ID {
				t.ID = existing.ID + 1
			}
		}
		next.AddTable(t)
		return nil
	}
}

// S1 — fresh initialization.
func TestFreshInitialization(t *testing.T) {
	store := memkv.New()
	m := startManager(t, store, settings.Config{})

	sess := NewSession()
	a, err := m.GetAIS(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, int64(0), a.Generation())
	require.Equal(t, int64(0), readGenerationDirect(t, store))
}

// S2 — simple CREATE TABLE.
func TestSimpleCreateTable(t *testing.T) {
	store := memkv.New()
	m := startManager(t, store, settings.Config{})
	sess := NewSession()

	next, err := m.ApplyDDL(context.Background(), sess, addIntTable("test", "t"))
	require.NoError(t, err)
	require.Equal(t, int64(1), next.Generation())

	require.Equal(t, int64(1), readGenerationDirect(t, store))

	newSess := NewSession()
	a, err := m.GetAIS(context.Background(), newSess)
	require.NoError(t, err)
	require.Equal(t, int64(1), a.Generation())
	require.NotNil(t, a.TableByName(ais.NewTableName("test", "t")))
}

// S3 — crash/restart round-trip.
func TestRestartRoundTrip(t *testing.T) {
	store := memkv.New()
	m := startManager(t, store, settings.Config{})
	sess := NewSession()
	_, err := m.ApplyDDL(context.Background(), sess, addIntTable("test", "t"))
	require.NoError(t, err)
	m.Stop()

	m2 := startManager(t, store, settings.Config{})
	a, err := m2.GetAIS(context.Background(), NewSession())
	require.NoError(t, err)
	require.Equal(t, int64(1), a.Generation())
	require.NotNil(t, a.TableByName(ais.NewTableName("test", "t")))
}

// S4 — online ADD COLUMN with concurrent DML.
func TestOnlineAddColumnWithConcurrentDML(t *testing.T) {
	store := memkv.New()
	m := startManager(t, store, settings.Config{})
	ctx := context.Background()

	sessA := NewSession()
	_, err := m.ApplyDDL(ctx, sessA, addIntTable("test", "t"))
	require.NoError(t, err)

	baseline, err := m.GetAIS(ctx, sessA)
	require.NoError(t, err)
	tableID := baseline.TableByName(ais.NewTableName("test", "t")).ID

	_, err = m.BeginOnline(ctx, sessA)
	require.NoError(t, err)
	require.NoError(t, m.AddOnlineChangeSet(ctx, sessA, ChangeSet{TableID: tableID, Kind: "addColumn", Detail: "x"}))

	err = m.StageOnline(ctx, sessA, func(ctx context.Context, txn kv.Txn, next *ais.AIS) error {
		tbl := next.TableByName(ais.NewTableName("test", "t"))
		tbl.Columns = append(tbl.Columns, ais.Column{Name: "x", Type: "INT", Nullable: true, Position: len(tbl.Columns)})
		return nil
	}, []string{"test"})
	require.NoError(t, err)

	sessB := NewSession()
	require.NoError(t, m.RecordOnlineHandledHKey(ctx, sessB, tableID, []byte("row-H")))

	hkeys, err := m.ScanOnlineHandledHKeys(ctx, sessA, tableID, nil)
	require.NoError(t, err)
	require.Len(t, hkeys, 1)
	require.Equal(t, []byte("row-H"), hkeys[0])

	onlineAIS, err := m.GetOnlineAIS(ctx, sessA)
	require.NoError(t, err)
	tbl := onlineAIS.TableByName(ais.NewTableName("test", "t"))
	require.Len(t, tbl.Columns, 2)

	// B does not own the online change and does not see the staged column.
	bAIS, err := m.GetAIS(ctx, sessB)
	require.NoError(t, err)
	require.Len(t, bAIS.TableByName(ais.NewTableName("test", "t")).Columns, 1)

	require.NoError(t, m.FinalizeOnline(ctx, sessA))

	final, err := m.GetAIS(ctx, NewSession())
	require.NoError(t, err)
	require.Len(t, final.TableByName(ais.NewTableName("test", "t")).Columns, 2)

	var cache *OnlineCache
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		var err error
		cache, err = m.tracker.BuildOnlineCache(ctx, txn, m.reg)
		return err
	}))
	require.Empty(t, cache.OnlineToAIS)
}

// S5 — version mismatch.
func TestVersionMismatchClearDisallowed(t *testing.T) {
	store := memkv.New()
	ctx := context.Background()
	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		root, err := kv.Root().CreateOrOpen(ctx, txn, "schemaManager")
		if err != nil {
			return err
		}
		txn.Set(root.Pack(dataVersionKeyName), kv.PackTuple(int64(4)))
		txn.Set(root.Pack(metaVersionKeyName), kv.PackTuple(CurrentMetaVersion))
		txn.Set(root.Pack(generationKeyName), kv.PackTuple(int64(0)))
		return nil
	}))

	m := New()
	err := m.Start(ctx, store.DB(), settings.Config{ClearIncompatibleData: false})
	require.Error(t, err)
	var incompat *ErrIncompatible
	require.ErrorAs(t, err, &incompat)

	m2 := New()
	require.NoError(t, m2.Start(ctx, store.DB(), settings.Config{ClearIncompatibleData: true}))
	a, err := m2.GetAIS(ctx, NewSession())
	require.NoError(t, err)
	require.Equal(t, int64(0), a.Generation())
}

// S6 — DROP removes storage.
func TestDropRemovesStorage(t *testing.T) {
	store := memkv.New()
	m := startManager(t, store, settings.Config{})
	ctx := context.Background()
	sess := NewSession()
	_, err := m.ApplyDDL(ctx, sess, addIntTable("test", "t"))
	require.NoError(t, err)

	paths, err := m.ListStoragePaths(ctx, sess)
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	require.NoError(t, m.DropTable(ctx, sess, ais.NewTableName("test", "t")))

	after, err := m.ListStoragePaths(ctx, sess)
	require.NoError(t, err)
	for _, p := range after {
		require.NotContains(t, p, "test")
	}

	exists, err := mustExistsDataDir(ctx, store, "test", "t")
	require.NoError(t, err)
	require.False(t, exists)
}

func mustExistsDataDir(ctx context.Context, store *memkv.Store, schema, table string) (bool, error) {
	var exists bool
	err := store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		root, err := kv.Root().Open(ctx, txn, "schemaManager")
		if err != nil {
			return err
		}
		dataDir, err := root.Open(ctx, txn, "data")
		if err != nil {
			return err
		}
		exists, err = dataDir.Exists(ctx, txn, schema, table)
		return err
	})
	return exists, err
}

// Session snapshot invariance: repeated GetAIS within one transaction is
// reference-equal.
func TestSessionAISReferenceEqualWithinTxn(t *testing.T) {
	store := memkv.New()
	m := startManager(t, store, settings.Config{})
	ctx := context.Background()
	sess := NewSession()
	_, err := m.ApplyDDL(ctx, sess, addIntTable("test", "t"))
	require.NoError(t, err)

	err = store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		a1, err := m.reg.SessionAIS(ctx, sess, txn)
		if err != nil {
			return err
		}
		a2, err := m.reg.SessionAIS(ctx, sess, txn)
		if err != nil {
			return err
		}
		require.Same(t, a1, a2)
		return nil
	})
	require.NoError(t, err)
}

// Monotonic generation: every committed schema-touching transaction
// publishes exactly one new generation, strictly increasing.
func TestMonotonicGeneration(t *testing.T) {
	store := memkv.New()
	m := startManager(t, store, settings.Config{})
	ctx := context.Background()
	sess := NewSession()

	var last int64
	for i := 0; i < 5; i++ {
		name := string(rune('a' + i))
		next, err := m.ApplyDDL(ctx, sess, addIntTable("test", name))
		require.NoError(t, err)
		require.Greater(t, next.Generation(), last)
		require.Equal(t, last+1, next.Generation())
		last = next.Generation()
	}
}

func TestApplyDDLRejectsInvalidSchema(t *testing.T) {
	store := memkv.New()
	m := startManager(t, store, settings.Config{})
	ctx := context.Background()
	sess := NewSession()

	_, err := m.ApplyDDL(ctx, sess, func(ctx context.Context, txn kv.Txn, next *ais.AIS) error {
		bad := &ais.Table{ID: 1, Name: ais.NewTableName("test", "bad")}
		bad.AddIndex(&ais.Index{Name: "PRIMARY", Primary: true, Columns: []string{"missing"}})
		next.AddTable(bad)
		return nil
	})
	require.Error(t, err)
	var invalid *ErrInvalidSchema
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, int64(0), readGenerationDirect(t, store))
}

func TestExternalClearFailsGetAIS(t *testing.T) {
	store := memkv.New()
	m := startManager(t, store, settings.Config{})
	ctx := context.Background()

	require.NoError(t, store.DB().Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		root, err := kv.Root().Open(ctx, txn, "schemaManager")
		if err != nil {
			return err
		}
		txn.Clear(root.Pack(generationKeyName))
		return nil
	}))

	_, err := m.GetAIS(ctx, NewSession())
	require.ErrorIs(t, err, ErrExternalClear)
}

func TestRenameTableMovesDataDirectory(t *testing.T) {
	store := memkv.New()
	m := startManager(t, store, settings.Config{})
	ctx := context.Background()
	sess := NewSession()
	_, err := m.ApplyDDL(ctx, sess, addIntTable("test", "t"))
	require.NoError(t, err)

	require.NoError(t, m.RenameTable(ctx, sess, ais.NewTableName("test", "t"), ais.NewTableName("test", "t2")))

	a, err := m.GetAIS(ctx, sess)
	require.NoError(t, err)
	require.Nil(t, a.TableByName(ais.NewTableName("test", "t")))
	require.NotNil(t, a.TableByName(ais.NewTableName("test", "t2")))

	oldExists, err := mustExistsDataDir(ctx, store, "test", "t")
	require.NoError(t, err)
	require.False(t, oldExists)
	newExists, err := mustExistsDataDir(ctx, store, "test", "t2")
	require.NoError(t, err)
	require.True(t, newExists)
}
