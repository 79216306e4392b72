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

// Package schemamgr is the schema manager: the consistency kernel that
// persists, versions, and distributes a database's metadata (the Akiban
// Information Schema) across concurrent sessions sharing one KV backend,
// including support for online (concurrent-with-DML) schema changes.
// Manager is its public front; Registry and Tracker are the two pieces of
// authority it composes (generation/session-AIS caching, and online-DDL
// staging, respectively).
package schemamgr

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/bowlofstew/sql-layer/pkg/ais"
	"github.com/bowlofstew/sql-layer/pkg/catalog/namegen"
	"github.com/bowlofstew/sql-layer/pkg/kv"
	"github.com/bowlofstew/sql-layer/pkg/settings"
	"github.com/bowlofstew/sql-layer/pkg/util/log"
	"github.com/bowlofstew/sql-layer/pkg/util/retry"
)

// CurrentDataVersion and CurrentMetaVersion are this build's expected
// versions for the persisted data layout and metadata encoding. A store
// initialized by different versions is refused at Start unless the
// ClearIncompatibleData setting authorizes wiping it.
const (
	CurrentDataVersion int64 = 5
	CurrentMetaVersion int64 = 3
)

// TableListener is notified of table lifecycle events as they happen,
// inside the same transaction that caused them, with ctx/txn so a
// listener (including Manager's own, for OnDrop) can do further
// transactional KV work rather than just observe.
type TableListener interface {
	OnCreate(ctx context.Context, txn kv.Txn, t *ais.Table) error
	OnDrop(ctx context.Context, txn kv.Txn, t *ais.Table) error
	OnTruncate(ctx context.Context, txn kv.Txn, t *ais.Table) error
	OnCreateIndex(ctx context.Context, txn kv.Txn, t *ais.Table, idx *ais.Index) error
	OnDropIndex(ctx context.Context, txn kv.Txn, t *ais.Table, idx *ais.Index) error
}

// Manager is the schema manager's public front, C6. It owns a Registry
// (generation counter + session AIS caching) and a Tracker (online DDL
// staging), and composes them inside KV transactions to implement every
// public operation.
type Manager struct {
	db   kv.DB
	root kv.Directory

	reg     *Registry
	tracker *Tracker

	mu        sync.Mutex
	listeners []TableListener
	started   bool
}

// New returns an unstarted Manager. Call Start before using it.
func New() *Manager {
	return &Manager{}
}

// Start runs the three-step startup procedure: ensure the schema
// manager's directories exist; check data/meta version compatibility
// (clearing and reinitializing if cfg authorizes it, else failing);
// load the AIS from storage, merge it with the name generator, and
// install it as the current AIS.
func (m *Manager) Start(ctx context.Context, db kv.DB, cfg settings.Config) error {
	m.db = db
	return db.Txn(ctx, func(ctx context.Context, txn kv.Txn) error {
		root, err := kv.Root().CreateOrOpen(ctx, txn, "schemaManager")
		if err != nil {
			return errors.Wrap(err, "schemamgr: open schema manager directory")
		}
		m.root = root
		m.reg = NewRegistry(root)
		m.tracker = NewTracker(root)
		m.registerSelfAsListener()

		if err := m.checkCompatibility(ctx, txn, cfg); err != nil {
			return err
		}

		g, err := m.reg.TransactionalGeneration(ctx, txn)
		if err != nil {
			return err
		}
		loaded, err := m.reg.loadFromStorage(ctx, txn, g)
		if err != nil {
			return err
		}
		m.reg.AISLock.Lock()
		m.reg.installAISLocked(loaded)
		m.reg.AISLock.Unlock()

		log.Infof(ctx, "schemamgr: started, generation=%d schemas=%d", g, len(loaded.SchemaNames()))
		m.mu.Lock()
		m.started = true
		m.mu.Unlock()
		return nil
	})
}

func (m *Manager) registerSelfAsListener() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listeners {
		if l == TableListener(m) {
			return
		}
	}
	m.listeners = append(m.listeners, m)
}

// checkCompatibility implements isDataCompatible's three outcomes: none
// (save initial state), compatible (proceed), incompatible (clear if
// cfg.ClearIncompatibleData, else fail with ErrIncompatible).
func (m *Manager) checkCompatibility(ctx context.Context, txn kv.Txn, cfg settings.Config) error {
	dataKey := m.root.Pack(dataVersionKeyName)
	metaKey := m.root.Pack(metaVersionKeyName)

	dataRaw, err := txn.Get(ctx, dataKey)
	if err != nil {
		return err
	}
	metaRaw, err := txn.Get(ctx, metaKey)
	if err != nil {
		return err
	}

	if dataRaw == nil && metaRaw == nil {
		txn.Set(dataKey, kv.PackTuple(CurrentDataVersion))
		txn.Set(metaKey, kv.PackTuple(CurrentMetaVersion))
		txn.Set(m.root.Pack(generationKeyName), kv.PackTuple(int64(0)))
		return nil
	}
	if dataRaw == nil || metaRaw == nil {
		return ErrExternalClear
	}

	dataTup, err := kv.UnpackTuple(dataRaw)
	if err != nil {
		return err
	}
	metaTup, err := kv.UnpackTuple(metaRaw)
	if err != nil {
		return err
	}
	storedData, storedMeta := dataTup.Int64(0), metaTup.Int64(0)
	if storedData == CurrentDataVersion && storedMeta == CurrentMetaVersion {
		return nil
	}

	if !cfg.ClearIncompatibleData {
		return &ErrIncompatible{StoredMeta: storedMeta, StoredData: storedData}
	}
	log.Warningf(ctx, "schemamgr: clearing incompatible metadata (data=%d meta=%d)", storedData, storedMeta)
	start, end := m.root.Range()
	txn.ClearRange(start, end)
	// Subdirectories (protobuf, online, data, idgen) have prefixes of their
	// own outside root's range, so each is removed explicitly.
	children, err := m.root.List(ctx, txn)
	if err != nil {
		return err
	}
	for _, name := range children {
		if _, err := m.root.RemoveIfExists(ctx, txn, name); err != nil {
			return err
		}
	}
	txn.Set(dataKey, kv.PackTuple(CurrentDataVersion))
	txn.Set(metaKey, kv.PackTuple(CurrentMetaVersion))
	txn.Set(m.root.Pack(generationKeyName), kv.PackTuple(int64(0)))
	return nil
}

// Stop deregisters the table listener and drops every in-process cache.
// It never touches the KV store.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = nil
	m.started = false
	if m.reg != nil {
		m.reg.AISLock.Lock()
		m.reg.curAIS = nil
		m.reg.nameGen = nil
		m.reg.AISLock.Unlock()
		m.reg.SetMemoryAIS(ais.New())
	}
}

// RegisterTableListener adds an externally owned listener to the set
// notified of table lifecycle events.
func (m *Manager) RegisterTableListener(l TableListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) notifyListeners(
	ctx context.Context, txn kv.Txn, fn func(l TableListener) error,
) error {
	m.mu.Lock()
	listeners := append([]TableListener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

// OnCreate allocates t's data directory so later RenameTable/DropTable
// calls have something to move or remove, and logs the creation for
// observability.
func (m *Manager) OnCreate(ctx context.Context, txn kv.Txn, t *ais.Table) error {
	dataDir, err := m.root.CreateOrOpen(ctx, txn, "data")
	if err != nil {
		return err
	}
	if _, err := dataDir.CreateOrOpen(ctx, txn, t.Name.Schema, t.Name.Name); err != nil {
		return err
	}
	log.VEventf(ctx, 2, "schemamgr: table created %s", t.Name)
	return nil
}

// OnDrop removes t's data directory in the same transaction — mirrors
// FDBSchemaManager.onDrop.
func (m *Manager) OnDrop(ctx context.Context, txn kv.Txn, t *ais.Table) error {
	dataDir, err := m.root.CreateOrOpen(ctx, txn, "data")
	if err != nil {
		return err
	}
	_, err = dataDir.RemoveIfExists(ctx, txn, t.Name.Schema, t.Name.Name)
	return err
}

// OnTruncate is informational only; row storage lies outside this
// module's scope.
func (m *Manager) OnTruncate(ctx context.Context, txn kv.Txn, t *ais.Table) error { return nil }

// OnCreateIndex is informational only.
func (m *Manager) OnCreateIndex(ctx context.Context, txn kv.Txn, t *ais.Table, idx *ais.Index) error {
	return nil
}

// OnDropIndex is informational only.
func (m *Manager) OnDropIndex(ctx context.Context, txn kv.Txn, t *ais.Table, idx *ais.Index) error {
	return nil
}

// runRetrying runs fn inside a KV transaction, retrying on
// ErrCommitConflict with the standard backoff policy. Every attempt gets
// a fresh "generation already bumped this attempt" flag via
// withBumpTracking, so a retry never inherits a stale flag from a failed
// prior attempt.
func (m *Manager) runRetrying(ctx context.Context, fn func(ctx context.Context, txn kv.Txn) error) error {
	r := retry.StartWithCtx(ctx, retry.Options{})
	var lastErr error
	for r.Next() {
		lastErr = m.db.Txn(withBumpTracking(ctx), fn)
		if lastErr == nil || !errors.Is(lastErr, kv.ErrCommitConflict) {
			return lastErr
		}
		log.Warningf(ctx, "schemamgr: commit conflict on attempt %d, retrying", r.CurrentAttempt())
	}
	return lastErr
}

// IDGenerator returns a namegen.Generator that mints table/index/sequence
// ids under this transaction's ordinary-DDL id-generator subtree, synced
// with the in-process name generator and persisted so minted ids keep
// climbing across restarts. DDL mutate callbacks use this to assign new
// tables' and indexes' ids.
func (m *Manager) IDGenerator(ctx context.Context, txn kv.Txn) (namegen.Generator, error) {
	return namegen.ForDataPath(ctx, txn, m.root, m.reg.NameGenerator())
}

// GetAIS returns the AIS the session observes for its current
// transaction, delegating to the generation registry.
func (m *Manager) GetAIS(ctx context.Context, sess *Session) (*ais.AIS, error) {
	var result *ais.AIS
	err := m.runRetrying(ctx, func(ctx context.Context, txn kv.Txn) error {
		a, err := m.reg.SessionAIS(ctx, sess, txn)
		if err != nil {
			return err
		}
		result = a
		return nil
	})
	return result, err
}

// GetOnlineAIS returns the AIS overlay visible only to the session that
// owns the online change it's currently running, falling back to GetAIS
// if the session owns no online change.
func (m *Manager) GetOnlineAIS(ctx context.Context, sess *Session) (*ais.AIS, error) {
	id, ok := sess.OnlineID()
	if !ok {
		return m.GetAIS(ctx, sess)
	}
	var result *ais.AIS
	err := m.runRetrying(ctx, func(ctx context.Context, txn kv.Txn) error {
		cache, err := m.tracker.BuildOnlineCache(ctx, txn, m.reg)
		if err != nil {
			return err
		}
		a, ok := cache.OnlineToAIS[id]
		if !ok {
			return ErrNoSuchOnlineChange
		}
		result = a
		return nil
	})
	return result, err
}

// persistableSchemas is the ExcludeSchemas selector used wherever the
// schema manager decides what to write to protobuf/<schema>: the four
// memory-table catalogs are process-local overlays (see
// Registry.memoryAIS) and must never be written to shared storage, no
// matter what diffSchemas reports changed.
var persistableSchemas = ais.ExcludeSchemas{Schemas: map[string]bool{
	ais.InformationSchema: true,
	ais.SecuritySchema:    true,
	ais.SysSchema:         true,
	ais.SQLJSchema:        true,
}}

// diffSchemas returns, sorted, every schema name whose serialized content
// differs between oldAIS and newAIS (including one present in only one of
// the two) — the set of schemas a DDL actually touched, and so the only
// ones that need a fresh protobuf/<schema> entry.
func diffSchemas(oldAIS, newAIS *ais.AIS) ([]string, error) {
	names := map[string]bool{}
	for _, n := range oldAIS.SchemaNames() {
		names[n] = true
	}
	for _, n := range newAIS.SchemaNames() {
		names[n] = true
	}
	var changed []string
	for n := range names {
		oldData, err := ais.Serialize(oldAIS, ais.SingleSchemaSelector{Schema: n})
		if err != nil {
			return nil, err
		}
		newData, err := ais.Serialize(newAIS, ais.SingleSchemaSelector{Schema: n})
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(oldData, newData) {
			changed = append(changed, n)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

// commitAIS validates next, bumps the generation, writes a fresh
// protobuf fragment for every schema diffSchemas finds changed against
// cur, notifies table-create listeners for tables new in next, installs
// next as curAIS, and attaches it to sess.
func (m *Manager) commitAIS(ctx context.Context, txn kv.Txn, sess *Session, cur, next *ais.AIS) error {
	if reasons := ais.Validate(next); len(reasons) > 0 {
		return &ErrInvalidSchema{Reasons: reasons}
	}
	changed, err := diffSchemas(cur, next)
	if err != nil {
		return err
	}

	g, err := m.reg.NextGeneration(ctx, txn)
	if err != nil {
		return err
	}
	next.SetGeneration(g)
	next.Freeze()

	protoDir, err := m.root.CreateOrOpen(ctx, txn, protobufDirName)
	if err != nil {
		return err
	}
	nextSchemas := map[string]bool{}
	for _, n := range next.SchemaNames() {
		nextSchemas[n] = true
	}
	for _, schema := range changed {
		if !persistableSchemas.SelectSchema(schema) {
			continue
		}
		if !nextSchemas[schema] {
			txn.Clear(protoDir.Pack(schema))
			continue
		}
		data, err := ais.Serialize(next, ais.SingleSchemaSelector{Schema: schema})
		if err != nil {
			return err
		}
		txn.Set(protoDir.Pack(schema), data)
	}

	oldTables := cur.Tables()
	for id, t := range next.Tables() {
		if _, existed := oldTables[id]; !existed {
			if err := m.notifyListeners(ctx, txn, func(l TableListener) error {
				return l.OnCreate(ctx, txn, t)
			}); err != nil {
				return err
			}
		}
	}

	m.reg.AISLock.Lock()
	m.reg.installAISLocked(next)
	m.reg.AISLock.Unlock()
	sess.attachAIS(next)
	return nil
}

// ApplyDDL clones the session's current AIS, applies mutate to the clone
// (with access to this attempt's ctx/txn, e.g. to mint ids via
// IDGenerator), validates it, and commits it as a new generation. mutate
// runs again from scratch on every retried attempt, so it must be
// idempotent with respect to anything outside next itself.
func (m *Manager) ApplyDDL(
	ctx context.Context, sess *Session, mutate func(ctx context.Context, txn kv.Txn, next *ais.AIS) error,
) (*ais.AIS, error) {
	var result *ais.AIS
	err := m.runRetrying(ctx, func(ctx context.Context, txn kv.Txn) error {
		cur, err := m.reg.SessionAIS(ctx, sess, txn)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := mutate(ctx, txn, next); err != nil {
			return err
		}
		if err := m.commitAIS(ctx, txn, sess, cur, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	return result, err
}

// BeginOnline opens a new online session for sess. A session owns at
// most one online change at a time.
func (m *Manager) BeginOnline(ctx context.Context, sess *Session) (int64, error) {
	if _, ok := sess.OnlineID(); ok {
		return 0, ErrConflictingOnlineChange
	}
	correlationID := uuid.New()
	var id int64
	err := m.runRetrying(ctx, func(ctx context.Context, txn kv.Txn) error {
		newID, err := m.tracker.BeginOnline(ctx, txn)
		if err != nil {
			return err
		}
		id = newID
		return nil
	})
	if err != nil {
		return 0, err
	}
	sess.setOnlineID(id)
	log.Infof(ctx, "schemamgr: began online change id=%d corr=%s", id, correlationID)
	return id, nil
}

// AddOnlineChangeSet records cs against sess's online change.
func (m *Manager) AddOnlineChangeSet(ctx context.Context, sess *Session, cs ChangeSet) error {
	id, ok := sess.OnlineID()
	if !ok {
		return ErrNoSuchOnlineChange
	}
	return m.runRetrying(ctx, func(ctx context.Context, txn kv.Txn) error {
		return m.tracker.AddChangeSet(ctx, txn, m.reg, id, cs)
	})
}

// StageOnline clones the session's current AIS, applies mutate (with
// access to this attempt's ctx/txn; use IDGenerator to mint new ids), and
// stages the result under sess's online change for the listed schemas.
func (m *Manager) StageOnline(
	ctx context.Context, sess *Session,
	mutate func(ctx context.Context, txn kv.Txn, next *ais.AIS) error, schemas []string,
) error {
	id, ok := sess.OnlineID()
	if !ok {
		return ErrNoSuchOnlineChange
	}
	return m.runRetrying(ctx, func(ctx context.Context, txn kv.Txn) error {
		cur, err := m.reg.SessionAIS(ctx, sess, txn)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := mutate(ctx, txn, next); err != nil {
			return err
		}
		if reasons := ais.Validate(next); len(reasons) > 0 {
			return &ErrInvalidSchema{Reasons: reasons}
		}
		return m.tracker.StageOnline(ctx, txn, m.reg, id, next, schemas)
	})
}

// FinalizeOnline promotes sess's staged online change to the globally
// visible AIS and releases the session's claim on it.
func (m *Manager) FinalizeOnline(ctx context.Context, sess *Session) error {
	id, ok := sess.OnlineID()
	if !ok {
		return ErrNoSuchOnlineChange
	}
	err := m.runRetrying(ctx, func(ctx context.Context, txn kv.Txn) error {
		return m.tracker.FinalizeOnline(ctx, txn, m.reg, id)
	})
	if err == nil {
		sess.clearOnlineID()
	}
	return err
}

// AbortOnline discards sess's staged online change.
func (m *Manager) AbortOnline(ctx context.Context, sess *Session) error {
	id, ok := sess.OnlineID()
	if !ok {
		return ErrNoSuchOnlineChange
	}
	err := m.runRetrying(ctx, func(ctx context.Context, txn kv.Txn) error {
		return m.tracker.AbortOnline(ctx, txn, m.reg, id)
	})
	if err == nil {
		sess.clearOnlineID()
	}
	return err
}

// RecordOnlineHandledHKey logs hkey as written by DML concurrent with the
// online change claiming tableID.
func (m *Manager) RecordOnlineHandledHKey(ctx context.Context, sess *Session, tableID int32, hkey []byte) error {
	return m.runRetrying(ctx, func(ctx context.Context, txn kv.Txn) error {
		return m.tracker.RecordDMLHKey(ctx, txn, tableID, hkey)
	})
}

// ScanOnlineHandledHKeys returns every hkey logged for tableID, in
// lexicographic order, optionally starting at fromHKey.
func (m *Manager) ScanOnlineHandledHKeys(
	ctx context.Context, sess *Session, tableID int32, fromHKey []byte,
) ([][]byte, error) {
	var out [][]byte
	err := m.runRetrying(ctx, func(ctx context.Context, txn kv.Txn) error {
		it, err := m.tracker.EnumerateDMLHKeys(ctx, txn, tableID, fromHKey)
		if err != nil {
			return err
		}
		for it.HasNext() {
			out = append(out, it.Next())
		}
		return nil
	})
	return out, err
}

// RenameTable moves old's data directory to new's and updates the AIS
// accordingly, ensuring the destination schema directory exists first.
func (m *Manager) RenameTable(ctx context.Context, sess *Session, oldName, newName ais.TableName) error {
	return m.runRetrying(ctx, func(ctx context.Context, txn kv.Txn) error {
		cur, err := m.reg.SessionAIS(ctx, sess, txn)
		if err != nil {
			return err
		}
		next := cur.Clone()
		t := next.TableByName(oldName)
		if t == nil {
			return errors.Errorf("schemamgr: table %s does not exist", oldName)
		}

		dataDir, err := m.root.CreateOrOpen(ctx, txn, "data")
		if err != nil {
			return err
		}
		if _, err := dataDir.CreateOrOpen(ctx, txn, newName.Schema); err != nil {
			return err
		}
		if err := dataDir.Move(ctx, txn,
			[]string{oldName.Schema, oldName.Name}, []string{newName.Schema, newName.Name}); err != nil {
			return err
		}

		next.DropTable(t.ID)
		t.Name = newName
		next.AddTable(t)

		return m.commitAIS(ctx, txn, sess, cur, next)
	})
}

// DropTable removes table from the AIS and, via the OnDrop listener
// (Manager's own implementation), its data directory — both in the same
// transaction as the generation bump that publishes the drop.
func (m *Manager) DropTable(ctx context.Context, sess *Session, name ais.TableName) error {
	return m.runRetrying(ctx, func(ctx context.Context, txn kv.Txn) error {
		cur, err := m.reg.SessionAIS(ctx, sess, txn)
		if err != nil {
			return err
		}
		t := cur.TableByName(name)
		if t == nil {
			return errors.Errorf("schemamgr: table %s does not exist", name)
		}
		next := cur.Clone()
		next.DropTable(t.ID)

		if reasons := ais.Validate(next); len(reasons) > 0 {
			return &ErrInvalidSchema{Reasons: reasons}
		}
		changed, err := diffSchemas(cur, next)
		if err != nil {
			return err
		}

		g, err := m.reg.NextGeneration(ctx, txn)
		if err != nil {
			return err
		}
		next.SetGeneration(g)
		next.Freeze()

		protoDir, err := m.root.CreateOrOpen(ctx, txn, protobufDirName)
		if err != nil {
			return err
		}
		nextSchemas := map[string]bool{}
		for _, n := range next.SchemaNames() {
			nextSchemas[n] = true
		}
		for _, schema := range changed {
			if !persistableSchemas.SelectSchema(schema) {
				continue
			}
			if !nextSchemas[schema] {
				txn.Clear(protoDir.Pack(schema))
				continue
			}
			data, err := ais.Serialize(next, ais.SingleSchemaSelector{Schema: schema})
			if err != nil {
				return err
			}
			txn.Set(protoDir.Pack(schema), data)
		}

		if err := m.notifyListeners(ctx, txn, func(l TableListener) error {
			return l.OnDrop(ctx, txn, t)
		}); err != nil {
			return err
		}

		m.reg.AISLock.Lock()
		m.reg.installAISLocked(next)
		m.reg.AISLock.Unlock()
		sess.attachAIS(next)
		return nil
	})
}

// ListStoragePaths visits the session's current AIS and reports every
// storage path it references.
func (m *Manager) ListStoragePaths(ctx context.Context, sess *Session) ([]string, error) {
	a, err := m.GetAIS(ctx, sess)
	if err != nil {
		return nil, err
	}
	return ais.ListStoragePaths(a), nil
}
