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
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/bowlofstew/sql-layer/pkg/ais"
	"github.com/bowlofstew/sql-layer/pkg/kv"
)

// ChangeSet is a structured description of one table's logical change
// during an online DDL. Kept deliberately generic: the actual row-rewrite
// logic lives outside this module's scope (query execution is a
// non-goal). A ChangeSet here claims its table for the online change and
// is reported through OnlineCache; FinalizeOnline does not read it.
type ChangeSet struct {
	TableID int32
	Kind    string
	Detail  string
}

func encodeChangeSet(cs ChangeSet) []byte {
	return kv.PackTuple(int64(cs.TableID), cs.Kind, cs.Detail)
}

func decodeChangeSet(b []byte) (ChangeSet, error) {
	t, err := kv.UnpackTuple(b)
	if err != nil {
		return ChangeSet{}, err
	}
	return ChangeSet{TableID: int32(t.Int64(0)), Kind: t.String(1), Detail: t.String(2)}, nil
}

// OnlineState is the externally observable state of an online session, as
// determined purely from what's in the KV store (the tracker itself
// holds no in-process state).
type OnlineState int32

const (
	// OnlineUnknown means no online/<id>/ directory (and generation key)
	// exists: the id was never allocated, or has already been finalized
	// or aborted.
	OnlineUnknown OnlineState = iota
	// OnlineOpen means the directory exists with generation == -1: the
	// session has begun but hasn't staged anything yet.
	OnlineOpen
	// OnlineStaged means a generation has been allocated and (Active,
	// from any other session's point of view) the staged AIS and
	// ChangeSets are visible through OnlineCache.
	OnlineStaged
)

// Tracker is the online-DDL staging area, C5. root is the schema
// manager's top-level directory; the tracker resolves "online" under it
// fresh within every transaction, the same discipline every other
// component here uses for directories.
type Tracker struct {
	root kv.Directory
}

// NewTracker returns a Tracker rooted at the schema manager's directory.
func NewTracker(root kv.Directory) *Tracker {
	return &Tracker{root: root}
}

func (t *Tracker) onlineRoot(ctx context.Context, txn kv.Txn) (kv.Directory, error) {
	return t.root.CreateOrOpen(ctx, txn, "online")
}

func (t *Tracker) onlineDir(ctx context.Context, txn kv.Txn, id int64) (kv.Directory, error) {
	root, err := t.onlineRoot(ctx, txn)
	if err != nil {
		return kv.Directory{}, err
	}
	return root.CreateOrOpen(ctx, txn, strconv.FormatInt(id, 10))
}

func (t *Tracker) generationKey(ctx context.Context, txn kv.Txn, id int64) ([]byte, error) {
	dir, err := t.onlineDir(ctx, txn, id)
	if err != nil {
		return nil, err
	}
	return dir.Pack("generation"), nil
}

// State reports id's current state, purely from what's committed so far
// in txn's view.
func (t *Tracker) State(ctx context.Context, txn kv.Txn, id int64) (OnlineState, error) {
	key, err := t.generationKey(ctx, txn, id)
	if err != nil {
		return OnlineUnknown, err
	}
	g, present, err := readGeneration(ctx, txn, key)
	if err != nil {
		return OnlineUnknown, err
	}
	if !present {
		return OnlineUnknown, nil
	}
	if g == -1 {
		return OnlineOpen, nil
	}
	return OnlineStaged, nil
}

// BeginOnline allocates a fresh online id and opens its directory in the
// Open state. Exactly one online session per calling session is enforced
// by the caller (Manager), not by the tracker.
func (t *Tracker) BeginOnline(ctx context.Context, txn kv.Txn) (int64, error) {
	counterKey := t.root.Pack(onlineSessionKeyName)
	v, err := txn.Get(ctx, counterKey)
	if err != nil {
		return 0, err
	}
	var id int64 = 1
	if v != nil {
		cur, err := kv.UnpackTuple(v)
		if err != nil {
			return 0, err
		}
		id = cur.Int64(0) + 1
	}
	txn.Set(counterKey, kv.PackTuple(id))

	key, err := t.generationKey(ctx, txn, id)
	if err != nil {
		return 0, err
	}
	txn.Set(key, kv.PackTuple(int64(-1)))
	return id, nil
}

// StageOnline allocates newAIS a fresh global generation, publishes it
// under online/<id>/ for every listed schema, and then bumps the global
// generation a second time. The second bump is issued after the staged
// writes are queued in this same transaction, so a commit-conflict retry
// re-runs this whole function and reissues both bumps together, never
// just one.
func (t *Tracker) StageOnline(
	ctx context.Context, txn kv.Txn, reg *Registry, id int64, newAIS *ais.AIS, schemas []string,
) error {
	state, err := t.State(ctx, txn, id)
	if err != nil {
		return err
	}
	if state == OnlineUnknown {
		return ErrNoSuchOnlineChange
	}

	g, err := reg.NextGeneration(ctx, txn)
	if err != nil {
		return err
	}
	newAIS.SetGeneration(g)
	newAIS.Freeze()

	key, err := t.generationKey(ctx, txn, id)
	if err != nil {
		return err
	}
	txn.Set(key, kv.PackTuple(g))

	dir, err := t.onlineDir(ctx, txn, id)
	if err != nil {
		return err
	}
	protoDir, err := dir.CreateOrOpen(ctx, txn, "protobuf")
	if err != nil {
		return err
	}
	for _, schema := range schemas {
		if !persistableSchemas.SelectSchema(schema) {
			continue
		}
		data, err := ais.Serialize(newAIS, ais.SingleSchemaSelector{Schema: schema})
		if err != nil {
			return errors.Wrap(err, "schemamgr: serialize staged schema")
		}
		txn.Set(protoDir.Pack(schema), data)
	}

	// Second bump: queued here, after the writes above, in the same
	// transaction — never issued alone.
	if _, err := reg.NextGeneration(ctx, txn); err != nil {
		return err
	}
	return nil
}

// AddChangeSet records cs under online/<id>/changes/<table_id>, bumping
// the global generation once per transaction attempt (tracked via ctx,
// not via any state this Tracker value owns, since a Tracker is reused
// across transactions).
func (t *Tracker) AddChangeSet(ctx context.Context, txn kv.Txn, reg *Registry, id int64, cs ChangeSet) error {
	state, err := t.State(ctx, txn, id)
	if err != nil {
		return err
	}
	if state == OnlineUnknown {
		return ErrNoSuchOnlineChange
	}

	if owner, ok, err := t.findOnlineForTable(ctx, txn, cs.TableID); err != nil {
		return err
	} else if ok && owner != id {
		return ErrConflictingOnlineChange
	}

	dir, err := t.onlineDir(ctx, txn, id)
	if err != nil {
		return err
	}
	changesDir, err := dir.CreateOrOpen(ctx, txn, "changes")
	if err != nil {
		return err
	}
	txn.Set(changesDir.Pack(strconv.Itoa(int(cs.TableID))), encodeChangeSet(cs))

	if flag := bumpedThisAttempt(ctx); flag == nil || !*flag {
		if _, err := reg.NextGeneration(ctx, txn); err != nil {
			return err
		}
		if flag != nil {
			*flag = true
		}
	}
	return nil
}

// RecordDMLHKey logs that a row identified by hkey was written by DML
// concurrent with the online change claiming tableID.
func (t *Tracker) RecordDMLHKey(ctx context.Context, txn kv.Txn, tableID int32, hkey []byte) error {
	id, ok, err := t.findOnlineForTable(ctx, txn, tableID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSuchOnlineChange
	}
	dir, err := t.onlineDir(ctx, txn, id)
	if err != nil {
		return err
	}
	dmlDir, err := dir.CreateOrOpen(ctx, txn, "dml", strconv.Itoa(int(tableID)))
	if err != nil {
		return err
	}
	txn.Set(dmlDir.Pack(hkey), []byte{})
	return nil
}

// DMLHKeyIterator yields the hkeys logged for one table, in lexicographic
// order. HasNext is real and safe to call at exhaustion: every key is
// already buffered by EnumerateDMLHKeys, so HasNext just checks the
// cursor rather than relying on a lookahead that can misreport.
type DMLHKeyIterator struct {
	items [][]byte
	pos   int
}

// HasNext reports whether Next has another hkey to return.
func (it *DMLHKeyIterator) HasNext() bool { return it.pos < len(it.items) }

// Next returns the next hkey and advances the cursor. Calling Next when
// HasNext is false panics, the same contract a Go iterator's Next carries
// for any misuse past exhaustion.
func (it *DMLHKeyIterator) Next() []byte {
	v := it.items[it.pos]
	it.pos++
	return v
}

// EnumerateDMLHKeys returns every hkey logged for tableID since staging
// began, optionally starting at (and including) startHKey.
func (t *Tracker) EnumerateDMLHKeys(
	ctx context.Context, txn kv.Txn, tableID int32, startHKey []byte,
) (*DMLHKeyIterator, error) {
	id, ok, err := t.findOnlineForTable(ctx, txn, tableID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSuchOnlineChange
	}
	dir, err := t.onlineDir(ctx, txn, id)
	if err != nil {
		return nil, err
	}
	dmlDir, err := dir.CreateOrOpen(ctx, txn, "dml", strconv.Itoa(int(tableID)))
	if err != nil {
		return nil, err
	}
	start, end := dmlDir.Range()
	if startHKey != nil {
		start = dmlDir.Pack(startHKey)
	}
	kvs, err := txn.GetRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	items := make([][]byte, 0, len(kvs))
	for _, entry := range kvs {
		// Key is dmlDir's prefix followed by a packed single-element
		// tuple; strip the prefix and unpack to recover the raw hkey.
		parsed, err := kv.UnpackTuple(stripPrefix(entry.Key, dmlDir))
		if err != nil {
			return nil, err
		}
		items = append(items, parsed.Bytes(0))
	}
	return &DMLHKeyIterator{items: items}, nil
}

func stripPrefix(key []byte, dir kv.Directory) []byte {
	prefix := dir.Pack()
	return key[len(prefix):]
}

// FinalizeOnline promotes id's staged protobuf fragments into the global
// protobuf area, bumps the global generation once more to publish them,
// and removes the online/<id>/ subtree.
func (t *Tracker) FinalizeOnline(ctx context.Context, txn kv.Txn, reg *Registry, id int64) error {
	state, err := t.State(ctx, txn, id)
	if err != nil {
		return err
	}
	if state != OnlineStaged {
		return ErrNoSuchOnlineChange
	}

	dir, err := t.onlineDir(ctx, txn, id)
	if err != nil {
		return err
	}
	protoDir, err := dir.CreateOrOpen(ctx, txn, "protobuf")
	if err != nil {
		return err
	}
	start, end := protoDir.Range()
	kvs, err := txn.GetRange(ctx, start, end)
	if err != nil {
		return err
	}
	globalProtoDir, err := t.root.CreateOrOpen(ctx, txn, protobufDirName)
	if err != nil {
		return err
	}
	for _, frag := range kvs {
		schema, err := lastPathComponent(frag.Key, protoDir)
		if err != nil {
			return err
		}
		txn.Set(globalProtoDir.Pack(schema), frag.Value)
	}

	if _, err := reg.NextGeneration(ctx, txn); err != nil {
		return err
	}

	root, err := t.onlineRoot(ctx, txn)
	if err != nil {
		return err
	}
	_, err = root.RemoveIfExists(ctx, txn, strconv.FormatInt(id, 10))
	return err
}

func lastPathComponent(key []byte, dir kv.Directory) (string, error) {
	t, err := kv.UnpackTuple(stripPrefix(key, dir))
	if err != nil {
		return "", err
	}
	return t.String(0), nil
}

// AbortOnline discards id's staged state. If the session never reached
// Staged (nothing was externally visible), no generation bump is needed;
// otherwise one bump invalidates the staged generation so no other
// transaction mistakes it for current.
func (t *Tracker) AbortOnline(ctx context.Context, txn kv.Txn, reg *Registry, id int64) error {
	state, err := t.State(ctx, txn, id)
	if err != nil {
		return err
	}
	if state == OnlineUnknown {
		return ErrNoSuchOnlineChange
	}
	if state == OnlineStaged {
		if _, err := reg.NextGeneration(ctx, txn); err != nil {
			return err
		}
	}
	root, err := t.onlineRoot(ctx, txn)
	if err != nil {
		return err
	}
	_, err = root.RemoveIfExists(ctx, txn, strconv.FormatInt(id, 10))
	return err
}

// findOnlineForTable scans every online session's changes/ directory for
// tableID. The tracker keeps no in-process index — its authority lives
// entirely in the KV store — so this is a linear scan over however many
// online sessions are concurrently open, which is always small.
func (t *Tracker) findOnlineForTable(ctx context.Context, txn kv.Txn, tableID int32) (int64, bool, error) {
	ids, err := t.listOnlineIDs(ctx, txn)
	if err != nil {
		return 0, false, err
	}
	for _, id := range ids {
		dir, err := t.onlineDir(ctx, txn, id)
		if err != nil {
			return 0, false, err
		}
		changesDir, err := dir.CreateOrOpen(ctx, txn, "changes")
		if err != nil {
			return 0, false, err
		}
		v, err := txn.Get(ctx, changesDir.Pack(strconv.Itoa(int(tableID))))
		if err != nil {
			return 0, false, err
		}
		if v != nil {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (t *Tracker) listOnlineIDs(ctx context.Context, txn kv.Txn) ([]int64, error) {
	root, err := t.onlineRoot(ctx, txn)
	if err != nil {
		return nil, err
	}
	names, err := root.List(ctx, txn)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// OnlineCache is the read-only view of every currently-staged online
// session, built fresh within a transaction — mirrors
// FDBSchemaManager.buildOnlineCache/OnlineCache exactly.
type OnlineCache struct {
	SchemaToOnline     map[string]int64
	TableToOnline      map[int32]int64
	OnlineToChangeSets map[int64][]ChangeSet
	OnlineToAIS        map[int64]*ais.AIS
}

// BuildOnlineCache assembles an OnlineCache from every online session
// currently in the Staged state. Each staged schema's AIS is built by
// overlaying the current committed AIS (for schemas the online change
// doesn't touch) with its staged fragments (for the schemas it does).
func (t *Tracker) BuildOnlineCache(ctx context.Context, txn kv.Txn, reg *Registry) (*OnlineCache, error) {
	cache := &OnlineCache{
		SchemaToOnline:     map[string]int64{},
		TableToOnline:      map[int32]int64{},
		OnlineToChangeSets: map[int64][]ChangeSet{},
		OnlineToAIS:        map[int64]*ais.AIS{},
	}

	ids, err := t.listOnlineIDs(ctx, txn)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		state, err := t.State(ctx, txn, id)
		if err != nil {
			return nil, err
		}
		if state != OnlineStaged {
			continue
		}

		dir, err := t.onlineDir(ctx, txn, id)
		if err != nil {
			return nil, err
		}

		key, err := t.generationKey(ctx, txn, id)
		if err != nil {
			return nil, err
		}
		gen, _, err := readGeneration(ctx, txn, key)
		if err != nil {
			return nil, err
		}

		protoDir, err := dir.CreateOrOpen(ctx, txn, "protobuf")
		if err != nil {
			return nil, err
		}
		start, end := protoDir.Range()
		kvs, err := txn.GetRange(ctx, start, end)
		if err != nil {
			return nil, err
		}

		reader := ais.NewReader()
		if cur := reg.CurAIS(); cur != nil {
			reader.Overlay(cur)
		}
		for _, frag := range kvs {
			schema, err := lastPathComponent(frag.Key, protoDir)
			if err != nil {
				return nil, err
			}
			if existing, ok := cache.SchemaToOnline[schema]; ok && existing != id {
				return nil, ErrConflictingOnlineChange
			}
			cache.SchemaToOnline[schema] = id
			if err := reader.LoadBuffer(frag.Value); err != nil {
				return nil, err
			}
		}

		onlineAIS, err := reader.Finish()
		if err != nil {
			return nil, err
		}
		onlineAIS.SetGeneration(gen)
		onlineAIS.Freeze()
		cache.OnlineToAIS[id] = onlineAIS

		changesDir, err := dir.CreateOrOpen(ctx, txn, "changes")
		if err != nil {
			return nil, err
		}
		// changes/<table_id> entries are plain data keys, not
		// subdirectories, so they're enumerated with a range scan rather
		// than Directory.List.
		cstart, cend := changesDir.Range()
		changeKVs, err := txn.GetRange(ctx, cstart, cend)
		if err != nil {
			return nil, err
		}
		for _, entry := range changeKVs {
			cs, err := decodeChangeSet(entry.Value)
			if err != nil {
				return nil, err
			}
			if existing, ok := cache.TableToOnline[cs.TableID]; ok && existing != id {
				return nil, ErrConflictingOnlineChange
			}
			cache.TableToOnline[cs.TableID] = id
			cache.OnlineToChangeSets[id] = append(cache.OnlineToChangeSets[id], cs)
		}
	}
	return cache, nil
}

type bumpFlagKeyType struct{}

var bumpFlagKey bumpFlagKeyType

// withBumpTracking returns a context carrying a fresh "already bumped
// this attempt" flag. Manager wraps each DB.Txn attempt with this so a
// retried attempt starts the flag over, rather than inheriting state from
// a failed prior attempt.
func withBumpTracking(ctx context.Context) context.Context {
	return context.WithValue(ctx, bumpFlagKey, new(bool))
}

func bumpedThisAttempt(ctx context.Context) *bool {
	flag, _ := ctx.Value(bumpFlagKey).(*bool)
	return flag
}
