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

package kv

import (
	"context"

	"github.com/cockroachdb/errors"
)

// metaPrefix namespaces the directory layer's own bookkeeping away from
// the data it hands out prefixes for. PackTuple never emits this leading
// byte (see tagInt/tagString/tagBytes), so a directory's allocated prefix
// can never collide with a metadata key.
var metaPrefix = []byte{0xFE}

func nodeKey(path []string) []byte {
	elems := make([]interface{}, 0, len(path)+1)
	elems = append(elems, "node")
	for _, p := range path {
		elems = append(elems, p)
	}
	return append(append([]byte(nil), metaPrefix...), PackTuple(elems...)...)
}

var counterKey = append(append([]byte(nil), metaPrefix...), PackTuple("counter")...)

// Directory is a named, hierarchical subspace of the keyspace with a
// stable byte-string prefix, the way a DirectorySubspace works in the
// FoundationDB directory layer the schema manager's Java original used.
// It carries no reference to any Txn — it's a plain value, safe to pass
// around or cache across calls within one transaction (but, like any
// view of directory metadata, must be re-resolved each transaction).
type Directory struct {
	path   []string
	prefix []byte
}

// Root is the top of the directory tree. It has no data prefix of its own
// and exists only as an anchor for Open/CreateOrOpen.
func Root() Directory {
	return Directory{}
}

// Path returns this directory's path from the root.
func (d Directory) Path() []string {
	return append([]string(nil), d.path...)
}

// Pack encodes elems as a Tuple key within this directory.
func (d Directory) Pack(elems ...interface{}) []byte {
	return append(append([]byte(nil), d.prefix...), PackTuple(elems...)...)
}

// Range returns the half-open byte range covering every key this
// directory could ever pack. Subdirectories are allocated prefixes of
// their own, so their keys are not inside this range.
func (d Directory) Range() (start, end []byte) {
	start = append([]byte(nil), d.prefix...)
	return start, StrInc(start)
}

// resolve looks up the allocated prefix of the directory at path (from the
// root), or reports found=false.
func resolve(ctx context.Context, txn Txn, path []string) (Directory, bool, error) {
	if len(path) == 0 {
		return Root(), true, nil
	}
	v, err := txn.Get(ctx, nodeKey(path))
	if err != nil {
		return Directory{}, false, err
	}
	if v == nil {
		return Directory{}, false, nil
	}
	id, err := UnpackTuple(v)
	if err != nil {
		return Directory{}, false, err
	}
	return Directory{path: append([]string(nil), path...), prefix: PackTuple(id.Int64(0))}, true, nil
}

func allocate(ctx context.Context, txn Txn, path []string) (Directory, error) {
	cur, err := txn.Get(ctx, counterKey)
	if err != nil {
		return Directory{}, err
	}
	var next int64 = 1
	if cur != nil {
		t, err := UnpackTuple(cur)
		if err != nil {
			return Directory{}, err
		}
		next = t.Int64(0) + 1
	}
	txn.Set(counterKey, PackTuple(next))
	txn.Set(nodeKey(path), PackTuple(next))
	return Directory{path: append([]string(nil), path...), prefix: PackTuple(next)}, nil
}

// Open resolves an existing subdirectory; it fails if any path component
// is missing.
func (d Directory) Open(ctx context.Context, txn Txn, rel ...string) (Directory, error) {
	path := append(append([]string(nil), d.path...), rel...)
	sub, ok, err := resolve(ctx, txn, path)
	if err != nil {
		return Directory{}, err
	}
	if !ok {
		return Directory{}, errors.Errorf("kv: directory %v does not exist", path)
	}
	return sub, nil
}

// CreateOrOpen resolves rel under d, allocating it (and any missing
// intermediate component) if it doesn't exist yet.
func (d Directory) CreateOrOpen(ctx context.Context, txn Txn, rel ...string) (Directory, error) {
	cur := d
	for _, name := range rel {
		path := append(append([]string(nil), cur.path...), name)
		sub, ok, err := resolve(ctx, txn, path)
		if err != nil {
			return Directory{}, err
		}
		if !ok {
			sub, err = allocate(ctx, txn, path)
			if err != nil {
				return Directory{}, err
			}
		}
		cur = sub
	}
	return cur, nil
}

// Create allocates rel under d; it fails if rel already exists.
func (d Directory) Create(ctx context.Context, txn Txn, rel ...string) (Directory, error) {
	path := append(append([]string(nil), d.path...), rel...)
	_, ok, err := resolve(ctx, txn, path)
	if err != nil {
		return Directory{}, err
	}
	if ok {
		return Directory{}, errors.Errorf("kv: directory %v already exists", path)
	}
	return allocate(ctx, txn, path)
}

// Exists reports whether rel is present under d.
func (d Directory) Exists(ctx context.Context, txn Txn, rel ...string) (bool, error) {
	path := append(append([]string(nil), d.path...), rel...)
	_, ok, err := resolve(ctx, txn, path)
	return ok, err
}

// List returns the names of d's immediate children.
func (d Directory) List(ctx context.Context, txn Txn) ([]string, error) {
	start := nodeKey(d.path)
	end := StrInc(start)
	kvs, err := txn.GetRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, kv := range kvs {
		t, err := UnpackTuple(kv.Key[len(metaPrefix):])
		if err != nil {
			return nil, err
		}
		// t = ["node", d.path..., childName, ...]; immediate children have
		// exactly one more element than d.path.
		if len(t) != len(d.path)+2 {
			continue
		}
		names = append(names, t.String(len(t)-1))
	}
	return names, nil
}

// Remove deletes rel (and everything nested under it, including the data
// it stored) from under d. It fails if rel doesn't exist; use
// RemoveIfExists to tolerate that.
func (d Directory) Remove(ctx context.Context, txn Txn, rel ...string) error {
	ok, err := d.RemoveIfExists(ctx, txn, rel...)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("kv: directory %v does not exist", append(d.path, rel...))
	}
	return nil
}

// RemoveIfExists is Remove, but reports found=false instead of failing
// when rel doesn't exist.
func (d Directory) RemoveIfExists(ctx context.Context, txn Txn, rel ...string) (bool, error) {
	path := append(append([]string(nil), d.path...), rel...)
	sub, ok, err := resolve(ctx, txn, path)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	// Collect every descendant (including sub itself) before mutating.
	// Each child must be re-resolved, not built with parent.child, so its
	// prefix is populated — Range and nodeKey below both need the real
	// allocated prefix, not a zero-value one.
	all := []Directory{sub}
	var walk func(Directory) error
	walk = func(parent Directory) error {
		children, err := parent.List(ctx, txn)
		if err != nil {
			return err
		}
		for _, name := range children {
			c, ok, err := resolve(ctx, txn, append(append([]string(nil), parent.path...), name))
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("kv: directory %v vanished during removal", append(parent.path, name))
			}
			all = append(all, c)
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(sub); err != nil {
		return false, err
	}

	for _, node := range all {
		start, end := node.Range()
		txn.ClearRange(start, end)
		txn.Clear(nodeKey(node.path))
	}
	return true, nil
}

// Move relocates the subtree at oldRel (relative to d) to newRel,
// preserving its allocated prefix and all the data under it — a rename,
// not a copy.
func (d Directory) Move(ctx context.Context, txn Txn, oldRel, newRel []string) error {
	oldPath := append(append([]string(nil), d.path...), oldRel...)
	newPath := append(append([]string(nil), d.path...), newRel...)
	sub, ok, err := resolve(ctx, txn, oldPath)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("kv: directory %v does not exist", oldPath)
	}
	if _, ok, err := resolve(ctx, txn, newPath); err != nil {
		return err
	} else if ok {
		return errors.Errorf("kv: directory %v already exists", newPath)
	}

	// As in RemoveIfExists, children are re-resolved rather than built with
	// node.child so each one carries its real allocated prefix.
	var all []Directory
	var walk func(Directory) error
	walk = func(node Directory) error {
		all = append(all, node)
		children, err := node.List(ctx, txn)
		if err != nil {
			return err
		}
		for _, name := range children {
			c, ok, err := resolve(ctx, txn, append(append([]string(nil), node.path...), name))
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("kv: directory %v vanished during move", append(node.path, name))
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(sub); err != nil {
		return err
	}

	for _, node := range all {
		suffix := node.path[len(oldPath):]
		newNodePath := append(append([]string(nil), newPath...), suffix...)
		id := mustUnpack(node.prefix).Int64(0)
		txn.Set(nodeKey(newNodePath), PackTuple(id))
		txn.Clear(nodeKey(node.path))
	}
	return nil
}

func mustUnpack(b []byte) Tuple {
	t, err := UnpackTuple(b)
	if err != nil {
		panic(err)
	}
	return t
}
