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

// Package kv is the facade the schema manager uses to talk to its ordered,
// transactional key-value backend. It is deliberately narrow: directories,
// tuple-packed keys, prefix ranges, and optimistic-commit transactions,
// trimmed to what a directory-structured KV store needs. The real storage
// engine behind this facade is out of scope for this package; pkg/kv/memkv
// is the in-memory reference implementation used to exercise it in tests.
package kv

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrCommitConflict is returned by Txn when a transaction's read set was
// invalidated by a concurrently committed write. Callers retry from
// scratch, the way the schema manager retries a DDL that raced another
// node's generation bump.
var ErrCommitConflict = errors.New("kv: commit conflict, transaction must retry")

// KeyValue is one entry returned by a range scan.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Txn is one transaction's view of the keyspace. Reads and the range scan
// observe a consistent snapshot; writes are buffered until Commit.
type Txn interface {
	// Get returns the value at key, or nil if absent.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Set buffers a write, visible to later reads within this Txn.
	Set(key, value []byte)
	// Clear buffers a delete.
	Clear(key []byte)
	// ClearRange buffers a delete of every key in [start, end).
	ClearRange(start, end []byte)
	// GetRange returns every live key in [start, end), in key order.
	GetRange(ctx context.Context, start, end []byte) ([]KeyValue, error)
	// AddCommitCallback registers fn to run, in order, after this Txn's
	// mutations are durably committed. Never called if Commit fails.
	AddCommitCallback(fn func())
	// AddEndCallback registers fn to run when this Txn ends, whether it
	// committed or not — mirrors the session's end-of-transaction AIS
	// detach hook.
	AddEndCallback(fn func())
}

// DB runs transactions against the backend. Implementations own their own
// retry policy for backend-level conflicts (e.g. network partition); the
// ErrCommitConflict case is always surfaced to fn's caller, since only the
// caller knows whether re-running fn from scratch is safe.
type DB interface {
	// Txn runs fn inside one transaction and commits it. If fn returns an
	// error, or Commit fails, the transaction is rolled back and the error
	// (wrapped as needed) is returned without retrying.
	Txn(ctx context.Context, fn func(ctx context.Context, txn Txn) error) error
}
