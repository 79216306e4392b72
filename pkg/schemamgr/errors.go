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
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/bowlofstew/sql-layer/pkg/ais"
	"github.com/bowlofstew/sql-layer/pkg/kv"
)

// ErrExternalClear means a required metadata key was missing when the
// schema manager expected it to be present — the directory was wiped by
// something outside this process. Fatal to the current operation;
// recoverable only by restarting the manager.
var ErrExternalClear = errors.New("schemamgr: metadata externally modified, restart required")

// ErrConflictingOnlineChange means two online sessions would claim the
// same table or schema.
var ErrConflictingOnlineChange = errors.New("schemamgr: conflicting online change")

// ErrNoSuchOnlineChange means DML logged an hkey for a table with no
// active online session, or a caller addressed an online id that doesn't
// exist.
var ErrNoSuchOnlineChange = errors.New("schemamgr: no such online change")

// ErrCommitConflict is re-exported from pkg/kv so callers that only
// import pkg/schemamgr can still recognize a retriable commit conflict.
var ErrCommitConflict = kv.ErrCommitConflict

// ErrInvalidSchema carries every validation failure found while
// finishing a deserialized or mutated AIS. It is the same type the AIS
// codec's Reader.Finish returns, re-exported here under the name the
// rest of the error-handling design uses.
type ErrInvalidSchema = ais.InvalidSchema

// ErrIncompatible means the stored dataVersion/metaDataVersion disagree
// with this build's constants and clear_incompatible_data was not set.
type ErrIncompatible struct {
	StoredMeta int64
	StoredData int64
}

func (e *ErrIncompatible) Error() string {
	return fmt.Sprintf(
		"schemamgr: incompatible metadata: stored data version %d, meta version %d (want %d, %d)",
		e.StoredData, e.StoredMeta, CurrentDataVersion, CurrentMetaVersion)
}
